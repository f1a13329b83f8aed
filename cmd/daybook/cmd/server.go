package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/daybook-app/daybook/api"
	"github.com/daybook-app/daybook/auth"
	"github.com/daybook-app/daybook/internal/util"
	bboltstorage "github.com/daybook-app/daybook/storage/bbolt"
	"github.com/daybook-app/daybook/subject"
	"github.com/daybook-app/daybook/token"
)

var (
	port            int
	dataDir         string
	serverID        string
	sessionTTL      time.Duration
	timingFloor     time.Duration
	wrappingKeyFile string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "daybook.db"), nil)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer repo.Close()

		wrappingKey, err := loadOrCreateWrappingKey(wrappingKeyFile)
		if err != nil {
			return err
		}
		defer util.WipeBytes(wrappingKey)

		keys, err := auth.LoadOrCreateKeyMaterial(repo, serverID, wrappingKey)
		if err != nil {
			return fmt.Errorf("failed to load server key material: %w", err)
		}
		storeKey, err := auth.LoadOrCreateStoreKey(repo, wrappingKey)
		if err != nil {
			return fmt.Errorf("failed to load store key: %w", err)
		}
		defer util.WipeBytes(storeKey)

		// The token signing key is derived, not stored; rotating the store
		// key invalidates outstanding tokens along with everything else.
		signingKey, err := util.HKDF(storeKey, nil, []byte("token-signing:v1"))
		if err != nil {
			return fmt.Errorf("failed to derive token signing key: %w", err)
		}
		defer util.WipeBytes(signingKey)

		provider := auth.NewProvider(keys)
		envelopes := auth.NewEnvelopeStore(repo, storeKey)
		sessions := auth.NewHandshakeStore(repo, storeKey, sessionTTL, logger)
		defer sessions.Close()

		issuer, err := token.NewIssuer(repo, signingKey, serverID)
		if err != nil {
			return fmt.Errorf("failed to create token issuer: %w", err)
		}

		users := subject.NewUserStore(repo)
		tags := subject.NewTagStore(repo)

		accountFlow := auth.NewFlow(provider, subject.NewAccountPolicy(users, issuer), envelopes, sessions,
			auth.WithTimingFloor(timingFloor), auth.WithFlowLogger(logger))
		tagFlow := auth.NewFlow(provider, subject.NewSecretTagPolicy(tags, issuer), envelopes, sessions,
			auth.WithTimingFloor(timingFloor), auth.WithFlowLogger(logger))

		a := api.New(accountFlow, tagFlow, users, tags, issuer,
			api.WithLogger(logger),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Warn("security alert",
					"type", string(e.Type),
					"message", e.Message,
					"count", e.Count,
					"threshold", e.Threshold,
				)
			}),
		)

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("server started", "port", port, "data_dir", dataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// loadOrCreateWrappingKey reads the 32-byte wrapping key from path, creating
// it with restrictive permissions on first start. The key seals everything
// else; back it up separately from the data directory.
func loadOrCreateWrappingKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != util.AESKeySize {
			return nil, fmt.Errorf("wrapping key file %s must hold exactly %d bytes, got %d", path, util.AESKeySize, len(key))
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read wrapping key: %w", err)
	}

	key, err = util.NewAESKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write wrapping key: %w", err)
	}
	fmt.Printf("Generated new wrapping key at %s — losing it invalidates all registrations\n", path)
	return key, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8089, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&serverID, "server-id", "daybook", "Server identity bound into handshakes and tokens")
	serverCmd.Flags().DurationVar(&sessionTTL, "session-ttl", auth.DefaultSessionTTL, "Handshake session lifetime")
	serverCmd.Flags().DurationVar(&timingFloor, "timing-floor", auth.DefaultTimingFloor, "Minimum response time for authentication operations")
	serverCmd.Flags().StringVar(&wrappingKeyFile, "wrapping-key-file", "./daybook.key", "Path to the 32-byte wrapping key file")
}
