// Package api exposes the authentication service over HTTP. Handlers are
// thin: they decode messages, call the flows, and map errors to the uniform
// external surface. No protocol logic lives here.
package api

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/daybook-app/daybook/auth"
	"github.com/daybook-app/daybook/subject"
	"github.com/daybook-app/daybook/token"
	"github.com/daybook-app/daybook/vault"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	accounts *auth.Flow
	tags     *auth.Flow
	users    *subject.UserStore
	tagStore *subject.TagStore
	issuer   *token.Issuer
	vault    *vault.Service
	audit    *auditLogger
	alertFn  AlertFunc
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events. If not set, a
// default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithAlertFunc sets the callback invoked when the metrics collector
// detects an anomaly such as a login-failure spike.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// New creates a new API instance. accounts and tags are the two handshake
// flows; issuer verifies bearer tokens and rotates refresh tokens.
func New(
	accounts, tags *auth.Flow,
	users *subject.UserStore,
	tagStore *subject.TagStore,
	issuer *token.Issuer,
	opts ...Option,
) *API {
	a := &API{
		accounts: accounts,
		tags:     tags,
		users:    users,
		tagStore: tagStore,
		issuer:   issuer,
		vault:    vault.NewService(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	a.audit.metrics = newMetricsCollector(a.alertFn)
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", a.Health)

	r.Post("/accounts", a.CreateAccount)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/opaque/register/start", a.AccountRegisterStart)
		r.Post("/opaque/register/finish", a.AccountRegisterFinish)
		r.Post("/opaque/login/start", a.AccountLoginStart)
		r.Post("/opaque/login/finish", a.AccountLoginFinish)
		r.Post("/refresh", a.Refresh)
	})

	r.With(a.AuthMiddleware).Post("/tags", a.CreateTag)
	r.With(a.AuthMiddleware).Get("/tags", a.ListTags)

	r.Route("/tags/{tagID}", func(r chi.Router) {
		r.With(a.AuthMiddleware).Delete("/", a.DeleteTag)
		r.With(a.AuthMiddleware).Post("/opaque/register/start", a.TagRegisterStart)
		r.With(a.AuthMiddleware).Post("/opaque/register/finish", a.TagRegisterFinish)
		// Unlock is deliberately unauthenticated: the secret phrase is the
		// credential, and requiring account auth would leak tag existence
		// through the authorization check.
		r.Post("/opaque/unlock/start", a.TagUnlockStart)
		r.Post("/opaque/unlock/finish", a.TagUnlockFinish)
	})

	// The vault capability is reserved but not provided.
	r.HandleFunc("/vault", a.VaultUnavailable)
	r.HandleFunc("/vault/*", a.VaultUnavailable)

	return r
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VaultUnavailable answers every vault route with the capability error.
func (a *API) VaultUnavailable(w http.ResponseWriter, r *http.Request) {
	if !a.vault.Available() {
		writeError(w, http.StatusNotImplemented, vault.ErrUnavailable.Error())
		return
	}
	writeError(w, http.StatusNotFound, "not found")
}
