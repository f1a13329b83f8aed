package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daybook-app/daybook/internal/util"
	"github.com/daybook-app/daybook/internal/uuid"
	"github.com/daybook-app/daybook/storage"
)

const (
	handshakeNamespace  = "__handshakes"
	handshakeRecordType = "HANDSHAKE"
	handshakeAADPrefix  = "handshake:"

	// DefaultSessionTTL bounds how long a client may take between
	// login-start and login-finish.
	DefaultSessionTTL = 2 * time.Minute

	sweepInterval = time.Minute
	// terminalRetention keeps consumed and expired sessions around long
	// enough that a late finish gets the accurate terminal error instead
	// of a generic not-found.
	terminalRetention = 15 * time.Minute
)

// HandshakeStore owns every HandshakeSession. All state transitions go
// through its compare-and-swap operations; no other component mutates
// session state. Session payloads are AES-256-GCM sealed at rest with an
// AAD bound to the session ID.
type HandshakeStore struct {
	repo   storage.Repository
	key    []byte
	ttl    time.Duration
	logger *slog.Logger

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHandshakeStore creates a session store sealing session data with
// storeKey and starts the background expiry sweeper. ttl of 0 selects
// DefaultSessionTTL.
func NewHandshakeStore(repo storage.Repository, storeKey []byte, ttl time.Duration, logger *slog.Logger) *HandshakeStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &HandshakeStore{
		repo:   repo,
		key:    util.CopyBytes(storeKey),
		ttl:    ttl,
		logger: logger.With("component", "handshake_store"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the sweeper and wipes the store key.
func (s *HandshakeStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		util.WipeBytes(s.key)
	})
}

// Create opens a new session holding the server's AKE state and returns it
// in the credential_issued state.
func (s *HandshakeStore) Create(kind SubjectKind, subjectID string, akeState []byte) (*HandshakeSession, error) {
	now := s.now()
	sess := &HandshakeSession{
		ID:           uuid.New(),
		Kind:         kind,
		SubjectID:    subjectID,
		State:        SessionInitialized,
		ExpiresAt:    now.Add(s.ttl),
		LastActivity: now,
	}

	// The credential response is computed before the session is persisted,
	// so the stored session is born holding the AKE state.
	sess.State = SessionCredentialIssued
	sess.AKEState = util.CopyBytes(akeState)

	rec, err := s.seal(sess, 1)
	if err != nil {
		return nil, err
	}
	if err := s.repo.PutCAS(handshakeNamespace, handshakeRecordType, sess.ID, 0, rec); err != nil {
		return nil, fmt.Errorf("persisting handshake session: %w", err)
	}
	sess.version = 1
	return sess, nil
}

// Claim consumes the session for a finish attempt. Exactly one concurrent
// caller wins: the session is CAS-transitioned to a terminal state and its
// stored AKE state is destroyed before Claim returns, so a replayed or
// retried finish can never observe it non-terminal again. The returned
// session carries the AKE state in memory only.
//
// The terminal state written at claim time is failed; Complete upgrades it
// to finished when the handshake verifies. A crash in between leaves the
// session failed, which is the fail-closed outcome.
func (s *HandshakeStore) Claim(id string) (*HandshakeSession, error) {
	rec, err := s.repo.Get(handshakeNamespace, handshakeRecordType, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("loading handshake session: %w", err)
	}

	sess, err := s.open(rec, id)
	if err != nil {
		return nil, err
	}

	switch {
	case sess.State == SessionExpired:
		return nil, ErrSessionExpired
	case sess.State.Terminal():
		return nil, ErrSessionNotFound
	case s.now().After(sess.ExpiresAt):
		// Lazy eviction: mark it expired so later retries still see the
		// accurate error. Losing the CAS means a concurrent caller
		// already transitioned it; either way the claim fails.
		s.transition(sess, SessionExpired)
		return nil, ErrSessionExpired
	}

	akeState := sess.AKEState
	if err := s.transition(sess, SessionFailed); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	sess.AKEState = akeState
	return sess, nil
}

// Complete records the final outcome of a claimed session. Only the claim
// holder can complete: the CAS is pinned to the version written at claim
// time.
func (s *HandshakeStore) Complete(sess *HandshakeSession, state SessionState) error {
	if !state.Terminal() {
		return fmt.Errorf("cannot complete handshake session with non-terminal state %q", state)
	}
	sess.AKEState = nil
	return s.transition(sess, state)
}

// transition CAS-writes the session with the new state, clearing the stored
// AKE state. On success sess reflects the stored record.
func (s *HandshakeStore) transition(sess *HandshakeSession, state SessionState) error {
	next := *sess
	next.State = state
	next.AKEState = nil
	next.LastActivity = s.now()
	next.version = sess.version + 1

	rec, err := s.seal(&next, next.version)
	if err != nil {
		return err
	}
	if err := s.repo.PutCAS(handshakeNamespace, handshakeRecordType, sess.ID, sess.version, rec); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return storage.ErrCASFailed
		}
		return fmt.Errorf("updating handshake session: %w", err)
	}
	*sess = next
	return nil
}

func (s *HandshakeStore) seal(sess *HandshakeSession, version uint64) (*storage.Record, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encoding handshake session: %w", err)
	}
	defer util.WipeBytes(data)

	rec, err := storage.Seal(s.key, data, []byte(handshakeAADPrefix+sess.ID), version)
	if err != nil {
		return nil, fmt.Errorf("sealing handshake session: %w", err)
	}
	return rec, nil
}

func (s *HandshakeStore) open(rec *storage.Record, id string) (*HandshakeSession, error) {
	data, err := rec.Open(s.key, []byte(handshakeAADPrefix+id))
	if err != nil {
		return nil, fmt.Errorf("unsealing handshake session: %w", err)
	}
	defer util.WipeBytes(data)

	var sess HandshakeSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding handshake session: %w", err)
	}
	sess.version = rec.Version
	return &sess, nil
}

func (s *HandshakeStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep expires abandoned sessions and removes terminal ones past the
// retention window.
func (s *HandshakeStore) sweep() {
	ids, err := s.repo.List(handshakeNamespace, handshakeRecordType)
	if err != nil {
		s.logger.Warn("listing handshake sessions for sweep", "error", err)
		return
	}
	now := s.now()
	for _, id := range ids {
		rec, err := s.repo.Get(handshakeNamespace, handshakeRecordType, id)
		if err != nil {
			continue
		}
		sess, err := s.open(rec, id)
		if err != nil {
			// Unreadable entry: remove it.
			_ = s.repo.Delete(handshakeNamespace, handshakeRecordType, id)
			continue
		}
		switch {
		case sess.State.Terminal() && now.After(sess.ExpiresAt.Add(terminalRetention)):
			_ = s.repo.Delete(handshakeNamespace, handshakeRecordType, id)
		case !sess.State.Terminal() && now.After(sess.ExpiresAt):
			// Losing the CAS here just means a concurrent claim got
			// there first.
			_ = s.transition(sess, SessionExpired)
		}
	}
}
