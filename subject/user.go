// Package subject holds the two things a handshake can authenticate — user
// accounts and secret tags — and the policies binding each to the shared
// authentication flow.
package subject

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daybook-app/daybook/auth"
	"github.com/daybook-app/daybook/internal/uuid"
	"github.com/daybook-app/daybook/storage"
)

// Storage namespaces. Envelopes live in the same namespace as their
// subjects.
const (
	NamespaceUsers = "users"
	NamespaceTags  = "tags"
)

const (
	userRecordType  = "USER"
	emailRecordType = "EMAIL"
)

var (
	// ErrUserExists indicates the email address is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound indicates no user matches the given reference.
	ErrUserNotFound = errors.New("user not found")
)

// User is an account record. It carries no credential material — the
// password never reaches the server, and the registration envelope is
// stored separately.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore persists users keyed by ID with a secondary email index.
type UserStore struct {
	repo storage.Repository
	now  func() time.Time
}

// NewUserStore creates a user store over the repository.
func NewUserStore(repo storage.Repository) *UserStore {
	return &UserStore{repo: repo, now: time.Now}
}

// NormalizeEmail canonicalizes an email reference for lookup. Addresses
// differing only in case or surrounding whitespace are the same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create adds a new user. The email index entry is the uniqueness anchor:
// two racing creates for the same address contend on its CAS and exactly
// one wins.
func (s *UserStore) Create(email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email must not be empty")
	}

	user := &User{
		ID:        uuid.New(),
		Email:     email,
		CreatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("encoding user: %w", err)
	}

	if err := s.repo.PutCAS(NamespaceUsers, emailRecordType, email, 0, storage.Plain([]byte(user.ID), 1)); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("persisting email index: %w", err)
	}
	if err := s.repo.Put(NamespaceUsers, userRecordType, user.ID, storage.Plain(data, 1)); err != nil {
		// Roll the index back so the address is not burned.
		_ = s.repo.Delete(NamespaceUsers, emailRecordType, email)
		return nil, fmt.Errorf("persisting user: %w", err)
	}
	return user, nil
}

// Get loads a user by ID.
func (s *UserStore) Get(id string) (*User, error) {
	rec, err := s.repo.Get(NamespaceUsers, userRecordType, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	var user User
	if err := json.Unmarshal(rec.Data, &user); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	return &user, nil
}

// GetByEmail loads a user through the email index.
func (s *UserStore) GetByEmail(email string) (*User, error) {
	rec, err := s.repo.Get(NamespaceUsers, emailRecordType, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.Get(string(rec.Data))
}

// Delete removes the user, its email index entry, and its registration
// envelope in one batch. Idempotent.
func (s *UserStore) Delete(id string) error {
	user, err := s.Get(id)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.repo.Batch(NamespaceUsers, func(tx storage.BatchTx) error {
		if err := tx.Delete(userRecordType, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := tx.Delete(emailRecordType, user.Email); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := tx.Delete(auth.EnvelopeRecordType, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil
	})
}
