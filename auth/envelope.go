package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daybook-app/daybook/internal/util"
	"github.com/daybook-app/daybook/storage"
)

// EnvelopeRecordType is the storage record type under which envelopes are
// persisted, exposed so subject deletion can cascade over it.
const EnvelopeRecordType = "ENVELOPE"

const envelopeAADPrefix = "envelope:"

// Envelope is the persisted registration artifact for one subject: the
// OPAQUE registration record plus the credential identifier and public
// identity bound into the key exchange. The payload is never decrypted
// server-side — only a client holding the correct password can unwrap it.
type Envelope struct {
	SubjectID    string    `json:"subject_id"`
	CredentialID []byte    `json:"credential_id"`
	Identity     []byte    `json:"identity"`
	Payload      []byte    `json:"payload"`
	CreatedAt    time.Time `json:"created_at"`

	version uint64
}

// EnvelopeStore persists at most one active envelope per subject, per
// namespace. Replacement is atomic: the new envelope lands under CAS so a
// crash can never leave zero or two envelopes.
type EnvelopeStore struct {
	repo storage.Repository
	key  []byte
}

// NewEnvelopeStore creates an envelope store sealing records with storeKey.
func NewEnvelopeStore(repo storage.Repository, storeKey []byte) *EnvelopeStore {
	return &EnvelopeStore{repo: repo, key: util.CopyBytes(storeKey)}
}

func envelopeAAD(namespace, subjectID string) []byte {
	return []byte(envelopeAADPrefix + namespace + ":" + subjectID)
}

// Get loads the active envelope for a subject. Returns storage.ErrNotFound
// if the subject has none.
func (s *EnvelopeStore) Get(namespace, subjectID string) (*Envelope, error) {
	rec, err := s.repo.Get(namespace, EnvelopeRecordType, subjectID)
	if err != nil {
		return nil, err
	}
	data, err := rec.Open(s.key, envelopeAAD(namespace, subjectID))
	if err != nil {
		return nil, fmt.Errorf("unsealing envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	env.version = rec.Version
	return &env, nil
}

// Create persists a first envelope for the subject. A concurrent duplicate
// gets ErrEnvelopeExists.
func (s *EnvelopeStore) Create(namespace string, env *Envelope) error {
	rec, err := s.seal(namespace, env, 1)
	if err != nil {
		return err
	}
	if err := s.repo.PutCAS(namespace, EnvelopeRecordType, env.SubjectID, 0, rec); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return ErrEnvelopeExists
		}
		return fmt.Errorf("persisting envelope: %w", err)
	}
	env.version = 1
	return nil
}

// Replace atomically swaps the envelope previously loaded as prior for env.
// The old envelope stays active until the new one is durably written; a
// concurrent writer makes the swap fail with ErrEnvelopeExists.
func (s *EnvelopeStore) Replace(namespace string, prior *Envelope, env *Envelope) error {
	rec, err := s.seal(namespace, env, prior.version+1)
	if err != nil {
		return err
	}
	if err := s.repo.PutCAS(namespace, EnvelopeRecordType, env.SubjectID, prior.version, rec); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return ErrEnvelopeExists
		}
		return fmt.Errorf("replacing envelope: %w", err)
	}
	env.version = prior.version + 1
	return nil
}

// Delete removes the subject's envelope. Deleting a missing envelope is not
// an error — subject deletion must be idempotent.
func (s *EnvelopeStore) Delete(namespace, subjectID string) error {
	err := s.repo.Delete(namespace, EnvelopeRecordType, subjectID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (s *EnvelopeStore) seal(namespace string, env *Envelope, version uint64) (*storage.Record, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	rec, err := storage.Seal(s.key, data, envelopeAAD(namespace, env.SubjectID), version)
	if err != nil {
		return nil, fmt.Errorf("sealing envelope: %w", err)
	}
	return rec, nil
}
