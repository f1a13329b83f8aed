package subject

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daybook-app/daybook/auth"
	"github.com/daybook-app/daybook/internal/uuid"
	"github.com/daybook-app/daybook/storage"
)

const tagRecordType = "TAG"

// ErrTagNotFound indicates no secret tag matches the given ID.
var ErrTagNotFound = errors.New("secret tag not found")

// SecretTag marks a protected namespace of entries. Its secret phrase is
// registered through the same handshake flow as account passphrases; the
// server holds only the resulting envelope.
type SecretTag struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TagStore persists secret tags.
type TagStore struct {
	repo storage.Repository
	now  func() time.Time
}

// NewTagStore creates a tag store over the repository.
func NewTagStore(repo storage.Repository) *TagStore {
	return &TagStore{repo: repo, now: time.Now}
}

// Create adds a new secret tag owned by ownerID. The tag exists before its
// secret phrase is registered; unlock attempts in that window hit the
// fake-record path like any unregistered subject.
func (s *TagStore) Create(ownerID, label string) (*SecretTag, error) {
	tag := &SecretTag{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Label:     label,
		CreatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(tag)
	if err != nil {
		return nil, fmt.Errorf("encoding tag: %w", err)
	}
	if err := s.repo.PutCAS(NamespaceTags, tagRecordType, tag.ID, 0, storage.Plain(data, 1)); err != nil {
		return nil, fmt.Errorf("persisting tag: %w", err)
	}
	return tag, nil
}

// Get loads a tag by ID.
func (s *TagStore) Get(id string) (*SecretTag, error) {
	rec, err := s.repo.Get(NamespaceTags, tagRecordType, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTagNotFound
		}
		return nil, err
	}
	var tag SecretTag
	if err := json.Unmarshal(rec.Data, &tag); err != nil {
		return nil, fmt.Errorf("decoding tag: %w", err)
	}
	return &tag, nil
}

// ListByOwner returns all tags owned by ownerID.
func (s *TagStore) ListByOwner(ownerID string) ([]*SecretTag, error) {
	ids, err := s.repo.List(NamespaceTags, tagRecordType)
	if err != nil {
		return nil, err
	}
	var tags []*SecretTag
	for _, id := range ids {
		tag, err := s.Get(id)
		if err != nil {
			if errors.Is(err, ErrTagNotFound) {
				continue
			}
			return nil, err
		}
		if tag.OwnerID == ownerID {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// Delete removes the tag and its registration envelope in one batch.
// Idempotent.
func (s *TagStore) Delete(id string) error {
	return s.repo.Batch(NamespaceTags, func(tx storage.BatchTx) error {
		if err := tx.Delete(tagRecordType, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := tx.Delete(auth.EnvelopeRecordType, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil
	})
}
