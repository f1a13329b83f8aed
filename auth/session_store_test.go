package auth

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook/internal/util"
	"github.com/daybook-app/daybook/storage/memory"
)

func newTestHandshakeStore(t *testing.T) (*HandshakeStore, *time.Time) {
	t.Helper()

	key, err := util.NewAESKey()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewHandshakeStore(memory.NewRepository(), key, time.Minute, logger)
	t.Cleanup(store.Close)

	// Pin the clock so expiry is driven by the test, not the wall.
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestHandshakeStore_CreateAndClaim(t *testing.T) {
	store, _ := newTestHandshakeStore(t)

	akeState := []byte("serialized-ake-state")
	sess, err := store.Create(SubjectAccount, "user-1", akeState)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, SessionCredentialIssued, sess.State)

	claimed, err := store.Claim(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claimed.SubjectID)
	assert.Equal(t, SubjectAccount, claimed.Kind)
	assert.Equal(t, akeState, claimed.AKEState)
}

func TestHandshakeStore_ClaimConsumesSession(t *testing.T) {
	store, _ := newTestHandshakeStore(t)

	sess, err := store.Create(SubjectAccount, "user-1", []byte("state"))
	require.NoError(t, err)

	_, err = store.Claim(sess.ID)
	require.NoError(t, err)

	// The claim is terminal: a second finish attempt never sees the
	// session live again, whether or not Complete ran.
	_, err = store.Claim(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHandshakeStore_ClaimDestroysStoredAKEState(t *testing.T) {
	store, _ := newTestHandshakeStore(t)

	sess, err := store.Create(SubjectAccount, "user-1", []byte("state"))
	require.NoError(t, err)

	_, err = store.Claim(sess.ID)
	require.NoError(t, err)

	rec, err := store.repo.Get(handshakeNamespace, handshakeRecordType, sess.ID)
	require.NoError(t, err)
	stored, err := store.open(rec, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AKEState)
	assert.Equal(t, SessionFailed, stored.State)
}

func TestHandshakeStore_CompleteFinished(t *testing.T) {
	store, _ := newTestHandshakeStore(t)

	sess, err := store.Create(SubjectAccount, "user-1", []byte("state"))
	require.NoError(t, err)

	claimed, err := store.Claim(sess.ID)
	require.NoError(t, err)

	require.NoError(t, store.Complete(claimed, SessionFinished))

	rec, err := store.repo.Get(handshakeNamespace, handshakeRecordType, sess.ID)
	require.NoError(t, err)
	stored, err := store.open(rec, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionFinished, stored.State)
}

func TestHandshakeStore_CompleteRejectsNonTerminal(t *testing.T) {
	store, _ := newTestHandshakeStore(t)

	sess, err := store.Create(SubjectAccount, "user-1", []byte("state"))
	require.NoError(t, err)

	claimed, err := store.Claim(sess.ID)
	require.NoError(t, err)

	err = store.Complete(claimed, SessionCredentialIssued)
	require.Error(t, err)
}

func TestHandshakeStore_ExpiredSession(t *testing.T) {
	store, now := newTestHandshakeStore(t)

	sess, err := store.Create(SubjectAccount, "user-1", []byte("state"))
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)

	_, err = store.Claim(sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// The expiry sticks: later claims still report expired, not a generic
	// not-found.
	_, err = store.Claim(sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestHandshakeStore_ClaimUnknownSession(t *testing.T) {
	store, _ := newTestHandshakeStore(t)

	_, err := store.Claim("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHandshakeStore_SweepExpiresAbandoned(t *testing.T) {
	store, now := newTestHandshakeStore(t)

	sess, err := store.Create(SubjectSecretTag, "tag-1", []byte("state"))
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	store.sweep()

	rec, err := store.repo.Get(handshakeNamespace, handshakeRecordType, sess.ID)
	require.NoError(t, err)
	stored, err := store.open(rec, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionExpired, stored.State)
	assert.Empty(t, stored.AKEState)
}

func TestHandshakeStore_SweepRemovesOldTerminal(t *testing.T) {
	store, now := newTestHandshakeStore(t)

	sess, err := store.Create(SubjectAccount, "user-1", []byte("state"))
	require.NoError(t, err)
	claimed, err := store.Claim(sess.ID)
	require.NoError(t, err)
	require.NoError(t, store.Complete(claimed, SessionFinished))

	*now = now.Add(time.Minute + terminalRetention + time.Second)
	store.sweep()

	_, err = store.repo.Get(handshakeNamespace, handshakeRecordType, sess.ID)
	assert.Error(t, err)
}

func TestHandshakeStore_SealedAtRest(t *testing.T) {
	store, _ := newTestHandshakeStore(t)

	sess, err := store.Create(SubjectAccount, "user-1", []byte("very-secret-ake-state"))
	require.NoError(t, err)

	rec, err := store.repo.Get(handshakeNamespace, handshakeRecordType, sess.ID)
	require.NoError(t, err)
	require.True(t, rec.Sealed())
	assert.NotContains(t, string(rec.Data), "very-secret-ake-state")
}
