package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook/internal/util"
	"github.com/daybook-app/daybook/storage/memory"
)

func TestLoadOrCreateKeyMaterial_Persists(t *testing.T) {
	repo := memory.NewRepository()
	wrap, err := util.NewAESKey()
	require.NoError(t, err)

	first, err := LoadOrCreateKeyMaterial(repo, testServerID, wrap)
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey)

	// A second load with the same wrapping key yields the same material.
	second, err := LoadOrCreateKeyMaterial(repo, testServerID, wrap)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, first.ServerID, second.ServerID)

	// Same credential seed means same derived credential IDs.
	a, err := NewProvider(first).DeriveCredentialID("users", "alice")
	require.NoError(t, err)
	b, err := NewProvider(second).DeriveCredentialID("users", "alice")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLoadOrCreateKeyMaterial_WrongWrappingKey(t *testing.T) {
	repo := memory.NewRepository()
	wrap, err := util.NewAESKey()
	require.NoError(t, err)

	_, err = LoadOrCreateKeyMaterial(repo, testServerID, wrap)
	require.NoError(t, err)

	other, err := util.NewAESKey()
	require.NoError(t, err)
	_, err = LoadOrCreateKeyMaterial(repo, testServerID, other)
	require.Error(t, err)
}

func TestLoadOrCreateKeyMaterial_BadWrappingKeyLength(t *testing.T) {
	_, err := LoadOrCreateKeyMaterial(memory.NewRepository(), testServerID, []byte("short"))
	require.Error(t, err)
}

func TestLoadOrCreateStoreKey_Persists(t *testing.T) {
	repo := memory.NewRepository()
	wrap, err := util.NewAESKey()
	require.NoError(t, err)

	first, err := LoadOrCreateStoreKey(repo, wrap)
	require.NoError(t, err)
	require.Len(t, first, util.AESKeySize)

	second, err := LoadOrCreateStoreKey(repo, wrap)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
