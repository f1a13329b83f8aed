package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/bytemare/opaque"

	"github.com/daybook-app/daybook/internal/util"
	"github.com/daybook-app/daybook/storage"
)

const (
	serverNamespace  = "__server"
	setupRecordType  = "SETUP"
	storeKeyType     = "STORE_KEY"
	currentRecordID  = "current"
	setupAAD         = "daybook:server_setup:v1"
	storeKeyAAD      = "daybook:store_key:v1"
	credentialSeedLn = 32
)

// KeyMaterial holds the per-deployment OPAQUE server secrets. The private
// key, OPRF seed, and credential-ID seed live in memguard enclaves and are
// only opened for the duration of a single primitive operation.
type KeyMaterial struct {
	ServerID  []byte
	PublicKey []byte

	privateKey     *memguard.Enclave
	oprfSeed       *memguard.Enclave
	credentialSeed *memguard.Enclave
}

// setupRecord is the persisted form of KeyMaterial. It is only ever stored
// sealed under the operator's wrapping key.
type setupRecord struct {
	ServerID       []byte `json:"server_id"`
	PrivateKey     []byte `json:"private_key"`
	PublicKey      []byte `json:"public_key"`
	OPRFSeed       []byte `json:"oprf_seed"`
	CredentialSeed []byte `json:"credential_seed"`
}

// LoadOrCreateKeyMaterial loads the server's OPAQUE key material from the
// repository, unsealing it with the wrapping key. On first start it
// generates a fresh AKE key pair, OPRF seed, and credential seed, seals
// them, and persists the result. The wrapping key (32 bytes) must be
// provided externally and is never stored.
//
// Losing or changing the wrapping key invalidates every registered
// envelope — clients would have to re-register. That is the correct
// security behavior; it is not recoverable by design.
func LoadOrCreateKeyMaterial(repo storage.Repository, serverID string, wrappingKey []byte) (*KeyMaterial, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", util.AESKeySize, len(wrappingKey))
	}

	rec, err := repo.Get(serverNamespace, setupRecordType, currentRecordID)
	if err == nil {
		data, err := rec.Open(wrappingKey, []byte(setupAAD))
		if err != nil {
			return nil, fmt.Errorf("unsealing server setup (wrong wrapping key?): %w", err)
		}
		defer util.WipeBytes(data)

		var sr setupRecord
		if err := json.Unmarshal(data, &sr); err != nil {
			return nil, fmt.Errorf("decoding server setup: %w", err)
		}
		return newKeyMaterial(&sr), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	// First start: generate everything.
	conf := opaque.DefaultConfiguration()
	sk, pk := conf.KeyGen()
	credSeed, err := util.RandomBytes(credentialSeedLn)
	if err != nil {
		return nil, err
	}
	sr := setupRecord{
		ServerID:       []byte(serverID),
		PrivateKey:     sk,
		PublicKey:      pk,
		OPRFSeed:       conf.GenerateOPRFSeed(),
		CredentialSeed: credSeed,
	}

	data, err := json.Marshal(&sr)
	if err != nil {
		return nil, fmt.Errorf("encoding server setup: %w", err)
	}
	sealed, err := storage.Seal(wrappingKey, data, []byte(setupAAD), 1)
	util.WipeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("sealing server setup: %w", err)
	}
	// CAS create so two racing first-starts cannot each persist their own
	// key material.
	if err := repo.PutCAS(serverNamespace, setupRecordType, currentRecordID, 0, sealed); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return LoadOrCreateKeyMaterial(repo, serverID, wrappingKey)
		}
		return nil, err
	}

	return newKeyMaterial(&sr), nil
}

// newKeyMaterial moves the secret fields of sr into enclaves, wiping the
// originals.
func newKeyMaterial(sr *setupRecord) *KeyMaterial {
	km := &KeyMaterial{
		ServerID:       util.CopyBytes(sr.ServerID),
		PublicKey:      util.CopyBytes(sr.PublicKey),
		privateKey:     memguard.NewEnclave(sr.PrivateKey),
		oprfSeed:       memguard.NewEnclave(sr.OPRFSeed),
		credentialSeed: memguard.NewEnclave(sr.CredentialSeed),
	}
	sr.PrivateKey = nil
	sr.OPRFSeed = nil
	sr.CredentialSeed = nil
	return km
}

// NewEphemeralKeyMaterial generates key material that lives only in memory.
// Useful for tests; a restart invalidates every envelope.
func NewEphemeralKeyMaterial(serverID string) (*KeyMaterial, error) {
	conf := opaque.DefaultConfiguration()
	sk, pk := conf.KeyGen()
	credSeed, err := util.RandomBytes(credentialSeedLn)
	if err != nil {
		return nil, err
	}
	sr := setupRecord{
		ServerID:       []byte(serverID),
		PrivateKey:     sk,
		PublicKey:      pk,
		OPRFSeed:       conf.GenerateOPRFSeed(),
		CredentialSeed: credSeed,
	}
	return newKeyMaterial(&sr), nil
}

// LoadOrCreateStoreKey loads the 32-byte key sealing envelopes and handshake
// state at rest, creating and persisting it (sealed under the wrapping key)
// on first start.
func LoadOrCreateStoreKey(repo storage.Repository, wrappingKey []byte) ([]byte, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", util.AESKeySize, len(wrappingKey))
	}

	rec, err := repo.Get(serverNamespace, storeKeyType, currentRecordID)
	if err == nil {
		key, err := rec.Open(wrappingKey, []byte(storeKeyAAD))
		if err != nil {
			return nil, fmt.Errorf("unsealing store key (wrong wrapping key?): %w", err)
		}
		if len(key) != util.AESKeySize {
			return nil, fmt.Errorf("store key has invalid length %d", len(key))
		}
		return key, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	key, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	sealed, err := storage.Seal(wrappingKey, key, []byte(storeKeyAAD), 1)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing store key: %w", err)
	}
	if err := repo.PutCAS(serverNamespace, storeKeyType, currentRecordID, 0, sealed); err != nil {
		util.WipeBytes(key)
		if errors.Is(err, storage.ErrCASFailed) {
			return LoadOrCreateStoreKey(repo, wrappingKey)
		}
		return nil, err
	}
	return key, nil
}
