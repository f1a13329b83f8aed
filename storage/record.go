package storage

import (
	"fmt"

	"github.com/daybook-app/daybook/internal/util"
)

const (
	recordVer    = 1
	schemePlain  = "plain"
	schemeSealed = "aes256gcm"
)

// Record is the unit of persistence. Data is either plaintext JSON
// (scheme "plain") or an AES-256-GCM ciphertext (scheme "aes256gcm").
// Version is a monotonic counter used by PutCAS.
type Record struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Nonce   []byte `json:"nonce,omitempty"`
	Data    []byte `json:"data"`
	Version uint64 `json:"version,omitempty"`
}

// Plain wraps non-secret data in an unencrypted record.
func Plain(data []byte, version uint64) *Record {
	return &Record{
		Ver:     recordVer,
		Scheme:  schemePlain,
		Data:    util.CopyBytes(data),
		Version: version,
	}
}

// Seal encrypts plaintext into a record using the given key and AAD. Anything
// that holds key material at rest goes through Seal, never Plain.
func Seal(key, plaintext, aad []byte, version uint64) (*Record, error) {
	cipher, err := util.EncryptAESWithAAD(plaintext, key, aad)
	if err != nil {
		return nil, err
	}

	// util.EncryptAESWithAAD returns nonce || ciphertext.
	return &Record{
		Ver:     recordVer,
		Scheme:  schemeSealed,
		Nonce:   cipher[:12],
		Data:    cipher[12:],
		Version: version,
	}, nil
}

// Open returns the record's plaintext. Sealed records are decrypted with the
// given key and AAD; plain records return a copy of their data.
func (r *Record) Open(key, aad []byte) ([]byte, error) {
	if r.Ver != recordVer {
		return nil, fmt.Errorf("unsupported record version: %d", r.Ver)
	}

	switch r.Scheme {
	case schemePlain:
		return util.CopyBytes(r.Data), nil
	case schemeSealed:
		full := make([]byte, len(r.Nonce)+len(r.Data))
		copy(full, r.Nonce)
		copy(full[len(r.Nonce):], r.Data)
		return util.DecryptAESWithAAD(full, key, aad)
	default:
		return nil, fmt.Errorf("unsupported record scheme: %s", r.Scheme)
	}
}

// Sealed reports whether the record is encrypted at rest.
func (r *Record) Sealed() bool {
	return r.Scheme == schemeSealed
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Ver:     r.Ver,
		Scheme:  r.Scheme,
		Nonce:   util.CopyBytes(r.Nonce),
		Data:    util.CopyBytes(r.Data),
		Version: r.Version,
	}
}
