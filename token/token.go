// Package token issues and verifies the bearer credentials handed out after
// a successful handshake: short-lived access tokens, single-use refresh
// tokens, and scoped unlock grants for protected tags.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/daybook-app/daybook/internal/util"
	"github.com/daybook-app/daybook/internal/uuid"
	"github.com/daybook-app/daybook/storage"
)

// Token scopes. A token is only ever accepted for the scope it was minted
// with.
const (
	ScopeAccount   = "account"
	ScopeRefresh   = "refresh"
	ScopeTagUnlock = "tag-unlock"
)

// Lifetimes.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 30 * 24 * time.Hour
	// GrantTTL bounds how long a tag unlock stays usable. Unlocks are
	// meant to cover one read, not a browsing session.
	GrantTTL = 5 * time.Minute
)

const (
	tokenNamespace    = "__tokens"
	refreshRecordType = "REFRESH"
)

var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// wrong scope, expired, malformed. Callers present them all the same
	// way.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenUsed indicates a refresh token was already redeemed. A second
	// redemption attempt is either a client bug or a stolen token; either
	// way it is refused.
	ErrTokenUsed = errors.New("refresh token already used")
)

// claims is the JWT payload. Scope discriminates token types sharing the
// signing key.
type claims struct {
	jwt.Claims
	Scope string `json:"scope"`
}

// refreshRecord tracks a refresh token's single-use state by its JWT ID.
type refreshRecord struct {
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// Issuer mints and verifies tokens with an HMAC-SHA256 signing key. Refresh
// tokens are additionally tracked in storage so each can be redeemed exactly
// once.
type Issuer struct {
	signer jose.Signer
	key    []byte
	name   string
	repo   storage.Repository
	now    func() time.Time
}

// NewIssuer creates an issuer signing with key (32 bytes). name becomes the
// iss claim and is enforced on verification.
func NewIssuer(repo storage.Repository, key []byte, name string) (*Issuer, error) {
	if len(key) != util.AESKeySize {
		return nil, fmt.Errorf("signing key must be exactly %d bytes, got %d", util.AESKeySize, len(key))
	}
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       key,
	}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("creating token signer: %w", err)
	}
	return &Issuer{
		signer: signer,
		key:    util.CopyBytes(key),
		name:   name,
		repo:   repo,
		now:    time.Now,
	}, nil
}

func (i *Issuer) mint(subjectID, scope string, ttl time.Duration) (raw string, id string, err error) {
	now := i.now()
	cl := claims{
		Claims: jwt.Claims{
			ID:        uuid.New(),
			Issuer:    i.name,
			Subject:   subjectID,
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}
	raw, err = jwt.Signed(i.signer).Claims(cl).CompactSerialize()
	if err != nil {
		return "", "", fmt.Errorf("serializing token: %w", err)
	}
	return raw, cl.ID, nil
}

// AccessToken mints a short-lived account bearer token.
func (i *Issuer) AccessToken(subjectID string) (string, error) {
	raw, _, err := i.mint(subjectID, ScopeAccount, AccessTokenTTL)
	return raw, err
}

// RefreshToken mints a single-use refresh token and records its ID so
// Redeem can enforce single use.
func (i *Issuer) RefreshToken(subjectID string) (string, error) {
	raw, id, err := i.mint(subjectID, ScopeRefresh, RefreshTokenTTL)
	if err != nil {
		return "", err
	}

	rec := refreshRecord{SubjectID: subjectID, ExpiresAt: i.now().Add(RefreshTokenTTL)}
	data, err := json.Marshal(&rec)
	if err != nil {
		return "", fmt.Errorf("encoding refresh record: %w", err)
	}
	if err := i.repo.PutCAS(tokenNamespace, refreshRecordType, id, 0, storage.Plain(data, 1)); err != nil {
		return "", fmt.Errorf("persisting refresh record: %w", err)
	}
	return raw, nil
}

// TagGrant mints a short-lived unlock grant for a protected tag.
func (i *Issuer) TagGrant(tagID string) (string, error) {
	raw, _, err := i.mint(tagID, ScopeTagUnlock, GrantTTL)
	return raw, err
}

// Verify checks the token's signature, issuer, expiry, and scope, and
// returns the subject it was minted for. All failures collapse into
// ErrInvalidToken.
func (i *Issuer) Verify(raw, scope string) (string, error) {
	cl, err := i.parse(raw, scope)
	if err != nil {
		return "", err
	}
	return cl.Subject, nil
}

func (i *Issuer) parse(raw, scope string) (*claims, error) {
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var cl claims
	if err := tok.Claims(i.key, &cl); err != nil {
		return nil, ErrInvalidToken
	}
	if cl.Scope != scope {
		return nil, ErrInvalidToken
	}
	if err := cl.Validate(jwt.Expected{Issuer: i.name, Time: i.now()}); err != nil {
		return nil, ErrInvalidToken
	}
	return &cl, nil
}

// Redeem exchanges a refresh token for a fresh access/refresh pair. The
// token is consumed atomically: of two concurrent redemptions, exactly one
// succeeds and the other gets ErrTokenUsed.
func (i *Issuer) Redeem(raw string) (subjectID, access, refresh string, err error) {
	cl, err := i.parse(raw, ScopeRefresh)
	if err != nil {
		return "", "", "", err
	}

	rec, err := i.repo.Get(tokenNamespace, refreshRecordType, cl.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", "", "", ErrInvalidToken
		}
		return "", "", "", fmt.Errorf("loading refresh record: %w", err)
	}
	var rr refreshRecord
	if err := json.Unmarshal(rec.Data, &rr); err != nil {
		return "", "", "", fmt.Errorf("decoding refresh record: %w", err)
	}
	if rr.Used {
		return "", "", "", ErrTokenUsed
	}
	if rr.SubjectID != cl.Subject {
		return "", "", "", ErrInvalidToken
	}

	rr.Used = true
	data, err := json.Marshal(&rr)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding refresh record: %w", err)
	}
	if err := i.repo.PutCAS(tokenNamespace, refreshRecordType, cl.ID, rec.Version, storage.Plain(data, rec.Version+1)); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return "", "", "", ErrTokenUsed
		}
		return "", "", "", fmt.Errorf("consuming refresh record: %w", err)
	}

	access, err = i.AccessToken(cl.Subject)
	if err != nil {
		return "", "", "", err
	}
	refresh, err = i.RefreshToken(cl.Subject)
	if err != nil {
		return "", "", "", err
	}
	return cl.Subject, access, refresh, nil
}

// Sweep removes refresh records past their expiry. Used records are kept
// until expiry so late redemption attempts get ErrTokenUsed rather than a
// generic failure.
func (i *Issuer) Sweep() error {
	ids, err := i.repo.List(tokenNamespace, refreshRecordType)
	if err != nil {
		return fmt.Errorf("listing refresh records: %w", err)
	}
	now := i.now()
	for _, id := range ids {
		rec, err := i.repo.Get(tokenNamespace, refreshRecordType, id)
		if err != nil {
			continue
		}
		var rr refreshRecord
		if err := json.Unmarshal(rec.Data, &rr); err != nil {
			_ = i.repo.Delete(tokenNamespace, refreshRecordType, id)
			continue
		}
		if now.After(rr.ExpiresAt) {
			_ = i.repo.Delete(tokenNamespace, refreshRecordType, id)
		}
	}
	return nil
}
