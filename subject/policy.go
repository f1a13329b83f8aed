package subject

import (
	"context"
	"errors"

	"github.com/daybook-app/daybook/auth"
	"github.com/daybook-app/daybook/token"
)

// AccountPolicy binds user accounts to the authentication flow. Accounts
// are referenced by email; success issues a bearer token pair.
type AccountPolicy struct {
	users  *UserStore
	issuer *token.Issuer
}

var _ auth.SubjectPolicy = (*AccountPolicy)(nil)

// NewAccountPolicy creates the account-side policy.
func NewAccountPolicy(users *UserStore, issuer *token.Issuer) *AccountPolicy {
	return &AccountPolicy{users: users, issuer: issuer}
}

func (p *AccountPolicy) Kind() auth.SubjectKind { return auth.SubjectAccount }
func (p *AccountPolicy) Namespace() string      { return NamespaceUsers }

// Resolve maps an email address to its account. The identity bound into the
// key exchange is the normalized address, so clients must use the normalized
// form (NormalizeEmail) as their client identity — a mixed-case identity on
// the client side binds a different transcript and every login fails.
func (p *AccountPolicy) Resolve(ref string) (*auth.Subject, error) {
	user, err := p.users.GetByEmail(ref)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, auth.ErrUnknownSubject
		}
		return nil, err
	}
	return &auth.Subject{ID: user.ID, Identity: []byte(user.Email)}, nil
}

// Issue mints the access/refresh pair for an authenticated account. The
// OPAQUE session key is not embedded in the tokens; it is the handshake's
// proof, not a credential.
func (p *AccountPolicy) Issue(_ context.Context, subjectID string, _ []byte) (*auth.Credential, error) {
	access, err := p.issuer.AccessToken(subjectID)
	if err != nil {
		return nil, err
	}
	refresh, err := p.issuer.RefreshToken(subjectID)
	if err != nil {
		return nil, err
	}
	return &auth.Credential{
		Kind:         auth.SubjectAccount,
		SubjectID:    subjectID,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// SecretTagPolicy binds secret tags to the authentication flow. Tags are
// referenced by ID; success issues a short-lived unlock grant.
type SecretTagPolicy struct {
	tags   *TagStore
	issuer *token.Issuer
}

var _ auth.SubjectPolicy = (*SecretTagPolicy)(nil)

// NewSecretTagPolicy creates the tag-side policy.
func NewSecretTagPolicy(tags *TagStore, issuer *token.Issuer) *SecretTagPolicy {
	return &SecretTagPolicy{tags: tags, issuer: issuer}
}

func (p *SecretTagPolicy) Kind() auth.SubjectKind { return auth.SubjectSecretTag }
func (p *SecretTagPolicy) Namespace() string      { return NamespaceTags }

// Resolve maps a tag ID to its subject. Unknown IDs get the fake-record
// path, so probing tag IDs through the unlock endpoint reveals nothing.
func (p *SecretTagPolicy) Resolve(ref string) (*auth.Subject, error) {
	tag, err := p.tags.Get(ref)
	if err != nil {
		if errors.Is(err, ErrTagNotFound) {
			return nil, auth.ErrUnknownSubject
		}
		return nil, err
	}
	return &auth.Subject{ID: tag.ID, Identity: []byte(tag.ID)}, nil
}

// Issue mints the unlock grant for an authenticated tag.
func (p *SecretTagPolicy) Issue(_ context.Context, subjectID string, _ []byte) (*auth.Credential, error) {
	grant, err := p.issuer.TagGrant(subjectID)
	if err != nil {
		return nil, err
	}
	return &auth.Credential{
		Kind:      auth.SubjectSecretTag,
		SubjectID: subjectID,
		Grant:     grant,
	}, nil
}
