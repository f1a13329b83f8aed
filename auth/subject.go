package auth

import "context"

// SubjectKind discriminates the two authentication subjects sharing the
// OPAQUE flows.
type SubjectKind string

const (
	// SubjectAccount is a user account authenticating with its passphrase.
	SubjectAccount SubjectKind = "account"
	// SubjectSecretTag is a per-entry protected namespace authenticating
	// with its secret phrase.
	SubjectSecretTag SubjectKind = "secret_tag"
)

// Subject is the resolved identity a handshake authenticates.
type Subject struct {
	// ID is the stable subject identifier envelopes are bound to.
	ID string
	// Identity is the public identity mixed into the AKE transcript
	// (e.g. the account email or the tag ID).
	Identity []byte
}

// Credential is the post-success issuance result. Account logins carry a
// bearer token pair; secret-tag unlocks carry a scoped grant.
type Credential struct {
	Kind         SubjectKind `json:"kind"`
	SubjectID    string      `json:"subject_id"`
	AccessToken  string      `json:"access_token,omitempty"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	Grant        string      `json:"grant,omitempty"`
}

// SubjectPolicy binds one subject kind to its envelope namespace, its lookup
// rule, and its post-success effect. One generic flow implementation serves
// both kinds; the policy is the only place they differ.
type SubjectPolicy interface {
	// Kind returns the subject-kind discriminator.
	Kind() SubjectKind

	// Namespace returns the storage namespace holding this kind's subjects
	// and envelopes.
	Namespace() string

	// Resolve maps an external subject reference (account email, tag ID)
	// to a subject. Returns ErrUnknownSubject if absent; the flows convert
	// that into the fake-record path, never into a distinguishable reply.
	Resolve(ref string) (*Subject, error)

	// Issue produces the credential for a successfully authenticated
	// subject. The OPAQUE session key is provided for policies that bind
	// the credential to the handshake; it must not be retained.
	Issue(ctx context.Context, subjectID string, sessionKey []byte) (*Credential, error)
}
