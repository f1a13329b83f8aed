package auth

import "time"

// SessionState tracks a handshake session through its lifecycle. A session
// moves forward only; any terminal state consumes it permanently.
type SessionState string

const (
	// SessionInitialized is the transient state between session creation
	// and the credential response being computed.
	SessionInitialized SessionState = "initialized"
	// SessionCredentialIssued means KE2 has been sent and the store holds
	// the server's AKE state awaiting the client's finish message.
	SessionCredentialIssued SessionState = "credential_issued"
	// SessionFinished is the terminal success state.
	SessionFinished SessionState = "finished"
	// SessionExpired is the terminal state for sessions that aged out.
	SessionExpired SessionState = "expired"
	// SessionFailed is the terminal state for consumed or rejected
	// handshakes.
	SessionFailed SessionState = "failed"
)

// Terminal reports whether the state consumes the session.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionFinished, SessionExpired, SessionFailed:
		return true
	}
	return false
}

// HandshakeSession is the server-side memory bridging login-start and
// login-finish. AKEState is the serialized ephemeral key-exchange state; it
// is sealed at rest and wiped from storage the moment the session is
// claimed.
type HandshakeSession struct {
	ID           string       `json:"id"`
	Kind         SubjectKind  `json:"kind"`
	SubjectID    string       `json:"subject_id,omitempty"` // empty for fake handshakes
	State        SessionState `json:"state"`
	AKEState     []byte       `json:"ake_state,omitempty"`
	ExpiresAt    time.Time    `json:"expires_at"`
	LastActivity time.Time    `json:"last_activity"`

	// version is the storage record version backing CAS transitions.
	version uint64
}
