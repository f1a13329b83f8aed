package auth

import "errors"

var (
	// ErrProtocol indicates a malformed or undecodable protocol message.
	// Primitive-library detail is never attached to it — the underlying
	// error text would otherwise act as an oracle for attackers probing
	// message structure.
	ErrProtocol = errors.New("malformed protocol message")

	// ErrUnknownSubject indicates the referenced subject does not exist.
	// Internal only: the external surface presents it identically to a
	// wrong-credential failure, in both message and timing.
	ErrUnknownSubject = errors.New("unknown subject")

	// ErrAlreadyRegistered indicates an active envelope already exists for
	// the subject and replacement was not requested.
	ErrAlreadyRegistered = errors.New("subject already registered")

	// ErrEnvelopeExists indicates a concurrent or repeated registration
	// finish lost the race to create the envelope.
	ErrEnvelopeExists = errors.New("envelope already exists")

	// ErrSessionNotFound indicates the handshake session is unknown or has
	// already been consumed.
	ErrSessionNotFound = errors.New("handshake session not found")

	// ErrSessionExpired indicates the handshake session aged out before the
	// finish message arrived.
	ErrSessionExpired = errors.New("handshake session expired")

	// ErrAuthenticationFailed indicates the client's final message did not
	// verify against the stored envelope.
	ErrAuthenticationFailed = errors.New("authentication failed")
)
