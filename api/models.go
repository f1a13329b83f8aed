package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Body size caps. Handshake messages are a few hundred bytes; anything
// larger is garbage.
const (
	maxSmallBodySize   = 4 * 1024
	maxMessageBodySize = 16 * 1024
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateAccountRequest creates a user account. The passphrase is not in
// here — it never leaves the client; registration happens through the
// handshake endpoints afterwards.
type CreateAccountRequest struct {
	Email string `json:"email"`
}

// CreateAccountResponse returns the new account.
type CreateAccountResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// RegisterStartRequest opens a registration handshake. Message carries the
// serialized protocol message, base64-encoded by encoding/json. The server
// binds the lowercased, trimmed address into the key exchange; the client
// must use the same form as its client identity or the handshake transcripts
// will never match.
type RegisterStartRequest struct {
	Email   string `json:"email,omitempty"`
	Message []byte `json:"message"`
	Replace bool   `json:"replace,omitempty"`
}

// RegisterStartResponse returns the server's registration response message.
type RegisterStartResponse struct {
	Message []byte `json:"message"`
}

// RegisterFinishRequest uploads the client's registration record.
type RegisterFinishRequest struct {
	Email   string `json:"email,omitempty"`
	Record  []byte `json:"record"`
	Replace bool   `json:"replace,omitempty"`
}

// LoginStartRequest opens a login handshake.
type LoginStartRequest struct {
	Email   string `json:"email,omitempty"`
	Message []byte `json:"message"`
}

// LoginStartResponse returns the session handle and the server's key
// exchange message.
type LoginStartResponse struct {
	SessionID string `json:"session_id"`
	Message   []byte `json:"message"`
}

// LoginFinishRequest closes a login handshake.
type LoginFinishRequest struct {
	SessionID string `json:"session_id"`
	Message   []byte `json:"message"`
}

// LoginFinishResponse carries the issued credential. Account logins fill
// the token pair; tag unlocks fill the grant.
type LoginFinishResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Grant        string `json:"grant,omitempty"`
}

// RefreshRequest rotates a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse returns the replacement token pair.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// CreateTagRequest creates a secret tag for the authenticated account.
type CreateTagRequest struct {
	Label string `json:"label,omitempty"`
}

// TagResponse describes a secret tag.
type TagResponse struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// decodeJSON decodes a JSON request body into T with a size cap. On failure
// it writes the error response and returns ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return req, false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	io.Copy(io.Discard, r.Body)
	return req, true
}
