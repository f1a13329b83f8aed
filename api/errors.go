package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/daybook-app/daybook/auth"
	"github.com/daybook-app/daybook/token"
)

// authFailedMessage is the single message every authentication failure
// maps to. Unknown subject, wrong password, malformed handshake message,
// consumed session — the caller cannot tell them apart.
const authFailedMessage = "authentication failed"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// mapAuthError writes the response for a failed flow operation. Everything
// that could distinguish failure causes collapses into a uniform 401;
// infrastructure failures stay distinct so clients know to retry.
func mapAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnknownSubject),
		errors.Is(err, auth.ErrAuthenticationFailed),
		errors.Is(err, auth.ErrProtocol),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrTokenUsed):
		writeError(w, http.StatusUnauthorized, authFailedMessage)
	case errors.Is(err, auth.ErrSessionExpired):
		// Expiry is not a secret: the client held a valid session and took
		// too long. Telling it to restart is safe and useful.
		writeError(w, http.StatusUnauthorized, "handshake session expired")
	case errors.Is(err, auth.ErrAlreadyRegistered),
		errors.Is(err, auth.ErrEnvelopeExists):
		writeError(w, http.StatusConflict, "already registered")
	default:
		// Fail closed: anything unexpected is reported as a retryable
		// infrastructure failure, with no detail attached.
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}
