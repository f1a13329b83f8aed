package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/daybook-app/daybook/subject"
)

// CreateAccount handles POST /accounts. The account is created without any
// credential; the passphrase is established through the registration
// handshake afterwards.
func (a *API) CreateAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateAccountRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	user, err := a.users.Create(req.Email)
	if err != nil {
		if errors.Is(err, subject.ErrUserExists) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	a.audit.logEvent(AuditAccountCreated, r, user.ID)
	writeJSON(w, http.StatusCreated, CreateAccountResponse{ID: user.ID, Email: user.Email})
}

// AccountRegisterStart handles POST /auth/opaque/register/start.
func (a *API) AccountRegisterStart(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RegisterStartRequest](w, r, maxMessageBodySize)
	if !ok {
		return
	}

	response, err := a.accounts.RegisterStart(r.Context(), req.Email, req.Message, req.Replace)
	if err != nil {
		a.audit.log(AuditRegisterFailure, r)
		mapAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RegisterStartResponse{Message: response})
}

// AccountRegisterFinish handles POST /auth/opaque/register/finish.
func (a *API) AccountRegisterFinish(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RegisterFinishRequest](w, r, maxMessageBodySize)
	if !ok {
		return
	}

	if err := a.accounts.RegisterFinish(r.Context(), req.Email, req.Record, req.Replace); err != nil {
		a.audit.log(AuditRegisterFailure, r)
		mapAuthError(w, err)
		return
	}
	a.audit.log(AuditRegisterSuccess, r)
	w.WriteHeader(http.StatusNoContent)
}

// AccountLoginStart handles POST /auth/opaque/login/start.
func (a *API) AccountLoginStart(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginStartRequest](w, r, maxMessageBodySize)
	if !ok {
		return
	}

	sessionID, message, err := a.accounts.LoginStart(r.Context(), req.Email, req.Message)
	if err != nil {
		a.audit.log(AuditLoginFailure, r)
		mapAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginStartResponse{SessionID: sessionID, Message: message})
}

// AccountLoginFinish handles POST /auth/opaque/login/finish.
func (a *API) AccountLoginFinish(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginFinishRequest](w, r, maxMessageBodySize)
	if !ok {
		return
	}

	cred, err := a.accounts.LoginFinish(r.Context(), req.SessionID, req.Message)
	if err != nil {
		a.audit.log(AuditLoginFailure, r)
		mapAuthError(w, err)
		return
	}

	a.audit.logEvent(AuditLoginSuccess, r, cred.SubjectID)
	writeJSON(w, http.StatusOK, LoginFinishResponse{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
	})
}

// Refresh handles POST /auth/refresh. Refresh tokens are single use; the
// response carries the replacement pair.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RefreshRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}

	subjectID, access, refresh, err := a.issuer.Redeem(req.RefreshToken)
	if err != nil {
		a.audit.log(AuditRefreshFailure, r)
		mapAuthError(w, err)
		return
	}

	a.audit.logEvent(AuditRefreshSuccess, r, subjectID)
	writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: access, RefreshToken: refresh})
}
