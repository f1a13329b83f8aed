package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/daybook-app/daybook/subject"
)

// ownedTag loads the tag from the URL and checks it belongs to the
// authenticated account. Responds 404 either way when it doesn't — a tag
// you don't own looks like a tag that doesn't exist.
func (a *API) ownedTag(w http.ResponseWriter, r *http.Request) (*subject.SecretTag, bool) {
	accountID := subjectFromContext(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	tag, err := a.tagStore.Get(chi.URLParam(r, "tagID"))
	if err != nil {
		if errors.Is(err, subject.ErrTagNotFound) {
			writeError(w, http.StatusNotFound, "tag not found")
		} else {
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
		}
		return nil, false
	}
	if tag.OwnerID != accountID {
		writeError(w, http.StatusNotFound, "tag not found")
		return nil, false
	}
	return tag, true
}

// CreateTag handles POST /tags.
func (a *API) CreateTag(w http.ResponseWriter, r *http.Request) {
	accountID := subjectFromContext(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	req, ok := decodeJSON[CreateTagRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}

	tag, err := a.tagStore.Create(accountID, req.Label)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	a.audit.logEvent(AuditTagCreated, r, accountID)
	writeJSON(w, http.StatusCreated, TagResponse{ID: tag.ID, Label: tag.Label})
}

// ListTags handles GET /tags.
func (a *API) ListTags(w http.ResponseWriter, r *http.Request) {
	accountID := subjectFromContext(r.Context())
	if accountID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tags, err := a.tagStore.ListByOwner(accountID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	out := make([]TagResponse, 0, len(tags))
	for _, tag := range tags {
		out = append(out, TagResponse{ID: tag.ID, Label: tag.Label})
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteTag handles DELETE /tags/{tagID}. The tag's registration envelope
// goes with it.
func (a *API) DeleteTag(w http.ResponseWriter, r *http.Request) {
	tag, ok := a.ownedTag(w, r)
	if !ok {
		return
	}

	if err := a.tagStore.Delete(tag.ID); err != nil {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	a.audit.logEvent(AuditTagDeleted, r, tag.OwnerID)
	w.WriteHeader(http.StatusNoContent)
}

// TagRegisterStart handles POST /tags/{tagID}/opaque/register/start.
// Registering a tag's secret phrase requires owning the tag.
func (a *API) TagRegisterStart(w http.ResponseWriter, r *http.Request) {
	tag, ok := a.ownedTag(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[RegisterStartRequest](w, r, maxMessageBodySize)
	if !ok {
		return
	}

	response, err := a.tags.RegisterStart(r.Context(), tag.ID, req.Message, req.Replace)
	if err != nil {
		a.audit.log(AuditRegisterFailure, r)
		mapAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RegisterStartResponse{Message: response})
}

// TagRegisterFinish handles POST /tags/{tagID}/opaque/register/finish.
func (a *API) TagRegisterFinish(w http.ResponseWriter, r *http.Request) {
	tag, ok := a.ownedTag(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[RegisterFinishRequest](w, r, maxMessageBodySize)
	if !ok {
		return
	}

	if err := a.tags.RegisterFinish(r.Context(), tag.ID, req.Record, req.Replace); err != nil {
		a.audit.log(AuditRegisterFailure, r)
		mapAuthError(w, err)
		return
	}
	a.audit.log(AuditRegisterSuccess, r)
	w.WriteHeader(http.StatusNoContent)
}

// TagUnlockStart handles POST /tags/{tagID}/opaque/unlock/start. No bearer
// auth and no existence check here: unknown tag IDs flow into the
// fake-record path and get a structurally normal response.
func (a *API) TagUnlockStart(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginStartRequest](w, r, maxMessageBodySize)
	if !ok {
		return
	}

	sessionID, message, err := a.tags.LoginStart(r.Context(), chi.URLParam(r, "tagID"), req.Message)
	if err != nil {
		a.audit.log(AuditUnlockFailure, r)
		mapAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginStartResponse{SessionID: sessionID, Message: message})
}

// TagUnlockFinish handles POST /tags/{tagID}/opaque/unlock/finish.
func (a *API) TagUnlockFinish(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginFinishRequest](w, r, maxMessageBodySize)
	if !ok {
		return
	}

	cred, err := a.tags.LoginFinish(r.Context(), req.SessionID, req.Message)
	if err != nil {
		a.audit.log(AuditUnlockFailure, r)
		mapAuthError(w, err)
		return
	}

	a.audit.logEvent(AuditUnlockSuccess, r, cred.SubjectID)
	writeJSON(w, http.StatusOK, LoginFinishResponse{Grant: cred.Grant})
}
