package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/daybook-app/daybook/token"
)

type contextKey int

const subjectKey contextKey = iota

// AuthMiddleware validates the bearer access token and stores the account
// ID on the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		subjectID, err := a.issuer.Verify(raw, token.ScopeAccount)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, subjectID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// subjectFromContext returns the authenticated account ID, or "" if the
// request carried no valid token.
func subjectFromContext(ctx context.Context) string {
	id, _ := ctx.Value(subjectKey).(string)
	return id
}
