package api

import (
	"context"
	"net/http"

	"github.com/nichepass/nichepass/internal/pkg/httputil"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserHeader carries the authenticated user's ID, set by the edge proxy
// after session validation. The API itself never sees credentials.
const UserHeader = "X-User-ID"

// RequireUser rejects requests without a user principal and stashes the ID
// in the request context for handlers.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			httputil.Error(w, http.StatusUnauthorized, "missing user principal")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the authenticated user's ID from the request context.
// Only valid under RequireUser.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
