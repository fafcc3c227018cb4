package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const userIDKey contextKey = "user_id"

// AuthMiddleware returns middleware that validates authentication.
// If token is empty, any request carrying a Bearer token is accepted. If
// token is non-empty, the Bearer token must match exactly.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				Unauthorized(w)
				return
			}
			bearerValue := authHeader[len(prefix):]
			if token != "" && bearerValue != token {
				Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDMiddleware reads the caller's identity from the X-User-ID header
// and stores it in the request context. Authorization has already happened
// upstream; this only establishes who owns what. Absent or malformed
// headers leave the identity at zero.
func UserIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("X-User-ID"); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				ctx := context.WithValue(r.Context(), userIDKey, id)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID retrieves the identity stored in the context by
// UserIDMiddleware; zero when the request carried none.
func GetUserID(ctx context.Context) int64 {
	v, _ := ctx.Value(userIDKey).(int64)
	return v
}
