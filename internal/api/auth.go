// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	logpkg "github.com/kesslerm/motionplay/internal/log"
)

// userID returns the authenticated caller's user ID from the request context.
func userID(r *http.Request) string {
	return logpkg.UserIDFromContext(r.Context())
}

// extractToken reads the bearer token from the Authorization header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// requireAuth resolves the bearer token against the configured token map in
// constant time and stores the owning user ID on the context.
func requireAuth(tokens map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := extractToken(r)
			if got == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			// Compare against every configured token so lookup time does
			// not depend on the match.
			matched := ""
			for token, uid := range tokens {
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
					matched = uid
				}
			}
			if matched == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}

			ctx := logpkg.ContextWithUserID(r.Context(), matched)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
