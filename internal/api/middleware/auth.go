package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dashwise/dashboard-qa/internal/api/response"
)

// AuthMiddleware guards the API with a static bearer token. An empty token
// disables authentication, which is only sensible behind a trusted proxy.
type AuthMiddleware struct {
	token string
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: token}
}

// Authenticate validates the Authorization header
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Error(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Error(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(m.token)) != 1 {
			response.Unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
