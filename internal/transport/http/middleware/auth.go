package middleware

import (
	"context"
	"net/http"
	"strings"

	jwtinfra "github.com/go-subscription-core/internal/infrastructure/jwt"
	"github.com/go-subscription-core/internal/pkg/logger"
)

type contextKey string

const claimsKey contextKey = "claims"

type TokenVerifier interface {
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}

// SessionValidator reports whether sessionToken is still the user's current session.
type SessionValidator interface {
	ValidateSession(ctx context.Context, userID, sessionToken, clientIP string) bool
}

// Auth validates the Bearer JWT, then checks that the session it carries is
// still current. Claims are injected into the request context.
func Auth(tokens TokenVerifier, sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if !sessions.ValidateSession(r.Context(), claims.Subject, claims.SessionID, ClientIP(r)) {
				writeJSONError(w, http.StatusUnauthorized, "invalid session")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = logger.WithUserID(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext extracts JWT claims from the request context.
func ClaimsFromContext(ctx context.Context) (*jwtinfra.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*jwtinfra.Claims)
	return c, ok
}

// WithClaims returns ctx carrying c. Used by handlers' tests.
func WithClaims(ctx context.Context, c *jwtinfra.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}
