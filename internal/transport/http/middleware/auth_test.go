package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-subscription-core/internal/config"
	"github.com/go-subscription-core/internal/domain"
	jwtinfra "github.com/go-subscription-core/internal/infrastructure/jwt"
	"github.com/go-subscription-core/internal/pkg/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

type stubSessions struct {
	valid  bool
	userID string
	token  string
	ip     string
}

func (s *stubSessions) ValidateSession(_ context.Context, userID, token, ip string) bool {
	s.userID, s.token, s.ip = userID, token, ip
	return s.valid
}

func newTestProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	cfg := &config.Config{JWTKey: testKey, JWTIssuer: "subscription-core", JWTExpiryMinutes: 60}
	p, err := jwtinfra.NewProvider(cfg, clock.System())
	require.NoError(t, err)
	return p
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestAuth_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	Auth(newTestProvider(t), &stubSessions{valid: true})(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"missing or invalid authorization header"}`, rr.Body.String())
}

func TestAuth_BadToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rr := httptest.NewRecorder()
	Auth(newTestProvider(t), &stubSessions{valid: true})(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_ExpiredToken(t *testing.T) {
	claims := &jwtinfra.Claims{
		SessionID: "tok",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "subscription-core",
			Audience:  jwt.ClaimStrings{"subscription-core"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	Auth(newTestProvider(t), &stubSessions{valid: true})(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_SupersededSession(t *testing.T) {
	p := newTestProvider(t)
	signed, err := p.Issue(&domain.User{UserID: "u1"}, "old-token", nil)
	require.NoError(t, err)

	sessions := &stubSessions{valid: false}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	Auth(p, sessions)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"invalid session"}`, rr.Body.String())
	assert.Equal(t, "old-token", sessions.token)
}

func TestAuth_ValidToken_InjectsClaims(t *testing.T) {
	p := newTestProvider(t)
	signed, err := p.Issue(&domain.User{UserID: "u1", Email: "a@b.com"}, "tok-1", []string{"user"})
	require.NoError(t, err)

	var gotClaims *jwtinfra.Claims
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	sessions := &stubSessions{valid: true}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:51000"
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	Auth(p, sessions)(capture).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, "u1", gotClaims.Subject)
	assert.True(t, gotClaims.HasRole("user"))
	assert.Equal(t, "u1", sessions.userID)
	assert.Equal(t, "tok-1", sessions.token)
	assert.Equal(t, "203.0.113.7", sessions.ip)
}
