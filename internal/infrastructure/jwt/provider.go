package jwtinfra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-subscription-core/internal/config"
	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/pkg/clock"
	"github.com/golang-jwt/jwt/v5"
)

const (
	MinKeyBytes = 32
	MinExpiry   = 5 * time.Minute
	MaxExpiry   = 30 * 24 * time.Hour
)

// Claims holds the JWT payload fields. Subject is the user id.
type Claims struct {
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	IsSubscribed   bool     `json:"isSubscribed"`
	SessionID      string   `json:"sessionId"`
	Phone          string   `json:"phone,omitempty"`
	SubscriptionID string   `json:"subscriptionId,omitempty"`
	Roles          []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role, case-insensitively.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Provider signs and verifies HS256 JWTs.
type Provider struct {
	key      []byte
	issuer   string
	audience string
	expiry   time.Duration
	clock    clock.Clock
}

// NewProvider validates the signing settings and fails on a short or placeholder key.
func NewProvider(cfg *config.Config, clk clock.Clock) (*Provider, error) {
	if len(cfg.JWTKey) < MinKeyBytes {
		return nil, fmt.Errorf("jwt key must be at least %d bytes", MinKeyBytes)
	}
	if config.IsPlaceholderKey(cfg.JWTKey) {
		return nil, errors.New("jwt key must be replaced with a secure value")
	}
	expiry := cfg.JWTExpiry()
	if expiry < MinExpiry || expiry > MaxExpiry {
		return nil, fmt.Errorf("jwt expiry %s out of range", expiry)
	}
	if clk == nil {
		clk = clock.System()
	}
	aud := cfg.JWTAudience
	if aud == "" {
		aud = cfg.JWTIssuer
	}
	return &Provider{
		key:      []byte(cfg.JWTKey),
		issuer:   cfg.JWTIssuer,
		audience: aud,
		expiry:   expiry,
		clock:    clk,
	}, nil
}

// Issue mints a bearer token bound to sessionToken.
func (p *Provider) Issue(u *domain.User, sessionToken string, roles []string) (string, error) {
	if u == nil || sessionToken == "" {
		return "", fmt.Errorf("user and session are required: %w", domain.ErrInvalidInput)
	}
	now := p.clock.Now()
	claims := Claims{
		Email:          u.Email,
		Name:           u.Name,
		IsSubscribed:   u.IsSubscribed,
		SessionID:      sessionToken,
		Phone:          u.Phone,
		SubscriptionID: u.SubscriptionID,
		Roles:          NormalizeRoles(roles, u.IsAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(p.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.key)
}

func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return p.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.SessionID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// NormalizeRoles trims, drops empties, dedupes case-insensitively keeping the
// first spelling, and appends "admin" for admins when absent.
func NormalizeRoles(roles []string, isAdmin bool) []string {
	out := make([]string, 0, len(roles)+1)
	seen := make(map[string]struct{}, len(roles)+1)
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		k := strings.ToLower(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	if _, ok := seen[domain.RoleAdmin]; isAdmin && !ok {
		out = append(out, domain.RoleAdmin)
	}
	return out
}
