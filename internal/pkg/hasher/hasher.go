// Package hasher derives and verifies salted one-way hashes for OTP codes and
// reset tokens (PBKDF2-HMAC-SHA256) and for account passwords (bcrypt).
package hasher

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/go-subscription-core/internal/domain"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize       = 16
	HashSize       = 32
	IterationCount = 100_000
)

// Hasher is safe for concurrent use.
type Hasher struct {
	rand       io.Reader
	iterations int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithRand overrides the salt source.
func WithRand(r io.Reader) Option {
	return func(h *Hasher) { h.rand = r }
}

func New(opts ...Option) *Hasher {
	h := &Hasher{rand: rand.Reader, iterations: IterationCount}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Hash returns base64 hash and salt for secret using a fresh random salt.
func (h *Hasher) Hash(secret string) (hash, salt string, err error) {
	if strings.TrimSpace(secret) == "" {
		return "", "", fmt.Errorf("secret is empty: %w", domain.ErrInvalidInput)
	}
	saltBytes := make([]byte, SaltSize)
	if _, err := io.ReadFull(h.rand, saltBytes); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	sum := h.derive(secret, saltBytes)
	return base64.StdEncoding.EncodeToString(sum), base64.StdEncoding.EncodeToString(saltBytes), nil
}

// Verify recomputes the derivation with the stored salt and compares in
// constant time. Empty or undecodable inputs are ErrInvalidInput.
func (h *Hasher) Verify(secret, hash, salt string) (bool, error) {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(hash) == "" || strings.TrimSpace(salt) == "" {
		return false, fmt.Errorf("secret, hash and salt are required: %w", domain.ErrInvalidInput)
	}
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", domain.ErrInvalidInput)
	}
	stored, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", domain.ErrInvalidInput)
	}
	if len(stored) != HashSize {
		return false, nil
	}
	return subtle.ConstantTimeCompare(h.derive(secret, saltBytes), stored) == 1, nil
}

func (h *Hasher) derive(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, h.iterations, HashSize, sha256.New)
}

// HashPassword bcrypt-hashes an account password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is empty: %w", domain.ErrInvalidInput)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
