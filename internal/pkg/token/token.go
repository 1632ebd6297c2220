package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// NewSessionToken generates a cryptographically random 32-character hex token.
func NewSessionToken(r io.Reader) (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(source(r), b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewURLSafe generates a 256-bit token using only [A-Za-z0-9].
func NewURLSafe(r io.Reader) (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(source(r), b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	s := base64.StdEncoding.EncodeToString(b)
	return strings.NewReplacer("+", "", "/", "", "=", "").Replace(s), nil
}

func source(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}

const (
	otpModulus = 1_000_000
	// otpLimit is the largest multiple of otpModulus that fits in a uint32.
	otpLimit = (1 << 32) / otpModulus * otpModulus
)

// NewOTPCode returns a uniformly distributed zero-padded 6-digit code.
// Samples at or above otpLimit are rejected so every code is equally likely.
func NewOTPCode(r io.Reader) (string, error) {
	var b [4]byte
	src := source(r)
	for {
		if _, err := io.ReadFull(src, b[:]); err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		n := binary.BigEndian.Uint32(b[:])
		if n < otpLimit {
			return fmt.Sprintf("%06d", n%otpModulus), nil
		}
	}
}
