package domain

import "time"

// OTP purposes. Purposes partition challenges: a code issued for one purpose
// never verifies under another.
const (
	OTPPurposeLogin = "login"
)

// OtpChallenge is a hashed one-time code bound to a user and purpose.
// PK: challenge_id. ExpiresTTL is a Unix timestamp used as DynamoDB TTL and is
// set well past ExpiresAt so expired rows stay observable for a while.
type OtpChallenge struct {
	ChallengeID  string    `json:"id" dynamodbav:"challenge_id"`
	UserID       string    `json:"user_id" dynamodbav:"user_id"`
	Purpose      string    `json:"purpose" dynamodbav:"purpose"`
	CodeHash     string    `json:"-" dynamodbav:"code_hash"`
	Salt         string    `json:"-" dynamodbav:"salt"`
	Consumed     bool      `json:"consumed" dynamodbav:"consumed"`
	AttemptCount int       `json:"attempt_count" dynamodbav:"attempt_count"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" dynamodbav:"expires_at"`
	ExpiresTTL   int64     `json:"-" dynamodbav:"expires_ttl"`
}

// Expired reports whether the challenge is past its expiry at now.
func (c *OtpChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// OtpDispatch is the result of issuing a code.
type OtpDispatch struct {
	ChallengeID       string    `json:"-"`
	MaskedDestination string    `json:"maskedPhone"`
	ExpiresAt         time.Time `json:"expiresAt"`
	DebugCode         string    `json:"debugCode,omitempty"`
}

// PasswordResetToken is a single-use recovery secret; only its hash persists.
type PasswordResetToken struct {
	TokenID    string     `json:"id" dynamodbav:"token_id"`
	UserID     string     `json:"user_id" dynamodbav:"user_id"`
	TokenHash  string     `json:"-" dynamodbav:"token_hash"`
	TokenSalt  string     `json:"-" dynamodbav:"token_salt"`
	CreatedBy  string     `json:"created_by" dynamodbav:"created_by"`
	Reason     string     `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created" dynamodbav:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at" dynamodbav:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty" dynamodbav:"consumed_at,omitempty"`
}

// Usable reports whether the token can still be redeemed at now.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return t.ConsumedAt == nil && !now.After(t.ExpiresAt)
}

// PasswordResetResult is returned once to the issuer; Token is never retrievable again.
type PasswordResetResult struct {
	TokenID   string    `json:"tokenId"`
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
