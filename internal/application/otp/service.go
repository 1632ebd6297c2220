package otp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/metrics"
	"github.com/go-subscription-core/internal/pkg/clock"
	"github.com/go-subscription-core/internal/pkg/id"
	"github.com/go-subscription-core/internal/pkg/phone"
	"github.com/go-subscription-core/internal/pkg/token"
)

const (
	DefaultLifetime    = 5 * time.Minute
	MinLifetime        = time.Minute
	MaxLifetime        = 30 * time.Minute
	DefaultMaxAttempts = 5
	MinAttempts        = 1
	MaxAttempts        = 10

	// expired rows stay readable for a day before DynamoDB TTL removes them
	retention = 24 * time.Hour
)

// ChallengeStore persists challenges. Latest returns domain.ErrNotFound when
// the user has no unconsumed challenge for the purpose; RecordAttempt returns
// domain.ErrConflict when the stored attempt count no longer equals expected.
type ChallengeStore interface {
	Rotate(ctx context.Context, c *domain.OtpChallenge) error
	Latest(ctx context.Context, userID, purpose string) (*domain.OtpChallenge, error)
	RecordAttempt(ctx context.Context, challengeID string, expected, next int, consume bool) error
	Consume(ctx context.Context, challengeID string) error
}

type CodeHasher interface {
	Hash(secret string) (hash, salt string, err error)
	Verify(secret, hash, salt string) (bool, error)
}

// CodeSender delivers a plaintext code out of band.
type CodeSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type Settings struct {
	Lifetime    time.Duration
	MaxAttempts int
	ExposeCodes bool
}

type ServiceDeps struct {
	Store    ChallengeStore
	Hasher   CodeHasher
	Sender   CodeSender // optional
	Clock    clock.Clock
	Rand     io.Reader // nil uses crypto/rand
	Settings Settings
}

type Service interface {
	// RequestCode consumes any outstanding code for (userID, purpose) and issues
	// a new one. destination is the normalized phone the code is sent to.
	RequestCode(ctx context.Context, userID, purpose, destination string) (*domain.OtpDispatch, error)
	VerifyCode(ctx context.Context, userID, purpose, code string) error
}

type service struct {
	store       ChallengeStore
	hasher      CodeHasher
	sender      CodeSender
	clock       clock.Clock
	rand        io.Reader
	lifetime    time.Duration
	maxAttempts int
	exposeCodes bool
}

func NewService(deps ServiceDeps) Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &service{
		store:       deps.Store,
		hasher:      deps.Hasher,
		sender:      deps.Sender,
		clock:       clk,
		rand:        deps.Rand,
		lifetime:    clampLifetime(deps.Settings.Lifetime),
		maxAttempts: clampAttempts(deps.Settings.MaxAttempts),
		exposeCodes: deps.Settings.ExposeCodes,
	}
}

func (s *service) RequestCode(ctx context.Context, userID, purpose, destination string) (*domain.OtpDispatch, error) {
	if userID == "" || strings.TrimSpace(purpose) == "" {
		return nil, fmt.Errorf("user and purpose are required: %w", domain.ErrInvalidInput)
	}
	code, err := token.NewOTPCode(s.rand)
	if err != nil {
		return nil, err
	}
	hash, salt, err := s.hasher.Hash(code)
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}
	now := s.clock.Now()
	c := &domain.OtpChallenge{
		ChallengeID: id.At(now),
		UserID:      userID,
		Purpose:     purpose,
		CodeHash:    hash,
		Salt:        salt,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.lifetime),
		ExpiresTTL:  now.Add(s.lifetime + retention).Unix(),
	}
	if err := s.store.Rotate(ctx, c); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	if s.sender != nil && destination != "" {
		msg := fmt.Sprintf("%s is your verification code. It expires in %d minutes.", code, int(s.lifetime/time.Minute))
		if err := s.sender.SendSMS(ctx, "+"+destination, msg); err != nil {
			return nil, fmt.Errorf("deliver code: %w", err)
		}
	}
	metrics.OTPIssued.WithLabelValues(purpose).Inc()
	slog.InfoContext(ctx, "otp issued", "user_id", userID, "purpose", purpose, "challenge_id", c.ChallengeID)

	out := &domain.OtpDispatch{
		ChallengeID:       c.ChallengeID,
		MaskedDestination: phone.Mask(destination),
		ExpiresAt:         c.ExpiresAt,
	}
	if s.exposeCodes {
		out.DebugCode = code
	}
	return out, nil
}

func (s *service) VerifyCode(ctx context.Context, userID, purpose, code string) error {
	if userID == "" || strings.TrimSpace(purpose) == "" || strings.TrimSpace(code) == "" {
		return fmt.Errorf("user, purpose and code are required: %w", domain.ErrInvalidInput)
	}
	err := s.verify(ctx, userID, purpose, code)
	if errors.Is(err, domain.ErrConflict) {
		// another attempt moved the counter; re-read and evaluate against the new state
		err = s.verify(ctx, userID, purpose, code)
	}
	if errors.Is(err, domain.ErrConflict) {
		err = fmt.Errorf("concurrent verification: %w", domain.ErrInvalidCode)
	}
	metrics.OTPVerifications.WithLabelValues(purpose, outcome(err)).Inc()
	if err != nil {
		slog.InfoContext(ctx, "otp rejected", "user_id", userID, "purpose", purpose, "outcome", outcome(err))
	}
	return err
}

func (s *service) verify(ctx context.Context, userID, purpose, code string) error {
	c, err := s.store.Latest(ctx, userID, purpose)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrNoChallengeFound
	}
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}

	if c.Expired(s.clock.Now()) {
		if err := s.store.Consume(ctx, c.ChallengeID); err != nil {
			return fmt.Errorf("consume expired challenge: %w", err)
		}
		return domain.ErrExpiredChallenge
	}

	next := c.AttemptCount + 1
	ok, err := s.hasher.Verify(code, c.CodeHash, c.Salt)
	if err != nil {
		return fmt.Errorf("verify code: %w", err)
	}
	if ok {
		return s.store.RecordAttempt(ctx, c.ChallengeID, c.AttemptCount, next, true)
	}

	locked := next >= s.maxAttempts
	if err := s.store.RecordAttempt(ctx, c.ChallengeID, c.AttemptCount, next, locked); err != nil {
		return err
	}
	if locked {
		return domain.ErrChallengeLocked
	}
	return domain.ErrInvalidCode
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrChallengeLocked):
		return "locked"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid"
	case errors.Is(err, domain.ErrExpiredChallenge):
		return "expired"
	case errors.Is(err, domain.ErrNoChallengeFound):
		return "missing"
	default:
		return "error"
	}
}

func clampLifetime(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultLifetime
	case d < MinLifetime:
		return MinLifetime
	case d > MaxLifetime:
		return MaxLifetime
	}
	return d
}

func clampAttempts(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxAttempts
	case n > MaxAttempts:
		return MaxAttempts
	}
	return n
}
