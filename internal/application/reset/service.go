package reset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/metrics"
	"github.com/go-subscription-core/internal/pkg/clock"
	"github.com/go-subscription-core/internal/pkg/hasher"
	"github.com/go-subscription-core/internal/pkg/id"
	"github.com/go-subscription-core/internal/pkg/token"
	"github.com/go-subscription-core/internal/pkg/validate"
)

const (
	DefaultLifetime = 24 * time.Hour
	MinLifetime     = 5 * time.Minute
	MaxLifetime     = 7 * 24 * time.Hour
)

type GenerateRequest struct {
	UserID    string
	CreatedBy string
	Reason    string
	Lifetime  time.Duration // zero means DefaultLifetime
}

type RedeemRequest struct {
	TokenID     string `json:"tokenId" validate:"required"`
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

type UserStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

// TokenStore persists reset tokens. Redeem sets the password hash, marks the
// token consumed and ends the user's active session with reason
// "password_reset" in one atomic unit. It returns domain.ErrResetTokenInvalid
// when the token was consumed concurrently, and the ended session id, if any.
type TokenStore interface {
	Create(ctx context.Context, t *domain.PasswordResetToken) error
	Get(ctx context.Context, tokenID string) (*domain.PasswordResetToken, error)
	Redeem(ctx context.Context, t *domain.PasswordResetToken, passwordHash string, now time.Time) (string, error)
}

type TokenHasher interface {
	Hash(secret string) (hash, salt string, err error)
	Verify(secret, hash, salt string) (bool, error)
}

type Mailer interface {
	SendEmail(to, subject, body string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

type ServiceDeps struct {
	UserRepo    UserStore
	TokenRepo   TokenStore
	Hasher      TokenHasher
	Mailer      Mailer         // optional
	Events      EventPublisher // optional
	LinkBaseURL string         // reset email is sent only when set together with Mailer
	Clock       clock.Clock
	Rand        io.Reader
}

type Service interface {
	GenerateResetToken(ctx context.Context, req GenerateRequest) (*domain.PasswordResetResult, error)
	RedeemResetToken(ctx context.Context, req RedeemRequest) error
}

type service struct {
	users    UserStore
	tokens   TokenStore
	hasher   TokenHasher
	mailer   Mailer
	events   EventPublisher
	linkBase string
	clock    clock.Clock
	rand     io.Reader
}

func NewService(deps ServiceDeps) Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &service{
		users:    deps.UserRepo,
		tokens:   deps.TokenRepo,
		hasher:   deps.Hasher,
		mailer:   deps.Mailer,
		events:   deps.Events,
		linkBase: deps.LinkBaseURL,
		clock:    clk,
		rand:     deps.Rand,
	}
}

func (s *service) GenerateResetToken(ctx context.Context, req GenerateRequest) (*domain.PasswordResetResult, error) {
	lifetime := req.Lifetime
	if lifetime == 0 {
		lifetime = DefaultLifetime
	}
	if lifetime < MinLifetime || lifetime > MaxLifetime {
		return nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "lifetimeMinutes", Rule: "range"}}}
	}
	u, err := s.users.Get(ctx, req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	plain, err := token.NewURLSafe(s.rand)
	if err != nil {
		return nil, err
	}
	hash, salt, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}
	now := s.clock.Now()
	t := &domain.PasswordResetToken{
		TokenID:   id.At(now),
		UserID:    u.UserID,
		TokenHash: hash,
		TokenSalt: salt,
		CreatedBy: req.CreatedBy,
		Reason:    req.Reason,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	metrics.PasswordResetsIssued.Inc()
	slog.InfoContext(ctx, "password reset issued",
		"user_id", u.UserID, "token_id", t.TokenID, "created_by", req.CreatedBy, "expires_at", t.ExpiresAt)
	s.sendLink(ctx, u, t.TokenID, plain, t.ExpiresAt)
	s.publish(ctx, domain.Event{
		Type:        domain.EventPasswordResetIssued,
		AggregateID: u.UserID,
		Data: map[string]any{
			"userId":    u.UserID,
			"tokenId":   t.TokenID,
			"createdBy": req.CreatedBy,
			"expiresAt": t.ExpiresAt,
		},
	})

	return &domain.PasswordResetResult{
		TokenID:   t.TokenID,
		UserID:    u.UserID,
		Token:     plain,
		ExpiresAt: t.ExpiresAt,
	}, nil
}

func (s *service) RedeemResetToken(ctx context.Context, req RedeemRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	t, err := s.tokens.Get(ctx, req.TokenID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrResetTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("load reset token: %w", err)
	}
	now := s.clock.Now()
	if !t.Usable(now) {
		return domain.ErrResetTokenInvalid
	}
	ok, err := s.hasher.Verify(req.Token, t.TokenHash, t.TokenSalt)
	if err != nil || !ok {
		return domain.ErrResetTokenInvalid
	}
	pwHash, err := hasher.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	ended, err := s.tokens.Redeem(ctx, t, pwHash, now)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "password reset redeemed", "user_id", t.UserID, "token_id", t.TokenID)
	if ended != "" {
		metrics.SessionsEnded.WithLabelValues(domain.SessionEndPasswordReset).Inc()
		s.publish(ctx, domain.Event{
			Type:        domain.EventSessionEnded,
			AggregateID: t.UserID,
			Data:        map[string]any{"userId": t.UserID, "sessionId": ended, "reason": domain.SessionEndPasswordReset, "at": now},
		})
	}
	return nil
}

func (s *service) sendLink(ctx context.Context, u *domain.User, tokenID, plain string, expiresAt time.Time) {
	if s.mailer == nil || s.linkBase == "" || u.Email == "" {
		return
	}
	link, err := url.Parse(s.linkBase)
	if err != nil {
		slog.WarnContext(ctx, "reset link base url invalid", "error", err)
		return
	}
	q := link.Query()
	q.Set("id", tokenID)
	q.Set("token", plain)
	link.RawQuery = q.Encode()

	body := fmt.Sprintf("Hello %s,\n\nUse the link below to set a new password. It expires at %s UTC.\n\n%s\n",
		u.Name, expiresAt.UTC().Format("2006-01-02 15:04"), link.String())
	if err := s.mailer.SendEmail(u.Email, "Reset your password", body); err != nil {
		slog.WarnContext(ctx, "reset email delivery failed", "user_id", u.UserID, "error", err)
	}
}

func (s *service) publish(ctx context.Context, e domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "event publish failed", "type", e.Type, "error", err)
	}
}
