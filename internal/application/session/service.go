package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/metrics"
	"github.com/go-subscription-core/internal/pkg/clock"
	"github.com/go-subscription-core/internal/pkg/device"
	"github.com/go-subscription-core/internal/pkg/id"
	"github.com/go-subscription-core/internal/pkg/token"
)

type UserStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

// SessionStore persists sessions.
//
// Replace ends the user's active session with reason "replaced", inserts s and
// points User.CurrentSessionID at s.Token in one atomic unit. It fails with
// domain.ErrConflict when the stored current session differs from expectedCurrent.
// End deactivates the active session and clears CurrentSessionID; it returns
// the ended session, or nil when none was active.
type SessionStore interface {
	Replace(ctx context.Context, s *domain.Session, expectedCurrent string, now time.Time) error
	End(ctx context.Context, userID, reason string, now time.Time) (*domain.Session, error)
	Touch(ctx context.Context, userID, token, ip string, now time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

type ServiceDeps struct {
	UserRepo    UserStore
	SessionRepo SessionStore
	Events      EventPublisher // optional
	Clock       clock.Clock
	Rand        io.Reader // nil uses crypto/rand
}

type Service interface {
	StartSession(ctx context.Context, userID, loginType string, client domain.ClientInfo) (string, error)
	// ValidateSession fails closed. The last-seen update never affects the result.
	ValidateSession(ctx context.Context, userID, sessionToken, clientIP string) bool
	EndSession(ctx context.Context, userID, reason string) error
}

type service struct {
	users    UserStore
	sessions SessionStore
	events   EventPublisher
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
		sessions: deps.SessionRepo,
		events:   deps.Events,
		clock:    clk,
		rand:     deps.Rand,
	}
}

func (s *service) StartSession(ctx context.Context, userID, loginType string, client domain.ClientInfo) (string, error) {
	tok, err := token.NewSessionToken(s.rand)
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	sess := &domain.Session{
		SessionID:         id.At(now),
		Token:             tok,
		UserID:            userID,
		LoginType:         loginType,
		IPAddress:         client.IP,
		LastSeenIPAddress: client.IP,
		UserAgent:         client.UserAgent,
		DeviceSignature:   device.Fingerprint(client.IP, client.UserAgent),
		DeviceName:        device.Label(client.UserAgent),
		IsActive:          true,
		CreatedAt:         now,
		LastSeenAt:        now,
	}

	previous, err := s.replace(ctx, sess, now)
	if errors.Is(err, domain.ErrConflict) {
		// a concurrent login won the race; the newest write takes over
		previous, err = s.replace(ctx, sess, now)
	}
	if err != nil {
		return "", err
	}

	metrics.SessionsStarted.WithLabelValues(loginType).Inc()
	slog.InfoContext(ctx, "session started",
		"user_id", userID, "session_id", sess.SessionID, "login_type", loginType, "device", sess.DeviceName)
	if previous != "" {
		metrics.SessionsEnded.WithLabelValues(domain.SessionEndReplaced).Inc()
		s.publish(ctx, domain.Event{
			Type:        domain.EventSessionEnded,
			AggregateID: userID,
			Data:        map[string]any{"userId": userID, "reason": domain.SessionEndReplaced, "at": now},
		})
	}
	s.publish(ctx, domain.Event{
		Type:        domain.EventSessionStarted,
		AggregateID: userID,
		Data: map[string]any{
			"userId":    userID,
			"sessionId": sess.SessionID,
			"loginType": loginType,
			"device":    sess.DeviceName,
			"at":        now,
		},
	})
	return tok, nil
}

// replace reads the current session id and swaps in sess conditionally.
// It returns the replaced session token, if any.
func (s *service) replace(ctx context.Context, sess *domain.Session, now time.Time) (string, error) {
	u, err := s.users.Get(ctx, sess.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if err := s.sessions.Replace(ctx, sess, u.CurrentSessionID, now); err != nil {
		return "", err
	}
	return u.CurrentSessionID, nil
}

func (s *service) ValidateSession(ctx context.Context, userID, sessionToken, clientIP string) bool {
	if userID == "" || sessionToken == "" {
		return false
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "session validation: load user failed", "user_id", userID, "error", err)
		}
		metrics.SessionRejections.Inc()
		return false
	}
	if u.CurrentSessionID == "" || subtle.ConstantTimeCompare([]byte(u.CurrentSessionID), []byte(sessionToken)) != 1 {
		metrics.SessionRejections.Inc()
		slog.InfoContext(ctx, "session validation: stale session", "user_id", userID)
		return false
	}
	if err := s.sessions.Touch(ctx, userID, sessionToken, clientIP, s.clock.Now()); err != nil {
		slog.WarnContext(ctx, "session last-seen update failed", "user_id", userID, "error", err)
	}
	return true
}

func (s *service) EndSession(ctx context.Context, userID, reason string) error {
	if reason == "" {
		reason = domain.SessionEndRevoked
	}
	now := s.clock.Now()
	ended, err := s.sessions.End(ctx, userID, reason, now)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if ended == nil {
		return nil
	}
	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	slog.InfoContext(ctx, "session ended", "user_id", userID, "session_id", ended.SessionID, "reason", reason)
	s.publish(ctx, domain.Event{
		Type:        domain.EventSessionEnded,
		AggregateID: userID,
		Data:        map[string]any{"userId": userID, "sessionId": ended.SessionID, "reason": reason, "at": now},
	})
	return nil
}

func (s *service) publish(ctx context.Context, e domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		slog.WarnContext(ctx, "event publish failed", "type", e.Type, "error", err)
	}
}
