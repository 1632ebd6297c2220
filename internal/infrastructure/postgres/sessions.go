package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `session_id, token, user_id, login_type, ip_address, last_seen_ip_address,
	user_agent, device_signature, device_name, is_active, terminated_by, created_at, last_seen_at, ended_at`

// SessionRepo keeps user_sessions and users.current_session_id in step.
// Every mutation locks the user row first.
type SessionRepo struct {
	db DBTX
}

func NewSessionRepo(db DBTX) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Replace(ctx context.Context, s *domain.Session, expectedCurrent string, now time.Time) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		current, err := lockCurrentSession(ctx, tx, s.UserID)
		if err != nil {
			return err
		}
		if current != expectedCurrent {
			return domain.ErrConflict
		}
		if current != "" {
			if _, err := endSession(ctx, tx, current, domain.SessionEndReplaced, now); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO user_sessions (session_id, token, user_id, login_type, ip_address, last_seen_ip_address,
				user_agent, device_signature, device_name, is_active, created_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $11)`,
			s.SessionID, s.Token, s.UserID, s.LoginType, s.IPAddress, s.LastSeenIPAddress,
			s.UserAgent, s.DeviceSignature, s.DeviceName, s.CreatedAt, s.LastSeenAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return fmt.Errorf("insert session: %w", err)
		}
		return setCurrentSession(ctx, tx, s.UserID, s.Token, now)
	})
}

func (r *SessionRepo) End(ctx context.Context, userID, reason string, now time.Time) (*domain.Session, error) {
	var ended *domain.Session
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		current, err := lockCurrentSession(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current == "" {
			return nil
		}
		if ended, err = endSession(ctx, tx, current, reason, now); err != nil {
			return err
		}
		return setCurrentSession(ctx, tx, userID, "", now)
	})
	if err != nil {
		return nil, err
	}
	return ended, nil
}

func (r *SessionRepo) Touch(ctx context.Context, userID, token, ip string, now time.Time) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE user_sessions SET last_seen_at = $3, last_seen_ip_address = $4
		WHERE token = $2 AND user_id = $1 AND is_active`,
		userID, token, now, ip,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// lockCurrentSession reads users.current_session_id under FOR UPDATE.
func lockCurrentSession(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	var current string
	err := tx.QueryRow(ctx, "SELECT current_session_id FROM users WHERE id = $1 FOR UPDATE", userID).Scan(&current)
	if err != nil {
		if isNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("lock user: %w", err)
	}
	return current, nil
}

// endSession deactivates the session behind token. It returns nil when the
// row is already inactive or missing.
func endSession(ctx context.Context, tx pgx.Tx, token, reason string, now time.Time) (*domain.Session, error) {
	row := tx.QueryRow(ctx, `
		UPDATE user_sessions SET is_active = FALSE, terminated_by = $2, ended_at = $3
		WHERE token = $1 AND is_active
		RETURNING `+sessionColumns,
		token, reason, now,
	)
	s, err := scanSession(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("end session: %w", err)
	}
	return s, nil
}

func setCurrentSession(ctx context.Context, tx pgx.Tx, userID, token string, now time.Time) error {
	_, err := tx.Exec(ctx,
		"UPDATE users SET current_session_id = $2, version = version + 1, updated_at = $3 WHERE id = $1",
		userID, token, now,
	)
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.SessionID, &s.Token, &s.UserID, &s.LoginType, &s.IPAddress, &s.LastSeenIPAddress,
		&s.UserAgent, &s.DeviceSignature, &s.DeviceName, &s.IsActive, &s.TerminatedBy,
		&s.CreatedAt, &s.LastSeenAt, &s.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
