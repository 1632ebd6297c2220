package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ResetTokenRepo stores password reset tokens.
type ResetTokenRepo struct {
	db DBTX
}

func NewResetTokenRepo(db DBTX) *ResetTokenRepo {
	return &ResetTokenRepo{db: db}
}

func (r *ResetTokenRepo) Create(ctx context.Context, t *domain.PasswordResetToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, token_salt, created_by, reason, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.TokenID, t.UserID, t.TokenHash, t.TokenSalt, t.CreatedBy, t.Reason, t.CreatedAt, t.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert reset token: %w", err)
	}
	return nil
}

func (r *ResetTokenRepo) Get(ctx context.Context, tokenID string) (*domain.PasswordResetToken, error) {
	var t domain.PasswordResetToken
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, token_salt, created_by, reason, created_at, expires_at, consumed_at
		FROM password_reset_tokens WHERE id = $1`, tokenID,
	).Scan(&t.TokenID, &t.UserID, &t.TokenHash, &t.TokenSalt, &t.CreatedBy, &t.Reason,
		&t.CreatedAt, &t.ExpiresAt, &t.ConsumedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get reset token: %w", err)
	}
	return &t, nil
}

// Redeem consumes the token, replaces the password hash and ends the active
// session in one transaction. It returns the ended session id, if any.
func (r *ResetTokenRepo) Redeem(ctx context.Context, t *domain.PasswordResetToken, passwordHash string, now time.Time) (string, error) {
	var endedID string
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			"UPDATE password_reset_tokens SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL",
			t.TokenID, now,
		)
		if err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return domain.ErrResetTokenInvalid
		}

		current, err := lockCurrentSession(ctx, tx, t.UserID)
		if err != nil {
			return err
		}
		if current != "" {
			ended, err := endSession(ctx, tx, current, domain.SessionEndPasswordReset, now)
			if err != nil {
				return err
			}
			if ended != nil {
				endedID = ended.SessionID
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE users SET password_hash = $2, current_session_id = '', version = version + 1, updated_at = $3
			WHERE id = $1`,
			t.UserID, passwordHash, now,
		)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return endedID, nil
}
