package postgres

import (
	"context"
	"fmt"

	"github.com/go-subscription-core/internal/domain"
	"github.com/jackc/pgx/v5"
)

const challengeColumns = `id, user_id, purpose, code_hash, salt, consumed, attempt_count, created_at, expires_at`

// ChallengeRepo stores OTP challenges. A partial unique index keeps at most
// one unconsumed challenge per (user, purpose).
type ChallengeRepo struct {
	db DBTX
}

func NewChallengeRepo(db DBTX) *ChallengeRepo {
	return &ChallengeRepo{db: db}
}

// Rotate consumes every open challenge for the user and purpose and inserts c.
// The user row lock serializes concurrent rotations.
func (r *ChallengeRepo) Rotate(ctx context.Context, c *domain.OtpChallenge) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, "SELECT id FROM users WHERE id = $1 FOR UPDATE", c.UserID).Scan(&id)
		if err != nil {
			if isNoRows(err) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}
		_, err = tx.Exec(ctx,
			"UPDATE otp_challenges SET consumed = TRUE WHERE user_id = $1 AND purpose = $2 AND NOT consumed",
			c.UserID, c.Purpose,
		)
		if err != nil {
			return fmt.Errorf("consume open challenges: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO otp_challenges (`+challengeColumns+`)
			VALUES ($1, $2, $3, $4, $5, FALSE, 0, $6, $7)`,
			c.ChallengeID, c.UserID, c.Purpose, c.CodeHash, c.Salt, c.CreatedAt, c.ExpiresAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return fmt.Errorf("insert challenge: %w", err)
		}
		return nil
	})
}

// Latest returns the open challenge for (user, purpose), or ErrNotFound.
func (r *ChallengeRepo) Latest(ctx context.Context, userID, purpose string) (*domain.OtpChallenge, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+challengeColumns+` FROM otp_challenges
		WHERE user_id = $1 AND purpose = $2 AND NOT consumed
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		userID, purpose,
	)
	var c domain.OtpChallenge
	err := row.Scan(&c.ChallengeID, &c.UserID, &c.Purpose, &c.CodeHash, &c.Salt,
		&c.Consumed, &c.AttemptCount, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get latest challenge: %w", err)
	}
	return &c, nil
}

// RecordAttempt moves attempt_count from expected to next, optionally
// consuming. It fails with ErrConflict when the row moved underneath.
func (r *ChallengeRepo) RecordAttempt(ctx context.Context, challengeID string, expected, next int, consume bool) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE otp_challenges SET attempt_count = $3, consumed = consumed OR $4
		WHERE id = $1 AND attempt_count = $2 AND NOT consumed`,
		challengeID, expected, next, consume,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *ChallengeRepo) Consume(ctx context.Context, challengeID string) error {
	if _, err := r.db.Exec(ctx, "UPDATE otp_challenges SET consumed = TRUE WHERE id = $1", challengeID); err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	return nil
}
