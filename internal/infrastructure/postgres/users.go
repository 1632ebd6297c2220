package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, name, email, phone, password_hash,
	government_id_type, government_id_number, government_document_url,
	kyc_verified, is_admin, is_registration_complete, is_subscribed, subscription_id,
	current_session_id, pending_order_id, pending_order_receipt, pending_order_created_at,
	pending_plan_id, pending_plan_name, pending_plan_amount, pending_plan_currency,
	active_plan_id, active_plan_name, active_plan_amount, active_plan_currency,
	active_plan_history_id, payment_verified_at, terms_accepted_at, version, created_at, updated_at`

// UserRepo implements the user stores on PostgreSQL.
type UserRepo struct {
	db DBTX
}

func NewUserRepo(db DBTX) *UserRepo {
	return &UserRepo{db: db}
}

// Create inserts the user. A duplicate email or phone is ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, name, email, phone, password_hash,
			government_id_type, government_id_number, government_document_url,
			kyc_verified, is_admin, is_registration_complete, is_subscribed,
			terms_accepted_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		u.UserID, u.Name, u.Email, u.Phone, u.PasswordHash,
		u.GovernmentIDType, u.GovernmentIDNumber, u.GovernmentDocumentURL,
		u.KYCVerified, u.IsAdmin, u.IsRegistrationComplete, u.IsSubscribed,
		u.TermsAcceptedAt, u.Version, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	return getUserBy(ctx, r.db, "id", userID)
}

func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return getUserBy(ctx, r.db, "phone", phone)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return getUserBy(ctx, r.db, "email", email)
}

// SetPendingOrder records the opened order and the plan it was opened for.
func (r *UserRepo) SetPendingOrder(ctx context.Context, userID string, order *domain.Order, plan *domain.PlanSnapshot, at time.Time) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE users SET
			pending_order_id = $2,
			pending_order_receipt = $3,
			pending_order_created_at = $4,
			pending_plan_id = $5,
			pending_plan_name = $6,
			pending_plan_amount = $7,
			pending_plan_currency = $8,
			version = version + 1,
			updated_at = $4
		WHERE id = $1`,
		userID, order.OrderID, order.Receipt, at,
		plan.PlanID, plan.Name, plan.AmountMinor, plan.Currency,
	)
	if err != nil {
		return fmt.Errorf("set pending order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Ping checks the database is reachable.
func (r *UserRepo) Ping(ctx context.Context) error {
	_, err := r.db.Exec(ctx, "SELECT 1")
	return err
}

// getUserBy loads one user by a unique column. column is never caller input.
func getUserBy(ctx context.Context, q DBTX, column, value string) (*domain.User, error) {
	row := q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = $1", value)
	u, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u       domain.User
		pending domain.PlanSnapshot
		active  domain.PlanSnapshot
	)
	err := row.Scan(
		&u.UserID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash,
		&u.GovernmentIDType, &u.GovernmentIDNumber, &u.GovernmentDocumentURL,
		&u.KYCVerified, &u.IsAdmin, &u.IsRegistrationComplete, &u.IsSubscribed, &u.SubscriptionID,
		&u.CurrentSessionID, &u.PendingOrderID, &u.PendingOrderReceipt, &u.PendingOrderCreatedAt,
		&pending.PlanID, &pending.Name, &pending.AmountMinor, &pending.Currency,
		&active.PlanID, &active.Name, &active.AmountMinor, &active.Currency,
		&u.ActivePlanHistoryID, &u.PaymentVerifiedAt, &u.TermsAcceptedAt, &u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	// Snapshots live in flat columns; they exist while their order or
	// history row does.
	if u.PendingOrderID != "" {
		u.PendingPlan = &pending
	}
	if u.ActivePlanHistoryID != "" {
		u.ActivePlan = &active
	}
	return &u, nil
}
