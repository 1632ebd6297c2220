package postgres

import (
	"context"
	"fmt"

	"github.com/go-subscription-core/internal/domain"
	"github.com/jackc/pgx/v5"
)

const invoiceColumns = `id, invoice_number, user_id, plan_id, plan_name, amount_minor, currency, payment_id, issued_at`

// BillingRepo covers plans, plan history and invoices.
type BillingRepo struct {
	db DBTX
}

func NewBillingRepo(db DBTX) *BillingRepo {
	return &BillingRepo{db: db}
}

func (r *BillingRepo) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	var p domain.Plan
	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, price_minor, currency, billing_interval, is_active, created_at
		FROM plans WHERE id = $1`, planID,
	).Scan(&p.PlanID, &p.Name, &p.Description, &p.PriceMinor, &p.Currency, &p.BillingInterval, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &p, nil
}

// PutPlan upserts a catalog entry.
func (r *BillingRepo) PutPlan(ctx context.Context, p *domain.Plan) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO plans (id, name, description, price_minor, currency, billing_interval, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price_minor = EXCLUDED.price_minor,
			currency = EXCLUDED.currency,
			billing_interval = EXCLUDED.billing_interval,
			is_active = EXCLUDED.is_active`,
		p.PlanID, p.Name, p.Description, p.PriceMinor, p.Currency, p.BillingInterval, p.IsActive, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

// ApplyEntitlement closes the active history row, opens the new one, writes
// the invoice and refreshes the user snapshot under the user row lock.
func (r *BillingRepo) ApplyEntitlement(ctx context.Context, c *domain.EntitlementChange) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		var (
			version        int64
			subscribed     bool
			subscriptionID string
		)
		err := tx.QueryRow(ctx,
			"SELECT version, is_subscribed, subscription_id FROM users WHERE id = $1 FOR UPDATE", c.UserID,
		).Scan(&version, &subscribed, &subscriptionID)
		if err != nil {
			if isNoRows(err) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}
		if subscribed && subscriptionID == c.PaymentID {
			return domain.ErrAlreadyApplied
		}
		if version != c.ExpectedVersion {
			return domain.ErrConflict
		}

		_, err = tx.Exec(ctx, `
			UPDATE user_plan_history SET status = $2, cancelled_at = $3
			WHERE user_id = $1 AND status = $4`,
			c.UserID, domain.PlanStatusEnded, c.At, domain.PlanStatusActive,
		)
		if err != nil {
			return fmt.Errorf("close plan history: %w", err)
		}

		h := c.NewHistory
		_, err = tx.Exec(ctx, `
			INSERT INTO user_plan_history (id, user_id, plan_id, status, amount_minor, currency, subscribed_at, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			h.HistoryID, h.UserID, h.PlanID, h.Status, h.AmountMinor, h.Currency, h.SubscribedAt, h.Notes,
		)
		if err != nil {
			return fmt.Errorf("insert plan history: %w", err)
		}

		inv := c.Invoice
		_, err = tx.Exec(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			inv.InvoiceID, inv.InvoiceNumber, inv.UserID, inv.PlanID, inv.PlanName,
			inv.AmountMinor, inv.Currency, inv.PaymentID, inv.IssuedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return fmt.Errorf("insert invoice: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE users SET
				is_subscribed = TRUE,
				subscription_id = $2,
				is_registration_complete = TRUE,
				payment_verified_at = $3,
				active_plan_id = $4,
				active_plan_name = $5,
				active_plan_amount = $6,
				active_plan_currency = $7,
				active_plan_history_id = $8,
				pending_order_id = '',
				pending_order_receipt = '',
				pending_order_created_at = NULL,
				pending_plan_id = '',
				pending_plan_name = '',
				pending_plan_amount = 0,
				pending_plan_currency = '',
				version = version + 1,
				updated_at = $3
			WHERE id = $1`,
			c.UserID, c.PaymentID, c.At,
			c.Plan.PlanID, c.Plan.Name, c.Plan.AmountMinor, c.Plan.Currency, h.HistoryID,
		)
		if err != nil {
			return fmt.Errorf("update user entitlement: %w", err)
		}
		return nil
	})
}

// ListInvoices returns the user's invoices, newest first.
func (r *BillingRepo) ListInvoices(ctx context.Context, userID string) ([]domain.Invoice, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE user_id = $1
		ORDER BY issued_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	invoices := []domain.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return invoices, nil
}

func (r *BillingRepo) GetInvoice(ctx context.Context, userID, invoiceID string) (*domain.Invoice, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = $1 AND user_id = $2", invoiceID, userID)
	inv, err := scanInvoice(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(&inv.InvoiceID, &inv.InvoiceNumber, &inv.UserID, &inv.PlanID, &inv.PlanName,
		&inv.AmountMinor, &inv.Currency, &inv.PaymentID, &inv.IssuedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
