package domain

import (
	"time"

	"github.com/go-subscription-core/internal/pkg/money"
)

// Plan history statuses.
const (
	PlanStatusActive = "active"
	PlanStatusEnded  = "ended"
)

// Gateway payment statuses the engine cares about.
const (
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
)

// Plan is the canonical catalog entry. Amounts are in minor units.
type Plan struct {
	PlanID          string    `json:"id" dynamodbav:"plan_id"`
	Name            string    `json:"name" dynamodbav:"name"`
	Description     string    `json:"description,omitempty" dynamodbav:"description,omitempty"`
	PriceMinor      int64     `json:"-" dynamodbav:"price_minor"`
	Currency        string    `json:"currency" dynamodbav:"currency"`
	BillingInterval string    `json:"billingInterval" dynamodbav:"billing_interval"`
	IsActive        bool      `json:"isActive" dynamodbav:"is_active"`
	CreatedAt       time.Time `json:"created" dynamodbav:"created_at"`
}

// PlanSnapshot is the denormalized plan copy held on the user row.
type PlanSnapshot struct {
	PlanID      string `json:"id" dynamodbav:"plan_id"`
	Name        string `json:"name" dynamodbav:"name"`
	AmountMinor int64  `json:"-" dynamodbav:"amount_minor"`
	Currency    string `json:"currency" dynamodbav:"currency"`
}

// Amount returns the snapshot amount in major units.
func (p *PlanSnapshot) Amount() float64 {
	return money.Major(p.AmountMinor)
}

// PlanHistory is the append-only ledger row; at most one per user is active.
type PlanHistory struct {
	HistoryID    string     `json:"id" dynamodbav:"history_id"`
	UserID       string     `json:"user_id" dynamodbav:"user_id"`
	PlanID       string     `json:"plan_id" dynamodbav:"plan_id"`
	Status       string     `json:"status" dynamodbav:"status"`
	AmountMinor  int64      `json:"-" dynamodbav:"amount_minor"`
	Currency     string     `json:"currency" dynamodbav:"currency"`
	SubscribedAt time.Time  `json:"subscribed_at" dynamodbav:"subscribed_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty" dynamodbav:"cancelled_at,omitempty"`
	Notes        string     `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
}

// Invoice is immutable once written.
type Invoice struct {
	InvoiceID     string    `json:"id" dynamodbav:"invoice_id"`
	InvoiceNumber string    `json:"invoiceNumber" dynamodbav:"invoice_number"`
	UserID        string    `json:"-" dynamodbav:"user_id"`
	PlanID        string    `json:"planId,omitempty" dynamodbav:"plan_id,omitempty"`
	PlanName      string    `json:"planName,omitempty" dynamodbav:"plan_name,omitempty"`
	AmountMinor   int64     `json:"-" dynamodbav:"amount_minor"`
	Currency      string    `json:"currency" dynamodbav:"currency"`
	PaymentID     string    `json:"paymentId" dynamodbav:"payment_id"`
	IssuedAt      time.Time `json:"issuedAt" dynamodbav:"issued_at"`
}

// Amount returns the invoice amount in major units.
func (i *Invoice) Amount() float64 {
	return money.Major(i.AmountMinor)
}

// Order is a gateway order opened for a purchase.
type Order struct {
	OrderID     string `json:"orderId"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
}

// Payment is the gateway's view of a payment.
type Payment struct {
	PaymentID   string
	OrderID     string
	Status      string
	AmountMinor int64
	Currency    string
}

// CreateOrderRequest opens a purchase for the current user.
type CreateOrderRequest struct {
	AmountInPaise int64  `json:"amountInPaise" validate:"gte=0"`
	PlanID        string `json:"planId" validate:"max=50"`
	PlanName      string `json:"planName" validate:"max=100"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
}

// VerifyPaymentRequest confirms a completed payment.
type VerifyPaymentRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

// EntitlementChange is everything the store must apply in one atomic unit
// when a payment is verified.
type EntitlementChange struct {
	UserID          string
	ExpectedVersion int64
	PaymentID       string
	Plan            PlanSnapshot
	// PreviousHistoryID is the active history row the caller observed, if any.
	PreviousHistoryID string
	NewHistory        PlanHistory
	Invoice           Invoice
	At                time.Time
}
