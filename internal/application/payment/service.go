package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/metrics"
	"github.com/go-subscription-core/internal/pkg/clock"
	"github.com/go-subscription-core/internal/pkg/id"
	"github.com/go-subscription-core/internal/pkg/validate"
	"github.com/google/uuid"
)

// Gateway is the external payment processor.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*domain.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	CapturePayment(ctx context.Context, paymentID string, amountMinor int64, currency string) (*domain.Payment, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

type UserStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	SetPendingOrder(ctx context.Context, userID string, order *domain.Order, plan *domain.PlanSnapshot, at time.Time) error
}

// BillingStore owns plans, plan history and invoices.
//
// ApplyEntitlement commits the whole EntitlementChange or nothing. It returns
// domain.ErrAlreadyApplied when the user already holds change.PaymentID as
// subscription id, and domain.ErrConflict when the user row moved past
// change.ExpectedVersion.
type BillingStore interface {
	GetPlan(ctx context.Context, planID string) (*domain.Plan, error)
	ApplyEntitlement(ctx context.Context, change *domain.EntitlementChange) error
	ListInvoices(ctx context.Context, userID string) ([]domain.Invoice, error)
	GetInvoice(ctx context.Context, userID, invoiceID string) (*domain.Invoice, error)
}

// InvoiceArchive keeps a copy of each rendered invoice.
type InvoiceArchive interface {
	PutInvoice(ctx context.Context, key string, body []byte) error
}

type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

type Settings struct {
	DefaultAmountMinor int64
	Currency           string
	DefaultPlanID      string
	PendingOrderTTL    time.Duration
}

type ServiceDeps struct {
	UserRepo    UserStore
	BillingRepo BillingStore
	Gateway     Gateway
	Archive     InvoiceArchive // optional
	Events      EventPublisher // optional
	Clock       clock.Clock
	Settings    Settings
}

type Service interface {
	CreateOrder(ctx context.Context, userID string, req domain.CreateOrderRequest) (*domain.Order, error)
	VerifyPayment(ctx context.Context, userID string, req domain.VerifyPaymentRequest) error
	ListInvoices(ctx context.Context, userID string) ([]domain.Invoice, error)
	RenderInvoice(ctx context.Context, userID, invoiceID string) (*RenderedInvoice, error)
}

type service struct {
	users    UserStore
	billing  BillingStore
	gateway  Gateway
	archive  InvoiceArchive
	events   EventPublisher
	clock    clock.Clock
	settings Settings
}

func NewService(deps ServiceDeps) Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	st := deps.Settings
	if st.Currency == "" {
		st.Currency = "INR"
	}
	if st.DefaultAmountMinor <= 0 {
		st.DefaultAmountMinor = 49900
	}
	return &service{
		users:    deps.UserRepo,
		billing:  deps.BillingRepo,
		gateway:  deps.Gateway,
		archive:  deps.Archive,
		events:   deps.Events,
		clock:    clk,
		settings: st,
	}
}

func (s *service) CreateOrder(ctx context.Context, userID string, req domain.CreateOrderRequest) (*domain.Order, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	amount := req.AmountInPaise
	if amount <= 0 {
		amount = s.settings.DefaultAmountMinor
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.settings.Currency
	}
	plan := &domain.PlanSnapshot{
		PlanID:      strings.TrimSpace(req.PlanID),
		Name:        strings.TrimSpace(req.PlanName),
		AmountMinor: amount,
		Currency:    currency,
	}
	if plan.PlanID != "" && plan.Name == "" {
		if p, err := s.billing.GetPlan(ctx, plan.PlanID); err == nil {
			plan.Name = p.Name
		}
	}

	now := s.clock.Now()
	if existing := s.reusablePendingOrder(u, plan, now); existing != nil {
		metrics.OrdersCreated.WithLabelValues("reused").Inc()
		slog.InfoContext(ctx, "pending order reused", "user_id", userID, "order_id", existing.OrderID)
		return existing, nil
	}

	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	order, err := s.gateway.CreateOrder(ctx, amount, currency, receipt)
	if err != nil {
		metrics.OrdersCreated.WithLabelValues("failed").Inc()
		slog.ErrorContext(ctx, "gateway order failed", "user_id", userID, "gateway", s.gateway.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayFailure, err)
	}
	if order.Receipt == "" {
		order.Receipt = receipt
	}
	if err := s.users.SetPendingOrder(ctx, userID, order, plan, now); err != nil {
		return nil, fmt.Errorf("record pending order: %w", err)
	}
	metrics.OrdersCreated.WithLabelValues("opened").Inc()
	slog.InfoContext(ctx, "order created",
		"user_id", userID, "order_id", order.OrderID, "amount", order.AmountMinor, "currency", order.Currency)
	return order, nil
}

// reusablePendingOrder returns the stored order when it is still fresh and was
// opened for the same plan, amount and currency.
func (s *service) reusablePendingOrder(u *domain.User, plan *domain.PlanSnapshot, now time.Time) *domain.Order {
	if s.settings.PendingOrderTTL <= 0 || u.PendingOrderID == "" || u.PendingOrderCreatedAt == nil || u.PendingPlan == nil {
		return nil
	}
	if now.Sub(*u.PendingOrderCreatedAt) >= s.settings.PendingOrderTTL {
		return nil
	}
	p := u.PendingPlan
	if p.PlanID != plan.PlanID || p.AmountMinor != plan.AmountMinor || !strings.EqualFold(p.Currency, plan.Currency) {
		return nil
	}
	return &domain.Order{
		OrderID:     u.PendingOrderID,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		Receipt:     u.PendingOrderReceipt,
	}
}

func (s *service) VerifyPayment(ctx context.Context, userID string, req domain.VerifyPaymentRequest) error {
	err := s.verifyPayment(ctx, userID, req)
	metrics.PaymentVerifications.WithLabelValues(verifyOutcome(err)).Inc()
	if err != nil {
		slog.WarnContext(ctx, "payment verification failed", "user_id", userID, "payment_id", req.PaymentID, "error", err)
	}
	return err
}

func (s *service) verifyPayment(ctx context.Context, userID string, req domain.VerifyPaymentRequest) error {
	paymentID := clean(req.PaymentID)
	if paymentID == "" {
		return domain.ErrMissingParameters
	}
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if alreadyApplied(u, paymentID) {
		slog.InfoContext(ctx, "payment already applied", "user_id", userID, "payment_id", paymentID)
		return nil
	}

	orderID := clean(req.OrderID)
	if orderID == "" {
		orderID = u.PendingOrderID
	}
	signature := clean(req.Signature)

	if orderID != "" && signature != "" {
		if !s.gateway.VerifySignature(orderID, paymentID, signature) {
			return domain.ErrInvalidSignature
		}
	} else {
		if err := s.confirmWithGateway(ctx, u, paymentID, &orderID); err != nil {
			return err
		}
	}

	return s.applyEntitlement(ctx, userID, paymentID, orderID)
}

// confirmWithGateway requires the payment to end up captured, capturing an
// authorized payment first. orderID is reconciled against the gateway's view.
func (s *service) confirmWithGateway(ctx context.Context, u *domain.User, paymentID string, orderID *string) error {
	p, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("%w: fetch payment: %v", domain.ErrPaymentIncomplete, err)
	}
	if p.Status == domain.PaymentStatusAuthorized {
		amount, currency := p.AmountMinor, p.Currency
		if amount <= 0 && u.PendingPlan != nil {
			amount, currency = u.PendingPlan.AmountMinor, u.PendingPlan.Currency
		}
		p, err = s.gateway.CapturePayment(ctx, paymentID, amount, currency)
		if err != nil {
			return fmt.Errorf("%w: capture payment: %v", domain.ErrPaymentIncomplete, err)
		}
	}
	if p.Status != domain.PaymentStatusCaptured {
		return fmt.Errorf("%w: payment status is %q", domain.ErrPaymentIncomplete, p.Status)
	}

	switch {
	case p.OrderID == "" || p.OrderID == *orderID:
	case *orderID == "":
		*orderID = p.OrderID
	case u.PendingOrderID != "":
		slog.WarnContext(ctx, "gateway order differs from request, keeping pending order",
			"user_id", u.UserID, "gateway_order_id", p.OrderID, "pending_order_id", u.PendingOrderID)
		*orderID = u.PendingOrderID
	default:
		return fmt.Errorf("%w: gateway reports order %s", domain.ErrOrderMismatch, p.OrderID)
	}
	return nil
}

// applyEntitlement re-reads the user so a lost optimistic-lock race is retried
// once against fresh state.
func (s *service) applyEntitlement(ctx context.Context, userID, paymentID, orderID string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var u *domain.User
		u, err = s.loadUser(ctx, userID)
		if err != nil {
			return err
		}
		if alreadyApplied(u, paymentID) {
			return nil
		}
		var change *domain.EntitlementChange
		change, err = s.buildChange(ctx, u, paymentID)
		if err != nil {
			return err
		}
		err = s.billing.ApplyEntitlement(ctx, change)
		switch {
		case err == nil:
			s.afterCommit(ctx, u, change, orderID)
			return nil
		case errors.Is(err, domain.ErrAlreadyApplied):
			return nil
		case !errors.Is(err, domain.ErrConflict):
			return fmt.Errorf("apply entitlement: %w", err)
		}
	}
	return fmt.Errorf("apply entitlement: %w", err)
}

func (s *service) buildChange(ctx context.Context, u *domain.User, paymentID string) (*domain.EntitlementChange, error) {
	plan, err := s.resolvePlan(ctx, u)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	historyID := id.At(now)
	invoiceID := id.At(now)
	return &domain.EntitlementChange{
		UserID:            u.UserID,
		ExpectedVersion:   u.Version,
		PaymentID:         paymentID,
		Plan:              plan,
		PreviousHistoryID: u.ActivePlanHistoryID,
		NewHistory: domain.PlanHistory{
			HistoryID:    historyID,
			UserID:       u.UserID,
			PlanID:       plan.PlanID,
			Status:       domain.PlanStatusActive,
			AmountMinor:  plan.AmountMinor,
			Currency:     plan.Currency,
			SubscribedAt: now,
			Notes:        "payment " + paymentID,
		},
		Invoice: domain.Invoice{
			InvoiceID:     invoiceID,
			InvoiceNumber: InvoiceNumber(now, invoiceID),
			UserID:        u.UserID,
			PlanID:        plan.PlanID,
			PlanName:      plan.Name,
			AmountMinor:   plan.AmountMinor,
			Currency:      plan.Currency,
			PaymentID:     paymentID,
			IssuedAt:      now,
		},
		At: now,
	}, nil
}

// resolvePlan picks the plan to credit: the pending snapshot, then the active
// snapshot, then the catalog, then configured defaults.
func (s *service) resolvePlan(ctx context.Context, u *domain.User) (domain.PlanSnapshot, error) {
	var out domain.PlanSnapshot
	for _, snap := range []*domain.PlanSnapshot{u.PendingPlan, u.ActivePlan} {
		if snap == nil {
			continue
		}
		if out.PlanID == "" {
			out.PlanID = snap.PlanID
		}
		if out.Name == "" && snap.PlanID == out.PlanID {
			out.Name = snap.Name
		}
		if out.AmountMinor <= 0 && snap.AmountMinor > 0 {
			out.AmountMinor, out.Currency = snap.AmountMinor, snap.Currency
		}
	}

	if out.PlanID == "" {
		out.PlanID = s.settings.DefaultPlanID
	}
	if out.PlanID != "" && (out.Name == "" || out.AmountMinor <= 0) {
		p, err := s.billing.GetPlan(ctx, out.PlanID)
		switch {
		case err == nil:
			if out.Name == "" {
				out.Name = p.Name
			}
			if out.AmountMinor <= 0 && p.PriceMinor > 0 {
				out.AmountMinor, out.Currency = p.PriceMinor, p.Currency
			}
		case errors.Is(err, domain.ErrNotFound):
			if out.PlanID == s.settings.DefaultPlanID && u.PendingPlan == nil && u.ActivePlan == nil {
				return out, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, out.PlanID)
			}
		default:
			return out, fmt.Errorf("load plan: %w", err)
		}
	}

	if out.AmountMinor <= 0 {
		out.AmountMinor = s.settings.DefaultAmountMinor
	}
	if out.Currency == "" {
		out.Currency = s.settings.Currency
	}
	return out, nil
}

func (s *service) afterCommit(ctx context.Context, u *domain.User, change *domain.EntitlementChange, orderID string) {
	slog.InfoContext(ctx, "subscription activated",
		"user_id", u.UserID, "payment_id", change.PaymentID, "order_id", orderID,
		"plan_id", change.Plan.PlanID, "invoice", change.Invoice.InvoiceNumber)

	if s.archive != nil {
		body := renderInvoice(&change.Invoice, u)
		if err := s.archive.PutInvoice(ctx, archiveKey(&change.Invoice), body); err != nil {
			slog.WarnContext(ctx, "invoice archive failed", "invoice", change.Invoice.InvoiceNumber, "error", err)
		}
	}
	if s.events != nil {
		e := domain.Event{
			Type:        domain.EventSubscriptionActivated,
			AggregateID: u.UserID,
			Data: map[string]any{
				"userId":        u.UserID,
				"paymentId":     change.PaymentID,
				"orderId":       orderID,
				"planId":        change.Plan.PlanID,
				"amount":        change.Plan.Amount(),
				"currency":      change.Plan.Currency,
				"invoiceNumber": change.Invoice.InvoiceNumber,
				"at":            change.At,
			},
		}
		if err := s.events.Publish(ctx, e); err != nil {
			slog.WarnContext(ctx, "event publish failed", "type", e.Type, "error", err)
		}
	}
}

func (s *service) ListInvoices(ctx context.Context, userID string) ([]domain.Invoice, error) {
	return s.billing.ListInvoices(ctx, userID)
}

func (s *service) loadUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func alreadyApplied(u *domain.User, paymentID string) bool {
	return u.IsSubscribed && u.SubscriptionID == paymentID
}

// clean trims v and treats the literal strings "null" and "undefined" sent by
// browser clients as empty.
func clean(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "null") || strings.EqualFold(v, "undefined") {
		return ""
	}
	return v
}

func verifyOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrMissingParameters):
		return "missing_parameters"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domain.ErrPaymentIncomplete):
		return "incomplete"
	case errors.Is(err, domain.ErrOrderMismatch):
		return "order_mismatch"
	default:
		return "error"
	}
}
