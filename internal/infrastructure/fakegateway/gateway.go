// Package fakegateway is an in-process payment gateway for local development.
// Every payment it is asked about is reported as captured.
package fakegateway

import (
	"context"
	"strings"
	"sync"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/pkg/signature"
	"github.com/google/uuid"
)

type Gateway struct {
	secret string

	mu        sync.Mutex
	orders    map[string]domain.Order
	// byPayment remembers which order a captured payment settled.
	byPayment map[string]string
}

func New(secret string) *Gateway {
	return &Gateway{
		secret:    secret,
		orders:    make(map[string]domain.Order),
		byPayment: make(map[string]string),
	}
}

func (g *Gateway) Name() string { return "fake" }

func (g *Gateway) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (*domain.Order, error) {
	o := domain.Order{
		OrderID:     "order_fake_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
	}
	g.mu.Lock()
	g.orders[o.OrderID] = o
	g.mu.Unlock()
	return &o, nil
}

func (g *Gateway) FetchPayment(_ context.Context, paymentID string) (*domain.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := &domain.Payment{PaymentID: paymentID, Status: domain.PaymentStatusCaptured}
	if orderID, ok := g.byPayment[paymentID]; ok {
		o := g.orders[orderID]
		p.OrderID, p.AmountMinor, p.Currency = o.OrderID, o.AmountMinor, o.Currency
	}
	return p, nil
}

func (g *Gateway) CapturePayment(ctx context.Context, paymentID string, _ int64, _ string) (*domain.Payment, error) {
	return g.FetchPayment(ctx, paymentID)
}

func (g *Gateway) VerifySignature(orderID, paymentID, sig string) bool {
	if !signature.Verify(g.secret, orderID, paymentID, sig) {
		return false
	}
	g.mu.Lock()
	if _, ok := g.orders[orderID]; ok {
		g.byPayment[paymentID] = orderID
	}
	g.mu.Unlock()
	return true
}

// Sign returns the signature a client would present for orderID and paymentID.
func (g *Gateway) Sign(orderID, paymentID string) string {
	return signature.Sign(g.secret, orderID, paymentID)
}
