// Package stripe adapts Stripe PaymentIntents to the payment gateway
// contract. An order is a manual-capture PaymentIntent; its id doubles as the
// payment id.
package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/pkg/signature"
	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
)

// intents is the slice of the PaymentIntents API the gateway uses.
type intents interface {
	New(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Get(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Capture(id string, params *stripego.PaymentIntentCaptureParams) (*stripego.PaymentIntent, error)
}

type Gateway struct {
	intents    intents
	signingKey string
}

// New builds a gateway on a dedicated API client rather than the package-level
// stripe.Key.
func New(secretKey, signingKey string) *Gateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &Gateway{intents: sc.PaymentIntents, signingKey: signingKey}
}

func (g *Gateway) Name() string { return "stripe" }

func (g *Gateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*domain.Order, error) {
	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(amountMinor),
		Currency:      stripego.String(strings.ToLower(currency)),
		CaptureMethod: stripego.String(string(stripego.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.AddMetadata("receipt", receipt)

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &domain.Order{
		OrderID:     pi.ID,
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
		Receipt:     receipt,
	}, nil
}

func (g *Gateway) FetchPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.intents.Get(paymentID, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent: %w", err)
	}
	return toPayment(pi), nil
}

func (g *Gateway) CapturePayment(ctx context.Context, paymentID string, amountMinor int64, _ string) (*domain.Payment, error) {
	params := &stripego.PaymentIntentCaptureParams{}
	params.Context = ctx
	if amountMinor > 0 {
		params.AmountToCapture = stripego.Int64(amountMinor)
	}
	pi, err := g.intents.Capture(paymentID, params)
	if err != nil {
		return nil, fmt.Errorf("capture payment intent: %w", err)
	}
	return toPayment(pi), nil
}

func (g *Gateway) VerifySignature(orderID, paymentID, sig string) bool {
	return signature.Verify(g.signingKey, orderID, paymentID, sig)
}

func toPayment(pi *stripego.PaymentIntent) *domain.Payment {
	return &domain.Payment{
		PaymentID:   pi.ID,
		OrderID:     pi.ID,
		Status:      status(pi.Status),
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
	}
}

// status maps intent states onto the authorized/captured vocabulary.
func status(s stripego.PaymentIntentStatus) string {
	switch s {
	case stripego.PaymentIntentStatusRequiresCapture:
		return domain.PaymentStatusAuthorized
	case stripego.PaymentIntentStatusSucceeded:
		return domain.PaymentStatusCaptured
	default:
		return string(s)
	}
}
