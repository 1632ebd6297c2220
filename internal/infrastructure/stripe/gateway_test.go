package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/pkg/signature"
	stripego "github.com/stripe/stripe-go/v75"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIntents struct{ mock.Mock }

func (m *mockIntents) New(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error) {
	args := m.Called(params)
	pi, _ := args.Get(0).(*stripego.PaymentIntent)
	return pi, args.Error(1)
}

func (m *mockIntents) Get(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error) {
	args := m.Called(id, params)
	pi, _ := args.Get(0).(*stripego.PaymentIntent)
	return pi, args.Error(1)
}

func (m *mockIntents) Capture(id string, params *stripego.PaymentIntentCaptureParams) (*stripego.PaymentIntent, error) {
	args := m.Called(id, params)
	pi, _ := args.Get(0).(*stripego.PaymentIntent)
	return pi, args.Error(1)
}

func TestCreateOrder_ManualCaptureIntent(t *testing.T) {
	m := &mockIntents{}
	g := &Gateway{intents: m}

	m.On("New", mock.MatchedBy(func(p *stripego.PaymentIntentParams) bool {
		return *p.Amount == 49900 && *p.Currency == "inr" &&
			*p.CaptureMethod == "manual" && p.Metadata["receipt"] == "rcpt_1"
	})).Return(&stripego.PaymentIntent{ID: "pi_1", Amount: 49900, Currency: "inr"}, nil)

	order, err := g.CreateOrder(context.Background(), 49900, "INR", "rcpt_1")
	require.NoError(t, err)
	assert.Equal(t, &domain.Order{OrderID: "pi_1", AmountMinor: 49900, Currency: "INR", Receipt: "rcpt_1"}, order)
	m.AssertExpectations(t)
}

func TestFetchPayment_MapsStatus(t *testing.T) {
	cases := map[stripego.PaymentIntentStatus]string{
		stripego.PaymentIntentStatusRequiresCapture:       domain.PaymentStatusAuthorized,
		stripego.PaymentIntentStatusSucceeded:             domain.PaymentStatusCaptured,
		stripego.PaymentIntentStatusRequiresPaymentMethod: "requires_payment_method",
		stripego.PaymentIntentStatusCanceled:              "canceled",
	}
	for in, want := range cases {
		m := &mockIntents{}
		g := &Gateway{intents: m}
		m.On("Get", "pi_1", mock.Anything).Return(&stripego.PaymentIntent{ID: "pi_1", Status: in, Amount: 100, Currency: "usd"}, nil)

		p, err := g.FetchPayment(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, want, p.Status, string(in))
		assert.Equal(t, "pi_1", p.OrderID)
		assert.Equal(t, "USD", p.Currency)
	}
}

func TestCapturePayment(t *testing.T) {
	m := &mockIntents{}
	g := &Gateway{intents: m}
	m.On("Capture", "pi_1", mock.MatchedBy(func(p *stripego.PaymentIntentCaptureParams) bool {
		return p.AmountToCapture != nil && *p.AmountToCapture == 49900
	})).Return(&stripego.PaymentIntent{ID: "pi_1", Status: stripego.PaymentIntentStatusSucceeded, Amount: 49900}, nil)

	p, err := g.CapturePayment(context.Background(), "pi_1", 49900, "INR")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCaptured, p.Status)
	m.AssertExpectations(t)
}

func TestGatewayErrorsAreWrapped(t *testing.T) {
	m := &mockIntents{}
	g := &Gateway{intents: m}
	apiErr := &stripego.Error{Code: stripego.ErrorCodeResourceMissing, Msg: "No such payment_intent"}
	m.On("Get", "pi_x", mock.Anything).Return(nil, apiErr)

	_, err := g.FetchPayment(context.Background(), "pi_x")
	var se *stripego.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, stripego.ErrorCodeResourceMissing, se.Code)
}

func TestVerifySignature(t *testing.T) {
	g := New("sk_test_123", "whsec_local")
	sig := signature.Sign("whsec_local", "pi_1", "pi_1")

	assert.True(t, g.VerifySignature("pi_1", "pi_1", sig))
	assert.False(t, g.VerifySignature("pi_1", "pi_2", sig))
	assert.Equal(t, "stripe", g.Name())
}
