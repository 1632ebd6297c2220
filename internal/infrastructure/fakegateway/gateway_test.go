package fakegateway

import (
	"context"
	"testing"

	"github.com/go-subscription-core/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeGateway_RoundTrip(t *testing.T) {
	g := New("dev-secret")
	ctx := context.Background()

	order, err := g.CreateOrder(ctx, 49900, "INR", "rcpt_1")
	require.NoError(t, err)
	assert.Regexp(t, `^order_fake_[0-9a-f]{14}$`, order.OrderID)

	sig := g.Sign(order.OrderID, "pay_1")
	assert.True(t, g.VerifySignature(order.OrderID, "pay_1", sig))
	assert.False(t, g.VerifySignature(order.OrderID, "pay_1", "deadbeef"))

	p, err := g.FetchPayment(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCaptured, p.Status)
	assert.Equal(t, order.OrderID, p.OrderID)
	assert.Equal(t, int64(49900), p.AmountMinor)
}

func TestFakeGateway_UnknownPaymentIsCapturedWithoutOrder(t *testing.T) {
	g := New("dev-secret")

	p, err := g.CapturePayment(context.Background(), "pay_x", 100, "INR")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCaptured, p.Status)
	assert.Empty(t, p.OrderID)
}
