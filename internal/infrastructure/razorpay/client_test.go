package razorpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		KeyID:              "rzp_test_key",
		KeySecret:          "rzp_test_secret",
		BaseURL:            srv.URL + "/v1/",
		Timeout:            2 * time.Second,
		BreakerMinRequests: 2,
		BreakerOpenTimeout: time.Minute,
	})
}

func TestCreateOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_test_secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(49900), body["amount"])
		assert.Equal(t, "INR", body["currency"])
		assert.Equal(t, "rcpt_1", body["receipt"])
		assert.Equal(t, float64(1), body["payment_capture"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_Abc","entity":"order","amount":49900,"currency":"INR","receipt":"rcpt_1","status":"created"}`))
	})

	order, err := c.CreateOrder(context.Background(), 49900, "INR", "rcpt_1")
	require.NoError(t, err)
	assert.Equal(t, &domain.Order{OrderID: "order_Abc", AmountMinor: 49900, Currency: "INR", Receipt: "rcpt_1"}, order)
}

func TestFetchPayment_LooseTypes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pay_1","status":"Authorized","amount":49900,"currency":"INR","order_id":null}`))
	})

	p, err := c.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusAuthorized, p.Status)
	assert.Empty(t, p.OrderID)
	assert.Equal(t, int64(49900), p.AmountMinor)
}

func TestCapturePayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments/pay_1/capture", r.URL.Path)
		var body captureRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, captureRequest{Amount: 49900, Currency: "INR"}, body)
		_, _ = w.Write([]byte(`{"id":"pay_1","status":"captured","amount":49900,"currency":"INR","order_id":"order_Abc"}`))
	})

	p, err := c.CapturePayment(context.Background(), "pay_1", 49900, "INR")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCaptured, p.Status)
	assert.Equal(t, "order_Abc", p.OrderID)
}

func TestClientError_IsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
	})

	_, err := c.FetchPayment(context.Background(), "pay_missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
}

func TestServerErrors_OpenBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		_, err := c.FetchPayment(context.Background(), "pay_1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server error 502")
	}

	_, err := c.FetchPayment(context.Background(), "pay_1")
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientErrors_DoNotOpenBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{}`))
	})

	for i := 0; i < 4; i++ {
		_, err := c.FetchPayment(context.Background(), "pay_1")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
	}
	assert.Equal(t, int32(4), hits.Load())
}

func TestVerifySignature(t *testing.T) {
	c := New(Config{KeySecret: "rzp_test_secret"})
	sig := signature.Sign("rzp_test_secret", "order_1", "pay_1")

	assert.True(t, c.VerifySignature("order_1", "pay_1", sig))
	assert.False(t, c.VerifySignature("order_1", "pay_2", sig))
	assert.Equal(t, "razorpay", c.Name())
}

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
		D flexString `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":42,"c":true,"d":null}`), &v))
	assert.Equal(t, flexString("x"), v.A)
	assert.Equal(t, flexString("42"), v.B)
	assert.Equal(t, flexString("true"), v.C)
	assert.Equal(t, flexString(""), v.D)
}
