package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors_Registered(t *testing.T) {
	OTPIssued.WithLabelValues("login")
	OTPVerifications.WithLabelValues("login", "ok")
	SessionsStarted.WithLabelValues("otp")
	SessionsEnded.WithLabelValues("logout")
	PaymentVerifications.WithLabelValues("ok")
	OrdersCreated.WithLabelValues("opened")
	GatewayBreakerState.WithLabelValues("razorpay")
	EventsPublished.WithLabelValues("session.started", "ok")
	HTTPRequests.WithLabelValues("GET", "/v1/health", "200")
	HTTPDuration.WithLabelValues("GET", "/v1/health", "200")

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"subscription_core_otp_issued_total",
		"subscription_core_otp_verifications_total",
		"subscription_core_sessions_started_total",
		"subscription_core_sessions_ended_total",
		"subscription_core_session_validation_rejections_total",
		"subscription_core_payment_verifications_total",
		"subscription_core_payment_orders_total",
		"subscription_core_password_resets_issued_total",
		"subscription_core_gateway_circuit_breaker_state",
		"subscription_core_events_published_total",
		"subscription_core_http_requests_total",
		"subscription_core_http_request_duration_seconds",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(SessionsEnded.WithLabelValues("replaced"))
	SessionsEnded.WithLabelValues("replaced").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SessionsEnded.WithLabelValues("replaced")))
}
