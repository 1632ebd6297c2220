// Package razorpay talks to the Razorpay Orders and Payments REST API.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/metrics"
	"github.com/go-subscription-core/internal/pkg/signature"
	"github.com/sony/gobreaker/v2"
)

const name = "razorpay"

type Config struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration

	// Breaker settings. Zero values take the defaults below.
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

// APIError is a non-5xx error response from the API.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay %d %s: %s", e.Status, e.Code, e.Description)
}

// ErrCircuitOpen is returned without calling the API while the breaker is open.
var ErrCircuitOpen = gobreaker.ErrOpenState

type Client struct {
	keyID     string
	keySecret string
	baseURL   string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BreakerMinRequests == 0 {
		cfg.BreakerMinRequests = 5
	}
	if cfg.BreakerFailureRatio <= 0 {
		cfg.BreakerFailureRatio = 0.5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.GatewayBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}
	metrics.GatewayBreakerState.WithLabelValues(name).Set(0)

	return &Client{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      &http.Client{Timeout: cfg.Timeout},
		breaker:   gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (c *Client) Name() string { return name }

type orderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type orderResponse struct {
	ID       string     `json:"id"`
	Amount   int64      `json:"amount"`
	Currency string     `json:"currency"`
	Receipt  flexString `json:"receipt"`
}

type paymentResponse struct {
	ID       string     `json:"id"`
	Status   string     `json:"status"`
	Amount   int64      `json:"amount"`
	Currency string     `json:"currency"`
	OrderID  flexString `json:"order_id"`
}

type captureRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*domain.Order, error) {
	var out orderResponse
	err := c.do(ctx, http.MethodPost, "/orders", orderRequest{
		Amount:         amountMinor,
		Currency:       currency,
		Receipt:        receipt,
		PaymentCapture: 1,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if out.ID == "" {
		return nil, errors.New("create order: empty order id in response")
	}
	return &domain.Order{
		OrderID:     out.ID,
		AmountMinor: out.Amount,
		Currency:    out.Currency,
		Receipt:     string(out.Receipt),
	}, nil
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var out paymentResponse
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, fmt.Errorf("fetch payment: %w", err)
	}
	return out.toDomain(), nil
}

func (c *Client) CapturePayment(ctx context.Context, paymentID string, amountMinor int64, currency string) (*domain.Payment, error) {
	var out paymentResponse
	err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/capture",
		captureRequest{Amount: amountMinor, Currency: currency}, &out)
	if err != nil {
		return nil, fmt.Errorf("capture payment: %w", err)
	}
	return out.toDomain(), nil
}

func (c *Client) VerifySignature(orderID, paymentID, sig string) bool {
	return signature.Verify(c.keySecret, orderID, paymentID, sig)
}

func (p paymentResponse) toDomain() *domain.Payment {
	return &domain.Payment{
		PaymentID:   p.ID,
		OrderID:     string(p.OrderID),
		Status:      strings.ToLower(p.Status),
		AmountMinor: p.Amount,
		Currency:    p.Currency,
	}
}

// do sends one request through the breaker. 5xx responses and transport
// errors count as breaker failures; 4xx responses do not.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		var reader io.Reader = http.NoBody
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.keyID, c.keySecret)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
		return resp, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &APIError{Status: resp.StatusCode, Code: body.Error.Code, Description: body.Error.Description}
}
