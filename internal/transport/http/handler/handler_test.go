package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-subscription-core/internal/application/auth"
	"github.com/go-subscription-core/internal/application/payment"
	"github.com/go-subscription-core/internal/application/reset"
	"github.com/go-subscription-core/internal/domain"
	jwtinfra "github.com/go-subscription-core/internal/infrastructure/jwt"
	"github.com/go-subscription-core/internal/transport/http/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockAuthSvc struct{ mock.Mock }

func (m *mockAuthSvc) Register(ctx context.Context, req domain.RegisterUserRequest) (*domain.User, error) {
	args := m.Called(ctx, req)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *mockAuthSvc) RequestOTP(ctx context.Context, req auth.RequestOTPRequest) (*auth.OTPResponse, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*auth.OTPResponse)
	return r, args.Error(1)
}

func (m *mockAuthSvc) VerifyOTP(ctx context.Context, req auth.VerifyOTPRequest, client domain.ClientInfo) (*auth.LoginResponse, error) {
	args := m.Called(ctx, req, client)
	r, _ := args.Get(0).(*auth.LoginResponse)
	return r, args.Error(1)
}

func (m *mockAuthSvc) AdminLogin(ctx context.Context, req auth.AdminLoginRequest, client domain.ClientInfo) (*auth.LoginResponse, error) {
	args := m.Called(ctx, req, client)
	r, _ := args.Get(0).(*auth.LoginResponse)
	return r, args.Error(1)
}

func (m *mockAuthSvc) Me(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *mockAuthSvc) Logout(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockResetSvc struct{ mock.Mock }

func (m *mockResetSvc) GenerateResetToken(ctx context.Context, req reset.GenerateRequest) (*domain.PasswordResetResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*domain.PasswordResetResult)
	return r, args.Error(1)
}

func (m *mockResetSvc) RedeemResetToken(ctx context.Context, req reset.RedeemRequest) error {
	return m.Called(ctx, req).Error(0)
}

type mockPaymentSvc struct{ mock.Mock }

func (m *mockPaymentSvc) CreateOrder(ctx context.Context, userID string, req domain.CreateOrderRequest) (*domain.Order, error) {
	args := m.Called(ctx, userID, req)
	o, _ := args.Get(0).(*domain.Order)
	return o, args.Error(1)
}

func (m *mockPaymentSvc) VerifyPayment(ctx context.Context, userID string, req domain.VerifyPaymentRequest) error {
	return m.Called(ctx, userID, req).Error(0)
}

func (m *mockPaymentSvc) ListInvoices(ctx context.Context, userID string) ([]domain.Invoice, error) {
	args := m.Called(ctx, userID)
	inv, _ := args.Get(0).([]domain.Invoice)
	return inv, args.Error(1)
}

func (m *mockPaymentSvc) RenderInvoice(ctx context.Context, userID, invoiceID string) (*payment.RenderedInvoice, error) {
	args := m.Called(ctx, userID, invoiceID)
	r, _ := args.Get(0).(*payment.RenderedInvoice)
	return r, args.Error(1)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

// --- helpers ---

func request(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "198.51.100.4:40000"
	req.Header.Set("User-Agent", "test-agent")
	return req
}

func asUser(req *http.Request, userID string, roles ...string) *http.Request {
	claims := &jwtinfra.Claims{SessionID: "tok", Roles: roles, RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}
	return req.WithContext(middleware.WithClaims(req.Context(), claims))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

var client = domain.ClientInfo{IP: "198.51.100.4", UserAgent: "test-agent"}

// --- auth ---

func TestRegister_Created(t *testing.T) {
	svc := &mockAuthSvc{}
	h := NewAuthHandler(svc)
	svc.On("Register", mock.Anything, mock.MatchedBy(func(r domain.RegisterUserRequest) bool {
		return r.Email == "asha@example.com" && r.AcceptTerms
	})).Return(&domain.User{UserID: "u1", Email: "asha@example.com"}, nil)

	rr := httptest.NewRecorder()
	h.Register(rr, request(http.MethodPost, "/v1/auth/register", `{"email":"asha@example.com","acceptTerms":true}`))

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"u1"`)
	assert.NotContains(t, rr.Body.String(), "password")
}

func TestRegister_Conflict(t *testing.T) {
	svc := &mockAuthSvc{}
	h := NewAuthHandler(svc)
	svc.On("Register", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("create user: %w", domain.ErrConflict))

	rr := httptest.NewRecorder()
	h.Register(rr, request(http.MethodPost, "/", `{}`))
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.JSONEq(t, `{"error":"conflict"}`, rr.Body.String())
}

func TestRegister_BadBody(t *testing.T) {
	h := NewAuthHandler(&mockAuthSvc{})
	rr := httptest.NewRecorder()
	h.Register(rr, request(http.MethodPost, "/", `{not json`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequestOTP_ValidationFields(t *testing.T) {
	svc := &mockAuthSvc{}
	h := NewAuthHandler(svc)
	verr := &domain.ValidationError{Fields: []domain.FieldError{{Field: "phoneNumber", Rule: "required"}}}
	svc.On("RequestOTP", mock.Anything, auth.RequestOTPRequest{}).Return(nil, verr)

	rr := httptest.NewRecorder()
	h.RequestOTP(rr, request(http.MethodPost, "/", `{}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"validation failure","fields":[{"field":"phoneNumber","rule":"required"}]}`, rr.Body.String())
}

func TestRequestOTP_Throttled(t *testing.T) {
	svc := &mockAuthSvc{}
	h := NewAuthHandler(svc)
	svc.On("RequestOTP", mock.Anything, mock.Anything).Return(nil, domain.ErrTooManyRequests)

	rr := httptest.NewRecorder()
	h.RequestOTP(rr, request(http.MethodPost, "/", `{"phoneNumber":"9876543210","password":"x"}`))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRequestOTP_OK(t *testing.T) {
	svc := &mockAuthSvc{}
	h := NewAuthHandler(svc)
	exp := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	svc.On("RequestOTP", mock.Anything, auth.RequestOTPRequest{PhoneNumber: "9876543210", Password: "pw"}).
		Return(&auth.OTPResponse{MaskedPhone: "******3210", ExpiresAt: exp, IsActive: true}, nil)

	rr := httptest.NewRecorder()
	h.RequestOTP(rr, request(http.MethodPost, "/", `{"phoneNumber":"9876543210","password":"pw"}`))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"maskedPhone":"******3210","expiresAt":"2026-03-01T10:05:00Z","isActive":true}`, rr.Body.String())
}

func TestVerifyOTP_OTPErrors(t *testing.T) {
	for _, err := range []error{domain.ErrInvalidCode, domain.ErrChallengeLocked, domain.ErrExpiredChallenge, domain.ErrNoChallengeFound} {
		svc := &mockAuthSvc{}
		h := NewAuthHandler(svc)
		svc.On("VerifyOTP", mock.Anything, mock.Anything, client).Return(nil, err)

		rr := httptest.NewRecorder()
		h.VerifyOTP(rr, request(http.MethodPost, "/", `{"phoneNumber":"9876543210","code":"123456"}`))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, err.Error())
		assert.JSONEq(t, fmt.Sprintf(`{"error":%q}`, err.Error()), rr.Body.String())
	}
}

func TestVerifyOTP_ReturnsBearer(t *testing.T) {
	svc := &mockAuthSvc{}
	h := NewAuthHandler(svc)
	svc.On("VerifyOTP", mock.Anything, auth.VerifyOTPRequest{PhoneNumber: "9876543210", Code: "123456"}, client).
		Return(&auth.LoginResponse{Token: "jwt", User: &domain.User{UserID: "u1"}}, nil)

	rr := httptest.NewRecorder()
	h.VerifyOTP(rr, request(http.MethodPost, "/", `{"phoneNumber":"9876543210","code":"123456"}`))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"Bearer":"jwt"`)
}

func TestAdminLogin_InvalidCredentials(t *testing.T) {
	svc := &mockAuthSvc{}
	h := NewAuthHandler(svc)
	svc.On("AdminLogin", mock.Anything, mock.Anything, client).Return(nil, domain.ErrInvalidCredentials)

	rr := httptest.NewRecorder()
	h.AdminLogin(rr, request(http.MethodPost, "/", `{"email":"root@example.com","password":"x"}`))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMe_RequiresClaims(t *testing.T) {
	h := NewAuthHandler(&mockAuthSvc{})
	rr := httptest.NewRecorder()
	h.Me(rr, request(http.MethodGet, "/", ""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMe_OK(t *testing.T) {
	svc := &mockAuthSvc{}
	h := NewAuthHandler(svc)
	svc.On("Me", mock.Anything, "u1").Return(&domain.User{UserID: "u1", Name: "Asha"}, nil)

	rr := httptest.NewRecorder()
	h.Me(rr, asUser(request(http.MethodGet, "/", ""), "u1"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"Asha"`)
}

func TestLogout(t *testing.T) {
	svc := &mockAuthSvc{}
	h := NewAuthHandler(svc)
	svc.On("Logout", mock.Anything, "u1").Return(nil)

	rr := httptest.NewRecorder()
	h.Logout(rr, asUser(request(http.MethodPost, "/", ""), "u1"))
	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestHTTPError_UnknownIsGeneric(t *testing.T) {
	rr := httptest.NewRecorder()
	httpError(rr, request(http.MethodGet, "/", ""), errors.New("dynamo: connection reset by peer"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())
}

func TestHTTPError_Statuses(t *testing.T) {
	cases := map[error]int{
		domain.ErrMissingParameters: http.StatusBadRequest,
		domain.ErrInvalidSignature:  http.StatusBadRequest,
		domain.ErrPaymentIncomplete: http.StatusBadRequest,
		domain.ErrOrderMismatch:     http.StatusBadRequest,
		domain.ErrInvalidSession:    http.StatusUnauthorized,
		domain.ErrForbidden:         http.StatusForbidden,
		domain.ErrUserNotFound:      http.StatusNotFound,
		domain.ErrPlanNotFound:      http.StatusNotFound,
		domain.ErrGatewayFailure:    http.StatusBadGateway,
	}
	for err, want := range cases {
		rr := httptest.NewRecorder()
		httpError(rr, request(http.MethodGet, "/", ""), fmt.Errorf("wrapped: %w", err))
		assert.Equal(t, want, rr.Code, err.Error())
		assert.NotContains(t, rr.Body.String(), "wrapped")
	}
}

// --- password reset ---

func TestIssueReset(t *testing.T) {
	svc := &mockResetSvc{}
	h := NewPasswordResetHandler(svc)
	exp := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc.On("GenerateResetToken", mock.Anything, reset.GenerateRequest{
		UserID: "u2", CreatedBy: "admin1", Reason: "locked out", Lifetime: 30 * time.Minute,
	}).Return(&domain.PasswordResetResult{TokenID: "r1", UserID: "u2", Token: "secret", ExpiresAt: exp}, nil)

	req := withURLParam(request(http.MethodPost, "/v1/admin/users/u2/password-reset", `{"reason":"locked out","lifetimeMinutes":30}`), "id", "u2")
	rr := httptest.NewRecorder()
	h.Issue(rr, asUser(req, "admin1", "admin"))

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"tokenId":"r1","userId":"u2","token":"secret","expiresAt":"2026-03-02T10:00:00Z"}`, rr.Body.String())
}

func TestIssueReset_EmptyBodyUsesDefaults(t *testing.T) {
	svc := &mockResetSvc{}
	h := NewPasswordResetHandler(svc)
	svc.On("GenerateResetToken", mock.Anything, reset.GenerateRequest{UserID: "u2", CreatedBy: "admin1"}).
		Return(nil, domain.ErrUserNotFound)

	req := withURLParam(request(http.MethodPost, "/", ""), "id", "u2")
	rr := httptest.NewRecorder()
	h.Issue(rr, asUser(req, "admin1", "admin"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestIssueReset_NegativeLifetime(t *testing.T) {
	h := NewPasswordResetHandler(&mockResetSvc{})
	req := withURLParam(request(http.MethodPost, "/", `{"lifetimeMinutes":-5}`), "id", "u2")
	rr := httptest.NewRecorder()
	h.Issue(rr, asUser(req, "admin1", "admin"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRedeemReset_Invalid(t *testing.T) {
	svc := &mockResetSvc{}
	h := NewPasswordResetHandler(svc)
	svc.On("RedeemResetToken", mock.Anything, reset.RedeemRequest{TokenID: "r1", Token: "bad", NewPassword: "newpass1"}).
		Return(domain.ErrResetTokenInvalid)

	rr := httptest.NewRecorder()
	h.Redeem(rr, request(http.MethodPost, "/", `{"tokenId":"r1","token":"bad","newPassword":"newpass1"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"reset token is invalid or expired"}`, rr.Body.String())
}

// --- payments ---

func TestCreateOrder(t *testing.T) {
	svc := &mockPaymentSvc{}
	h := NewPaymentHandler(svc)
	svc.On("CreateOrder", mock.Anything, "u1", domain.CreateOrderRequest{AmountInPaise: 49900, PlanID: "growth"}).
		Return(&domain.Order{OrderID: "order_1", AmountMinor: 49900, Currency: "INR", Receipt: "rcpt_1"}, nil)

	rr := httptest.NewRecorder()
	h.CreateOrder(rr, asUser(request(http.MethodPost, "/", `{"amountInPaise":49900,"planId":"growth"}`), "u1"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"orderId":"order_1","amount":49900,"currency":"INR","receipt":"rcpt_1"}`, rr.Body.String())
}

func TestCreateOrder_GatewayDown(t *testing.T) {
	svc := &mockPaymentSvc{}
	h := NewPaymentHandler(svc)
	svc.On("CreateOrder", mock.Anything, "u1", domain.CreateOrderRequest{}).
		Return(nil, fmt.Errorf("create order: %w", domain.ErrGatewayFailure))

	rr := httptest.NewRecorder()
	h.CreateOrder(rr, asUser(request(http.MethodPost, "/", ""), "u1"))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestVerifyPayment(t *testing.T) {
	svc := &mockPaymentSvc{}
	h := NewPaymentHandler(svc)
	req := domain.VerifyPaymentRequest{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig"}
	svc.On("VerifyPayment", mock.Anything, "u1", req).Return(nil)

	rr := httptest.NewRecorder()
	h.Verify(rr, asUser(request(http.MethodPost, "/", `{"orderId":"order_1","paymentId":"pay_1","signature":"sig"}`), "u1"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestVerifyPayment_BadSignature(t *testing.T) {
	svc := &mockPaymentSvc{}
	h := NewPaymentHandler(svc)
	svc.On("VerifyPayment", mock.Anything, "u1", mock.Anything).Return(domain.ErrInvalidSignature)

	rr := httptest.NewRecorder()
	h.Verify(rr, asUser(request(http.MethodPost, "/", `{"paymentId":"pay_1"}`), "u1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListInvoices(t *testing.T) {
	svc := &mockPaymentSvc{}
	h := NewPaymentHandler(svc)
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.On("ListInvoices", mock.Anything, "u1").Return([]domain.Invoice{{
		InvoiceID: "i1", InvoiceNumber: "INV-20260301-i1", AmountMinor: 49900, Currency: "INR", PaymentID: "pay_1", IssuedAt: issued,
	}}, nil)

	rr := httptest.NewRecorder()
	h.ListInvoices(rr, asUser(request(http.MethodGet, "/", ""), "u1"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"invoices":[{"id":"i1","invoiceNumber":"INV-20260301-i1","amount":499,"currency":"INR","paymentId":"pay_1","issuedAt":"2026-03-01T10:00:00Z"}]}`, rr.Body.String())
}

func TestListInvoices_Empty(t *testing.T) {
	svc := &mockPaymentSvc{}
	h := NewPaymentHandler(svc)
	svc.On("ListInvoices", mock.Anything, "u1").Return([]domain.Invoice{}, nil)

	rr := httptest.NewRecorder()
	h.ListInvoices(rr, asUser(request(http.MethodGet, "/", ""), "u1"))
	assert.JSONEq(t, `{"invoices":[]}`, rr.Body.String())
}

func TestDownloadInvoice(t *testing.T) {
	svc := &mockPaymentSvc{}
	h := NewPaymentHandler(svc)
	svc.On("RenderInvoice", mock.Anything, "u1", "i1").
		Return(&payment.RenderedInvoice{FileName: "invoice-INV-1.txt", Body: []byte("Invoice #: INV-1\n")}, nil)

	req := withURLParam(request(http.MethodGet, "/", ""), "id", "i1")
	rr := httptest.NewRecorder()
	h.DownloadInvoice(rr, asUser(req, "u1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="invoice-INV-1.txt"`, rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "Invoice #: INV-1\n", rr.Body.String())
}

func TestDownloadInvoice_NotOwned(t *testing.T) {
	svc := &mockPaymentSvc{}
	h := NewPaymentHandler(svc)
	svc.On("RenderInvoice", mock.Anything, "u1", "i9").Return(nil, domain.ErrNotFound)

	req := withURLParam(request(http.MethodGet, "/", ""), "id", "i9")
	rr := httptest.NewRecorder()
	h.DownloadInvoice(rr, asUser(req, "u1"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// --- health ---

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandler(stubPinger{}).Health(rr, request(http.MethodGet, "/", ""))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	NewHealthHandler(stubPinger{err: errors.New("down")}).Health(rr, request(http.MethodGet, "/", ""))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
