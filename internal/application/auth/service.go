package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/pkg/clock"
	"github.com/go-subscription-core/internal/pkg/hasher"
	"github.com/go-subscription-core/internal/pkg/id"
	"github.com/go-subscription-core/internal/pkg/phone"
	"github.com/go-subscription-core/internal/pkg/validate"
)

type RequestOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,min=4,max=20"`
	Password    string `json:"password" validate:"required"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,min=4,max=20"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
}

type AdminLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type OTPResponse struct {
	MaskedPhone string    `json:"maskedPhone"`
	ExpiresAt   time.Time `json:"expiresAt"`
	IsActive    bool      `json:"isActive"`
	DebugCode   string    `json:"debugCode,omitempty"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// UserStore is the user persistence the auth flows need. Lookups return
// domain.ErrNotFound for unknown keys; Create returns domain.ErrConflict when
// the email or phone is taken.
type UserStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}

type OTPEngine interface {
	RequestCode(ctx context.Context, userID, purpose, destination string) (*domain.OtpDispatch, error)
	VerifyCode(ctx context.Context, userID, purpose, code string) error
}

type SessionRegistry interface {
	StartSession(ctx context.Context, userID, loginType string, client domain.ClientInfo) (string, error)
	EndSession(ctx context.Context, userID, reason string) error
}

type TokenIssuer interface {
	Issue(u *domain.User, sessionToken string, roles []string) (string, error)
}

// Throttle reports whether another OTP request for key is allowed.
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type ServiceDeps struct {
	UserRepo UserStore
	OTP      OTPEngine
	Sessions SessionRegistry
	Tokens   TokenIssuer
	Throttle Throttle // optional
	Clock    clock.Clock
}

type Service interface {
	Register(ctx context.Context, req domain.RegisterUserRequest) (*domain.User, error)
	RequestOTP(ctx context.Context, req RequestOTPRequest) (*OTPResponse, error)
	VerifyOTP(ctx context.Context, req VerifyOTPRequest, client domain.ClientInfo) (*LoginResponse, error)
	AdminLogin(ctx context.Context, req AdminLoginRequest, client domain.ClientInfo) (*LoginResponse, error)
	Me(ctx context.Context, userID string) (*domain.User, error)
	Logout(ctx context.Context, userID string) error
}

type service struct {
	users    UserStore
	otp      OTPEngine
	sessions SessionRegistry
	tokens   TokenIssuer
	throttle Throttle
	clock    clock.Clock
}

func NewService(deps ServiceDeps) Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &service{
		users:    deps.UserRepo,
		otp:      deps.OTP,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		throttle: deps.Throttle,
		clock:    clk,
	}
}

func (s *service) Register(ctx context.Context, req domain.RegisterUserRequest) (*domain.User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if !req.AcceptTerms {
		return nil, &domain.ValidationError{Fields: []domain.FieldError{{Field: "acceptTerms", Rule: "required"}}}
	}
	hash, err := hasher.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	u := &domain.User{
		UserID:                id.At(now),
		Name:                  strings.TrimSpace(req.Name),
		Email:                 normalizeEmail(req.Email),
		Phone:                 phone.Normalize(req.PhoneNumber),
		PasswordHash:          hash,
		GovernmentIDType:      strings.TrimSpace(req.GovernmentIDType),
		GovernmentIDNumber:    strings.TrimSpace(req.GovernmentIDNumber),
		GovernmentDocumentURL: strings.TrimSpace(req.GovernmentDocumentURL),
		KYCVerified:           true,
		TermsAcceptedAt:       now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("email or phone already registered: %w", domain.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	slog.InfoContext(ctx, "user registered", "user_id", u.UserID)
	return u, nil
}

func (s *service) RequestOTP(ctx context.Context, req RequestOTPRequest) (*OTPResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	ph := phone.Normalize(req.PhoneNumber)
	if s.throttle != nil {
		ok, err := s.throttle.Allow(ctx, ph)
		if err != nil {
			slog.WarnContext(ctx, "otp throttle unavailable", "error", err)
		} else if !ok {
			return nil, domain.ErrTooManyRequests
		}
	}

	u, err := s.userByPhone(ctx, ph)
	if err != nil {
		return nil, err
	}
	if !hasher.CheckPassword(u.PasswordHash, req.Password) {
		slog.InfoContext(ctx, "otp request rejected", "reason", "password", "user_id", u.UserID)
		return nil, domain.ErrInvalidCredentials
	}

	dispatch, err := s.otp.RequestCode(ctx, u.UserID, domain.OTPPurposeLogin, u.Phone)
	if err != nil {
		return nil, err
	}
	return &OTPResponse{
		MaskedPhone: dispatch.MaskedDestination,
		ExpiresAt:   dispatch.ExpiresAt,
		IsActive:    u.IsRegistrationComplete && u.IsSubscribed,
		DebugCode:   dispatch.DebugCode,
	}, nil
}

func (s *service) VerifyOTP(ctx context.Context, req VerifyOTPRequest, client domain.ClientInfo) (*LoginResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	u, err := s.userByPhone(ctx, phone.Normalize(req.PhoneNumber))
	if err != nil {
		return nil, err
	}
	if err := s.otp.VerifyCode(ctx, u.UserID, domain.OTPPurposeLogin, req.Code); err != nil {
		return nil, err
	}
	return s.login(ctx, u, domain.LoginTypeOTP, client)
}

func (s *service) AdminLogin(ctx context.Context, req AdminLoginRequest, client domain.ClientInfo) (*LoginResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	u, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsAdmin || !hasher.CheckPassword(u.PasswordHash, req.Password) {
		slog.InfoContext(ctx, "admin login rejected", "user_id", u.UserID)
		return nil, domain.ErrInvalidCredentials
	}
	return s.login(ctx, u, domain.LoginTypeAdmin, client)
}

func (s *service) Me(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	return u, err
}

func (s *service) Logout(ctx context.Context, userID string) error {
	return s.sessions.EndSession(ctx, userID, domain.SessionEndLogout)
}

func (s *service) login(ctx context.Context, u *domain.User, loginType string, client domain.ClientInfo) (*LoginResponse, error) {
	sessionToken, err := s.sessions.StartSession(ctx, u.UserID, loginType, client)
	if err != nil {
		return nil, err
	}
	u.CurrentSessionID = sessionToken
	bearer, err := s.tokens.Issue(u, sessionToken, u.Roles())
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResponse{Token: bearer, User: u}, nil
}

// userByPhone finds the non-admin account for an OTP login. Unknown phones and
// admin accounts get the same error as a wrong password.
func (s *service) userByPhone(ctx context.Context, ph string) (*domain.User, error) {
	u, err := s.users.GetByPhone(ctx, ph)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("load user: %w", err)
	case u.IsAdmin:
		return nil, domain.ErrInvalidCredentials
	}
	return u, nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
