package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValidation      = errors.New("validation failure")
	ErrTooManyRequests = errors.New("too many requests")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidSession     = errors.New("invalid session")

	ErrExpiredChallenge = errors.New("otp has expired, request a new code")
	ErrNoChallengeFound = errors.New("no pending otp, request a new one")
	ErrInvalidCode      = errors.New("invalid otp code")
	// ErrChallengeLocked is still an ErrInvalidCode for callers that only check that.
	ErrChallengeLocked = fmt.Errorf("%w: too many attempts", ErrInvalidCode)

	ErrResetTokenInvalid = errors.New("reset token is invalid or expired")

	ErrMissingParameters = errors.New("payment id is required")
	ErrInvalidSignature  = errors.New("invalid payment signature")
	ErrPaymentIncomplete = errors.New("payment not completed")
	ErrOrderMismatch     = errors.New("payment does not belong to the order")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrGatewayFailure    = errors.New("payment gateway unavailable")
	// ErrAlreadyApplied reports that the entitlement for a payment is already in place.
	ErrAlreadyApplied = errors.New("entitlement already applied")
)

// FieldError describes one failed field of a request.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError carries field-level detail and unwraps to ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	return fmt.Sprintf("%s: field '%s' failed '%s'", ErrValidation, e.Fields[0].Field, e.Fields[0].Rule)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
