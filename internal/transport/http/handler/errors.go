package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-subscription-core/internal/domain"
)

type errorKind struct {
	err    error
	status int
}

// Order matters: ErrChallengeLocked is also an ErrInvalidCode.
var errorKinds = []errorKind{
	{domain.ErrValidation, http.StatusBadRequest},
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrMissingParameters, http.StatusBadRequest},
	{domain.ErrInvalidSignature, http.StatusBadRequest},
	{domain.ErrPaymentIncomplete, http.StatusBadRequest},
	{domain.ErrOrderMismatch, http.StatusBadRequest},
	{domain.ErrResetTokenInvalid, http.StatusBadRequest},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized},
	{domain.ErrInvalidSession, http.StatusUnauthorized},
	{domain.ErrExpiredChallenge, http.StatusUnauthorized},
	{domain.ErrNoChallengeFound, http.StatusUnauthorized},
	{domain.ErrChallengeLocked, http.StatusUnauthorized},
	{domain.ErrInvalidCode, http.StatusUnauthorized},
	{domain.ErrForbidden, http.StatusForbidden},
	{domain.ErrUserNotFound, http.StatusNotFound},
	{domain.ErrPlanNotFound, http.StatusNotFound},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrTooManyRequests, http.StatusTooManyRequests},
	{domain.ErrGatewayFailure, http.StatusBadGateway},
}

// httpError writes the status and generic message for err's kind. Wrapped
// detail is logged, never returned.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, MessageEnvelope{Error: domain.ErrValidation.Error(), Fields: verr.Fields})
		return
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			if k.status >= http.StatusInternalServerError {
				slog.WarnContext(r.Context(), "upstream failure", slog.String("error", err.Error()))
			}
			writeError(w, k.status, k.err.Error())
			return
		}
	}
	slog.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
