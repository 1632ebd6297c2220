package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-subscription-core/internal/application/reset"
	"github.com/go-subscription-core/internal/transport/http/middleware"
)

type PasswordResetHandler struct {
	svc reset.Service
}

func NewPasswordResetHandler(svc reset.Service) *PasswordResetHandler {
	return &PasswordResetHandler{svc: svc}
}

type issueResetRequest struct {
	Reason          string `json:"reason"`
	LifetimeMinutes int    `json:"lifetimeMinutes"`
}

// Issue creates a reset token for the user in the path. Admin only; the
// plaintext token is in this response and nowhere else.
func (h *PasswordResetHandler) Issue(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body issueResetRequest
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	if body.LifetimeMinutes < 0 {
		writeError(w, http.StatusBadRequest, "lifetimeMinutes must not be negative")
		return
	}
	res, err := h.svc.GenerateResetToken(r.Context(), reset.GenerateRequest{
		UserID:    chi.URLParam(r, "id"),
		CreatedBy: claims.Subject,
		Reason:    body.Reason,
		Lifetime:  time.Duration(body.LifetimeMinutes) * time.Minute,
	})
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PasswordResetHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req reset.RedeemRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.RedeemResetToken(r.Context(), req); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password updated"})
}
