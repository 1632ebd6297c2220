package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-subscription-core/internal/application/payment"
	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/pkg/money"
	"github.com/go-subscription-core/internal/transport/http/middleware"
)

type PaymentHandler struct {
	svc payment.Service
}

func NewPaymentHandler(svc payment.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// InvoiceView is an invoice with the amount in major units.
type InvoiceView struct {
	ID            string    `json:"id"`
	InvoiceNumber string    `json:"invoiceNumber"`
	PlanID        string    `json:"planId,omitempty"`
	PlanName      string    `json:"planName,omitempty"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	PaymentID     string    `json:"paymentId"`
	IssuedAt      time.Time `json:"issuedAt"`
}

func toInvoiceView(inv domain.Invoice) InvoiceView {
	return InvoiceView{
		ID:            inv.InvoiceID,
		InvoiceNumber: inv.InvoiceNumber,
		PlanID:        inv.PlanID,
		PlanName:      inv.PlanName,
		Amount:        money.Major(inv.AmountMinor),
		Currency:      inv.Currency,
		PaymentID:     inv.PaymentID,
		IssuedAt:      inv.IssuedAt,
	}
}

func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.CreateOrderRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	order, err := h.svc.CreateOrder(r.Context(), claims.Subject, req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.VerifyPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.VerifyPayment(r.Context(), claims.Subject, req); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "payment verified"})
}

func (h *PaymentHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	invoices, err := h.svc.ListInvoices(r.Context(), claims.Subject)
	if err != nil {
		httpError(w, r, err)
		return
	}
	views := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, toInvoiceView(inv))
	}
	writeJSON(w, http.StatusOK, InvoicesEnvelope{Invoices: views})
}

func (h *PaymentHandler) DownloadInvoice(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	inv, err := h.svc.RenderInvoice(r.Context(), claims.Subject, chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+inv.FileName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(inv.Body)
}
