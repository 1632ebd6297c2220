package payment

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/pkg/money"
)

// RenderedInvoice is a downloadable plain-text invoice.
type RenderedInvoice struct {
	FileName string
	Body     []byte
}

// InvoiceNumber is INV-YYYYMMDD-<invoice id>. The id is a ULID, so numbers are
// globally unique and sort by issue time.
func InvoiceNumber(issuedAt time.Time, invoiceID string) string {
	return fmt.Sprintf("INV-%s-%s", issuedAt.UTC().Format("20060102"), invoiceID)
}

func (s *service) RenderInvoice(ctx context.Context, userID, invoiceID string) (*RenderedInvoice, error) {
	inv, err := s.billing.GetInvoice(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &RenderedInvoice{
		FileName: fmt.Sprintf("invoice-%s.txt", inv.InvoiceNumber),
		Body:     renderInvoice(inv, u),
	}, nil
}

func renderInvoice(inv *domain.Invoice, u *domain.User) []byte {
	plan := inv.PlanName
	if plan == "" {
		plan = inv.PlanID
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "Invoice #: %s\n", inv.InvoiceNumber)
	fmt.Fprintf(&b, "Issued: %s UTC\n", inv.IssuedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Customer: %s\n", u.Name)
	fmt.Fprintf(&b, "Email: %s\n", u.Email)
	fmt.Fprintf(&b, "Plan: %s\n", plan)
	fmt.Fprintf(&b, "Amount: %s %s\n", money.Format(inv.AmountMinor), inv.Currency)
	fmt.Fprintf(&b, "Payment ID: %s\n", inv.PaymentID)
	b.WriteString("\nThank you for your subscription.\n")
	return b.Bytes()
}

func archiveKey(inv *domain.Invoice) string {
	return fmt.Sprintf("invoices/%s/%s/%s.txt", inv.UserID, inv.IssuedAt.UTC().Format("2006/01"), inv.InvoiceNumber)
}
