// Package invoice models the payment-relevant part of an invoice and the
// state transitions the payment core is allowed to make.
package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state stored on an invoice row.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusSent    Status = "sent"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
	StatusDeleted Status = "deleted"
)

// transitions lists the writes this service may perform. The editing flow
// owns every other edge.
var transitions = map[Status]map[Status]bool{
	StatusDraft:   {StatusSent: true, StatusPaid: true},
	StatusSent:    {StatusSent: true, StatusPaid: true},
	StatusOverdue: {StatusSent: true, StatusPaid: true},
	StatusDeleted: {StatusSent: true, StatusPaid: true},
	StatusPaid:    {},
}

// ParseStatus normalises a stored status label.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[s]; !ok {
		return "", fmt.Errorf("invoice: unknown status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether the payment core may move an invoice from s to next.
func (s Status) CanTransition(next Status) bool {
	return transitions[s][next]
}

func (s Status) String() string { return string(s) }

// LineItem is a single billed row. Only Description matters to payments.
type LineItem struct {
	ID          string          `json:"id,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Total       decimal.Decimal `json:"total"`
}

// Invoice is the subset of the persisted invoice used by checkout and webhooks.
type Invoice struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	InvoiceNumber         string
	LineItems             []LineItem
	Total                 decimal.Decimal
	Status                Status
	StripeSessionID       string
	StripeCheckoutURL     string
	StripePaymentIntentID string
	AmountPaidCents       int64
	PaidAmount            decimal.Decimal
	PaidAt                *time.Time
	UpdatedAt             time.Time
}

// ProductLabel is the name shown on the hosted checkout page.
func (inv Invoice) ProductLabel() string {
	if len(inv.LineItems) > 0 {
		if desc := strings.TrimSpace(inv.LineItems[0].Description); desc != "" {
			return desc
		}
	}
	return "Invoice #" + inv.InvoiceNumber
}

// BalanceDue is the unpaid remainder, never negative.
func (inv Invoice) BalanceDue() decimal.Decimal {
	due := inv.Total.Sub(inv.PaidAmount)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// Payable reports whether a checkout session may be opened for the invoice.
func (inv Invoice) Payable() error {
	if !inv.Total.IsPositive() {
		return ErrNonPositiveTotal
	}
	if inv.Status == StatusPaid {
		return ErrAlreadyPaid
	}
	if !inv.Status.CanTransition(StatusSent) {
		return fmt.Errorf("%w: %s", ErrNotPayable, inv.Status)
	}
	return nil
}
