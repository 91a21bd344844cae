package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-invoice/internal/invoice"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InvoiceStore implements invoice.Store on Postgres.
type InvoiceStore struct {
	DB DBTX
}

var _ invoice.Store = InvoiceStore{}

const invoiceColumns = `id, user_id, invoice_number, line_items, total::text, status,
	coalesce(stripe_session_id, ''), coalesce(stripe_checkout_url, ''),
	coalesce(stripe_payment_intent_id, ''), coalesce(amount_paid_cents, 0),
	coalesce(paid_amount, 0)::text, paid_at, updated_at`

const getInvoiceByID = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

const getInvoiceBySession = `SELECT ` + invoiceColumns + ` FROM invoices WHERE stripe_session_id = $1`

const attachSession = `UPDATE invoices
SET stripe_session_id = $2,
	stripe_checkout_url = $3,
	status = 'sent',
	updated_at = $4
WHERE id = $1
	AND status <> 'paid'
	AND ($5::boolean IS FALSE OR coalesce(stripe_session_id, '') = $6)`

const linkState = `SELECT status, coalesce(stripe_session_id, '') FROM invoices WHERE id = $1`

// markPaid is the compare-and-swap that guarantees at-most-once application.
const markPaid = `UPDATE invoices
SET status = 'paid',
	paid_at = $2,
	stripe_payment_intent_id = NULLIF($3, ''),
	amount_paid_cents = $4,
	paid_amount = total,
	updated_at = $2
WHERE id = $1
	AND status <> 'paid'`

const insertEvent = `INSERT INTO stripe_events (event_id, type, payload, received_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id) DO NOTHING`

// Get loads an invoice by primary key.
func (s InvoiceStore) Get(ctx context.Context, id uuid.UUID) (invoice.Invoice, error) {
	return scanInvoice(s.DB.QueryRow(ctx, getInvoiceByID, id))
}

// GetBySessionID loads the invoice currently linked to a checkout session.
func (s InvoiceStore) GetBySessionID(ctx context.Context, sessionID string) (invoice.Invoice, error) {
	if sessionID == "" {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	return scanInvoice(s.DB.QueryRow(ctx, getInvoiceBySession, sessionID))
}

// AttachSession links a checkout session and moves the invoice to sent.
func (s InvoiceStore) AttachSession(ctx context.Context, link invoice.SessionLink) error {
	at := link.At
	if at.IsZero() {
		at = time.Now()
	}
	guarded := link.ExpectPrevious != nil
	previous := ""
	if guarded {
		previous = *link.ExpectPrevious
	}
	tag, err := s.DB.Exec(ctx, attachSession, link.InvoiceID, link.SessionID, link.CheckoutURL, at.UTC(), guarded, previous)
	if err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var (
		status  string
		current string
	)
	if err := s.DB.QueryRow(ctx, linkState, link.InvoiceID).Scan(&status, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return invoice.ErrNotFound
		}
		return fmt.Errorf("attach session state: %w", err)
	}
	if invoice.Status(status) == invoice.StatusPaid {
		return invoice.ErrAlreadyPaid
	}
	if current == link.SessionID {
		return nil
	}
	return invoice.ErrSessionSuperseded
}

// MarkPaid applies the paid transition unless the invoice is already paid.
func (s InvoiceStore) MarkPaid(ctx context.Context, p invoice.Payment) (bool, error) {
	paidAt := p.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	tag, err := s.DB.Exec(ctx, markPaid, p.InvoiceID, paidAt.UTC(), p.PaymentIntentID, p.AmountPaidCents)
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordEvent stores the verified provider event; duplicates are ignored.
func (s InvoiceStore) RecordEvent(ctx context.Context, rec invoice.EventRecord) error {
	receivedAt := rec.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	payload := rec.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}
	if _, err := s.DB.Exec(ctx, insertEvent, rec.EventID, rec.Type, []byte(payload), receivedAt.UTC()); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func scanInvoice(row pgx.Row) (invoice.Invoice, error) {
	var (
		inv        invoice.Invoice
		lineItems  []byte
		total      string
		status     string
		paidAmount string
	)
	err := row.Scan(
		&inv.ID,
		&inv.UserID,
		&inv.InvoiceNumber,
		&lineItems,
		&total,
		&status,
		&inv.StripeSessionID,
		&inv.StripeCheckoutURL,
		&inv.StripePaymentIntentID,
		&inv.AmountPaidCents,
		&paidAmount,
		&inv.PaidAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return invoice.Invoice{}, invoice.ErrNotFound
		}
		return invoice.Invoice{}, fmt.Errorf("scan invoice: %w", err)
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &inv.LineItems); err != nil {
			return invoice.Invoice{}, fmt.Errorf("decode line items: %w", err)
		}
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return invoice.Invoice{}, fmt.Errorf("decode total: %w", err)
	}
	if inv.PaidAmount, err = decimal.NewFromString(paidAmount); err != nil {
		return invoice.Invoice{}, fmt.Errorf("decode paid amount: %w", err)
	}
	if inv.Status, err = invoice.ParseStatus(status); err != nil {
		return invoice.Invoice{}, err
	}
	return inv, nil
}
