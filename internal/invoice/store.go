package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("invoice: not found")
	ErrAlreadyPaid       = errors.New("invoice: already paid")
	ErrNonPositiveTotal  = errors.New("invoice: total must be positive")
	ErrNotPayable        = errors.New("invoice: status does not allow payment")
	ErrSessionSuperseded = errors.New("invoice: a newer checkout session is linked")
)

// SessionLink records a freshly created checkout session on an invoice.
type SessionLink struct {
	InvoiceID   uuid.UUID
	SessionID   string
	CheckoutURL string
	At          time.Time
	// ExpectPrevious, when set, only applies the link while the invoice still
	// carries that session id ("" meaning none). Used by delayed relinks.
	ExpectPrevious *string
}

// Payment is the completion metadata written when an invoice becomes paid.
type Payment struct {
	InvoiceID       uuid.UUID
	PaymentIntentID string
	AmountPaidCents int64
	PaidAt          time.Time
}

// EventRecord is an audit row for a verified provider event.
type EventRecord struct {
	EventID    string
	Type       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Store is the persistence contract of the payment core.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Invoice, error)
	GetBySessionID(ctx context.Context, sessionID string) (Invoice, error)
	// AttachSession sets the session id, checkout url and status=sent unless
	// the invoice is paid (ErrAlreadyPaid) or a newer session is linked
	// (ErrSessionSuperseded, only with ExpectPrevious).
	AttachSession(ctx context.Context, link SessionLink) error
	// MarkPaid applies the paid transition as a single conditional write.
	// It reports false when the invoice was already paid.
	MarkPaid(ctx context.Context, p Payment) (bool, error)
	RecordEvent(ctx context.Context, rec EventRecord) error
}
