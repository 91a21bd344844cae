package payment

import (
	"context"
	"fmt"
)

// SessionRequest captures what the provider needs to open a hosted checkout.
type SessionRequest struct {
	InvoiceID      string
	ProductName    string
	AmountCents    int64
	Currency       string
	SuccessURL     string
	CancelURL      string
	StripeAccount  string
	IdempotencyKey string
}

// Session is the provider's answer to a checkout request.
type Session struct {
	ID  string
	URL string
}

// Provider abstracts the operations required from an upstream payment provider.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error)
}

// ProviderError is a failed provider call. StatusCode is zero when no HTTP
// response was received.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("payment provider returned %d: %s", e.StatusCode, e.Message)
	}
	return "payment provider unavailable: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }
