package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/invoice"
	"github.com/noah-isme/backend-invoice/internal/obs"
)

// Relinker schedules a delayed retry of a session link that failed to persist.
type Relinker interface {
	EnqueueRelink(ctx context.Context, link invoice.SessionLink) error
}

// CheckoutRequest is a caller's request to pay one invoice.
type CheckoutRequest struct {
	InvoiceID       string
	StripeAccountID string
	IdempotencyKey  string
}

// CheckoutResult is returned once the provider has created a session.
type CheckoutResult struct {
	SessionID   string
	CheckoutURL string
	// Linked is false when the session could not be stored on the invoice.
	Linked bool
}

// Service opens checkout sessions for invoices.
type Service struct {
	Store      invoice.Store
	Provider   Provider
	Relinker   Relinker
	Logger     zerolog.Logger
	Currency   string
	SuccessURL string
	CancelURL  string
	Now        func() time.Time
}

// CreateCheckoutSession validates the caller and invoice, asks the provider
// for a hosted session and records it on the invoice.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID string, req CheckoutRequest) (CheckoutResult, error) {
	if s == nil || s.Store == nil || s.Provider == nil {
		return CheckoutResult{}, common.NewAppError(common.CodeInternal, "payment service not configured", http.StatusInternalServerError, nil)
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateCheckoutSession")
	defer span.End()

	start := s.now()
	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("checkout.result", result))
		obs.ObserveCheckoutSession(result, obs.DurationMillis(s.now().Sub(start)))
	}()

	callerID, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		result = "unauthorized"
		return CheckoutResult{}, common.Unauthorized("Unauthorized", err)
	}
	rawID := strings.TrimSpace(req.InvoiceID)
	if rawID == "" {
		result = "bad_request"
		return CheckoutResult{}, common.BadRequest("invoice_id is required", nil)
	}
	invoiceID, err := uuid.Parse(rawID)
	if err != nil {
		result = "bad_request"
		return CheckoutResult{}, common.BadRequest("invoice_id must be a valid identifier", err)
	}
	span.SetAttributes(attribute.String("invoice.id", invoiceID.String()))

	inv, err := s.Store.Get(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			result = "not_found"
			return CheckoutResult{}, common.NotFound("Invoice not found", err)
		}
		span.RecordError(err)
		return CheckoutResult{}, common.Persistence("failed to load invoice", err)
	}
	if inv.UserID != callerID {
		result = "forbidden"
		return CheckoutResult{}, common.Forbidden("You do not have access to this invoice")
	}
	if err := inv.Payable(); err != nil {
		result = "unprocessable"
		switch {
		case errors.Is(err, invoice.ErrNonPositiveTotal):
			return CheckoutResult{}, common.Unprocessable("Invoice total must be positive")
		case errors.Is(err, invoice.ErrAlreadyPaid):
			return CheckoutResult{}, common.Unprocessable("Invoice already paid")
		default:
			return CheckoutResult{}, common.Unprocessable("Invoice cannot be paid in its current status")
		}
	}
	cents, err := invoice.ToMinorUnits(inv.Total)
	if err != nil {
		result = "unprocessable"
		return CheckoutResult{}, common.Unprocessable("Invoice total is out of range")
	}

	session, err := s.Provider.CreateCheckoutSession(ctx, SessionRequest{
		InvoiceID:      inv.ID.String(),
		ProductName:    inv.ProductLabel(),
		AmountCents:    cents,
		Currency:       s.currency(),
		SuccessURL:     s.SuccessURL,
		CancelURL:      s.CancelURL,
		StripeAccount:  strings.TrimSpace(req.StripeAccountID),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		span.RecordError(err)
		result = "provider_error"
		return CheckoutResult{}, providerFailure(err)
	}
	span.SetAttributes(attribute.String("checkout.session_id", session.ID))

	out := CheckoutResult{SessionID: session.ID, CheckoutURL: session.URL, Linked: true}
	previous := inv.StripeSessionID
	link := invoice.SessionLink{
		InvoiceID:   inv.ID,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		At:          s.now(),
	}
	if err := s.Store.AttachSession(ctx, link); err != nil {
		out.Linked = false
		result = "link_failed"
		obs.ObserveSessionLink("failed")
		span.RecordError(err)
		s.Logger.Error().Err(err).
			Str("invoice_id", inv.ID.String()).
			Str("session_id", session.ID).
			Msg("checkout session created but not linked to invoice")
		if s.Relinker != nil && !errors.Is(err, invoice.ErrAlreadyPaid) && !errors.Is(err, invoice.ErrNotPayable) {
			link.ExpectPrevious = &previous
			if qerr := s.Relinker.EnqueueRelink(context.WithoutCancel(ctx), link); qerr != nil {
				s.Logger.Error().Err(qerr).Str("invoice_id", inv.ID.String()).Msg("enqueue session relink")
			}
		}
		return out, nil
	}
	obs.ObserveSessionLink("linked")
	result = "success"
	return out, nil
}

// InvoicePayment returns the payment state of an invoice owned by userID.
func (s *Service) InvoicePayment(ctx context.Context, userID, invoiceID string) (invoice.Invoice, error) {
	if s == nil || s.Store == nil {
		return invoice.Invoice{}, common.NewAppError(common.CodeInternal, "payment service not configured", http.StatusInternalServerError, nil)
	}
	callerID, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return invoice.Invoice{}, common.Unauthorized("Unauthorized", err)
	}
	id, err := uuid.Parse(strings.TrimSpace(invoiceID))
	if err != nil {
		return invoice.Invoice{}, common.BadRequest("invoice id must be a valid identifier", err)
	}
	inv, err := s.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			return invoice.Invoice{}, common.NotFound("Invoice not found", err)
		}
		return invoice.Invoice{}, common.Persistence("failed to load invoice", err)
	}
	if inv.UserID != callerID {
		return invoice.Invoice{}, common.Forbidden("You do not have access to this invoice")
	}
	return inv, nil
}

func providerFailure(err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		appErr := common.ExternalService("Payment provider error: "+pe.Message, err)
		appErr.Details = map[string]any{"provider_status": pe.StatusCode}
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.ExternalService("Payment provider timed out", err)
	}
	return common.ExternalService("Payment provider error", err)
}

func (s *Service) currency() string {
	if c := strings.ToLower(strings.TrimSpace(s.Currency)); c != "" {
		return c
	}
	return "usd"
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
