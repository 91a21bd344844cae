package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/invoice"
	"github.com/noah-isme/backend-invoice/internal/obs"
)

// Webhook outcomes, used as metric labels.
const (
	webhookPaid           = "paid"
	webhookUnreconciled   = "paid_unreconciled"
	webhookIgnored        = "ignored"
	webhookDuplicate      = "duplicate"
	webhookAlreadyPaid    = "already_paid"
	webhookNotFound       = "not_found"
	webhookMissingSession = "missing_session"
	webhookInvalid        = "invalid_signature"
	webhookMalformed      = "malformed"
	webhookLookupFailed   = "lookup_failed"
	webhookError          = "error"
)

// Webhook applies verified Stripe events to invoices.
type Webhook struct {
	Verifier SignatureVerifier
	Store    invoice.Store
	// Seen is optional; when nil every delivery reaches the store.
	Seen   SeenCache
	Logger zerolog.Logger
	Now    func() time.Time
}

type webhookAck struct {
	Received bool `json:"received"`
}

// ServeHTTP processes a single webhook delivery. It acknowledges everything
// except an invalid signature, a malformed body or a failed paid update.
func (h Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.Logger.With().Str("component", "payment.webhook").Logger()
	if h.Store == nil || strings.TrimSpace(h.Verifier.Secret) == "" {
		log.Error().Msg("webhook secret or store not configured")
		http.Error(w, "Webhook secret not configured", http.StatusInternalServerError)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		obs.ObservePaymentWebhook("", webhookMalformed)
		http.Error(w, "Unable to read payload", http.StatusBadRequest)
		return
	}
	header := r.Header.Get(SignatureHeader)
	if strings.TrimSpace(header) == "" {
		obs.ObservePaymentWebhook("", webhookInvalid)
		log.Warn().Msg("missing signature header")
		http.Error(w, "Missing signature", http.StatusBadRequest)
		return
	}
	if !h.verify(body, header) {
		obs.ObservePaymentWebhook("", webhookInvalid)
		log.Warn().Msg("invalid webhook signature")
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}
	evt, err := ParseEvent(body)
	if err != nil {
		obs.ObservePaymentWebhook("", webhookMalformed)
		log.Warn().Err(err).Msg("malformed webhook payload")
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ctx, span := otel.Tracer("payment.Webhook").Start(r.Context(), "PaymentWebhook.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("stripe.event_id", evt.EventID()),
		attribute.String("stripe.event_type", evt.EventType()),
	)
	log = log.With().Str("event_id", evt.EventID()).Str("event_type", evt.EventType()).Logger()

	if h.Seen != nil && h.Seen.Seen(ctx, evt.EventID()) {
		obs.ObservePaymentWebhook(evt.EventType(), webhookDuplicate)
		log.Debug().Msg("event already processed")
		h.ack(w)
		return
	}
	h.record(ctx, log, evt, body)

	var result string
	switch e := evt.(type) {
	case CheckoutSessionCompleted:
		result, err = h.applyCompleted(ctx, log, e)
	default:
		result = webhookIgnored
		log.Debug().Msg("ignoring event type")
	}
	span.SetAttributes(attribute.String("webhook.result", result))
	obs.ObservePaymentWebhook(evt.EventType(), result)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("webhook processing failed")
		http.Error(w, "Failed to update invoice", http.StatusInternalServerError)
		return
	}
	// A failed lookup is acknowledged but stays unmarked so a manual resend
	// from the dashboard is processed again.
	if h.Seen != nil && result != webhookLookupFailed {
		h.Seen.Mark(ctx, evt.EventID())
	}
	h.ack(w)
}

func (h Webhook) applyCompleted(ctx context.Context, log zerolog.Logger, e CheckoutSessionCompleted) (string, error) {
	if e.Session == nil {
		log.Warn().Msg("checkout.session.completed without session object")
		return webhookMissingSession, nil
	}
	s := e.Session
	log = log.With().Str("session_id", s.ID).Logger()

	inv, err := h.Store.GetBySessionID(ctx, s.ID)
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			log.Warn().Msg("no invoice linked to session")
			return webhookNotFound, nil
		}
		log.Error().Err(err).Msg("invoice lookup failed; acknowledging without update")
		return webhookLookupFailed, nil
	}
	log = log.With().Str("invoice_id", inv.ID.String()).Logger()
	if inv.Status == invoice.StatusPaid {
		log.Info().Msg("invoice already paid")
		return webhookAlreadyPaid, nil
	}
	applied, err := h.Store.MarkPaid(ctx, invoice.Payment{
		InvoiceID:       inv.ID,
		PaymentIntentID: s.PaymentIntentID,
		AmountPaidCents: s.AmountTotal,
		PaidAt:          h.now(),
	})
	if err != nil {
		return webhookError, err
	}
	if !applied {
		log.Info().Msg("invoice paid by a concurrent delivery")
		return webhookAlreadyPaid, nil
	}
	if s.PaymentIntentID == "" {
		log.Warn().Int64("amount_paid_cents", s.AmountTotal).Msg("invoice marked paid without payment intent")
		return webhookUnreconciled, nil
	}
	log.Info().Int64("amount_paid_cents", s.AmountTotal).Msg("invoice marked paid")
	return webhookPaid, nil
}

// record stores the event for audit. Failures never affect the response.
func (h Webhook) record(ctx context.Context, log zerolog.Logger, evt Event, body []byte) {
	if evt.EventID() == "" {
		return
	}
	err := h.Store.RecordEvent(ctx, invoice.EventRecord{
		EventID:    evt.EventID(),
		Type:       evt.EventType(),
		Payload:    body,
		ReceivedAt: h.now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("record webhook event")
	}
}

func (h Webhook) verify(body []byte, header string) bool {
	v := h.Verifier
	if v.Now == nil {
		v.Now = h.Now
	}
	return v.Verify(body, header)
}

func (h Webhook) ack(w http.ResponseWriter) {
	common.JSON(w, http.StatusOK, webhookAck{Received: true})
}

func (h Webhook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
