package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type checkoutSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the StripeProvider.
type StripeConfig struct {
	APIKey    string
	AccountID string
	// APIURL overrides the Stripe API base, used against local mocks.
	APIURL     string
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Sessions   checkoutSessionAPI
}

// StripeProvider opens Stripe Checkout sessions.
type StripeProvider struct {
	sessions checkoutSessionAPI
	account  string
	logger   zerolog.Logger
}

// NewStripeProvider constructs the provider. Network retries are disabled so
// a failed call is surfaced to the caller exactly once.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	sessions := cfg.Sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		backendCfg := &stripe.BackendConfig{
			HTTPClient:        cfg.HTTPClient,
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     stripeLogger{log: cfg.Logger},
		}
		if u := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"); u != "" {
			backendCfg.URL = stripe.String(u)
		}
		backends := &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
		}
		sessions = client.New(apiKey, backends).CheckoutSessions
	}
	return &StripeProvider{
		sessions: sessions,
		account:  strings.TrimSpace(cfg.AccountID),
		logger:   cfg.Logger,
	}, nil
}

// CreateCheckoutSession creates a one-time payment session with a single line item.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error) {
	if p == nil || p.sessions == nil {
		return Session{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ProductName),
				},
			},
		}},
	}
	params.Context = ctx
	params.AddMetadata("invoice_id", req.InvoiceID)
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	account := strings.TrimSpace(req.StripeAccount)
	if account == "" {
		account = p.account
	}
	if account != "" {
		params.SetStripeAccount(account)
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return Session{}, stripeError(err)
	}
	if session == nil || session.ID == "" || session.URL == "" {
		return Session{}, &ProviderError{StatusCode: http.StatusBadGateway, Message: "checkout session response missing id or url"}
	}
	p.logger.Debug().
		Str("session_id", session.ID).
		Str("invoice_id", req.InvoiceID).
		Msg("stripe checkout session created")
	return Session{ID: session.ID, URL: session.URL}, nil
}

func stripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = http.StatusText(se.HTTPStatusCode)
		}
		return &ProviderError{StatusCode: se.HTTPStatusCode, Code: string(se.Code), Message: msg, Err: err}
	}
	return &ProviderError{Message: err.Error(), Err: fmt.Errorf("stripe: create checkout session: %w", err)}
}

// stripeLogger routes stripe-go's internal logging through zerolog.
type stripeLogger struct {
	log zerolog.Logger
}

func (l stripeLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l stripeLogger) Infof(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l stripeLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l stripeLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
