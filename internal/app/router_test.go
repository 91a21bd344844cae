package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-invoice/internal/auth"
	"github.com/noah-isme/backend-invoice/internal/health"
	"github.com/noah-isme/backend-invoice/internal/invoice"
	"github.com/noah-isme/backend-invoice/internal/payment"
	"github.com/noah-isme/backend-invoice/internal/ratelimit"
)

const callerID = "6f1c2a3b-0000-4000-8000-000000000001"

type staticParser struct{}

func (staticParser) ParseAccessToken(token string) (string, error) {
	if token != "good" {
		return "", errors.New("bad token")
	}
	return callerID, nil
}

type emptyStore struct{ invoice.Store }

func (emptyStore) Get(context.Context, uuid.UUID) (invoice.Invoice, error) {
	return invoice.Invoice{}, invoice.ErrNotFound
}

type nopProvider struct{}

func (nopProvider) CreateCheckoutSession(context.Context, payment.SessionRequest) (payment.Session, error) {
	return payment.Session{}, errors.New("unexpected call")
}

func newTestRouter(t *testing.T, cfg RouterConfig) http.Handler {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	cfg.RequireAuth = auth.Middleware{Parser: staticParser{}}.RequireAuth
	cfg.Payments = &payment.Handler{Svc: &payment.Service{Store: emptyStore{}, Provider: nopProvider{}}}
	if cfg.Webhook == nil {
		cfg.Webhook = payment.Webhook{Store: emptyStore{}}
	}
	return NewRouter(cfg)
}

func checkoutRequest(token string) *http.Request {
	body := `{"invoice_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout-sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestRouterCheckoutRequiresAuth(t *testing.T) {
	router := newTestRouter(t, RouterConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, checkoutRequest(""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, checkoutRequest("good"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Invoice not found")
}

func TestRouterWebhookSkipsAuth(t *testing.T) {
	router := newTestRouter(t, RouterConfig{WebhookMaxBody: 1 << 10})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code, "unconfigured secret, but no auth challenge")
	require.Contains(t, rec.Body.String(), "Webhook secret not configured")

	big := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(strings.Repeat("x", 2<<10)))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, big)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRouterRateLimitsCheckout(t *testing.T) {
	store, err := ratelimit.NewStore(nil, "router-test")
	require.NoError(t, err)
	lim, err := ratelimit.New(store, "1-M")
	require.NoError(t, err)
	router := newTestRouter(t, RouterConfig{CheckoutLimiter: lim})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, checkoutRequest("good"))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, checkoutRequest("good"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRouterHealthAndFallbacks(t *testing.T) {
	router := newTestRouter(t, RouterConfig{Health: health.Handler{}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout-sessions", nil)
	req.Header.Set("Origin", "https://saskij.github.io")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	router.ServeHTTP(rec, req)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
