package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStripeTestServer(t *testing.T, handler http.HandlerFunc) *StripeProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewStripeProvider(StripeConfig{
		APIKey:     "sk_test_123",
		AccountID:  "acct_default",
		APIURL:     srv.URL,
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
	})
	require.NoError(t, err)
	return p
}

func TestStripeProviderCreatesSingleLineItemSession(t *testing.T) {
	var (
		form    map[string]string
		headers http.Header
		path    string
	)
	p := newStripeTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		headers = r.Header.Clone()
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_abc","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_abc"}`))
	})

	sess, err := p.CreateCheckoutSession(context.Background(), SessionRequest{
		InvoiceID:      "0b9f3a2e-6c1d-4e7a-9f00-5a4c3b2a1f10",
		ProductName:    "Website redesign",
		AmountCents:    15000,
		Currency:       "USD",
		SuccessURL:     "https://app.example/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      "https://app.example/cancel",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	require.Equal(t, Session{ID: "cs_abc", URL: "https://checkout.stripe.com/c/pay/cs_abc"}, sess)

	require.Equal(t, "/v1/checkout/sessions", path)
	require.Equal(t, "Bearer sk_test_123", headers.Get("Authorization"))
	require.Equal(t, "acct_default", headers.Get("Stripe-Account"))
	require.Equal(t, "idem-1", headers.Get("Idempotency-Key"))
	require.Equal(t, "payment", form["mode"])
	require.Equal(t, "1", form["line_items[0][quantity]"])
	require.Equal(t, "15000", form["line_items[0][price_data][unit_amount]"])
	require.Equal(t, "usd", form["line_items[0][price_data][currency]"])
	require.Equal(t, "Website redesign", form["line_items[0][price_data][product_data][name]"])
	require.Equal(t, "0b9f3a2e-6c1d-4e7a-9f00-5a4c3b2a1f10", form["metadata[invoice_id]"])
	require.Equal(t, "https://app.example/success?session_id={CHECKOUT_SESSION_ID}", form["success_url"])
}

func TestStripeProviderRequestAccountOverridesDefault(t *testing.T) {
	var account string
	var keys []string
	p := newStripeTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		account = r.Header.Get("Stripe-Account")
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://checkout.stripe.com/c/pay/cs_1"}`))
	})
	req := SessionRequest{InvoiceID: "inv", ProductName: "x", AmountCents: 1, Currency: "usd", StripeAccount: "acct_connected"}
	for range 2 {
		_, err := p.CreateCheckoutSession(context.Background(), req)
		require.NoError(t, err)
	}
	require.Equal(t, "acct_connected", account)
	// Without a caller key stripe-go generates a fresh one per call, so two
	// clicks still open two sessions.
	require.Len(t, keys, 2)
	require.NotEqual(t, keys[0], keys[1])
}

func TestStripeProviderMapsAPIErrors(t *testing.T) {
	calls := 0
	p := newStripeTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"amount_too_small","message":"Amount must be at least 50 cents"}}`))
	})
	_, err := p.CreateCheckoutSession(context.Background(), SessionRequest{InvoiceID: "inv", ProductName: "x", AmountCents: 1, Currency: "usd"})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, http.StatusBadRequest, pe.StatusCode)
	require.Equal(t, "amount_too_small", pe.Code)
	require.Equal(t, "Amount must be at least 50 cents", pe.Message)
	require.Equal(t, 1, calls)
}

func TestStripeProviderDoesNotRetryServerErrors(t *testing.T) {
	calls := 0
	p := newStripeTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"try later"}}`))
	})
	_, err := p.CreateCheckoutSession(context.Background(), SessionRequest{InvoiceID: "inv", ProductName: "x", AmountCents: 100, Currency: "usd"})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	require.Equal(t, 1, calls)
}

func TestStripeProviderNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	p, err := NewStripeProvider(StripeConfig{APIKey: "sk_test_123", APIURL: srv.URL, HTTPClient: &http.Client{Timeout: time.Second}})
	require.NoError(t, err)

	_, err = p.CreateCheckoutSession(context.Background(), SessionRequest{InvoiceID: "inv", ProductName: "x", AmountCents: 100, Currency: "usd"})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	require.Zero(t, pe.StatusCode)
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	_, err := NewStripeProvider(StripeConfig{})
	require.Error(t, err)
}
