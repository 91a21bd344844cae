package resilience

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Transport is an http.RoundTripper that consults a Breaker before each call.
// Transport errors and 5xx responses count as failures. It never retries.
type Transport struct {
	Base    http.RoundTripper
	Breaker *Breaker
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Breaker == nil {
		return base.RoundTrip(req)
	}
	ctx := req.Context()
	if !t.Breaker.Allow(ctx) {
		BreakerRejectedTotal.WithLabelValues(t.Breaker.targetLabel()).Inc()
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, ErrOpenCircuit)
	}
	resp, err := base.RoundTrip(req)
	t.Breaker.Report(ctx, err == nil && resp.StatusCode < http.StatusInternalServerError)
	return resp, err
}

// ClientConfig configures NewHTTPClient.
type ClientConfig struct {
	Timeout time.Duration
	Breaker *Breaker
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// NewHTTPClient returns a client whose outbound calls are traced and guarded
// by the breaker.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	guarded := &Transport{Base: cfg.Base, Breaker: cfg.Breaker}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(guarded),
	}
}
