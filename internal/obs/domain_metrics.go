package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutSessionTotal counts checkout session creation outcomes.
	CheckoutSessionTotal *prometheus.CounterVec
	// CheckoutSessionLatency records provider round-trip latency in milliseconds.
	CheckoutSessionLatency *prometheus.HistogramVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// SessionLinkTotal tracks persistence of checkout session linkage, including relinks.
	SessionLinkTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_session_total",
			Help:      "Count of checkout session creation outcomes.",
		}, []string{"result"})
		CheckoutSessionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_session_duration_ms",
			Help:      "Latency of checkout session creation in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"event_type", "result"})
		SessionLinkTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_session_link_total",
			Help:      "Count of checkout session link writes by outcome.",
		}, []string{"result"})

		CheckoutSessionTotal = registerOrReuse(reg, CheckoutSessionTotal)
		CheckoutSessionLatency = registerOrReuse(reg, CheckoutSessionLatency)
		PaymentWebhookTotal = registerOrReuse(reg, PaymentWebhookTotal)
		SessionLinkTotal = registerOrReuse(reg, SessionLinkTotal)
	})
}

// ObserveCheckoutSession records a checkout outcome when metrics are registered.
func ObserveCheckoutSession(result string, durationMS float64) {
	if CheckoutSessionTotal != nil {
		CheckoutSessionTotal.WithLabelValues(result).Inc()
	}
	if CheckoutSessionLatency != nil {
		CheckoutSessionLatency.WithLabelValues(result).Observe(durationMS)
	}
}

// ObservePaymentWebhook records a webhook outcome when metrics are registered.
func ObservePaymentWebhook(eventType, result string) {
	if PaymentWebhookTotal == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	PaymentWebhookTotal.WithLabelValues(eventType, result).Inc()
}

// ObserveSessionLink records a session link write outcome when metrics are registered.
func ObserveSessionLink(result string) {
	if SessionLinkTotal != nil {
		SessionLinkTotal.WithLabelValues(result).Inc()
	}
}
