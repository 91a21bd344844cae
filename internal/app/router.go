package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/health"
	"github.com/noah-isme/backend-invoice/internal/obs"
	"github.com/noah-isme/backend-invoice/internal/payment"
	"github.com/noah-isme/backend-invoice/internal/ratelimit"
	"github.com/noah-isme/backend-invoice/internal/security"
)

// RouterConfig lists the handlers and middleware mounted by NewRouter.
type RouterConfig struct {
	Logger          zerolog.Logger
	RequireAuth     func(http.Handler) http.Handler
	Payments        *payment.Handler
	Webhook         http.Handler
	Health          health.Handler
	CheckoutLimiter *limiter.Limiter
	HTTPMetrics     *obs.HTTPMetrics
	// Metrics serves /metrics when set.
	Metrics         http.Handler
	Tracing         bool
	CORSOrigins     []string
	WebhookMaxBody  int64
	SecurityHeaders security.Headers
}

// NewRouter builds the API routes. The webhook is mounted outside the
// authenticated group because the provider authenticates with a signature.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: cfg.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: cfg.Logger, SkipPaths: []string{"/health/live", "/health/ready", "/metrics"}}.Middleware)
	r.Use(cfg.SecurityHeaders.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", payment.SignatureHeader},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusMethodNotAllowed, common.CodeBadRequest, "Method not allowed", nil)
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	requireAuth := cfg.RequireAuth
	if requireAuth == nil {
		requireAuth = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "Unauthorized", nil)
			})
		}
	}
	limit := ratelimit.Handler{
		Limiter: cfg.CheckoutLimiter,
		Key:     ratelimit.UserKey("checkout"),
		OnError: func(err error) { cfg.Logger.Warn().Err(err).Msg("checkout rate limiter unavailable") },
	}

	r.Route("/api/v1", func(v chi.Router) {
		if cfg.Webhook != nil {
			v.With(security.BodyLimit{Max: cfg.WebhookMaxBody}.Middleware).Post("/webhooks/stripe", cfg.Webhook.ServeHTTP)
		}
		if cfg.Payments != nil {
			v.Group(func(authed chi.Router) {
				authed.Use(requireAuth)
				authed.With(limit.Middleware).Post("/checkout-sessions", cfg.Payments.CreateCheckoutSession)
				authed.Get("/invoices/{invoiceID}/payment", cfg.Payments.PaymentStatus)
			})
		}
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
