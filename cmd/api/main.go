package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-invoice/internal/app"
	"github.com/noah-isme/backend-invoice/internal/auth"
	"github.com/noah-isme/backend-invoice/internal/config"
	"github.com/noah-isme/backend-invoice/internal/health"
	"github.com/noah-isme/backend-invoice/internal/obs"
	"github.com/noah-isme/backend-invoice/internal/payment"
	"github.com/noah-isme/backend-invoice/internal/queue"
	"github.com/noah-isme/backend-invoice/internal/ratelimit"
	"github.com/noah-isme/backend-invoice/internal/repo"
	"github.com/noah-isme/backend-invoice/internal/resilience"
	"github.com/noah-isme/backend-invoice/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(obs.LogConfig{
		Format:  envOrDefault("OBS_LOG_FORMAT", "json"),
		Level:   envOrDefault("OBS_LOG_LEVEL", "info"),
		Service: "invoice-api",
	}).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "invoice")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "invoice-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.Open(startCtx, cfg, logger, app.Options{
		ApplicationName: "invoice-api",
		RedisMetrics:    metricsEnabled,
		AutoMigrate:     cfg.DBAutoMigrate,
	})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	store := repo.InvoiceStore{DB: deps.DB}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: cfg.JWTClockSkew,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Parser: verifier, Logger: logger.With().Str("component", "auth").Logger()}

	var provider payment.Provider
	if cfg.StripeConfigured() {
		breaker := resilience.NewBreaker(cfg.CircuitStripeMinReq, cfg.CircuitStripeFailureRate, cfg.CircuitStripeOpenFor).
			WithTarget("stripe").
			WithLogger(logger)
		stripeProvider, err := payment.NewStripeProvider(payment.StripeConfig{
			APIKey:     cfg.StripeSecretKey,
			AccountID:  cfg.StripeAccountID,
			APIURL:     cfg.StripeAPIURL,
			HTTPClient: resilience.NewHTTPClient(resilience.ClientConfig{Timeout: cfg.StripeTimeout, Breaker: breaker}),
			Logger:     logger.With().Str("component", "stripe").Logger(),
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise stripe provider")
		}
		provider = stripeProvider
	} else {
		logger.Warn().Msg("STRIPE_SECRET_KEY not set; checkout sessions are disabled")
	}
	if cfg.StripeWebhookSecret == "" {
		logger.Warn().Msg("STRIPE_WEBHOOK_SECRET not set; webhooks will be rejected")
	}

	paymentSvc := &payment.Service{
		Store:    store,
		Provider: provider,
		Relinker: &queue.Client{
			Asynq:    deps.TaskClient,
			MaxRetry: cfg.QueueRelinkMaxRetry,
			Logger:   logger.With().Str("component", "queue").Logger(),
		},
		Logger:     logger.With().Str("component", "payment.checkout").Logger(),
		Currency:   cfg.StripeCurrency,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
	}
	webhook := payment.Webhook{
		Verifier: payment.SignatureVerifier{Secret: cfg.StripeWebhookSecret, Tolerance: cfg.WebhookTolerance},
		Store:    store,
		Seen:     payment.RedisSeenCache{Client: deps.Redis, TTL: cfg.WebhookSeenTTL},
		Logger:   logger,
	}

	limiterStore, err := ratelimit.NewStore(deps.Redis, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limit store")
	}
	checkoutLimiter, err := ratelimit.New(limiterStore, cfg.CheckoutRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise checkout rate limit")
	}

	var httpMetrics *obs.HTTPMetrics
	var metricsHandler http.Handler
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", "")), nil)
		metricsHandler = promhttp.Handler()
	}

	gate := &health.Gate{}
	router := app.NewRouter(app.RouterConfig{
		Logger:      logger,
		RequireAuth: authMiddleware.RequireAuth,
		Payments: &payment.Handler{
			Svc:      paymentSvc,
			Validate: validator.New(validator.WithRequiredStructEnabled()),
		},
		Webhook: webhook,
		Health: health.Handler{
			Checker:      health.Deps{DB: deps.DB, Redis: deps.Redis},
			Gate:         gate,
			DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
			RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		},
		CheckoutLimiter: checkoutLimiter,
		HTTPMetrics:     httpMetrics,
		Metrics:         metricsHandler,
		Tracing:         tracingEnabled,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		WebhookMaxBody:  cfg.WebhookMaxBodyBytes,
		SecurityHeaders: security.Headers{
			Enable:     envBool("SECURE_HEADERS_ENABLE", true),
			EnableHSTS: envBool("SECURE_HSTS_ENABLE", cfg.AppEnv == "production"),
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	gate.SetReady(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}
