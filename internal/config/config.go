package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DBAutoMigrate      bool
	RedisURL           string
	CORSAllowedOrigins []string

	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	JWTClockSkew time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAccountID     string
	StripeAPIURL        string
	StripeTimeout       time.Duration
	StripeCurrency      string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	CheckoutRateLimit   string

	WebhookTolerance    time.Duration
	WebhookSeenTTL      time.Duration
	WebhookMaxBodyBytes int64

	CircuitStripeMinReq      int
	CircuitStripeFailureRate float64
	CircuitStripeOpenFor     time.Duration

	QueueRelinkMaxRetry int
	WorkerConcurrency   int
}

const (
	defaultSuccessURL = "https://saskij.github.io/invoice-app/success?session_id={CHECKOUT_SESSION_ID}"
	defaultCancelURL  = "https://saskij.github.io/invoice-app/cancel"
)

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		DBAutoMigrate:      parseBool(k.String("DB_AUTO_MIGRATE")),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		JWTSecret:    k.String("JWT_SECRET"),
		JWTIssuer:    strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:  valueOrDefault(k.String("JWT_AUDIENCE"), "authenticated"),
		JWTClockSkew: parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),

		StripeSecretKey:     strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(k.String("STRIPE_WEBHOOK_SECRET")),
		StripeAccountID:     strings.TrimSpace(k.String("STRIPE_ACCOUNT_ID")),
		StripeAPIURL:        strings.TrimSpace(k.String("STRIPE_API_URL")),
		StripeTimeout:       parseDuration(k.String("STRIPE_TIMEOUT"), "10s"),
		StripeCurrency:      strings.ToLower(valueOrDefault(k.String("STRIPE_CURRENCY"), "usd")),
		CheckoutSuccessURL:  valueOrDefault(k.String("CHECKOUT_SUCCESS_URL"), defaultSuccessURL),
		CheckoutCancelURL:   valueOrDefault(k.String("CHECKOUT_CANCEL_URL"), defaultCancelURL),
		CheckoutRateLimit:   valueOrDefault(k.String("CHECKOUT_RATE_LIMIT"), "10-M"),

		WebhookTolerance:    parseDuration(k.String("WEBHOOK_TOLERANCE"), "5m"),
		WebhookSeenTTL:      parseDuration(k.String("WEBHOOK_SEEN_TTL"), "72h"),
		WebhookMaxBodyBytes: int64(atoiDefault(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20)),

		CircuitStripeMinReq:      atoiDefault(k.String("CIRCUIT_STRIPE_MIN_REQ"), 10),
		CircuitStripeFailureRate: floatDefault(k.String("CIRCUIT_STRIPE_FAILURE_RATE"), 0.5),
		CircuitStripeOpenFor:     parseDuration(k.String("CIRCUIT_STRIPE_OPEN_FOR"), "30s"),

		QueueRelinkMaxRetry: atoiDefault(k.String("QUEUE_RELINK_MAX_RETRY"), 10),
		WorkerConcurrency:   atoiDefault(k.String("WORKER_CONCURRENCY"), 5),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// StripeConfigured reports whether checkout sessions can be created.
func (c *Config) StripeConfigured() bool {
	return c.StripeSecretKey != ""
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func atoiDefault(value string, def int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return def
	}
	return parsed
}

func floatDefault(value string, def float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return def
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
