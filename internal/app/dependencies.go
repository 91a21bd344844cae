// Package app assembles the infrastructure and HTTP surface shared by the
// binaries.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-invoice/internal/config"
	"github.com/noah-isme/backend-invoice/internal/db"
	"github.com/noah-isme/backend-invoice/internal/obs"
)

// Dependencies enumerates the connections a binary owns.
type Dependencies struct {
	DB         *pgxpool.Pool
	Redis      *redis.Client
	TaskClient *asynq.Client
	RedisOpt   asynq.RedisConnOpt
	logger     zerolog.Logger
}

// Options tunes Open.
type Options struct {
	ApplicationName string
	RedisMetrics    bool
	// AutoMigrate applies pending migrations before the pool opens.
	AutoMigrate bool
}

// Open connects to Postgres and Redis and prepares the asynq client. On error
// everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (deps *Dependencies, err error) {
	deps = &Dependencies{logger: logger}
	defer func() {
		if err != nil {
			deps.Close()
			deps = nil
		}
	}()

	if opts.AutoMigrate {
		if err = db.Up(cfg.DatabaseURL); err != nil {
			return deps, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info().Msg("database migrations applied")
	}
	if deps.DB, err = NewPool(ctx, cfg.DatabaseURL, opts.ApplicationName); err != nil {
		return deps, err
	}
	if deps.Redis, err = NewRedis(ctx, cfg.RedisURL, opts.RedisMetrics, logger); err != nil {
		return deps, err
	}
	if deps.RedisOpt, err = asynq.ParseRedisURI(cfg.RedisURL); err != nil {
		return deps, fmt.Errorf("parse redis url for asynq: %w", err)
	}
	deps.TaskClient = asynq.NewClient(deps.RedisOpt)
	return deps, nil
}

// Close releases every opened connection.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.TaskClient != nil {
		if err := d.TaskClient.Close(); err != nil {
			d.logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// NewPool opens a traced pgx pool and checks connectivity.
func NewPool(ctx context.Context, databaseURL, applicationName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if name := strings.TrimSpace(applicationName); name != "" {
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = name
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis opens an instrumented Redis client and checks connectivity.
// Instrumentation failures are logged and do not abort startup.
func NewRedis(ctx context.Context, redisURL string, withMetrics bool, logger zerolog.Logger) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
