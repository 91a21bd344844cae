package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ServerConfig configures the asynq worker server.
type ServerConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// NewServer builds an asynq server that consumes the payments queue.
func NewServer(redisOpt asynq.RedisConnOpt, cfg ServerConfig) *asynq.Server {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	logger := cfg.Logger
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{PaymentsQueue: 1},
		ShutdownTimeout: shutdown,
		Logger:          asynqLogger{log: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			evt := logger.Warn()
			if errors.Is(err, asynq.SkipRetry) || retried >= maxRetry {
				evt = logger.Error()
			}
			evt.Err(err).Str("task_type", task.Type()).Int("retry", retried).Int("max_retry", maxRetry).Msg("task failed")
		}),
	})
}

// NewServeMux routes task types to their handlers.
func NewServeMux(relink *RelinkHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(observe)
	mux.Handle(TypeRelinkSession, relink)
	return mux
}

func observe(next asynq.Handler) asynq.Handler {
	tracer := otel.Tracer("invoice/queue")
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		ctx, span := tracer.Start(ctx, "task "+task.Type())
		defer span.End()
		if id, ok := asynq.GetTaskID(ctx); ok {
			span.SetAttributes(attribute.String("task.id", id))
		}
		err := next.ProcessTask(ctx, task)
		status := "ok"
		switch {
		case errors.Is(err, asynq.SkipRetry):
			status = "skipped"
		case err != nil:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		QueueProcessedTotal.WithLabelValues(task.Type(), status).Inc()
		return err
	})
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
