// Package ratelimit throttles authenticated callers with a fixed-window
// limiter shared across API replicas through Redis.
package ratelimit

import (
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultPrefix namespaces limiter keys in Redis.
const DefaultPrefix = "invoice:ratelimit"

// NewStore returns a Redis backed store, or a process-local one when rdb is nil.
func NewStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	opts := limiter.StoreOptions{Prefix: prefix}
	if rdb == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, opts)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return store, nil
}

// New builds a limiter from a formatted rate such as "10-M" (ten per minute).
func New(store limiter.Store, rate string) (*limiter.Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(strings.TrimSpace(rate))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	return limiter.New(store, parsed), nil
}
