package payment

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SeenCache remembers webhook events that were fully processed.
type SeenCache interface {
	Seen(ctx context.Context, eventID string) bool
	Mark(ctx context.Context, eventID string)
}

// RedisSeenCache implements SeenCache with SETNX keys. Redis failures are
// treated as "not seen"; the conditional paid update still guards correctness.
type RedisSeenCache struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func (c RedisSeenCache) key(eventID string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "wh:stripe:"
	}
	return prefix + eventID
}

// Seen reports whether eventID was marked within the TTL.
func (c RedisSeenCache) Seen(ctx context.Context, eventID string) bool {
	if c.Client == nil || eventID == "" {
		return false
	}
	n, err := c.Client.Exists(ctx, c.key(eventID)).Result()
	return err == nil && n > 0
}

// Mark records eventID as processed.
func (c RedisSeenCache) Mark(ctx context.Context, eventID string) {
	if c.Client == nil || eventID == "" {
		return
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	_ = c.Client.SetNX(ctx, c.key(eventID), "1", ttl).Err()
}
