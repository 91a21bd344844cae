package payment

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisSeenCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	cache := RedisSeenCache{Client: client, TTL: time.Hour}
	require.False(t, cache.Seen(ctx, "evt_1"))

	cache.Mark(ctx, "evt_1")
	require.True(t, cache.Seen(ctx, "evt_1"))
	require.True(t, mr.Exists("wh:stripe:evt_1"))
	require.Equal(t, time.Hour, mr.TTL("wh:stripe:evt_1"))
	require.False(t, cache.Seen(ctx, "evt_2"))

	mr.FastForward(time.Hour + time.Second)
	require.False(t, cache.Seen(ctx, "evt_1"), "entries expire with the ttl")
}

func TestRedisSeenCacheFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	cache := RedisSeenCache{Client: client, Prefix: "test:"}
	cache.Mark(context.Background(), "evt_1")
	require.False(t, cache.Seen(context.Background(), "evt_1"))
	require.False(t, RedisSeenCache{}.Seen(context.Background(), "evt_1"))
}
