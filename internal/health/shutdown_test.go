package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-invoice/internal/health"
)

type noopChecker struct{}

func (noopChecker) PingDB(context.Context, time.Duration) error    { return nil }
func (noopChecker) PingRedis(context.Context, time.Duration) error { return nil }

func TestReadinessAfterShutdown(t *testing.T) {
	gate := &health.Gate{}
	handler := health.Handler{Checker: noopChecker{}, Gate: gate}

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)

	resp := httptest.NewRecorder()
	handler.Ready(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	gate.SetReady(false)
	resp2 := httptest.NewRecorder()
	handler.Ready(resp2, req)
	require.Equal(t, http.StatusServiceUnavailable, resp2.Code)
	require.JSONEq(t, `{"status":"draining"}`, resp2.Body.String())
}

func TestDepsPingRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	deps := health.Deps{Redis: client}
	require.NoError(t, deps.PingRedis(context.Background(), time.Second))
	require.Error(t, deps.PingDB(context.Background(), time.Second), "missing pool is not ready")

	mr.Close()
	require.Error(t, deps.PingRedis(context.Background(), 200*time.Millisecond))
	require.NoError(t, health.Deps{}.PingRedis(context.Background(), time.Second))
}
