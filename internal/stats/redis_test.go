package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"distributed-ratelimiter/internal/stats"
)

func TestRedisStore_RecordsTotalsAndRoutes(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	defer srv.Close()

	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer rdb.Close()

	s := stats.NewRedisStore(rdb, stats.WithPrefix("rl:stats:test"), stats.WithBucket("none"))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, stats.Event{Allowed: true, Method: "GET", Path: "/orders", At: time.Now()}))
	require.NoError(t, s.Record(ctx, stats.Event{Allowed: false, Method: "GET", Path: "/orders", At: time.Now()}))

	total, err := rdb.HGetAll(ctx, "rl:stats:test:total").Result()
	require.NoError(t, err)
	require.Equal(t, "1", total["allowed"])
	require.Equal(t, "1", total["denied"])

	route, err := rdb.HGetAll(ctx, "rl:stats:test:route").Result()
	require.NoError(t, err)
	require.Equal(t, "1", route["GET /orders:allowed"])
	require.Equal(t, "1", route["GET /orders:denied"])
}

func TestRedisStore_NilClientIsNoop(t *testing.T) {
	var s *stats.RedisStore
	require.NoError(t, s.Record(context.Background(), stats.Event{}))
}
