package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"permit-gateway/middleware/ratelimit/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allowedEvent(key string, permits int, wait time.Duration) domain.StatsEvent {
	return domain.StatsEvent{Key: domain.Key(key), Allowed: true, Permits: permits, Wait: wait, Method: "GET", Path: "/x"}
}

func deniedEvent(key string) domain.StatsEvent {
	return domain.StatsEvent{Key: domain.Key(key), Permits: 1, Method: "GET", Path: "/x"}
}

func TestMemoryStatsStore_Counts(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, allowedEvent("a", 2, 100*time.Millisecond)))
	require.NoError(t, s.Record(ctx, allowedEvent("a", 1, 0)))
	require.NoError(t, s.Record(ctx, deniedEvent("b")))

	assert.Equal(t, Counters{Allowed: 2, Denied: 1, Permits: 3, Waited: 100 * time.Millisecond}, s.Total())
	assert.Equal(t, s.Total(), s.ByRoute()["GET /x"])
	assert.Equal(t, int64(1), s.ByKey()["b"].Denied)
	assert.Equal(t, int64(3), s.ByKey()["a"].Permits)
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	require.NoError(t, s.Record(context.Background(), deniedEvent("b")))
	assert.Empty(t, s.ByKey())
}

func TestRedisStatsStore_Record(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStatsStore(rdb,
		WithStatsPrefix("test:stats:"),
		WithStatsTTL(time.Hour),
		WithStatsTrackKeys(true),
	)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ev := allowedEvent("client-1", 2, 1500*time.Microsecond)
	ev.At = at
	require.NoError(t, s.Record(ctx, ev))
	den := deniedEvent("client-1")
	den.At = at
	require.NoError(t, s.Record(ctx, den))

	assert.Equal(t, "1", mr.HGet("test:stats:total", "allowed"))
	assert.Equal(t, "1", mr.HGet("test:stats:total", "denied"))
	assert.Equal(t, "2", mr.HGet("test:stats:total", "permits"))
	assert.Equal(t, "1500", mr.HGet("test:stats:total", "wait_us"))

	minute := "test:stats:minute:202601020304"
	assert.Equal(t, "1", mr.HGet(minute, "allowed"))
	assert.Equal(t, time.Hour, mr.TTL(minute))
	assert.Zero(t, mr.TTL("test:stats:total"), "total never expires")

	assert.Equal(t, "1", mr.HGet("test:stats:route", "GET /x:allowed"))
	assert.Equal(t, "1", mr.HGet("test:stats:key:client-1", "denied"))
}

func TestRedisStatsStore_BucketNone(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStatsStore(rdb, WithStatsBucket(" NONE "))
	require.NoError(t, s.Record(context.Background(), deniedEvent("k")))

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, ":minute:")
		assert.NotContains(t, k, ":key:")
	}
	assert.Equal(t, "1", mr.HGet("ratelimit:stats:total", "denied"))
}

func TestRedisStatsStore_ReportsConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	err := NewRedisStatsStore(rdb).Record(context.Background(), deniedEvent("k"))
	assert.Error(t, err)
}

func TestPrometheusStats_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPrometheusStats(reg, "test")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, allowedEvent("a", 3, 200*time.Millisecond)))
	require.NoError(t, s.Record(ctx, deniedEvent("a")))
	require.NoError(t, s.Record(ctx, deniedEvent("b")))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.decisions.WithLabelValues("allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.decisions.WithLabelValues("denied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.permits))
	assert.Equal(t, 1, testutil.CollectAndCount(s.wait))

	// registrar de novo no mesmo registry é erro
	_, err = NewPrometheusStats(reg, "test")
	assert.Error(t, err)
}

type failingStats struct{ err error }

func (f failingStats) Record(context.Context, domain.StatsEvent) error { return f.err }

func TestMultiStats_FansOutAndJoinsErrors(t *testing.T) {
	mem := NewMemoryStatsStore()
	boom := errors.New("boom")
	m := MultiStats{mem, nil, failingStats{err: boom}}

	err := m.Record(context.Background(), deniedEvent("k"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), mem.Total().Denied)

	assert.NoError(t, MultiStats{mem}.Record(context.Background(), deniedEvent("k")))
}
