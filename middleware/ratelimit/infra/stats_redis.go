package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"permit-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores em hashes do Redis:
//
//	{prefix}:total              allowed, denied, permits, wait_us
//	{prefix}:minute:YYYYMMDDhhmm   idem, com TTL
//	{prefix}:route              "METHOD /path:allowed|denied"
//	{prefix}:key:{key}          idem ao total, com TTL (se trackKeys)
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	s.incr(ctx, pipe, s.prefix+":total", field, ev, 0)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		s.incr(ctx, pipe, bucketKey, field, ev, s.ttl)
	}

	routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if routeField != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", routeField+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			s.incr(ctx, pipe, s.prefix+":key:"+k, field, ev, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) incr(ctx context.Context, pipe redis.Pipeliner, key, field string, ev domain.StatsEvent, ttl time.Duration) {
	pipe.HIncrBy(ctx, key, field, 1)
	if ev.Allowed {
		pipe.HIncrBy(ctx, key, "permits", int64(ev.Permits))
		pipe.HIncrBy(ctx, key, "wait_us", ev.Wait.Microseconds())
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
}
