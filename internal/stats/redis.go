package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists decision counters into the same Redis instance the
// rate limiter uses, as hash counters pipelined in a single round trip
// per event so recording never doubles the request's store latency.
type RedisStore struct {
	rdb *redis.Client

	prefix string
	ttl    time.Duration // applies to time-bucketed keys only; the total is cumulative
	bucket string        // "minute" (default) or "none"

	trackTiers bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

func WithBucket(bucket string) RedisOption {
	return func(s *RedisStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithRedisTrackTiers(track bool) RedisOption {
	return func(s *RedisStore) { s.trackTiers = track }
}

// NewRedisStore builds a RedisStore over an existing *redis.Client.
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
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

func (s *RedisStore) Record(ctx context.Context, ev Event) error {
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

	totalKey := s.prefix + ":total"

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if ev.Method != "" || ev.Path != "" {
		routeKey := s.prefix + ":route"
		routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
		if routeField != "" {
			pipe.HIncrBy(ctx, routeKey, routeField+":"+field, 1)
		}
	}

	if s.trackTiers {
		tier := strings.TrimSpace(ev.Tier)
		if tier != "" {
			tierKey := s.prefix + ":tier:" + tier
			pipe.HIncrBy(ctx, tierKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, tierKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
