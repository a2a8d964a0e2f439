package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes separate the coarse per-call admission counter from the
// per-span usage counter.
const (
	admissionPrefix = "aiqa:adm"
	usagePrefix     = "aiqa:use"
)

// redisTimeout bounds every counter-store round trip. A slow counter store
// must never hold up ingestion; callers treat a timeout as undecidable.
const redisTimeout = 250 * time.Millisecond

// RedisStore implements Store over a shared Redis instance. Bucket keys
// expire automatically two windows after their last write, so stale tenants
// cost nothing.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a counter store from a Redis URL
// (redis://host:port/db).
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), now: time.Now}, nil
}

// Check increments and tests the admission counter for the current bucket.
func (s *RedisStore) Check(ctx context.Context, tenant string, limit int64) (*CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	now := s.now()
	key := fmt.Sprintf("%s:%s:%d", admissionPrefix, tenant, bucket(now))

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("counter check for %s: %w", tenant, err)
	}
	return checkResult(incr.Val(), limit, now), nil
}

// Record bumps the usage counter for the current bucket by n.
func (s *RedisStore) Record(ctx context.Context, tenant string, n int64) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	now := s.now()
	key := fmt.Sprintf("%s:%s:%d", usagePrefix, tenant, bucket(now))

	pipe := s.client.TxPipeline()
	pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, 2*Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("usage record for %s: %w", tenant, err)
	}
	return nil
}

// Ping verifies connectivity, for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }
