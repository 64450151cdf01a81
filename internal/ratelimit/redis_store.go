// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares sliding-window counters across processes. One Redis key
// per (limiter key, bucket start); the TTL of two windows keeps the previous
// bucket readable for the weighted count.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps a Redis client as a counter store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit"}
}

func (s *RedisStore) bucketKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, key, windowStart.UnixNano())
}

// Incr adds one to the bucket at windowStart and refreshes its TTL.
func (s *RedisStore) Incr(ctx context.Context, key string, windowStart time.Time, ttl time.Duration) error {
	bucket := s.bucketKey(key, windowStart)
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, ttl)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}
	return nil
}

// Counts returns the counters at the curr and prev window starts.
func (s *RedisStore) Counts(ctx context.Context, key string, curr, prev time.Time) (int, int, error) {
	vals, err := s.client.MGet(ctx, s.bucketKey(key, curr), s.bucketKey(key, prev)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: counts %s: %w", key, err)
	}
	return parseCount(vals[0]), parseCount(vals[1]), nil
}

func parseCount(v any) int {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	var n int
	_, _ = fmt.Sscanf(str, "%d", &n)
	return n
}

// Reset drops all counters for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	pattern := fmt.Sprintf("%s:%s:*", s.prefix, key)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("ratelimit: reset %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("ratelimit: reset scan %s: %w", key, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
