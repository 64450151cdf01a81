// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis creates a test Redis server using miniredis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewRedisCacheFromClient(client, zerolog.Nop())
}

func TestRedisCacheSetGet(t *testing.T) {
	_, c := setupMiniRedis(t)
	defer func() { _ = c.Close() }()

	c.Set("k", "v", 5*time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Sets)
}

func TestRedisCacheMiss(t *testing.T) {
	_, c := setupMiniRedis(t)
	defer func() { _ = c.Close() }()

	_, ok := c.Get("missing")
	require.False(t, ok)
	require.Equal(t, int64(1), c.Stats().Misses)
}

func TestRedisCacheTTL(t *testing.T) {
	mr, c := setupMiniRedis(t)
	defer func() { _ = c.Close() }()

	c.Set("k", 42, time.Second)
	mr.FastForward(2 * time.Second)

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestRedisCacheDelete(t *testing.T) {
	_, c := setupMiniRedis(t)
	defer func() { _ = c.Close() }()

	c.Set("k", "v", time.Minute)
	c.Delete("k")

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestRedisCachePositionRoundTrip(t *testing.T) {
	_, c := setupMiniRedis(t)
	defer func() { _ = c.Close() }()

	SetPosition(c, "q1", "u1", 12, time.Minute)
	pos, ok := GetPosition(c, "q1", "u1")
	require.True(t, ok)
	require.Equal(t, 12, pos)

	EvictPosition(c, "q1", "u1")
	_, ok = GetPosition(c, "q1", "u1")
	require.False(t, ok)
}

func TestRedisCacheHealthCheck(t *testing.T) {
	mr, c := setupMiniRedis(t)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.HealthCheck(context.Background()))
	mr.Close()
	require.Error(t, c.HealthCheck(context.Background()))
}
