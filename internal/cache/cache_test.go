// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("k", "v", time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("k", 1, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestMemoryCacheDeleteAndClear(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Delete("a")
	_, ok := c.Get("a")
	require.False(t, ok)

	c.Clear()
	require.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCacheStats(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("k", "v", time.Minute)
	_, _ = c.Get("k")
	_, _ = c.Get("nope")

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, int64(1), stats.Sets)
	require.Equal(t, 1, stats.CurrentSize)
}

func TestPositionHelpers(t *testing.T) {
	c := NewMemoryCache(0)

	require.Equal(t, "position:q1:u1", PositionKey("q1", "u1"))

	SetPosition(c, "q1", "u1", 7, 0)
	pos, ok := GetPosition(c, "q1", "u1")
	require.True(t, ok)
	require.Equal(t, 7, pos)

	// Float values (as produced by a JSON round trip through Redis) work too.
	c.Set(PositionKey("q1", "u2"), float64(3), time.Minute)
	pos, ok = GetPosition(c, "q1", "u2")
	require.True(t, ok)
	require.Equal(t, 3, pos)

	EvictPosition(c, "q1", "u1")
	_, ok = GetPosition(c, "q1", "u1")
	require.False(t, ok)

	// Nil cache is a no-op, not a panic.
	SetPosition(nil, "q1", "u1", 1, 0)
	_, ok = GetPosition(nil, "q1", "u1")
	require.False(t, ok)
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	c.Set("k", "v", time.Minute)
	_, ok := c.Get("k")
	require.False(t, ok)
}
