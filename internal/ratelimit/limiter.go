// SPDX-License-Identifier: MIT

// Package ratelimit enforces per-key request budgets over a sliding window.
// The window is approximated with two adjacent fixed buckets, weighting the
// previous bucket by its remaining overlap; this avoids the burst-at-boundary
// behaviour of plain fixed windows. Counter state lives in a Store (memory
// or Redis). Backend failures fail open: the request proceeds and no budget
// is consumed.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/waitgate/waitgate/internal/log"
	"github.com/waitgate/waitgate/internal/metrics"
)

// Limit is a request budget over a window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Decision is the outcome of an Allow or Info call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	FailedOpen bool
}

// Store persists sliding-window counters per key. Implementations are safe
// for concurrent use.
type Store interface {
	// Incr adds one to the counter of the bucket starting at windowStart.
	Incr(ctx context.Context, key string, windowStart time.Time, ttl time.Duration) error
	// Counts returns the counters of the buckets starting at curr and prev.
	Counts(ctx context.Context, key string, curr, prev time.Time) (currCount, prevCount int, err error)
	// Reset removes all counter state for key.
	Reset(ctx context.Context, key string) error
}

// Limiter applies sliding-window limits with optional per-key overrides.
type Limiter struct {
	store Store

	mu        sync.RWMutex
	overrides map[string]Limit

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a limiter on top of the given store.
func New(store Store) *Limiter {
	return &Limiter{
		store:     store,
		overrides: make(map[string]Limit),
		now:       time.Now,
	}
}

// SetLimit stores a per-key override applied on every subsequent call for key.
func (l *Limiter) SetLimit(key string, limit int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[key] = Limit{Requests: limit, Window: window}
}

// Reset clears both the override and all counter state for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.overrides, key)
	l.mu.Unlock()
	return l.store.Reset(ctx, key)
}

func (l *Limiter) effective(key string, limit int, window time.Duration) (int, time.Duration) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if o, ok := l.overrides[key]; ok {
		return o.Requests, o.Window
	}
	return limit, window
}

// weightedCount folds the previous bucket into the current one proportionally
// to how much of the sliding window still overlaps it.
func weightedCount(curr, prev int, elapsed, window time.Duration) int {
	weight := 1 - float64(elapsed)/float64(window)
	if weight < 0 {
		weight = 0
	}
	return curr + int(math.Floor(float64(prev)*weight))
}

// Allow consumes one unit of key's budget if available. Only allowed calls
// consume budget; rejected calls leave the counters untouched.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	limit, window = l.effective(key, limit, window)
	now := l.now()
	currStart := now.Truncate(window)
	prevStart := currStart.Add(-window)
	resetAt := currStart.Add(window)

	curr, prev, err := l.store.Counts(ctx, key, currStart, prevStart)
	if err != nil {
		return l.failOpen(ctx, key, limit, resetAt, err)
	}

	used := weightedCount(curr, prev, now.Sub(currStart), window)
	if used >= limit {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}
	}

	if err := l.store.Incr(ctx, key, currStart, 2*window); err != nil {
		return l.failOpen(ctx, key, limit, resetAt, err)
	}

	remaining := limit - used - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

// Info reads the current budget without consuming it.
func (l *Limiter) Info(ctx context.Context, key string, limit int, window time.Duration) Decision {
	limit, window = l.effective(key, limit, window)
	now := l.now()
	currStart := now.Truncate(window)
	prevStart := currStart.Add(-window)
	resetAt := currStart.Add(window)

	curr, prev, err := l.store.Counts(ctx, key, currStart, prevStart)
	if err != nil {
		return l.failOpen(ctx, key, limit, resetAt, err)
	}

	used := weightedCount(curr, prev, now.Sub(currStart), window)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: remaining > 0, Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

func (l *Limiter) failOpen(ctx context.Context, key string, limit int, resetAt time.Time, err error) Decision {
	metrics.RateLimitBackendErrors.Inc()
	logger := log.WithComponentFromContext(ctx, "ratelimit")
	logger.Warn().
		Err(err).
		Str("key", key).
		Msg("limiter backend unavailable, failing open")
	return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: resetAt, FailedOpen: true}
}
