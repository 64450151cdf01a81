// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sliding-window counters in process memory. Buckets are
// pruned lazily on write once their TTL has passed.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]map[int64]*bucket
}

type bucket struct {
	count     int
	expiresAt time.Time
}

// NewMemoryStore returns an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[int64]*bucket)}
}

// Incr adds one to the bucket at windowStart and refreshes its TTL.
func (s *MemoryStore) Incr(_ context.Context, key string, windowStart time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	perKey, ok := s.buckets[key]
	if !ok {
		perKey = make(map[int64]*bucket)
		s.buckets[key] = perKey
	}

	ts := windowStart.UnixNano()
	b, ok := perKey[ts]
	if !ok {
		b = &bucket{}
		perKey[ts] = b
	}
	b.count++
	b.expiresAt = time.Now().Add(ttl)

	s.pruneLocked(key)
	return nil
}

// Counts returns the counters at the curr and prev window starts.
func (s *MemoryStore) Counts(_ context.Context, key string, curr, prev time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perKey := s.buckets[key]
	if perKey == nil {
		return 0, 0, nil
	}

	var currCount, prevCount int
	now := time.Now()
	if b, ok := perKey[curr.UnixNano()]; ok && b.expiresAt.After(now) {
		currCount = b.count
	}
	if b, ok := perKey[prev.UnixNano()]; ok && b.expiresAt.After(now) {
		prevCount = b.count
	}
	return currCount, prevCount, nil
}

// Reset drops all counters for key.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

func (s *MemoryStore) pruneLocked(key string) {
	now := time.Now()
	perKey := s.buckets[key]
	for ts, b := range perKey {
		if !b.expiresAt.After(now) {
			delete(perKey, ts)
		}
	}
	if len(perKey) == 0 {
		delete(s.buckets, key)
	}
}

var _ Store = (*MemoryStore)(nil)
