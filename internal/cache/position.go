// SPDX-License-Identifier: MIT

package cache

import (
	"fmt"
	"time"
)

// DefaultPositionTTL bounds how long a cached position may outlive its last
// waiting-set mutation.
const DefaultPositionTTL = 30 * time.Second

// PositionKey builds the KV key mirroring a user's waiting position.
func PositionKey(queueID, userIdentifier string) string {
	return fmt.Sprintf("position:%s:%s", queueID, userIdentifier)
}

// SetPosition caches the 1-based position for a waiting user.
func SetPosition(c Cache, queueID, userIdentifier string, position int, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = DefaultPositionTTL
	}
	c.Set(PositionKey(queueID, userIdentifier), position, ttl)
}

// GetPosition reads a cached position. The second return is false on a miss.
// JSON round-trips turn ints into float64, so both are accepted.
func GetPosition(c Cache, queueID, userIdentifier string) (int, bool) {
	if c == nil {
		return 0, false
	}
	v, ok := c.Get(PositionKey(queueID, userIdentifier))
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// EvictPosition removes a cached position after a waiting-set mutation.
func EvictPosition(c Cache, queueID, userIdentifier string) {
	if c == nil {
		return
	}
	c.Delete(PositionKey(queueID, userIdentifier))
}
