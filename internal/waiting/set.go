// SPDX-License-Identifier: MIT

// Package waiting holds the per-queue ordered multiset of waiting sessions.
// The order is the release order: priority descending, then enqueue time,
// then session ID. The set is an order-statistic treap, so insert, remove
// and rank queries are all O(log n).
package waiting

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/waitgate/waitgate/internal/domain"
)

// Set is one queue's waiting set. All mutations take the writer lock;
// position and peek reads run under the reader lock.
type Set struct {
	mu     sync.RWMutex
	root   *node
	byID   map[string]*node
	byUser map[string]*node
}

// rankKey is the ordering key a node was inserted under. It is a snapshot:
// callers may mutate the session (priority changes do), and the tree must
// still be navigable to the node's actual position until it is re-ranked.
type rankKey struct {
	priority   domain.Priority
	enqueuedAt time.Time
	id         string
}

func keyOf(s *domain.UserSession) rankKey {
	return rankKey{priority: s.Priority, enqueuedAt: s.EnqueuedAt, id: s.ID}
}

// keyLess mirrors domain.Less on snapshot keys.
func keyLess(a, b rankKey) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if !a.enqueuedAt.Equal(b.enqueuedAt) {
		return a.enqueuedAt.Before(b.enqueuedAt)
	}
	return a.id < b.id
}

type node struct {
	session *domain.UserSession
	key     rankKey
	weight  uint64
	size    int
	left    *node
	right   *node
}

// NewSet returns an empty waiting set.
func NewSet() *Set {
	return &Set{
		byID:   make(map[string]*node),
		byUser: make(map[string]*node),
	}
}

func size(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func (n *node) recount() {
	n.size = size(n.left) + size(n.right) + 1
}

// split partitions t into nodes ordered before k and the rest.
func split(t *node, k rankKey) (left, right *node) {
	if t == nil {
		return nil, nil
	}
	if keyLess(t.key, k) {
		l, r := split(t.right, k)
		t.right = l
		t.recount()
		return t, r
	}
	l, r := split(t.left, k)
	t.left = r
	t.recount()
	return l, t
}

func merge(l, r *node) *node {
	switch {
	case l == nil:
		return r
	case r == nil:
		return l
	case l.weight > r.weight:
		l.right = merge(l.right, r)
		l.recount()
		return l
	default:
		r.left = merge(l, r.left)
		r.recount()
		return r
	}
}

// Insert adds a waiting session. A session with the same ID or the same
// user identifier already present is reported as false; the §3 invariant
// keeps waiting user identifiers unique per queue.
func (s *Set) Insert(session *domain.UserSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[session.ID]; ok {
		return false
	}
	if _, ok := s.byUser[session.UserIdentifier]; ok {
		return false
	}

	s.insertLocked(session)
	return true
}

func (s *Set) insertLocked(session *domain.UserSession) {
	n := &node{session: session, key: keyOf(session), weight: rand.Uint64(), size: 1}
	l, r := split(s.root, n.key)
	s.root = merge(merge(l, n), r)
	s.byID[session.ID] = n
	s.byUser[session.UserIdentifier] = n
}

// Remove deletes the session with the given ID. Returns the removed session
// or nil when absent.
func (s *Set) Remove(sessionID string) *domain.UserSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(sessionID)
}

func (s *Set) removeLocked(sessionID string) *domain.UserSession {
	n, ok := s.byID[sessionID]
	if !ok {
		return nil
	}
	s.root = removeNode(s.root, n.key, sessionID)
	delete(s.byID, sessionID)
	delete(s.byUser, n.session.UserIdentifier)
	return n.session
}

// removeNode navigates by the key the node was inserted under, not by the
// session's current fields, so a mutated session is still found.
func removeNode(t *node, k rankKey, sessionID string) *node {
	if t == nil {
		return nil
	}
	if t.session.ID == sessionID {
		return merge(t.left, t.right)
	}
	if keyLess(k, t.key) {
		t.left = removeNode(t.left, k, sessionID)
	} else {
		t.right = removeNode(t.right, k, sessionID)
	}
	t.recount()
	return t
}

// RemoveByUser deletes the waiting session of the given user identifier.
func (s *Set) RemoveByUser(userIdentifier string) *domain.UserSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byUser[userIdentifier]
	if !ok {
		return nil
	}
	return s.removeLocked(n.session.ID)
}

// Reinsert re-ranks a session after its priority changed: remove and insert
// under one writer lock so no reader observes the session missing. The
// stored node key still reflects the pre-mutation rank, so the removal
// reaches the node even though the session already carries the new priority.
func (s *Set) Reinsert(session *domain.UserSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeLocked(session.ID) == nil {
		return false
	}
	s.insertLocked(session)
	return true
}

// Peek returns the first n sessions in release order.
func (s *Set) Peek(n int) []*domain.UserSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]*domain.UserSession, 0, min(n, size(s.root)))
	collect(s.root, n, &out)
	return out
}

func collect(t *node, n int, out *[]*domain.UserSession) {
	if t == nil || len(*out) >= n {
		return
	}
	collect(t.left, n, out)
	if len(*out) < n {
		*out = append(*out, t.session)
	}
	collect(t.right, n, out)
}

// PositionOf returns the 1-based rank of the user's waiting session, or 0
// when the user is not waiting.
func (s *Set) PositionOf(userIdentifier string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUser[userIdentifier]
	if !ok {
		return 0
	}

	rank := 1
	t := s.root
	for t != nil {
		if t.session.ID == n.session.ID {
			return rank + size(t.left)
		}
		if keyLess(n.key, t.key) {
			t = t.left
		} else {
			rank += size(t.left) + 1
			t = t.right
		}
	}
	return 0
}

// Contains reports whether the user currently has a waiting session.
func (s *Set) Contains(userIdentifier string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byUser[userIdentifier]
	return ok
}

// Get returns the waiting session for a user identifier, or nil.
func (s *Set) Get(userIdentifier string) *domain.UserSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUser[userIdentifier]
	if !ok {
		return nil
	}
	return n.session
}

// Size returns the number of waiting sessions.
func (s *Set) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return size(s.root)
}
