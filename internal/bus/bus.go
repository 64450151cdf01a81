// SPDX-License-Identifier: MIT

// Package bus is the single in-process fan-out for lifecycle events.
// Delivery is best-effort, at-most-once and in publish order per publisher.
// Each subscriber owns a bounded buffer; when it is full the oldest pending
// event is dropped so a slow subscriber can never block a publisher.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/log"
	"github.com/waitgate/waitgate/internal/metrics"
)

// DefaultBuffer is the per-subscriber buffer size used when Subscribe is
// called with a non-positive buffer.
const DefaultBuffer = 256

// Bus fans events out to named subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscription is one subscriber's bounded event feed.
type Subscription struct {
	name    string
	ch      chan domain.Event
	bus     *Bus
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the subscriber's event channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) C() <-chan domain.Event {
	return s.ch
}

// Name returns the subscriber name used for drop accounting.
func (s *Subscription) Name() string {
	return s.name
}

// Dropped returns how many events were discarded because this subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus and closes its channel.
// The bus lock is held across the close so an in-flight Publish can never
// write to a closed channel.
func (s *Subscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.removeLocked(s)
	s.once.Do(func() { close(s.ch) })
	return nil
}

// Subscribe registers a named subscriber with the given buffer size.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{
		name: name,
		ch:   make(chan domain.Event, buffer),
		bus:  b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish delivers e to every subscriber without blocking. When a
// subscriber's buffer is full its oldest pending event is discarded to make
// room; if the buffer is still full the new event is discarded instead.
// Drops are counted per subscriber.
func (b *Bus) Publish(ctx context.Context, e domain.Event) {
	metrics.BusPublishedTotal.WithLabelValues(string(e.Kind)).Inc()

	// Sends below never block, so the read lock is held for the whole
	// fan-out; this keeps Close from racing a send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
			continue
		default:
		}

		// Buffer full: evict the oldest pending event, then retry once.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			metrics.IncBusDropReason(sub.name, "overflow")
		default:
		}

		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
			metrics.IncBusDropReason(sub.name, "contention")
			logger := log.WithComponentFromContext(ctx, "bus")
			logger.Warn().
				Str("subscriber", sub.name).
				Str(log.FieldEvent, string(e.Kind)).
				Uint64("dropped", sub.dropped.Load()).
				Msg("event dropped, subscriber buffer full")
		}
	}
}

// Close closes the bus and every remaining subscription channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		s := sub
		s.once.Do(func() { close(s.ch) })
	}
	b.subs = nil
	return nil
}

func (b *Bus) removeLocked(sub *Subscription) {
	out := b.subs[:0]
	for _, s := range b.subs {
		if s != sub {
			out = append(out, s)
		}
	}
	b.subs = out
}
