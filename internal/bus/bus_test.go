// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waitgate/waitgate/internal/domain"
)

func event(kind domain.EventKind, n int) domain.Event {
	return domain.NewEvent(kind, "tenant-1", time.Now()).WithPayload("seq", n)
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	sub := b.Subscribe("notifier", 16)
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), event(domain.EventUserEnqueued, i))
	}

	for i := 0; i < 5; i++ {
		select {
		case e := <-sub.C():
			require.Equal(t, i, e.Payload["seq"])
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestPublishFanout(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	var subs []*Subscription
	for i := 0; i < 3; i++ {
		subs = append(subs, b.Subscribe(fmt.Sprintf("sub-%d", i), 4))
	}

	b.Publish(context.Background(), event(domain.EventUserReleased, 42))

	for _, sub := range subs {
		select {
		case e := <-sub.C():
			require.Equal(t, domain.EventUserReleased, e.Kind)
		case <-time.After(time.Second):
			t.Fatal("fanout missed a subscriber")
		}
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	sub := b.Subscribe("slow", 2)
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), event(domain.EventUserPositionChanged, i))
	}

	// Buffer of two: the three oldest events were evicted.
	require.Equal(t, uint64(3), sub.Dropped())

	e := <-sub.C()
	require.Equal(t, 3, e.Payload["seq"])
	e = <-sub.C()
	require.Equal(t, 4, e.Payload["seq"])
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	_ = b.Subscribe("stuck", 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(context.Background(), event(domain.EventUserEnqueued, i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a stuck subscriber")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe("closing", 4)
	require.NoError(t, sub.Close())

	// Closed subscription must not receive and must not panic the publisher.
	b.Publish(context.Background(), event(domain.EventUserEnqueued, 1))

	_, ok := <-sub.C()
	require.False(t, ok)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestSubscribeAfterCloseYieldsClosedChannel(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())

	sub := b.Subscribe("late", 4)
	_, ok := <-sub.C()
	require.False(t, ok)
}
