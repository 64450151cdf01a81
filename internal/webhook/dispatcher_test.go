// SPDX-License-Identifier: MIT

package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waitgate/waitgate/internal/bus"
	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/store"
	sqlitestore "github.com/waitgate/waitgate/internal/store/sqlite"
	"github.com/waitgate/waitgate/internal/webhook"
)

const testTenantID = "tenant-1"

func newSubscriptionStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	st, err := sqlitestore.New(filepath.Join(t.TempDir(), "waitgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func addSubscription(t *testing.T, st *sqlitestore.Store, url, eventType, secret string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateSubscription(context.Background(), &store.WebhookSubscription{
		ID:        "sub-" + eventType,
		TenantID:  testTenantID,
		EventType: eventType,
		URL:       url,
		Secret:    secret,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func startDispatcher(t *testing.T, st *sqlitestore.Store, cfg webhook.Config) *bus.Bus {
	t.Helper()
	b := bus.New()
	d := webhook.New(cfg, st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx, b)
	t.Cleanup(func() {
		cancel()
		d.Close()
		_ = b.Close()
	})
	return b
}

func fastConfig() webhook.Config {
	return webhook.Config{
		Workers:        2,
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		Timeout:        2 * time.Second,
		RatePerSecond:  1000,
	}
}

func TestDeliverySuccessWithSignature(t *testing.T) {
	st := newSubscriptionStore(t)

	got := make(chan *http.Request, 1)
	var body atomic.Pointer[[]byte]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body.Store(&raw)
		got <- r
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	addSubscription(t, st, srv.URL, string(domain.EventUserReleased), "topsecret")
	b := startDispatcher(t, st, fastConfig())

	evt := domain.NewEvent(domain.EventUserReleased, testTenantID, time.Now()).
		WithQueue("q1").
		WithUser("alice").
		WithPayload("session_id", "s1")
	b.Publish(context.Background(), evt)

	select {
	case r := <-got:
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, string(domain.EventUserReleased), r.Header.Get("X-Webhook-Event"))

		raw := *body.Load()
		require.Equal(t, webhook.Sign("topsecret", raw), r.Header.Get("X-Signature"))

		var p struct {
			ID        string         `json:"id"`
			Event     string         `json:"event"`
			TenantID  string         `json:"tenant_id"`
			Data      map[string]any `json:"data"`
			Timestamp string         `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(raw, &p))
		require.NotEmpty(t, p.ID)
		require.Equal(t, "user.released", p.Event)
		require.Equal(t, testTenantID, p.TenantID)
		require.Equal(t, "alice", p.Data["user_identifier"])
		require.Equal(t, "q1", p.Data["queue_id"])
		require.Equal(t, "s1", p.Data["session_id"])
		parsed, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		require.NoError(t, err)
		require.Equal(t, time.UTC, parsed.Location())
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	st := newSubscriptionStore(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	addSubscription(t, st, srv.URL, string(domain.EventUserEnqueued), "")
	b := startDispatcher(t, st, fastConfig())

	b.Publish(context.Background(), domain.NewEvent(domain.EventUserEnqueued, testTenantID, time.Now()).WithUser("u"))

	require.Eventually(t, func() bool { return attempts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, attempts.Load())
}

func TestServerErrorRetriesThenSucceeds(t *testing.T) {
	st := newSubscriptionStore(t)

	var attempts atomic.Int32
	done := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	t.Cleanup(srv.Close)

	addSubscription(t, st, srv.URL, string(domain.EventUserDropped), "")
	b := startDispatcher(t, st, fastConfig())

	b.Publish(context.Background(), domain.NewEvent(domain.EventUserDropped, testTenantID, time.Now()).WithUser("u"))

	select {
	case <-done:
		require.EqualValues(t, 2, attempts.Load())
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for retried delivery")
	}
}

func TestRetriesExhausted(t *testing.T) {
	st := newSubscriptionStore(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	addSubscription(t, st, srv.URL, string(domain.EventUserReleased), "")
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	b := startDispatcher(t, st, cfg)

	b.Publish(context.Background(), domain.NewEvent(domain.EventUserReleased, testTenantID, time.Now()).WithUser("u"))

	require.Eventually(t, func() bool { return attempts.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 2, attempts.Load())
}

func TestOnlySubscribedEventsDeliver(t *testing.T) {
	st := newSubscriptionStore(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	addSubscription(t, st, srv.URL, string(domain.EventUserReleased), "")
	b := startDispatcher(t, st, fastConfig())

	ctx := context.Background()
	b.Publish(ctx, domain.NewEvent(domain.EventUserEnqueued, testTenantID, time.Now()).WithUser("u"))
	b.Publish(ctx, domain.NewEvent(domain.EventUserEnqueued, "other-tenant", time.Now()).WithUser("u"))
	b.Publish(ctx, domain.NewEvent(domain.EventUserReleased, testTenantID, time.Now()).WithUser("u"))

	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, hits.Load())
}
