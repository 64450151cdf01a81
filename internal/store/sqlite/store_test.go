// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/schedule"
	"github.com/waitgate/waitgate/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "waitgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTenant(t *testing.T, s *Store, name string) *domain.Tenant {
	t.Helper()
	tenant, err := domain.NewTenant(name, name+".example.com", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func testQueue(t *testing.T, s *Store, tenantID string) *domain.Queue {
	t.Helper()
	q, err := domain.NewQueue(tenantID, "launch", "", 100, 60, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CreateQueue(context.Background(), q))
	return q
}

func testSession(t *testing.T, s *Store, tenantID, queueID, user string, prio domain.Priority, at time.Time) *domain.UserSession {
	t.Helper()
	sess, err := domain.NewUserSession(tenantID, queueID, user, "", prio, at)
	require.NoError(t, err)
	require.NoError(t, s.AddSession(context.Background(), sess))
	return sess
}

func TestTenantLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tenant := testTenant(t, s, "acme")

	got, err := s.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	require.Equal(t, tenant.Name, got.Name)
	require.True(t, got.IsActive)

	byKey, err := s.GetTenantByAPIKey(ctx, tenant.APIKey)
	require.NoError(t, err)
	require.Equal(t, tenant.ID, byKey.ID)

	byDomain, err := s.GetTenantByDomain(ctx, "acme.example.com")
	require.NoError(t, err)
	require.Equal(t, tenant.ID, byDomain.ID)

	require.NoError(t, s.SetTenantActive(ctx, tenant.ID, false))
	got, err = s.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	_, err = s.GetTenant(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	all, err := s.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestQueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	q := testQueue(t, s, tenant.ID)

	got, err := s.GetQueue(ctx, tenant.ID, q.ID)
	require.NoError(t, err)
	require.Equal(t, 100, got.MaxConcurrentUsers)
	require.Equal(t, 60, got.ReleaseRatePerMinute)
	require.Nil(t, got.Schedule)

	got.ReleaseRatePerMinute = 30
	sched, err := schedule.Parse([]byte(`{"timezone":"UTC","windows":{"mon":[["09:00","17:00"]]}}`))
	require.NoError(t, err)
	got.Schedule = sched
	require.NoError(t, s.UpdateQueue(ctx, got))

	reloaded, err := s.GetQueue(ctx, tenant.ID, q.ID)
	require.NoError(t, err)
	require.Equal(t, 30, reloaded.ReleaseRatePerMinute)
	require.NotNil(t, reloaded.Schedule)
	require.True(t, schedule.IsActive(reloaded.Schedule, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastReleaseAt(ctx, tenant.ID, q.ID, at))
	reloaded, err = s.GetQueue(ctx, tenant.ID, q.ID)
	require.NoError(t, err)
	require.Equal(t, at, reloaded.LastReleaseAt)

	require.NoError(t, s.DeleteQueue(ctx, tenant.ID, q.ID))
	_, err = s.GetQueue(ctx, tenant.ID, q.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, s.DeleteQueue(ctx, tenant.ID, q.ID), domain.ErrNotFound)
}

func TestQueueScopedByTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testTenant(t, s, "alpha")
	b := testTenant(t, s, "beta")
	qa := testQueue(t, s, a.ID)
	qb := testQueue(t, s, b.ID)

	_, err := s.GetQueue(ctx, b.ID, qa.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	mine, err := s.ListQueues(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, qa.ID, mine[0].ID)

	all, err := s.ListAllQueues(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	_ = qb
}

func TestAddSessionRejectsActiveDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	q := testQueue(t, s, tenant.ID)
	now := time.Now()

	first := testSession(t, s, tenant.ID, q.ID, "alice", domain.PriorityNormal, now)

	dup, err := domain.NewUserSession(tenant.ID, q.ID, "alice", "", domain.PriorityNormal, now.Add(time.Second))
	require.NoError(t, err)
	require.ErrorIs(t, s.AddSession(ctx, dup), domain.ErrAlreadyEnqueued)

	// Serving still blocks re-enqueue.
	require.NoError(t, s.TransitionSession(ctx, first.ID, domain.StatusWaiting, domain.StatusServing, now))
	require.ErrorIs(t, s.AddSession(ctx, dup), domain.ErrAlreadyEnqueued)

	// A terminal session frees the identity for a fresh one.
	require.NoError(t, s.TransitionSession(ctx, first.ID, domain.StatusServing, domain.StatusReleased, now))
	require.NoError(t, s.AddSession(ctx, dup))
}

func TestTransitionSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	q := testQueue(t, s, tenant.ID)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	sess := testSession(t, s, tenant.ID, q.ID, "alice", domain.PriorityNormal, base)

	servedAt := base.Add(time.Minute)
	require.NoError(t, s.TransitionSession(ctx, sess.ID, domain.StatusWaiting, domain.StatusServing, servedAt))
	got, err := s.GetSession(ctx, q.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusServing, got.Status)
	require.NotNil(t, got.ServedAt)
	require.Equal(t, servedAt, *got.ServedAt)
	require.Nil(t, got.ReleasedAt)

	releasedAt := base.Add(2 * time.Minute)
	require.NoError(t, s.TransitionSession(ctx, sess.ID, domain.StatusServing, domain.StatusReleased, releasedAt))
	got, err = s.GetSession(ctx, q.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusReleased, got.Status)
	require.Equal(t, releasedAt, *got.ReleasedAt)

	// Terminal self-transition is an idempotent no-op; the timestamp stays.
	require.NoError(t, s.TransitionSession(ctx, sess.ID, domain.StatusReleased, domain.StatusReleased, base.Add(time.Hour)))
	got, err = s.GetSession(ctx, q.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, releasedAt, *got.ReleasedAt)
}

func TestDroppedSessionKeepsReleasedAtNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	q := testQueue(t, s, tenant.ID)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	sess := testSession(t, s, tenant.ID, q.ID, "alice", domain.PriorityNormal, base)

	droppedAt := base.Add(time.Minute)
	require.NoError(t, s.TransitionSession(ctx, sess.ID, domain.StatusWaiting, domain.StatusDropped, droppedAt))
	got, err := s.GetSession(ctx, q.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusDropped, got.Status)
	require.NotNil(t, got.DroppedAt)
	require.Equal(t, droppedAt, *got.DroppedAt)
	require.Nil(t, got.ReleasedAt)
	require.Nil(t, got.ServedAt)
}

func TestTransitionSessionErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	q := testQueue(t, s, tenant.ID)
	now := time.Now()
	sess := testSession(t, s, tenant.ID, q.ID, "alice", domain.PriorityNormal, now)

	err := s.TransitionSession(ctx, "missing", domain.StatusWaiting, domain.StatusServing, now)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Released -> Serving is not a legal edge.
	err = s.TransitionSession(ctx, sess.ID, domain.StatusReleased, domain.StatusServing, now)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Stated from does not match the stored status.
	err = s.TransitionSession(ctx, sess.ID, domain.StatusServing, domain.StatusReleased, now)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.GetSession(ctx, q.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusWaiting, got.Status)
}

func TestSetSessionPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	q := testQueue(t, s, tenant.ID)
	now := time.Now()
	sess := testSession(t, s, tenant.ID, q.ID, "alice", domain.PriorityNormal, now)

	require.NoError(t, s.SetSessionPriority(ctx, sess.ID, domain.PriorityVIP))
	got, err := s.GetSession(ctx, q.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.PriorityVIP, got.Priority)

	require.ErrorIs(t, s.SetSessionPriority(ctx, "missing", domain.PriorityHigh), domain.ErrNotFound)

	require.NoError(t, s.TransitionSession(ctx, sess.ID, domain.StatusWaiting, domain.StatusReleased, now))
	require.ErrorIs(t, s.SetSessionPriority(ctx, sess.ID, domain.PriorityLow), domain.ErrInvalidTransition)
}

func TestBulkTransitionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	q := testQueue(t, s, tenant.ID)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	a := testSession(t, s, tenant.ID, q.ID, "alice", domain.PriorityNormal, base)
	b := testSession(t, s, tenant.ID, q.ID, "bob", domain.PriorityNormal, base.Add(time.Millisecond))

	err := s.BulkTransition(ctx, []string{a.ID, "missing", b.ID}, domain.StatusWaiting, domain.StatusReleased, base.Add(time.Minute))
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Nothing moved.
	n, err := s.CountByStatus(ctx, q.ID, domain.StatusWaiting)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.BulkTransition(ctx, []string{a.ID, b.ID}, domain.StatusWaiting, domain.StatusReleased, base.Add(time.Minute)))
	n, err = s.CountByStatus(ctx, q.ID, domain.StatusReleased)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.BulkTransition(ctx, nil, domain.StatusWaiting, domain.StatusReleased, base))
}

func TestGetSessionPrefersActiveOverDropped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	q := testQueue(t, s, tenant.ID)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	first := testSession(t, s, tenant.ID, q.ID, "alice", domain.PriorityNormal, base)
	require.NoError(t, s.TransitionSession(ctx, first.ID, domain.StatusWaiting, domain.StatusDropped, base.Add(time.Minute)))

	// Only the dropped session exists; it surfaces.
	got, err := s.GetSession(ctx, q.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusDropped, got.Status)

	// A fresh waiting session wins over the older dropped one.
	second := testSession(t, s, tenant.ID, q.ID, "alice", domain.PriorityNormal, base.Add(2*time.Minute))
	got, err = s.GetSession(ctx, q.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
	require.Equal(t, domain.StatusWaiting, got.Status)

	_, err = s.GetSession(ctx, q.ID, "nobody")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListWaitingReleaseOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	q := testQueue(t, s, tenant.ID)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	low := testSession(t, s, tenant.ID, q.ID, "low", domain.PriorityLow, base)
	normalLate := testSession(t, s, tenant.ID, q.ID, "normal-late", domain.PriorityNormal, base.Add(10*time.Millisecond))
	normalEarly := testSession(t, s, tenant.ID, q.ID, "normal-early", domain.PriorityNormal, base.Add(5*time.Millisecond))
	vip := testSession(t, s, tenant.ID, q.ID, "vip", domain.PriorityVIP, base.Add(20*time.Millisecond))

	released := testSession(t, s, tenant.ID, q.ID, "gone", domain.PriorityVIP, base)
	require.NoError(t, s.TransitionSession(ctx, released.ID, domain.StatusWaiting, domain.StatusReleased, base.Add(time.Minute)))

	waiting, err := s.ListWaiting(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, waiting, 4)
	require.Equal(t, vip.ID, waiting[0].ID)
	require.Equal(t, normalEarly.ID, waiting[1].ID)
	require.Equal(t, normalLate.ID, waiting[2].ID)
	require.Equal(t, low.ID, waiting[3].ID)
}

func TestWebhookSubscriptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := testTenant(t, s, "acme")
	now := time.Now().UTC().Truncate(time.Millisecond)

	sub := &store.WebhookSubscription{
		ID:        "sub-1",
		TenantID:  tenant.ID,
		EventType: string(domain.EventUserReleased),
		URL:       "https://example.com/hook",
		Secret:    "s3cret",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	require.NoError(t, s.CreateSubscription(ctx, &store.WebhookSubscription{
		ID: "sub-2", TenantID: tenant.ID, EventType: string(domain.EventUserEnqueued),
		URL: "https://example.com/hook2", IsActive: false, CreatedAt: now, UpdatedAt: now,
	}))

	all, err := s.ListSubscriptions(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// Inactive subscriptions are excluded from event fan-out.
	forEvent, err := s.ListSubscriptionsForEvent(ctx, tenant.ID, string(domain.EventUserEnqueued))
	require.NoError(t, err)
	require.Empty(t, forEvent)

	forEvent, err = s.ListSubscriptionsForEvent(ctx, tenant.ID, string(domain.EventUserReleased))
	require.NoError(t, err)
	require.Len(t, forEvent, 1)
	require.Equal(t, "sub-1", forEvent[0].ID)
	require.Equal(t, "s3cret", forEvent[0].Secret)

	require.NoError(t, s.DeleteSubscription(ctx, tenant.ID, "sub-1"))
	all, err = s.ListSubscriptions(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.ErrorIs(t, s.DeleteSubscription(ctx, tenant.ID, "sub-1"), domain.ErrNotFound)
}

func TestVerifyIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waitgate.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	problems, err := VerifyIntegrity(path, "quick")
	require.NoError(t, err)
	require.Nil(t, problems)

	problems, err = VerifyIntegrity(path, "full")
	require.NoError(t, err)
	require.Nil(t, problems)
}
