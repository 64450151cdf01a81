// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waitgate/waitgate/internal/bus"
	"github.com/waitgate/waitgate/internal/cache"
	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/engine"
	"github.com/waitgate/waitgate/internal/ratelimit"
	"github.com/waitgate/waitgate/internal/store"
	"github.com/waitgate/waitgate/internal/store/sqlite"
)

// t0 is a Monday at noon UTC; scheduling tests hang off it.
var t0 = time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t       *testing.T
	srv     *httptest.Server
	store   store.Store
	engines *engine.Manager
	limiter *ratelimit.Limiter
	tenant  *domain.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	b := bus.New()
	t.Cleanup(func() { _ = b.Close() })

	engines, err := engine.NewManager(engine.ManagerConfig{
		Store:     st,
		Bus:       b,
		Positions: cache.NewNoOpCache(),
		Interval:  time.Hour,
		Now:       func() time.Time { return t0 },
	})
	require.NoError(t, err)
	t.Cleanup(engines.Shutdown)

	limiter := ratelimit.New(ratelimit.NewMemoryStore())

	tenant, err := domain.NewTenant("Acme", "acme.example", t0)
	require.NoError(t, err)
	require.NoError(t, st.CreateTenant(t.Context(), tenant))

	server := New(Config{
		Store:   st,
		Engines: engines,
		Bus:     b,
		Limiter: limiter,
		Now:     func() time.Time { return t0 },
	})
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &fixture{t: t, srv: srv, store: st, engines: engines, limiter: limiter, tenant: tenant}
}

// do issues a request as the fixture tenant.
func (f *fixture) do(method, path string, body any) *http.Response {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(f.t, err)
	req.Header.Set("X-Tenant-Key", f.tenant.APIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) createQueue(name string, cap, rate int) *domain.Queue {
	f.t.Helper()
	resp := f.do(http.MethodPost, "/api/v1/tenants/"+f.tenant.ID+"/queues", createQueueRequest{
		Name:                 name,
		MaxConcurrentUsers:   cap,
		ReleaseRatePerMinute: rate,
	})
	require.Equal(f.t, http.StatusCreated, resp.StatusCode)
	q := decode[domain.Queue](f.t, resp)
	return &q
}

func (f *fixture) queuePath(q *domain.Queue, suffix string) string {
	return "/api/v1/tenants/" + f.tenant.ID + "/queues/" + q.ID + suffix
}

func TestQueueCRUD(t *testing.T) {
	f := newFixture(t)
	q := f.createQueue("checkout", 50, 10)
	require.Equal(t, f.tenant.ID, q.TenantID)
	require.True(t, q.IsActive)

	resp := f.do(http.MethodGet, f.queuePath(q, ""), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[domain.Queue](t, resp)
	require.Equal(t, q.ID, got.ID)

	resp = f.do(http.MethodPut, f.queuePath(q, ""), updateQueueRequest{
		Name:                 "checkout-2",
		MaxConcurrentUsers:   25,
		ReleaseRatePerMinute: 5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decode[domain.Queue](t, resp)
	require.Equal(t, "checkout-2", got.Name)
	require.Equal(t, 25, got.MaxConcurrentUsers)

	resp = f.do(http.MethodGet, "/api/v1/tenants/"+f.tenant.ID+"/queues", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]domain.Queue](t, resp)
	require.Len(t, list, 1)

	resp = f.do(http.MethodDelete, f.queuePath(q, ""), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(http.MethodGet, f.queuePath(q, ""), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	_, running := f.engines.Get(f.tenant.ID, q.ID)
	require.False(t, running)
}

func TestQueueValidation(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/api/v1/tenants/"+f.tenant.ID+"/queues", createQueueRequest{
		Name:                 "",
		MaxConcurrentUsers:   10,
		ReleaseRatePerMinute: 10,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Contains(t, body["error"], "name")
}

func TestEnqueueLifecycle(t *testing.T) {
	f := newFixture(t)
	q := f.createQueue("launch", 100, 10)

	resp := f.do(http.MethodPost, f.queuePath(q, "/enqueue"), enqueueRequest{UserIdentifier: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := decode[domain.UserSession](t, resp)
	require.Equal(t, domain.StatusWaiting, sess.Status)
	require.Equal(t, 1, sess.Position)

	// Duplicate while waiting is a semantic conflict.
	resp = f.do(http.MethodPost, f.queuePath(q, "/enqueue"), enqueueRequest{UserIdentifier: "alice"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Equal(t, "User is already in queue", body["error"])

	resp = f.do(http.MethodGet, f.queuePath(q, "/users/alice"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[domain.UserSession](t, resp)
	require.Equal(t, sess.ID, got.ID)
	require.Equal(t, 1, got.Position)

	resp = f.do(http.MethodDelete, f.queuePath(q, "/users/alice"), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	// Dropped users may come back, with a fresh session.
	resp = f.do(http.MethodPost, f.queuePath(q, "/enqueue"), enqueueRequest{UserIdentifier: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	again := decode[domain.UserSession](t, resp)
	require.NotEqual(t, sess.ID, again.ID)
}

func TestEnqueueUnknownUser404(t *testing.T) {
	f := newFixture(t)
	q := f.createQueue("launch", 100, 10)

	resp := f.do(http.MethodGet, f.queuePath(q, "/users/ghost"), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(http.MethodDelete, f.queuePath(q, "/users/ghost"), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestManualRelease(t *testing.T) {
	f := newFixture(t)
	q := f.createQueue("sale", 100, 1)

	for _, user := range []string{"u1", "u2", "u3"} {
		resp := f.do(http.MethodPost, f.queuePath(q, "/enqueue"), enqueueRequest{UserIdentifier: user})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp := f.do(http.MethodPost, f.queuePath(q, "/release"), releaseRequest{Count: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rel := decode[releaseResponse](t, resp)
	require.Equal(t, 2, rel.ReleasedCount)

	resp = f.do(http.MethodGet, f.queuePath(q, "/stats"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[queueStatsResponse](t, resp)
	require.Equal(t, 1, stats.Waiting)
	require.Equal(t, 2, stats.Released)
	require.Equal(t, map[string]int{"normal": 1}, stats.WaitingByPriority)
}

func TestServeAndPriority(t *testing.T) {
	f := newFixture(t)
	q := f.createQueue("support", 5, 10)

	for _, user := range []string{"a", "b"} {
		resp := f.do(http.MethodPost, f.queuePath(q, "/enqueue"), enqueueRequest{UserIdentifier: user})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	}

	// Bumping b to vip moves it ahead of a.
	resp := f.do(http.MethodPatch, f.queuePath(q, "/users/b/priority"), priorityRequest{Priority: "vip"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bumped := decode[map[string]any](t, resp)
	require.Equal(t, float64(1), bumped["position"])

	resp = f.do(http.MethodPatch, f.queuePath(q, "/users/b/serve"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	served := decode[domain.UserSession](t, resp)
	require.Equal(t, domain.StatusServing, served.Status)

	// A served user left the waiting set; serving again misses.
	resp = f.do(http.MethodPatch, f.queuePath(q, "/users/b/serve"), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestScheduleAndAvailability(t *testing.T) {
	f := newFixture(t)
	q := f.createQueue("weekly", 10, 10)

	sched := map[string]any{
		"timezone": "UTC",
		"windows":  map[string][][]string{"tue": {{"09:00", "17:00"}}},
	}
	resp := f.do(http.MethodPost, f.queuePath(q, "/schedule"), sched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// The fixture clock sits on a Monday; the queue only opens Tuesdays.
	resp = f.do(http.MethodPost, f.queuePath(q, "/enqueue"), enqueueRequest{UserIdentifier: "early"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Equal(t, "outside scheduled hours", body["error"])

	resp = f.do(http.MethodGet, f.queuePath(q, "/availability"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	avail := decode[availabilityResponse](t, resp)
	require.False(t, avail.IsAvailable)
	require.NotNil(t, avail.NextActivation)
	require.Equal(t, time.Tuesday, avail.NextActivation.Weekday())

	inWindow := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC).Format(time.RFC3339)
	resp = f.do(http.MethodGet, f.queuePath(q, "/availability?checkTime="+inWindow), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	avail = decode[availabilityResponse](t, resp)
	require.True(t, avail.IsAvailable)
	require.Nil(t, avail.NextActivation)

	resp = f.do(http.MethodGet, f.queuePath(q, "/availability?checkTime=tomorrow"), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestActivateDeactivateQueue(t *testing.T) {
	f := newFixture(t)
	q := f.createQueue("gate", 10, 10)

	resp := f.do(http.MethodPatch, f.queuePath(q, "/deactivate"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[domain.Queue](t, resp)
	require.False(t, got.IsActive)

	resp = f.do(http.MethodPost, f.queuePath(q, "/enqueue"), enqueueRequest{UserIdentifier: "u"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(http.MethodPatch, f.queuePath(q, "/activate"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decode[domain.Queue](t, resp)
	require.True(t, got.IsActive)

	resp = f.do(http.MethodPost, f.queuePath(q, "/enqueue"), enqueueRequest{UserIdentifier: "u"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestTenantResolution(t *testing.T) {
	f := newFixture(t)
	q := f.createQueue("guarded", 10, 10)

	// No key and an unknown host: 401.
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+f.queuePath(q, ""), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	// A valid key for a different tenant's path: 403.
	other, err := domain.NewTenant("Rival", "rival.example", t0)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateTenant(t.Context(), other))

	req, err = http.NewRequest(http.MethodGet, f.srv.URL+f.queuePath(q, ""), nil)
	require.NoError(t, err)
	req.Header.Set("X-Tenant-Key", other.APIKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	// Deactivated tenants lose access.
	require.NoError(t, f.store.SetTenantActive(t.Context(), f.tenant.ID, false))
	resp = f.do(http.MethodGet, f.queuePath(q, ""), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}

// TestGetUserScopedToTenant checks that a session cannot be read through
// another tenant's path even when the queue ID is known.
func TestGetUserScopedToTenant(t *testing.T) {
	f := newFixture(t)
	q := f.createQueue("checkout", 10, 10)

	resp := f.do(http.MethodPost, f.queuePath(q, "/enqueue"), enqueueRequest{UserIdentifier: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	rival, err := domain.NewTenant("Rival", "rival.example", t0)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateTenant(t.Context(), rival))

	// Rival's own path with the victim's queue ID spliced in: the queue is
	// not theirs, so the session stays hidden.
	path := "/api/v1/tenants/" + rival.ID + "/queues/" + q.ID + "/users/alice"
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-Tenant-Key", rival.APIKey)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	// The owner still reads it.
	resp = f.do(http.MethodGet, f.queuePath(q, "/users/alice"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[domain.UserSession](t, resp)
	require.Equal(t, "alice", got.UserIdentifier)
}

func TestTenantAdminLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodPost, "/api/v1/tenants", createTenantRequest{Name: "Beta", Domain: "beta.example"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[domain.Tenant](t, resp)
	require.NotEmpty(t, created.APIKey)
	require.True(t, created.IsActive)

	resp = f.do(http.MethodPatch, "/api/v1/tenants/"+created.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[domain.Tenant](t, resp)
	require.False(t, got.IsActive)

	resp = f.do(http.MethodPatch, "/api/v1/tenants/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decode[domain.Tenant](t, resp)
	require.True(t, got.IsActive)

	resp = f.do(http.MethodGet, "/api/v1/tenants", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]domain.Tenant](t, resp)
	require.Len(t, list, 2)
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	f := newFixture(t)
	f.limiter.SetLimit("tenant_admin:tenant:"+f.tenant.ID, 2, time.Minute)

	resp := f.do(http.MethodGet, "/api/v1/tenants", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	require.Equal(t, "1", resp.Header.Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
	_ = resp.Body.Close()

	resp = f.do(http.MethodGet, "/api/v1/tenants", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	_ = resp.Body.Close()

	resp = f.do(http.MethodGet, "/api/v1/tenants", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	_ = resp.Body.Close()
}

func TestWebhookSubscriptionCRUD(t *testing.T) {
	f := newFixture(t)
	base := "/api/v1/tenants/" + f.tenant.ID + "/webhooks"

	resp := f.do(http.MethodPost, base, createWebhookRequest{
		EventType: "user.released",
		URL:       "https://hooks.acme.example/waitgate",
		Secret:    "s3cret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sub := decode[store.WebhookSubscription](t, resp)
	require.True(t, sub.IsActive)

	resp = f.do(http.MethodPost, base, createWebhookRequest{EventType: "user.released", URL: "not-a-url"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	subs := decode[[]store.WebhookSubscription](t, resp)
	require.Len(t, subs, 1)

	resp = f.do(http.MethodDelete, fmt.Sprintf("%s/%s", base, sub.ID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	subs = decode[[]store.WebhookSubscription](t, resp)
	require.Empty(t, subs)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}
