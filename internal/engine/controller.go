// SPDX-License-Identifier: MIT

// Package engine drives admission: one release controller per (tenant,
// queue) pair owns the in-memory waiting set, ticks releases against the
// configured rate, cap and schedule, and is the write path for every
// session mutation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waitgate/waitgate/internal/bus"
	"github.com/waitgate/waitgate/internal/cache"
	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/log"
	"github.com/waitgate/waitgate/internal/metrics"
	"github.com/waitgate/waitgate/internal/store"
	"github.com/waitgate/waitgate/internal/waiting"
)

// DefaultTickInterval is the controller wake cadence.
const DefaultTickInterval = 1 * time.Second

// positionBroadcastLimit bounds how many position_changed events a single
// mutation fans out. Deeper positions are evicted from the cache instead,
// so polling clients get the authoritative rank.
const positionBroadcastLimit = 100

// ErrQueueGone signals a structural failure: the queue row disappeared and
// the controller must stop. Already-released sessions stay released.
var ErrQueueGone = errors.New("queue no longer exists")

// TriggerTick and TriggerManual label what initiated a release batch.
const (
	TriggerTick   = "tick"
	TriggerManual = "manual"
)

// Config wires one controller.
type Config struct {
	TenantID  string
	QueueID   string
	Store     store.Store
	Bus       *bus.Bus
	Positions cache.Cache
	Interval  time.Duration
	Now       func() time.Time
}

// Controller owns admission for a single queue.
type Controller struct {
	tenantID  string
	queueID   string
	store     store.Store
	bus       *bus.Bus
	positions cache.Cache
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger
	set       *waiting.Set

	// mu serializes ticks, manual releases and session mutations so the
	// waiting set and the store move together.
	mu sync.Mutex
}

// NewController validates cfg and builds a stopped controller. Call Load
// before Run to rebuild the waiting set from the store.
func NewController(cfg Config) (*Controller, error) {
	if cfg.TenantID == "" || cfg.QueueID == "" {
		return nil, errors.New("engine: tenant and queue ids must be set")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: store must be set")
	}
	if cfg.Bus == nil {
		return nil, errors.New("engine: bus must be set")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		tenantID:  cfg.TenantID,
		queueID:   cfg.QueueID,
		store:     cfg.Store,
		bus:       cfg.Bus,
		positions: cfg.Positions,
		interval:  cfg.Interval,
		now:       cfg.Now,
		log: log.Derive(func(zc *zerolog.Context) {
			*zc = zc.Str(log.FieldComponent, "engine").
				Str(log.FieldTenantID, cfg.TenantID).
				Str(log.FieldQueueID, cfg.QueueID)
		}),
		set: waiting.NewSet(),
	}, nil
}

// Load rebuilds the in-memory waiting set from persisted Waiting sessions.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions, err := c.store.ListWaiting(ctx, c.queueID)
	if err != nil {
		return fmt.Errorf("engine: load waiting set: %w", err)
	}
	c.set = waiting.NewSet()
	for _, sess := range sessions {
		c.set.Insert(sess)
	}
	metrics.WaitingSessions.WithLabelValues(c.tenantID, c.queueID).Set(float64(c.set.Size()))
	c.log.Info().Int(log.FieldWaiting, c.set.Size()).Msg("waiting set loaded")
	return nil
}

// Run ticks until ctx is done or a structural error stops the controller.
func (c *Controller) Run(ctx context.Context) error {
	metrics.ControllersRunning.Inc()
	defer metrics.ControllersRunning.Dec()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log.Info().Dur("interval", c.interval).Msg("release controller started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("release controller stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.log.Warn().Err(err).Msg("release controller stopped")
				return err
			}
		}
	}
}

// Tick runs one release pass. It returns nil for transient failures, which
// are logged and retried on the next wake, and ErrQueueGone when the queue
// row vanished.
func (c *Controller) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.ReleaseTickDuration.Observe(time.Since(start).Seconds())
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	q, err := c.store.GetQueue(ctx, c.tenantID, c.queueID)
	if errors.Is(err, domain.ErrNotFound) {
		return ErrQueueGone
	}
	if err != nil {
		c.transient("get_queue", err)
		return nil
	}

	now := c.now()

	// Closed or deactivated: budget must not accrue, so the release clock
	// moves to now and the queue reopens with an empty bucket.
	if !q.IsAvailableAt(now) {
		if !q.LastReleaseAt.Equal(now) {
			if err := c.store.SetLastReleaseAt(ctx, c.tenantID, c.queueID, now); err != nil {
				c.transient("set_last_release", err)
			}
		}
		return nil
	}

	budget := tokenBudget(q.ReleaseRatePerMinute, q.LastReleaseAt, now)
	if budget <= 0 {
		return nil
	}

	serving, err := c.store.CountByStatus(ctx, c.queueID, domain.StatusServing)
	if err != nil {
		c.transient("count_serving", err)
		return nil
	}
	metrics.ServingSessions.WithLabelValues(c.tenantID, c.queueID).Set(float64(serving))

	headroom := q.MaxConcurrentUsers - serving
	if headroom < 0 {
		headroom = 0
	}

	n := min(budget, headroom, c.set.Size())
	if n <= 0 {
		return nil
	}

	released, err := c.releaseLocked(ctx, n, now, TriggerTick)
	if err != nil {
		c.transient("bulk_transition", err)
		return nil
	}
	if err := c.store.SetLastReleaseAt(ctx, c.tenantID, c.queueID, now); err != nil {
		c.transient("set_last_release", err)
	}
	c.log.Info().
		Int(log.FieldReleased, len(released)).
		Int(log.FieldWaiting, c.set.Size()).
		Msg("release tick")
	return nil
}

// tokenBudget converts wall time since the last release into exit tokens,
// clamped to one minute of accrual.
func tokenBudget(ratePerMinute int, lastRelease, now time.Time) int {
	elapsed := now.Sub(lastRelease)
	if elapsed <= 0 {
		return 0
	}
	if elapsed > time.Minute {
		elapsed = time.Minute
	}
	return int(int64(ratePerMinute) * int64(elapsed) / int64(time.Minute))
}

// releaseLocked moves the first n waiting sessions to Released. Caller holds
// c.mu. On store failure the waiting set is untouched.
func (c *Controller) releaseLocked(ctx context.Context, n int, now time.Time, trigger string) ([]*domain.UserSession, error) {
	batch := c.set.Peek(n)
	if len(batch) == 0 {
		return nil, nil
	}
	ids := make([]string, len(batch))
	for i, sess := range batch {
		ids[i] = sess.ID
	}

	if err := c.store.BulkTransition(ctx, ids, domain.StatusWaiting, domain.StatusReleased, now); err != nil {
		return nil, err
	}

	for _, sess := range batch {
		c.set.Remove(sess.ID)
		cache.EvictPosition(c.positions, c.queueID, sess.UserIdentifier)
		sess.Status = domain.StatusReleased
		releasedAt := now
		sess.ReleasedAt = &releasedAt
		metrics.SessionsReleasedTotal.WithLabelValues(c.tenantID, c.queueID, trigger).Inc()
		c.bus.Publish(ctx, domain.NewEvent(domain.EventUserReleased, c.tenantID, now).
			WithQueue(c.queueID).
			WithUser(sess.UserIdentifier).
			WithPayload("session_id", sess.ID))
	}
	metrics.WaitingSessions.WithLabelValues(c.tenantID, c.queueID).Set(float64(c.set.Size()))
	c.broadcastPositionsLocked(ctx, now)
	return batch, nil
}

// broadcastPositionsLocked emits position_changed for the queue front and
// refreshes the position cache. Cached ranks past the broadcast window are
// evicted rather than skipped: every mutation shifts them, and a stale entry
// would otherwise be served by Position until its TTL ran out. Caller holds
// c.mu.
func (c *Controller) broadcastPositionsLocked(ctx context.Context, now time.Time) {
	all := c.set.Peek(c.set.Size())
	for i, sess := range all {
		pos := i + 1
		if pos > positionBroadcastLimit {
			cache.EvictPosition(c.positions, c.queueID, sess.UserIdentifier)
			continue
		}
		cache.SetPosition(c.positions, c.queueID, sess.UserIdentifier, pos, cache.DefaultPositionTTL)
		c.bus.Publish(ctx, domain.NewEvent(domain.EventUserPositionChanged, c.tenantID, now).
			WithQueue(c.queueID).
			WithUser(sess.UserIdentifier).
			WithPayload("position", pos))
	}
}

// ReleaseUsers force-releases up to count sessions. The cap is honored; the
// periodic tick budget is not reduced, so the release clock stays put. Used
// operationally to drain a queue, including outside scheduled hours.
func (c *Controller) ReleaseUsers(ctx context.Context, count int) ([]*domain.UserSession, error) {
	if count <= 0 {
		return nil, domain.Validation("count", "must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	q, err := c.store.GetQueue(ctx, c.tenantID, c.queueID)
	if err != nil {
		return nil, err
	}
	serving, err := c.store.CountByStatus(ctx, c.queueID, domain.StatusServing)
	if err != nil {
		return nil, err
	}
	headroom := q.MaxConcurrentUsers - serving
	if headroom < 0 {
		headroom = 0
	}

	n := min(count, headroom, c.set.Size())
	if n <= 0 {
		return nil, nil
	}
	return c.releaseLocked(ctx, n, c.now(), TriggerManual)
}

// Enqueue admits a user into the waiting set and persists the session. The
// returned position is 1-based.
func (c *Controller) Enqueue(ctx context.Context, userIdentifier, metadata string, priority domain.Priority) (*domain.UserSession, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, err := c.store.GetQueue(ctx, c.tenantID, c.queueID)
	if err != nil {
		return nil, 0, err
	}
	now := c.now()
	if !q.IsAvailableAt(now) {
		return nil, 0, domain.ErrQueueClosed
	}

	sess, err := domain.NewUserSession(c.tenantID, c.queueID, userIdentifier, metadata, priority, now)
	if err != nil {
		return nil, 0, err
	}
	if c.set.Contains(sess.UserIdentifier) {
		return nil, 0, domain.ErrAlreadyEnqueued
	}
	if err := c.store.AddSession(ctx, sess); err != nil {
		return nil, 0, err
	}
	c.set.Insert(sess)

	pos := c.set.PositionOf(sess.UserIdentifier)
	cache.SetPosition(c.positions, c.queueID, sess.UserIdentifier, pos, cache.DefaultPositionTTL)
	metrics.SessionsEnqueuedTotal.WithLabelValues(c.tenantID, c.queueID, sess.Priority.String()).Inc()
	metrics.WaitingSessions.WithLabelValues(c.tenantID, c.queueID).Set(float64(c.set.Size()))

	c.bus.Publish(ctx, domain.NewEvent(domain.EventUserEnqueued, c.tenantID, now).
		WithQueue(c.queueID).
		WithUser(sess.UserIdentifier).
		WithPayload("session_id", sess.ID).
		WithPayload("position", pos).
		WithPayload("priority", sess.Priority.String()))
	return sess, pos, nil
}

// DropUser removes a user's waiting session.
func (c *Controller) DropUser(ctx context.Context, userIdentifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.set.Get(userIdentifier)
	if sess == nil {
		return domain.ErrNotFound
	}
	now := c.now()
	if err := c.store.TransitionSession(ctx, sess.ID, domain.StatusWaiting, domain.StatusDropped, now); err != nil {
		return err
	}
	c.set.Remove(sess.ID)
	cache.EvictPosition(c.positions, c.queueID, userIdentifier)
	metrics.SessionsDroppedTotal.WithLabelValues(c.tenantID, c.queueID).Inc()
	metrics.WaitingSessions.WithLabelValues(c.tenantID, c.queueID).Set(float64(c.set.Size()))

	c.bus.Publish(ctx, domain.NewEvent(domain.EventUserDropped, c.tenantID, now).
		WithQueue(c.queueID).
		WithUser(userIdentifier).
		WithPayload("session_id", sess.ID))
	c.broadcastPositionsLocked(ctx, now)
	return nil
}

// MarkServing moves a waiting user straight to Serving, consuming cap
// headroom. Used when the downstream admits a user out of band.
func (c *Controller) MarkServing(ctx context.Context, userIdentifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.set.Get(userIdentifier)
	if sess == nil {
		return domain.ErrNotFound
	}
	now := c.now()
	if err := c.store.TransitionSession(ctx, sess.ID, domain.StatusWaiting, domain.StatusServing, now); err != nil {
		return err
	}
	c.set.Remove(sess.ID)
	cache.EvictPosition(c.positions, c.queueID, userIdentifier)
	metrics.WaitingSessions.WithLabelValues(c.tenantID, c.queueID).Set(float64(c.set.Size()))

	c.bus.Publish(ctx, domain.NewEvent(domain.EventUserServed, c.tenantID, now).
		WithQueue(c.queueID).
		WithUser(userIdentifier).
		WithPayload("session_id", sess.ID))
	c.broadcastPositionsLocked(ctx, now)
	return nil
}

// SetPriority mutates the priority of a waiting session and reorders the
// waiting set so release order stays consistent.
func (c *Controller) SetPriority(ctx context.Context, userIdentifier string, priority domain.Priority) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.set.Get(userIdentifier)
	if sess == nil {
		return 0, domain.ErrNotFound
	}
	if sess.Priority == priority {
		return c.set.PositionOf(userIdentifier), nil
	}
	if err := c.store.SetSessionPriority(ctx, sess.ID, priority); err != nil {
		return 0, err
	}
	sess.Priority = priority
	c.set.Reinsert(sess)

	now := c.now()
	pos := c.set.PositionOf(userIdentifier)
	cache.SetPosition(c.positions, c.queueID, userIdentifier, pos, cache.DefaultPositionTTL)
	c.broadcastPositionsLocked(ctx, now)
	return pos, nil
}

// Position returns the user's 1-based rank, or 0 when not waiting.
func (c *Controller) Position(userIdentifier string) int {
	if pos, ok := cache.GetPosition(c.positions, c.queueID, userIdentifier); ok {
		return pos
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pos := c.set.PositionOf(userIdentifier)
	if pos > 0 {
		cache.SetPosition(c.positions, c.queueID, userIdentifier, pos, cache.DefaultPositionTTL)
	}
	return pos
}

// Waiting returns the current waiting count.
func (c *Controller) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Size()
}

// WaitingByPriority counts waiting sessions per priority name.
func (c *Controller) WaitingByPriority() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int)
	for _, sess := range c.set.Peek(c.set.Size()) {
		out[sess.Priority.String()]++
	}
	return out
}

// Stats summarizes the queue for the analytics surface.
type Stats struct {
	Waiting  int `json:"waiting"`
	Serving  int `json:"serving"`
	Released int `json:"released"`
	Dropped  int `json:"dropped"`
}

// Stats counts sessions by status.
func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	st.Waiting = c.Waiting()

	var err error
	if st.Serving, err = c.store.CountByStatus(ctx, c.queueID, domain.StatusServing); err != nil {
		return st, err
	}
	if st.Released, err = c.store.CountByStatus(ctx, c.queueID, domain.StatusReleased); err != nil {
		return st, err
	}
	if st.Dropped, err = c.store.CountByStatus(ctx, c.queueID, domain.StatusDropped); err != nil {
		return st, err
	}
	return st, nil
}

func (c *Controller) transient(op string, err error) {
	metrics.ReleaseTickErrors.WithLabelValues(c.tenantID, c.queueID).Inc()
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	c.log.Warn().Err(err).Str("op", op).Msg("transient store failure, retrying next tick")
}
