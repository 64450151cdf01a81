// SPDX-License-Identifier: MIT

// Package sqlite implements the store facade on SQLite via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/schedule"
	"github.com/waitgate/waitgate/internal/store"
)

const schemaVersion = 1

// Store implements store.Store on SQLite.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at dbPath and applies migrations.
func New(dbPath string) (*Store, error) {
	db, err := openDB(dbPath, DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		domain TEXT NOT NULL UNIQUE,
		api_key TEXT NOT NULL UNIQUE,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		deleted_at_ms INTEGER
	);

	CREATE TABLE IF NOT EXISTS queues (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		max_concurrent INTEGER NOT NULL,
		release_rate INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_release_at_ms INTEGER NOT NULL,
		schedule_json TEXT,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		deleted_at_ms INTEGER,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS user_sessions (
		id TEXT PRIMARY KEY,
		queue_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		user_identifier TEXT NOT NULL,
		metadata TEXT,
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		enqueued_at_ms INTEGER NOT NULL,
		served_at_ms INTEGER,
		released_at_ms INTEGER,
		dropped_at_ms INTEGER,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_queue_user ON user_sessions(queue_id, user_identifier);
	CREATE INDEX IF NOT EXISTS idx_sessions_queue_status ON user_sessions(queue_id, status);

	CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		deleted_at_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_webhooks_tenant_event ON webhook_subscriptions(tenant_id, event_type);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- time helpers ---

func toMS(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMS(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromMSPtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMS(ms.Int64)
	return &t
}

// --- tenants ---

func (s *Store) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO tenants (id, name, domain, api_key, is_active, created_at_ms, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Domain, t.APIKey, boolToInt(t.IsActive), toMS(t.CreatedAt), toMS(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create tenant: %w", err)
	}
	return nil
}

const tenantCols = "id, name, domain, api_key, is_active, created_at_ms, updated_at_ms"

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	var t domain.Tenant
	var active int
	var created, updated int64
	err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.APIKey, &active, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan tenant: %w", err)
	}
	t.IsActive = active != 0
	t.CreatedAt = fromMS(created)
	t.UpdatedAt = fromMS(updated)
	return &t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	return scanTenant(s.DB.QueryRowContext(ctx,
		"SELECT "+tenantCols+" FROM tenants WHERE id = ? AND deleted_at_ms IS NULL", id))
}

func (s *Store) GetTenantByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error) {
	return scanTenant(s.DB.QueryRowContext(ctx,
		"SELECT "+tenantCols+" FROM tenants WHERE api_key = ? AND deleted_at_ms IS NULL", apiKey))
}

func (s *Store) GetTenantByDomain(ctx context.Context, dnsDomain string) (*domain.Tenant, error) {
	return scanTenant(s.DB.QueryRowContext(ctx,
		"SELECT "+tenantCols+" FROM tenants WHERE domain = ? AND deleted_at_ms IS NULL", dnsDomain))
}

func (s *Store) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+tenantCols+" FROM tenants WHERE deleted_at_ms IS NULL ORDER BY created_at_ms")
	if err != nil {
		return nil, fmt.Errorf("store: list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SetTenantActive(ctx context.Context, id string, active bool) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE tenants SET is_active = ?, updated_at_ms = ? WHERE id = ? AND deleted_at_ms IS NULL",
		boolToInt(active), toMS(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: set tenant active: %w", err)
	}
	return requireRow(res)
}

// --- queues ---

func (s *Store) CreateQueue(ctx context.Context, q *domain.Queue) error {
	scheduleJSON, err := marshalSchedule(q.Schedule)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO queues (id, tenant_id, name, description, max_concurrent, release_rate,
		is_active, last_release_at_ms, schedule_json, created_at_ms, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.TenantID, q.Name, q.Description, q.MaxConcurrentUsers, q.ReleaseRatePerMinute,
		boolToInt(q.IsActive), toMS(q.LastReleaseAt), scheduleJSON, toMS(q.CreatedAt), toMS(q.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create queue: %w", err)
	}
	return nil
}

const queueCols = `id, tenant_id, name, description, max_concurrent, release_rate,
	is_active, last_release_at_ms, schedule_json, created_at_ms, updated_at_ms`

func scanQueue(row interface{ Scan(...any) error }) (*domain.Queue, error) {
	var q domain.Queue
	var active int
	var desc, scheduleJSON sql.NullString
	var lastRelease, created, updated int64
	err := row.Scan(&q.ID, &q.TenantID, &q.Name, &desc, &q.MaxConcurrentUsers, &q.ReleaseRatePerMinute,
		&active, &lastRelease, &scheduleJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan queue: %w", err)
	}
	q.Description = desc.String
	q.IsActive = active != 0
	q.LastReleaseAt = fromMS(lastRelease)
	q.CreatedAt = fromMS(created)
	q.UpdatedAt = fromMS(updated)
	if scheduleJSON.Valid && scheduleJSON.String != "" {
		sched, err := schedule.Parse([]byte(scheduleJSON.String))
		if err != nil {
			return nil, fmt.Errorf("store: queue %s: %w", q.ID, err)
		}
		q.Schedule = sched
	}
	return &q, nil
}

func (s *Store) GetQueue(ctx context.Context, tenantID, queueID string) (*domain.Queue, error) {
	return scanQueue(s.DB.QueryRowContext(ctx,
		"SELECT "+queueCols+" FROM queues WHERE tenant_id = ? AND id = ? AND deleted_at_ms IS NULL",
		tenantID, queueID))
}

func (s *Store) UpdateQueue(ctx context.Context, q *domain.Queue) error {
	scheduleJSON, err := marshalSchedule(q.Schedule)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
	UPDATE queues SET name = ?, description = ?, max_concurrent = ?, release_rate = ?,
		is_active = ?, schedule_json = ?, updated_at_ms = ?
	WHERE tenant_id = ? AND id = ? AND deleted_at_ms IS NULL`,
		q.Name, q.Description, q.MaxConcurrentUsers, q.ReleaseRatePerMinute,
		boolToInt(q.IsActive), scheduleJSON, toMS(time.Now()),
		q.TenantID, q.ID)
	if err != nil {
		return fmt.Errorf("store: update queue: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteQueue(ctx context.Context, tenantID, queueID string) error {
	nowMS := toMS(time.Now())
	res, err := s.DB.ExecContext(ctx,
		"UPDATE queues SET deleted_at_ms = ?, updated_at_ms = ? WHERE tenant_id = ? AND id = ? AND deleted_at_ms IS NULL",
		nowMS, nowMS, tenantID, queueID)
	if err != nil {
		return fmt.Errorf("store: delete queue: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ListQueues(ctx context.Context, tenantID string) ([]*domain.Queue, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+queueCols+" FROM queues WHERE tenant_id = ? AND deleted_at_ms IS NULL ORDER BY created_at_ms",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list queues: %w", err)
	}
	return collectQueues(rows)
}

func (s *Store) ListAllQueues(ctx context.Context) ([]*domain.Queue, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+queueCols+" FROM queues WHERE deleted_at_ms IS NULL ORDER BY created_at_ms")
	if err != nil {
		return nil, fmt.Errorf("store: list all queues: %w", err)
	}
	return collectQueues(rows)
}

func collectQueues(rows *sql.Rows) ([]*domain.Queue, error) {
	defer func() { _ = rows.Close() }()
	var out []*domain.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) SetLastReleaseAt(ctx context.Context, tenantID, queueID string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE queues SET last_release_at_ms = ? WHERE tenant_id = ? AND id = ? AND deleted_at_ms IS NULL",
		toMS(at), tenantID, queueID)
	if err != nil {
		return fmt.Errorf("store: set last release: %w", err)
	}
	return requireRow(res)
}

// --- sessions ---

func (s *Store) AddSession(ctx context.Context, sess *domain.UserSession) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: add session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var blocking int
	err = tx.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM user_sessions
	WHERE queue_id = ? AND user_identifier = ? AND status IN (?, ?)`,
		sess.QueueID, sess.UserIdentifier, domain.StatusWaiting, domain.StatusServing).Scan(&blocking)
	if err != nil {
		return fmt.Errorf("store: add session: %w", err)
	}
	if blocking > 0 {
		return domain.ErrAlreadyEnqueued
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO user_sessions (id, queue_id, tenant_id, user_identifier, metadata,
		priority, status, position, enqueued_at_ms, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.QueueID, sess.TenantID, sess.UserIdentifier, sess.Metadata,
		int(sess.Priority), sess.Status, sess.Position, toMS(sess.EnqueuedAt), toMS(sess.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("store: add session: %w", err)
	}
	return tx.Commit()
}

func (s *Store) TransitionSession(ctx context.Context, sessionID string, from, to domain.Status, at time.Time) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := transitionInTx(ctx, tx, sessionID, from, to, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) BulkTransition(ctx context.Context, sessionIDs []string, from, to domain.Status, at time.Time) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: bulk transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range sessionIDs {
		if err := transitionInTx(ctx, tx, id, from, to, at); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// transitionInTx applies one status edge. The WHERE clause pins the expected
// current status, so a concurrent transition loses cleanly.
func transitionInTx(ctx context.Context, tx *sql.Tx, sessionID string, from, to domain.Status, at time.Time) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	var current domain.Status
	err := tx.QueryRowContext(ctx, "SELECT status FROM user_sessions WHERE id = ?", sessionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: transition %s: %w", sessionID, err)
	}

	// Terminal statuses absorb repeats without touching timestamps.
	if current == to && to.IsTerminal() {
		return nil
	}
	if current != from {
		return fmt.Errorf("%w: session %s is %s, expected %s", domain.ErrInvalidTransition, sessionID, current, from)
	}

	set := "status = ?, updated_at_ms = ?"
	args := []any{to, toMS(at)}
	switch to {
	case domain.StatusServing:
		set += ", served_at_ms = ?"
		args = append(args, toMS(at))
	case domain.StatusReleased:
		set += ", released_at_ms = ?, position = 0"
		args = append(args, toMS(at))
	case domain.StatusDropped:
		set += ", dropped_at_ms = ?, position = 0"
		args = append(args, toMS(at))
	}
	args = append(args, sessionID, from)

	res, err := tx.ExecContext(ctx,
		"UPDATE user_sessions SET "+set+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return fmt.Errorf("store: transition %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s changed concurrently", domain.ErrInvalidTransition, sessionID)
	}
	return nil
}

func (s *Store) SetSessionPriority(ctx context.Context, sessionID string, priority domain.Priority) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE user_sessions SET priority = ?, updated_at_ms = ? WHERE id = ? AND status = ?",
		int(priority), toMS(time.Now()), sessionID, domain.StatusWaiting)
	if err != nil {
		return fmt.Errorf("store: set priority: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.DB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM user_sessions WHERE id = ?", sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("store: set priority: %w", err)
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: session %s is not waiting", domain.ErrInvalidTransition, sessionID)
	}
	return nil
}

const sessionCols = `id, queue_id, tenant_id, user_identifier, metadata, priority,
	status, position, enqueued_at_ms, served_at_ms, released_at_ms, dropped_at_ms`

func scanSession(row interface{ Scan(...any) error }) (*domain.UserSession, error) {
	var sess domain.UserSession
	var metadata sql.NullString
	var priority int
	var enqueued int64
	var served, released, dropped sql.NullInt64
	err := row.Scan(&sess.ID, &sess.QueueID, &sess.TenantID, &sess.UserIdentifier, &metadata,
		&priority, &sess.Status, &sess.Position, &enqueued, &served, &released, &dropped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	sess.Metadata = metadata.String
	sess.Priority = domain.Priority(priority)
	sess.EnqueuedAt = fromMS(enqueued)
	sess.ServedAt = fromMSPtr(served)
	sess.ReleasedAt = fromMSPtr(released)
	sess.DroppedAt = fromMSPtr(dropped)
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, queueID, userIdentifier string) (*domain.UserSession, error) {
	// Latest non-Dropped first; a Dropped session only surfaces when it is
	// all that remains.
	row := s.DB.QueryRowContext(ctx, `
	SELECT `+sessionCols+` FROM user_sessions
	WHERE queue_id = ? AND user_identifier = ?
	ORDER BY (status = ?) ASC, enqueued_at_ms DESC, id DESC
	LIMIT 1`,
		queueID, userIdentifier, domain.StatusDropped)
	return scanSession(row)
}

func (s *Store) ListWaiting(ctx context.Context, queueID string) ([]*domain.UserSession, error) {
	rows, err := s.DB.QueryContext(ctx, `
	SELECT `+sessionCols+` FROM user_sessions
	WHERE queue_id = ? AND status = ?
	ORDER BY priority DESC, enqueued_at_ms ASC, id ASC`,
		queueID, domain.StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("store: list waiting: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.UserSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) CountByStatus(ctx context.Context, queueID string, status domain.Status) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_sessions WHERE queue_id = ? AND status = ?",
		queueID, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count by status: %w", err)
	}
	return n, nil
}

// --- webhook subscriptions ---

func (s *Store) CreateSubscription(ctx context.Context, sub *store.WebhookSubscription) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO webhook_subscriptions (id, tenant_id, event_type, url, secret, is_active, created_at_ms, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TenantID, sub.EventType, sub.URL, sub.Secret, boolToInt(sub.IsActive),
		toMS(sub.CreatedAt), toMS(sub.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create subscription: %w", err)
	}
	return nil
}

const webhookCols = "id, tenant_id, event_type, url, secret, is_active, created_at_ms, updated_at_ms"

func scanSubscription(row interface{ Scan(...any) error }) (*store.WebhookSubscription, error) {
	var sub store.WebhookSubscription
	var secret sql.NullString
	var active int
	var created, updated int64
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.EventType, &sub.URL, &secret, &active, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan subscription: %w", err)
	}
	sub.Secret = secret.String
	sub.IsActive = active != 0
	sub.CreatedAt = fromMS(created)
	sub.UpdatedAt = fromMS(updated)
	return &sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string) ([]*store.WebhookSubscription, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+webhookCols+" FROM webhook_subscriptions WHERE tenant_id = ? AND deleted_at_ms IS NULL ORDER BY created_at_ms",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (s *Store) ListSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]*store.WebhookSubscription, error) {
	rows, err := s.DB.QueryContext(ctx, `
	SELECT `+webhookCols+` FROM webhook_subscriptions
	WHERE tenant_id = ? AND event_type = ? AND is_active = 1 AND deleted_at_ms IS NULL
	ORDER BY created_at_ms`,
		tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("store: list subscriptions for event: %w", err)
	}
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows *sql.Rows) ([]*store.WebhookSubscription, error) {
	defer func() { _ = rows.Close() }()
	var out []*store.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSubscription(ctx context.Context, tenantID, subscriptionID string) error {
	nowMS := toMS(time.Now())
	res, err := s.DB.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET deleted_at_ms = ?, updated_at_ms = ? WHERE tenant_id = ? AND id = ? AND deleted_at_ms IS NULL",
		nowMS, nowMS, tenantID, subscriptionID)
	if err != nil {
		return fmt.Errorf("store: delete subscription: %w", err)
	}
	return requireRow(res)
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func marshalSchedule(sched *schedule.Schedule) (any, error) {
	if sched == nil {
		return nil, nil
	}
	raw, err := json.Marshal(sched)
	if err != nil {
		return nil, fmt.Errorf("store: marshal schedule: %w", err)
	}
	return string(raw), nil
}

var _ store.Store = (*Store)(nil)
