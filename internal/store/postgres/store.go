// SPDX-License-Identifier: MIT

// Package postgres implements the store facade on PostgreSQL via the pgx
// stdlib driver. Semantics mirror the sqlite implementation; timestamps are
// truncated to millisecond precision so both backends report identical
// ordering.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/schedule"
	"github.com/waitgate/waitgate/internal/store"
)

// Store implements store.Store backed by Postgres.
type Store struct {
	DB *sql.DB
}

// New opens a Postgres-backed store using the provided DSN and applies the
// schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)

	s := &Store{DB: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	domain TEXT NOT NULL UNIQUE,
	api_key TEXT NOT NULL UNIQUE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS queues (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	max_concurrent INTEGER NOT NULL,
	release_rate INTEGER NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_release_at TIMESTAMPTZ NOT NULL,
	schedule_json TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ,
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
	enqueued_at TIMESTAMPTZ NOT NULL,
	served_at TIMESTAMPTZ,
	released_at TIMESTAMPTZ,
	dropped_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_queue_user ON user_sessions(queue_id, user_identifier);
CREATE INDEX IF NOT EXISTS idx_sessions_queue_status ON user_sessions(queue_id, status);

CREATE TABLE IF NOT EXISTS webhook_subscriptions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	url TEXT NOT NULL,
	secret TEXT,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_webhooks_tenant_event ON webhook_subscriptions(tenant_id, event_type);
`
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// --- tenants ---

func (s *Store) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO tenants (id, name, domain, api_key, is_active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Domain, t.APIKey, t.IsActive, ts(t.CreatedAt), ts(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create tenant: %w", err)
	}
	return nil
}

const tenantCols = "id, name, domain, api_key, is_active, created_at, updated_at"

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	var t domain.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.APIKey, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan tenant: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	return scanTenant(s.DB.QueryRowContext(ctx,
		"SELECT "+tenantCols+" FROM tenants WHERE id = $1 AND deleted_at IS NULL", id))
}

func (s *Store) GetTenantByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error) {
	return scanTenant(s.DB.QueryRowContext(ctx,
		"SELECT "+tenantCols+" FROM tenants WHERE api_key = $1 AND deleted_at IS NULL", apiKey))
}

func (s *Store) GetTenantByDomain(ctx context.Context, dnsDomain string) (*domain.Tenant, error) {
	return scanTenant(s.DB.QueryRowContext(ctx,
		"SELECT "+tenantCols+" FROM tenants WHERE domain = $1 AND deleted_at IS NULL", dnsDomain))
}

func (s *Store) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+tenantCols+" FROM tenants WHERE deleted_at IS NULL ORDER BY created_at")
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
		"UPDATE tenants SET is_active = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL",
		active, ts(time.Now()), id)
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
		is_active, last_release_at, schedule_json, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, q.TenantID, q.Name, q.Description, q.MaxConcurrentUsers, q.ReleaseRatePerMinute,
		q.IsActive, ts(q.LastReleaseAt), scheduleJSON, ts(q.CreatedAt), ts(q.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create queue: %w", err)
	}
	return nil
}

const queueCols = `id, tenant_id, name, description, max_concurrent, release_rate,
	is_active, last_release_at, schedule_json, created_at, updated_at`

func scanQueue(row interface{ Scan(...any) error }) (*domain.Queue, error) {
	var q domain.Queue
	var desc, scheduleJSON sql.NullString
	err := row.Scan(&q.ID, &q.TenantID, &q.Name, &desc, &q.MaxConcurrentUsers, &q.ReleaseRatePerMinute,
		&q.IsActive, &q.LastReleaseAt, &scheduleJSON, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan queue: %w", err)
	}
	q.Description = desc.String
	q.LastReleaseAt = q.LastReleaseAt.UTC()
	q.CreatedAt = q.CreatedAt.UTC()
	q.UpdatedAt = q.UpdatedAt.UTC()
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
		"SELECT "+queueCols+" FROM queues WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL",
		tenantID, queueID))
}

func (s *Store) UpdateQueue(ctx context.Context, q *domain.Queue) error {
	scheduleJSON, err := marshalSchedule(q.Schedule)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
	UPDATE queues SET name = $1, description = $2, max_concurrent = $3, release_rate = $4,
		is_active = $5, schedule_json = $6, updated_at = $7
	WHERE tenant_id = $8 AND id = $9 AND deleted_at IS NULL`,
		q.Name, q.Description, q.MaxConcurrentUsers, q.ReleaseRatePerMinute,
		q.IsActive, scheduleJSON, ts(time.Now()),
		q.TenantID, q.ID)
	if err != nil {
		return fmt.Errorf("store: update queue: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteQueue(ctx context.Context, tenantID, queueID string) error {
	now := ts(time.Now())
	res, err := s.DB.ExecContext(ctx,
		"UPDATE queues SET deleted_at = $1, updated_at = $1 WHERE tenant_id = $2 AND id = $3 AND deleted_at IS NULL",
		now, tenantID, queueID)
	if err != nil {
		return fmt.Errorf("store: delete queue: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ListQueues(ctx context.Context, tenantID string) ([]*domain.Queue, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+queueCols+" FROM queues WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list queues: %w", err)
	}
	return collectQueues(rows)
}

func (s *Store) ListAllQueues(ctx context.Context) ([]*domain.Queue, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+queueCols+" FROM queues WHERE deleted_at IS NULL ORDER BY created_at")
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
		"UPDATE queues SET last_release_at = $1 WHERE tenant_id = $2 AND id = $3 AND deleted_at IS NULL",
		ts(at), tenantID, queueID)
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
	WHERE queue_id = $1 AND user_identifier = $2 AND status IN ($3, $4)`,
		sess.QueueID, sess.UserIdentifier, string(domain.StatusWaiting), string(domain.StatusServing)).Scan(&blocking)
	if err != nil {
		return fmt.Errorf("store: add session: %w", err)
	}
	if blocking > 0 {
		return domain.ErrAlreadyEnqueued
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO user_sessions (id, queue_id, tenant_id, user_identifier, metadata,
		priority, status, position, enqueued_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.QueueID, sess.TenantID, sess.UserIdentifier, sess.Metadata,
		int(sess.Priority), string(sess.Status), sess.Position, ts(sess.EnqueuedAt), ts(sess.EnqueuedAt))
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

func transitionInTx(ctx context.Context, tx *sql.Tx, sessionID string, from, to domain.Status, at time.Time) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	var current string
	err := tx.QueryRowContext(ctx,
		"SELECT status FROM user_sessions WHERE id = $1 FOR UPDATE", sessionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: transition %s: %w", sessionID, err)
	}

	if domain.Status(current) == to && to.IsTerminal() {
		return nil
	}
	if domain.Status(current) != from {
		return fmt.Errorf("%w: session %s is %s, expected %s", domain.ErrInvalidTransition, sessionID, current, from)
	}

	var query string
	switch to {
	case domain.StatusServing:
		query = "UPDATE user_sessions SET status = $1, updated_at = $2, served_at = $2 WHERE id = $3 AND status = $4"
	case domain.StatusReleased:
		query = "UPDATE user_sessions SET status = $1, updated_at = $2, released_at = $2, position = 0 WHERE id = $3 AND status = $4"
	case domain.StatusDropped:
		query = "UPDATE user_sessions SET status = $1, updated_at = $2, dropped_at = $2, position = 0 WHERE id = $3 AND status = $4"
	default:
		query = "UPDATE user_sessions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4"
	}

	res, err := tx.ExecContext(ctx, query, string(to), ts(at), sessionID, string(from))
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
		"UPDATE user_sessions SET priority = $1, updated_at = $2 WHERE id = $3 AND status = $4",
		int(priority), ts(time.Now()), sessionID, string(domain.StatusWaiting))
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
			"SELECT COUNT(*) FROM user_sessions WHERE id = $1", sessionID).Scan(&exists); err != nil {
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
	status, position, enqueued_at, served_at, released_at, dropped_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.UserSession, error) {
	var sess domain.UserSession
	var metadata sql.NullString
	var priority int
	var status string
	var served, released, dropped sql.NullTime
	err := row.Scan(&sess.ID, &sess.QueueID, &sess.TenantID, &sess.UserIdentifier, &metadata,
		&priority, &status, &sess.Position, &sess.EnqueuedAt, &served, &released, &dropped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	sess.Metadata = metadata.String
	sess.Priority = domain.Priority(priority)
	sess.Status = domain.Status(status)
	sess.EnqueuedAt = sess.EnqueuedAt.UTC()
	if served.Valid {
		v := served.Time.UTC()
		sess.ServedAt = &v
	}
	if released.Valid {
		v := released.Time.UTC()
		sess.ReleasedAt = &v
	}
	if dropped.Valid {
		v := dropped.Time.UTC()
		sess.DroppedAt = &v
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, queueID, userIdentifier string) (*domain.UserSession, error) {
	row := s.DB.QueryRowContext(ctx, `
	SELECT `+sessionCols+` FROM user_sessions
	WHERE queue_id = $1 AND user_identifier = $2
	ORDER BY (status = $3) ASC, enqueued_at DESC, id DESC
	LIMIT 1`,
		queueID, userIdentifier, string(domain.StatusDropped))
	return scanSession(row)
}

func (s *Store) ListWaiting(ctx context.Context, queueID string) ([]*domain.UserSession, error) {
	rows, err := s.DB.QueryContext(ctx, `
	SELECT `+sessionCols+` FROM user_sessions
	WHERE queue_id = $1 AND status = $2
	ORDER BY priority DESC, enqueued_at ASC, id ASC`,
		queueID, string(domain.StatusWaiting))
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
		"SELECT COUNT(*) FROM user_sessions WHERE queue_id = $1 AND status = $2",
		queueID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count by status: %w", err)
	}
	return n, nil
}

// --- webhook subscriptions ---

func (s *Store) CreateSubscription(ctx context.Context, sub *store.WebhookSubscription) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO webhook_subscriptions (id, tenant_id, event_type, url, secret, is_active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.TenantID, sub.EventType, sub.URL, sub.Secret, sub.IsActive,
		ts(sub.CreatedAt), ts(sub.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: create subscription: %w", err)
	}
	return nil
}

const webhookCols = "id, tenant_id, event_type, url, secret, is_active, created_at, updated_at"

func scanSubscription(row interface{ Scan(...any) error }) (*store.WebhookSubscription, error) {
	var sub store.WebhookSubscription
	var secret sql.NullString
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.EventType, &sub.URL, &secret, &sub.IsActive,
		&sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan subscription: %w", err)
	}
	sub.Secret = secret.String
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string) ([]*store.WebhookSubscription, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+webhookCols+" FROM webhook_subscriptions WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (s *Store) ListSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]*store.WebhookSubscription, error) {
	rows, err := s.DB.QueryContext(ctx, `
	SELECT `+webhookCols+` FROM webhook_subscriptions
	WHERE tenant_id = $1 AND event_type = $2 AND is_active AND deleted_at IS NULL
	ORDER BY created_at`,
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
	now := ts(time.Now())
	res, err := s.DB.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET deleted_at = $1, updated_at = $1 WHERE tenant_id = $2 AND id = $3 AND deleted_at IS NULL",
		now, tenantID, subscriptionID)
	if err != nil {
		return fmt.Errorf("store: delete subscription: %w", err)
	}
	return requireRow(res)
}

// --- helpers ---

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
