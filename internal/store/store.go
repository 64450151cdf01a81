// SPDX-License-Identifier: MIT

// Package store defines the durable facade over tenants, queues, user
// sessions and webhook subscriptions. It is the only component that writes
// session rows; the in-memory waiting sets are rebuilt from ListWaiting or
// updated co-transactionally by the callers.
//
// Implementations live in the sqlite and postgres subpackages.
package store

import (
	"context"
	"time"

	"github.com/waitgate/waitgate/internal/domain"
)

// TenantStore persists tenants. Tenants are soft-deactivated, never deleted.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *domain.Tenant) error
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error)
	GetTenantByDomain(ctx context.Context, dnsDomain string) (*domain.Tenant, error)
	ListTenants(ctx context.Context) ([]*domain.Tenant, error)
	SetTenantActive(ctx context.Context, id string, active bool) error
}

// QueueStore persists queue configuration. (TenantID, ID) is the lookup key;
// deletes are soft (deleted_at).
type QueueStore interface {
	CreateQueue(ctx context.Context, q *domain.Queue) error
	GetQueue(ctx context.Context, tenantID, queueID string) (*domain.Queue, error)
	UpdateQueue(ctx context.Context, q *domain.Queue) error
	DeleteQueue(ctx context.Context, tenantID, queueID string) error
	ListQueues(ctx context.Context, tenantID string) ([]*domain.Queue, error)
	ListAllQueues(ctx context.Context) ([]*domain.Queue, error)
	SetLastReleaseAt(ctx context.Context, tenantID, queueID string, at time.Time) error
}

// SessionStore is the atomic session facade of the admission engine.
type SessionStore interface {
	// AddSession inserts a Waiting session. It fails with
	// domain.ErrAlreadyEnqueued when a Waiting or Serving session already
	// exists for (queue, user identifier).
	AddSession(ctx context.Context, s *domain.UserSession) error

	// TransitionSession moves one session from -> to, setting the
	// corresponding timestamp on first entry. Terminal self-transitions are
	// idempotent no-ops. Fails with domain.ErrInvalidTransition when the
	// current status is not from (unless idempotent) and domain.ErrNotFound
	// when the session does not exist.
	TransitionSession(ctx context.Context, sessionID string, from, to domain.Status, at time.Time) error

	// BulkTransition applies TransitionSession to all ids in one commit.
	// Any failure rolls the whole batch back.
	BulkTransition(ctx context.Context, sessionIDs []string, from, to domain.Status, at time.Time) error

	// GetSession returns the latest non-Dropped session for (queue, user
	// identifier), else the latest Dropped one, else domain.ErrNotFound.
	GetSession(ctx context.Context, queueID, userIdentifier string) (*domain.UserSession, error)

	// SetSessionPriority updates the priority of a Waiting session. Fails
	// with domain.ErrInvalidTransition when the session is no longer waiting.
	SetSessionPriority(ctx context.Context, sessionID string, priority domain.Priority) error

	// ListWaiting returns all Waiting sessions of the queue in release order
	// (priority desc, enqueued_at asc, id asc).
	ListWaiting(ctx context.Context, queueID string) ([]*domain.UserSession, error)

	// CountByStatus counts the queue's sessions currently in status.
	CountByStatus(ctx context.Context, queueID string, status domain.Status) (int, error)
}

// WebhookSubscription is a tenant-registered delivery target.
type WebhookSubscription struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	EventType string    `json:"eventType"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WebhookStore persists webhook subscriptions.
type WebhookStore interface {
	CreateSubscription(ctx context.Context, sub *WebhookSubscription) error
	ListSubscriptions(ctx context.Context, tenantID string) ([]*WebhookSubscription, error)
	ListSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]*WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, tenantID, subscriptionID string) error
}

// Store aggregates every persistence concern behind one handle.
type Store interface {
	TenantStore
	QueueStore
	SessionStore
	WebhookStore
	Close() error
}
