// SPDX-License-Identifier: MIT

package domain

import "time"

// EventKind names a lifecycle event on the internal bus. The values double
// as webhook event types, so they stay stable.
type EventKind string

const (
	EventUserEnqueued        EventKind = "user.enqueued"
	EventUserPositionChanged EventKind = "user.position_changed"
	EventUserReleased        EventKind = "user.released"
	EventUserDropped         EventKind = "user.dropped"
	EventUserServed          EventKind = "user.served"
	EventQueueCreated        EventKind = "queue.created"
	EventQueueActivated      EventKind = "queue.activated"
	EventQueueDeactivated    EventKind = "queue.deactivated"
	EventQueueSchedule       EventKind = "queue.schedule_updated"
	EventTenantCreated       EventKind = "tenant.created"
	EventTenantActivated     EventKind = "tenant.activated"
	EventTenantDeactivated   EventKind = "tenant.deactivated"
)

// Event is the single envelope flowing through the bus, push channel and
// webhook dispatcher. QueueID and UserIdentifier are empty for events that
// do not concern a queue or user. Payload is schema-less; subscribers that
// care validate per kind.
type Event struct {
	Kind           EventKind      `json:"event"`
	TenantID       string         `json:"tenant_id"`
	QueueID        string         `json:"queue_id,omitempty"`
	UserIdentifier string         `json:"user_identifier,omitempty"`
	Payload        map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewEvent builds an event stamped with ts in UTC.
func NewEvent(kind EventKind, tenantID string, ts time.Time) Event {
	return Event{
		Kind:      kind,
		TenantID:  tenantID,
		Payload:   map[string]any{},
		Timestamp: ts.UTC(),
	}
}

// WithQueue attaches a queue ID.
func (e Event) WithQueue(queueID string) Event {
	e.QueueID = queueID
	return e
}

// WithUser attaches a user identifier.
func (e Event) WithUser(userIdentifier string) Event {
	e.UserIdentifier = userIdentifier
	return e
}

// WithPayload adds one payload entry.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	e.Payload[key] = value
	return e
}
