// SPDX-License-Identifier: MIT

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders waiting sessions. Higher values are released first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityVIP    Priority = 3
)

// ParsePriority accepts the wire names (case-insensitive). The empty string
// maps to Normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "vip":
		return PriorityVIP, nil
	}
	return PriorityNormal, Validation("priority", "must be one of low, normal, high, vip")
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityVIP:
		return "vip"
	default:
		return "normal"
	}
}

// Status is the client-visible session lifecycle.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusServing  Status = "serving"
	StatusReleased Status = "released"
	StatusDropped  Status = "dropped"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusDropped
}

// CanTransition reports whether from -> to is a legal edge of the session
// state machine. Re-entering Released or Dropped is legal (idempotent);
// Serving may only be entered from Waiting.
func CanTransition(from, to Status) bool {
	if from == to && to.IsTerminal() {
		return true
	}
	switch from {
	case StatusWaiting:
		return to == StatusServing || to == StatusReleased || to == StatusDropped
	case StatusServing:
		return to == StatusReleased
	}
	return false
}

// UserSession is one user's participation in one queue.
type UserSession struct {
	ID             string     `json:"id"`
	QueueID        string     `json:"queueId"`
	TenantID       string     `json:"tenantId"`
	UserIdentifier string     `json:"userIdentifier"`
	Metadata       string     `json:"metadata,omitempty"`
	Priority       Priority   `json:"priority"`
	Status         Status     `json:"status"`
	Position       int        `json:"position"`
	EnqueuedAt     time.Time  `json:"enqueuedAt"`
	ServedAt       *time.Time `json:"servedAt,omitempty"`
	ReleasedAt     *time.Time `json:"releasedAt,omitempty"`
	DroppedAt      *time.Time `json:"droppedAt,omitempty"`
}

// NewUserSession validates caller-supplied fields and builds a Waiting session.
func NewUserSession(tenantID, queueID, userIdentifier, metadata string, priority Priority, now time.Time) (*UserSession, error) {
	userIdentifier = strings.TrimSpace(userIdentifier)
	if userIdentifier == "" {
		return nil, Validation("userIdentifier", "must not be empty")
	}
	if len(userIdentifier) > MaxUserIdentifierLen {
		return nil, Validation("userIdentifier", "must be at most 255 characters")
	}
	if len(metadata) > MaxSessionMetadataLen {
		return nil, Validation("metadata", "must be at most 1000 characters")
	}
	if priority < PriorityLow || priority > PriorityVIP {
		return nil, Validation("priority", "must be one of low, normal, high, vip")
	}
	return &UserSession{
		ID:             uuid.NewString(),
		QueueID:        queueID,
		TenantID:       tenantID,
		UserIdentifier: userIdentifier,
		Metadata:       metadata,
		Priority:       priority,
		Status:         StatusWaiting,
		EnqueuedAt:     now.UTC(),
	}, nil
}

// Less is the total release order: priority descending, then EnqueuedAt
// ascending, then session ID ascending. The final tie-break makes the order
// deterministic for sessions enqueued at the same instant.
func Less(a, b *UserSession) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}
