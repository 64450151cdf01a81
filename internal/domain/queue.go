// SPDX-License-Identifier: MIT

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waitgate/waitgate/internal/schedule"
)

// Configuration bounds for queues. Enforced on create and on every update.
const (
	MinConcurrentUsers    = 1
	MaxConcurrentUsers    = 10000
	MinReleasePerMinute   = 1
	MaxReleasePerMinute   = 1000
	MaxUserIdentifierLen  = 255
	MaxSessionMetadataLen = 1000
)

// Queue is the admission unit: an ordered waiting set with a release rate,
// a concurrency cap and an optional weekly schedule. (TenantID, ID) is the
// lookup key everywhere.
type Queue struct {
	ID                   string             `json:"id"`
	TenantID             string             `json:"tenantId"`
	Name                 string             `json:"name"`
	Description          string             `json:"description,omitempty"`
	MaxConcurrentUsers   int                `json:"maxConcurrentUsers"`
	ReleaseRatePerMinute int                `json:"releaseRatePerMinute"`
	IsActive             bool               `json:"isActive"`
	LastReleaseAt        time.Time          `json:"lastReleaseAt"`
	Schedule             *schedule.Schedule `json:"schedule,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// NewQueue builds an active queue after validating configuration bounds.
func NewQueue(tenantID, name, description string, maxConcurrent, ratePerMinute int, now time.Time) (*Queue, error) {
	q := &Queue{
		ID:                   uuid.NewString(),
		TenantID:             tenantID,
		Name:                 strings.TrimSpace(name),
		Description:          strings.TrimSpace(description),
		MaxConcurrentUsers:   maxConcurrent,
		ReleaseRatePerMinute: ratePerMinute,
		IsActive:             true,
		LastReleaseAt:        now.UTC(),
		CreatedAt:            now.UTC(),
		UpdatedAt:            now.UTC(),
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// Validate enforces the documented configuration bounds.
func (q *Queue) Validate() error {
	if strings.TrimSpace(q.Name) == "" {
		return Validation("name", "must not be empty")
	}
	if q.TenantID == "" {
		return Validation("tenantId", "must not be empty")
	}
	if q.MaxConcurrentUsers < MinConcurrentUsers || q.MaxConcurrentUsers > MaxConcurrentUsers {
		return Validation("maxConcurrentUsers", "must be between 1 and 10000")
	}
	if q.ReleaseRatePerMinute < MinReleasePerMinute || q.ReleaseRatePerMinute > MaxReleasePerMinute {
		return Validation("releaseRatePerMinute", "must be between 1 and 1000")
	}
	return nil
}

// IsAvailableAt reports whether the queue accepts users at t: the active flag
// must be set and t must fall inside the schedule (absent schedule means
// always available).
func (q *Queue) IsAvailableAt(t time.Time) bool {
	if !q.IsActive {
		return false
	}
	return schedule.IsActive(q.Schedule, t)
}
