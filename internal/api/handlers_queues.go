// SPDX-License-Identifier: MIT

package api

import (
	"io"
	"net/http"
	"time"

	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/engine"
	"github.com/waitgate/waitgate/internal/schedule"
)

type createQueueRequest struct {
	Name                 string `json:"name"`
	Description          string `json:"description"`
	MaxConcurrentUsers   int    `json:"maxConcurrentUsers"`
	ReleaseRatePerMinute int    `json:"releaseRatePerMinute"`
}

type updateQueueRequest struct {
	Name                 string `json:"name"`
	Description          string `json:"description"`
	MaxConcurrentUsers   int    `json:"maxConcurrentUsers"`
	ReleaseRatePerMinute int    `json:"releaseRatePerMinute"`
}

func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	tenantID := pathParam(r, "tenantID")
	var req createQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	now := s.now()
	q, err := domain.NewQueue(tenantID, req.Name, req.Description, req.MaxConcurrentUsers, req.ReleaseRatePerMinute, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.store.CreateQueue(r.Context(), q); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if _, err := s.engines.Ensure(r.Context(), tenantID, q.ID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.bus.Publish(r.Context(), domain.NewEvent(domain.EventQueueCreated, tenantID, now).
		WithQueue(q.ID).
		WithPayload("name", q.Name))
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := s.store.ListQueues(r.Context(), pathParam(r, "tenantID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.store.GetQueue(r.Context(), pathParam(r, "tenantID"), pathParam(r, "queueID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleUpdateQueue(w http.ResponseWriter, r *http.Request) {
	var req updateQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	q, err := s.store.GetQueue(r.Context(), pathParam(r, "tenantID"), pathParam(r, "queueID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	q.Name = req.Name
	q.Description = req.Description
	q.MaxConcurrentUsers = req.MaxConcurrentUsers
	q.ReleaseRatePerMinute = req.ReleaseRatePerMinute
	if err := q.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.store.UpdateQueue(r.Context(), q); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
	if err := s.store.DeleteQueue(r.Context(), tenantID, queueID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.engines.Stop(tenantID, queueID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetQueueActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
		q, err := s.store.GetQueue(r.Context(), tenantID, queueID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		q.IsActive = active
		if err := s.store.UpdateQueue(r.Context(), q); err != nil {
			writeDomainError(w, r, err)
			return
		}
		kind := domain.EventQueueDeactivated
		if active {
			kind = domain.EventQueueActivated
		}
		s.bus.Publish(r.Context(), domain.NewEvent(kind, tenantID, s.now()).WithQueue(queueID))
		writeJSON(w, http.StatusOK, q)
	}
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeDomainError(w, r, domain.Validation("body", "unreadable"))
		return
	}
	sched, err := schedule.Parse(raw)
	if err != nil {
		writeDomainError(w, r, domain.Validation("schedule", err.Error()))
		return
	}
	tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
	q, err := s.store.GetQueue(r.Context(), tenantID, queueID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	q.Schedule = sched
	if err := s.store.UpdateQueue(r.Context(), q); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.bus.Publish(r.Context(), domain.NewEvent(domain.EventQueueSchedule, tenantID, s.now()).WithQueue(queueID))
	writeJSON(w, http.StatusOK, q)
}

type availabilityResponse struct {
	IsAvailable    bool       `json:"isAvailable"`
	CheckedAt      time.Time  `json:"checkedAt"`
	NextActivation *time.Time `json:"nextActivation,omitempty"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q, err := s.store.GetQueue(r.Context(), pathParam(r, "tenantID"), pathParam(r, "queueID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	at := s.now()
	if raw := r.URL.Query().Get("checkTime"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeDomainError(w, r, domain.Validation("checkTime", "must be RFC 3339"))
			return
		}
		at = parsed
	}
	resp := availabilityResponse{
		IsAvailable: q.IsAvailableAt(at),
		CheckedAt:   at.UTC(),
	}
	if !resp.IsAvailable && q.IsActive {
		resp.NextActivation = schedule.NextActivation(q.Schedule, at)
	}
	writeJSON(w, http.StatusOK, resp)
}

type queueStatsResponse struct {
	Waiting           int            `json:"waiting"`
	Serving           int            `json:"serving"`
	Released          int            `json:"released"`
	Dropped           int            `json:"dropped"`
	WaitingByPriority map[string]int `json:"waitingByPriority"`
	LastReleaseAt     time.Time      `json:"lastReleaseAt"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
	q, err := s.store.GetQueue(r.Context(), tenantID, queueID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ctrl, err := s.controller(r, tenantID, queueID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	stats, err := ctrl.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queueStatsResponse{
		Waiting:           stats.Waiting,
		Serving:           stats.Serving,
		Released:          stats.Released,
		Dropped:           stats.Dropped,
		WaitingByPriority: ctrl.WaitingByPriority(),
		LastReleaseAt:     q.LastReleaseAt,
	})
}

// controller returns the release controller of (tenant, queue), starting it
// when the daemon has not seen the queue yet.
func (s *Server) controller(r *http.Request, tenantID, queueID string) (*engine.Controller, error) {
	if ctrl, ok := s.engines.Get(tenantID, queueID); ok {
		return ctrl, nil
	}
	return s.engines.Ensure(r.Context(), tenantID, queueID)
}
