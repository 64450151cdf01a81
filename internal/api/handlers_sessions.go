// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/waitgate/waitgate/internal/domain"
)

type enqueueRequest struct {
	UserIdentifier string `json:"userIdentifier"`
	Metadata       string `json:"metadata,omitempty"`
	Priority       string `json:"priority,omitempty"`
}

type releaseRequest struct {
	Count int `json:"count"`
}

type releaseResponse struct {
	ReleasedCount int `json:"releasedCount"`
}

type priorityRequest struct {
	Priority string `json:"priority"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ctrl, err := s.controller(r, tenantID, queueID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess, position, err := ctrl.Enqueue(r.Context(), req.UserIdentifier, req.Metadata, priority)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess.Position = position
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
	var req releaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.Count <= 0 {
		writeDomainError(w, r, domain.Validation("count", "must be positive"))
		return
	}
	ctrl, err := s.controller(r, tenantID, queueID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	released, err := ctrl.ReleaseUsers(r.Context(), req.Count)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, releaseResponse{ReleasedCount: len(released)})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
	user := pathParam(r, "userIdentifier")
	// Sessions are keyed by queue only; confirm the queue belongs to the
	// path tenant before looking one up.
	if _, err := s.store.GetQueue(r.Context(), tenantID, queueID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess, err := s.store.GetSession(r.Context(), queueID, user)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if sess.Status == domain.StatusWaiting {
		if ctrl, ok := s.engines.Get(tenantID, queueID); ok {
			sess.Position = ctrl.Position(user)
		}
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDropUser(w http.ResponseWriter, r *http.Request) {
	tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
	ctrl, err := s.controller(r, tenantID, queueID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := ctrl.DropUser(r.Context(), pathParam(r, "userIdentifier")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleServeUser(w http.ResponseWriter, r *http.Request) {
	tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
	user := pathParam(r, "userIdentifier")
	ctrl, err := s.controller(r, tenantID, queueID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := ctrl.MarkServing(r.Context(), user); err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess, err := s.store.GetSession(r.Context(), queueID, user)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	tenantID, queueID := pathParam(r, "tenantID"), pathParam(r, "queueID")
	var req priorityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ctrl, err := s.controller(r, tenantID, queueID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	user := pathParam(r, "userIdentifier")
	position, err := ctrl.SetPriority(r.Context(), user, priority)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userIdentifier": user,
		"priority":       priority.String(),
		"position":       position,
	})
}
