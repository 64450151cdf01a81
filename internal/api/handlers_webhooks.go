// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/store"
)

type createWebhookRequest struct {
	EventType string `json:"eventType"`
	URL       string `json:"url"`
	Secret    string `json:"secret,omitempty"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if strings.TrimSpace(req.EventType) == "" {
		writeDomainError(w, r, domain.Validation("eventType", "must not be empty"))
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeDomainError(w, r, domain.Validation("url", "must be an absolute http(s) URL"))
		return
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	sub := &store.WebhookSubscription{
		ID:        uuid.NewString(),
		TenantID:  pathParam(r, "tenantID"),
		EventType: strings.TrimSpace(req.EventType),
		URL:       req.URL,
		Secret:    req.Secret,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSubscription(r.Context(), sub); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubscriptions(r.Context(), pathParam(r, "tenantID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteSubscription(r.Context(), pathParam(r, "tenantID"), pathParam(r, "subscriptionID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
