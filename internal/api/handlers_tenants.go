// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/waitgate/waitgate/internal/domain"
)

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

type createTenantRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	now := s.now()
	tenant, err := domain.NewTenant(req.Name, req.Domain, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.store.CreateTenant(r.Context(), tenant); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.bus.Publish(r.Context(), domain.NewEvent(domain.EventTenantCreated, tenant.ID, now).
		WithPayload("name", tenant.Name))
	writeJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.ListTenants(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.store.GetTenant(r.Context(), pathParam(r, "tenantID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleSetTenantActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := pathParam(r, "tenantID")
		if err := s.store.SetTenantActive(r.Context(), id, active); err != nil {
			writeDomainError(w, r, err)
			return
		}
		kind := domain.EventTenantDeactivated
		if active {
			kind = domain.EventTenantActivated
		}
		s.bus.Publish(r.Context(), domain.NewEvent(kind, id, s.now()))
		tenant, err := s.store.GetTenant(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tenant)
	}
}
