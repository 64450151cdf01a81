// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the waiting room: tenant and
// queue administration, enqueue/release/drop operations, webhook
// subscription management and the websocket mount. All tenant-scoped routes
// are guarded by tenant resolution (X-Tenant-Key, else request host).
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waitgate/waitgate/internal/bus"
	"github.com/waitgate/waitgate/internal/engine"
	"github.com/waitgate/waitgate/internal/ratelimit"
	"github.com/waitgate/waitgate/internal/store"
)

// Per-endpoint request budgets, all over one minute. Operators can override
// them per key through the limiter.
const (
	limitEnqueue     = 100
	limitRelease     = 50
	limitAnalytics   = 20
	limitTenantAdmin = 10
	limitDefault     = 200

	limitWindow = time.Minute

	// ipFloodLimit is a blunt per-IP guard in front of the tenant-aware
	// limits, against clients that never resolve a tenant.
	ipFloodLimit = 1000
)

// Server wires the handlers to their collaborators.
type Server struct {
	store   store.Store
	engines *engine.Manager
	bus     *bus.Bus
	limiter *ratelimit.Limiter
	hub     http.Handler

	// now is replaceable in tests.
	now func() time.Time
}

// Config collects the Server's collaborators. Hub is optional; when nil the
// websocket mount is absent.
type Config struct {
	Store   store.Store
	Engines *engine.Manager
	Bus     *bus.Bus
	Limiter *ratelimit.Limiter
	Hub     http.Handler
	Now     func() time.Time
}

// New builds a Server. Store, Engines, Bus and Limiter are required.
func New(cfg Config) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		store:   cfg.Store,
		engines: cfg.Engines,
		bus:     cfg.Bus,
		limiter: cfg.Limiter,
		hub:     cfg.Hub,
		now:     now,
	}
}

// Router assembles the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(httprate.LimitByIP(ipFloodLimit, limitWindow))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Use(s.resolveTenant)

		r.With(s.rateLimit("tenant_admin", limitTenantAdmin)).Group(func(r chi.Router) {
			r.Post("/", s.handleCreateTenant)
			r.Get("/", s.handleListTenants)
			r.Get("/{tenantID}", s.handleGetTenant)
			r.Patch("/{tenantID}/activate", s.handleSetTenantActive(true))
			r.Patch("/{tenantID}/deactivate", s.handleSetTenantActive(false))
		})

		r.Route("/{tenantID}/queues", func(r chi.Router) {
			r.Use(s.requireTenant)

			r.With(s.rateLimit("default", limitDefault)).Group(func(r chi.Router) {
				r.Post("/", s.handleCreateQueue)
				r.Get("/", s.handleListQueues)
				r.Get("/{queueID}", s.handleGetQueue)
				r.Put("/{queueID}", s.handleUpdateQueue)
				r.Delete("/{queueID}", s.handleDeleteQueue)
				r.Patch("/{queueID}/activate", s.handleSetQueueActive(true))
				r.Patch("/{queueID}/deactivate", s.handleSetQueueActive(false))
				r.Post("/{queueID}/schedule", s.handleSetSchedule)
				r.Get("/{queueID}/availability", s.handleAvailability)
				r.Get("/{queueID}/users/{userIdentifier}", s.handleGetUser)
				r.Delete("/{queueID}/users/{userIdentifier}", s.handleDropUser)
				r.Patch("/{queueID}/users/{userIdentifier}/serve", s.handleServeUser)
				r.Patch("/{queueID}/users/{userIdentifier}/priority", s.handleSetPriority)
			})

			r.With(s.rateLimit("enqueue", limitEnqueue)).
				Post("/{queueID}/enqueue", s.handleEnqueue)
			r.With(s.rateLimit("release", limitRelease)).
				Post("/{queueID}/release", s.handleRelease)
			r.With(s.rateLimit("analytics", limitAnalytics)).
				Get("/{queueID}/stats", s.handleQueueStats)
		})

		r.Route("/{tenantID}/webhooks", func(r chi.Router) {
			r.Use(s.requireTenant)
			r.Use(s.rateLimit("default", limitDefault))
			r.Post("/", s.handleCreateWebhook)
			r.Get("/", s.handleListWebhooks)
			r.Delete("/{subscriptionID}", s.handleDeleteWebhook)
		})
	})

	if s.hub != nil {
		r.With(s.resolveTenant).Handle("/queuehub", s.hub)
	}
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
