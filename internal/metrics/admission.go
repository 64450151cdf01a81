// SPDX-License-Identifier: MIT

// Package metrics holds the prometheus collectors for the admission engine.
// All collectors are registered at init via promauto and share the
// waitgate_ prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_sessions_enqueued_total",
		Help: "Total number of sessions accepted into a waiting set",
	}, []string{"tenant", "queue", "priority"})

	SessionsReleasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_sessions_released_total",
		Help: "Total number of sessions released by trigger",
	}, []string{"tenant", "queue", "trigger"}) // trigger=tick|manual

	SessionsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_sessions_dropped_total",
		Help: "Total number of sessions dropped before release",
	}, []string{"tenant", "queue"})

	WaitingSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waitgate_waiting_sessions",
		Help: "Current number of waiting sessions per queue",
	}, []string{"tenant", "queue"})

	ServingSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waitgate_serving_sessions",
		Help: "Current number of serving sessions per queue",
	}, []string{"tenant", "queue"})

	ReleaseTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waitgate_release_tick_duration_seconds",
		Help:    "Duration of release controller ticks",
		Buckets: prometheus.DefBuckets,
	})

	ReleaseTickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_release_tick_errors_total",
		Help: "Release ticks that failed and will be retried",
	}, []string{"tenant", "queue"})

	ControllersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waitgate_release_controllers_running",
		Help: "Number of release controllers currently running",
	})

	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_store_errors_total",
		Help: "Transient session store failures by operation",
	}, []string{"op"})
)

var (
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_ratelimit_exceeded_total",
		Help: "Total rate limit rejections by scope",
	}, []string{"scope"}) // scope=tenant|ip

	RateLimitBackendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitgate_ratelimit_backend_errors_total",
		Help: "Rate limiter backend failures (requests fail open)",
	})
)

var (
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome",
	}, []string{"outcome"}) // outcome=success|abandoned|exhausted

	WebhookDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waitgate_webhook_delivery_duration_seconds",
		Help:    "Wall time of completed webhook deliveries including retries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)

var (
	PushConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waitgate_push_connections",
		Help: "Currently open push channel connections",
	})

	PushGroupMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waitgate_push_group_members",
		Help: "Current subscription count by group type",
	}, []string{"type"}) // type=queue|user

	PushMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_push_messages_total",
		Help: "Messages written to push clients by type",
	}, []string{"type"})
)
