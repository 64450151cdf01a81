// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_bus_drop_total",
		Help: "Total number of in-memory bus event drops (backpressure)",
	}, []string{"subscriber"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_bus_dropped_total",
		Help: "Total number of in-memory bus event drops by subscriber and reason",
	}, []string{"subscriber", "reason"})

	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitgate_bus_published_total",
		Help: "Total number of events published to the in-memory bus by kind",
	}, []string{"kind"})
)

// IncBusDrop records a dropped bus event for the given subscriber.
func IncBusDrop(subscriber string) {
	IncBusDropReason(subscriber, "full")
}

// IncBusDropReason records a dropped bus event with a concrete reason.
func IncBusDropReason(subscriber, reason string) {
	if subscriber == "" {
		subscriber = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDropsTotal.WithLabelValues(subscriber).Inc()
	BusDroppedTotal.WithLabelValues(subscriber, reason).Inc()
}
