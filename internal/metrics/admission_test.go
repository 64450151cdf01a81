// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestSessionCountersCarryLabels(t *testing.T) {
	c := SessionsEnqueuedTotal.WithLabelValues("t-metrics", "q-metrics", "vip")
	c.Inc()
	c.Inc()

	var m dto.Metric
	require.NoError(t, c.Write(&m))
	require.Equal(t, float64(2), m.GetCounter().GetValue())

	labels := map[string]string{}
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	require.Equal(t, map[string]string{
		"tenant":   "t-metrics",
		"queue":    "q-metrics",
		"priority": "vip",
	}, labels)
}

func TestWaitingGaugeSetOverwrites(t *testing.T) {
	g := WaitingSessions.WithLabelValues("t-metrics", "q-metrics")
	g.Set(7)
	g.Set(3)

	var m dto.Metric
	require.NoError(t, g.Write(&m))
	require.Equal(t, float64(3), m.GetGauge().GetValue())
}
