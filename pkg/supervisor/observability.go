package supervisor

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	respawnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuevisor_supervisor_respawns_total",
			Help: "Total number of worker respawns",
		},
		[]string{"tube"},
	)

	retiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuevisor_supervisor_retired_total",
			Help: "Total number of worker slots retired on stop or restart",
		},
		[]string{"tube"},
	)

	workersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuevisor_supervisor_workers",
			Help: "Worker slots not yet retired",
		},
	)

	spawnFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuevisor_spawn_failures_total",
			Help: "Total number of failed worker starts",
		},
		[]string{"tube"},
	)
)

func recordRespawn(tube string) {
	respawnsTotal.WithLabelValues(normalizeMetricLabel(tube, "unknown")).Inc()
}

func recordRetired(tube string) {
	retiredTotal.WithLabelValues(normalizeMetricLabel(tube, "unknown")).Inc()
	workersGauge.Dec()
}

func recordSpawnFailure(tube string) {
	spawnFailuresTotal.WithLabelValues(normalizeMetricLabel(tube, "unknown")).Inc()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
