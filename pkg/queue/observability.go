package queue

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobsPushedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queuevisor_jobs_pushed_total",
		Help: "Total number of jobs pushed to a tube",
	},
	[]string{"backend", "tube"},
)

func recordJobPushed(backend, tube string) {
	jobsPushedTotal.WithLabelValues(
		normalizeMetricLabel(backend, "unknown"),
		normalizeMetricLabel(tube, "unknown"),
	).Inc()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
