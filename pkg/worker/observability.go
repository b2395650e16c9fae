package worker

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nimburion/queuevisor/pkg/resilience"
)

const (
	outcomeSuccess      = "success"
	outcomeReleased     = "released"
	outcomeBuried       = "buried"
	// outcomeDeadLettered is a job past the threshold released to a
	// backend that cannot bury it.
	outcomeDeadLettered = "dead_lettered"
)

var (
	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuevisor_jobs_processed_total",
			Help: "Total number of jobs handled by workers, by outcome",
		},
		[]string{"tube", "status"},
	)

	workerInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queuevisor_worker_inflight",
			Help: "Jobs currently being handled",
		},
		[]string{"tube"},
	)

	backendBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queuevisor_backend_breaker_open",
			Help: "1 while pops from the tube are suspended after repeated backend failures",
		},
		[]string{"tube"},
	)
)

func recordBreakerState(tube string, state resilience.State) {
	value := 0.0
	if state == resilience.StateOpen {
		value = 1
	}
	backendBreakerOpen.WithLabelValues(normalizeMetricLabel(tube, "unknown")).Set(value)
}

func recordJobProcessed(tube, status string) {
	jobsProcessedTotal.WithLabelValues(
		normalizeMetricLabel(tube, "unknown"),
		normalizeMetricLabel(status, "unknown"),
	).Inc()
}

func incrementInflight(tube string) {
	workerInflight.WithLabelValues(normalizeMetricLabel(tube, "unknown")).Inc()
}

func decrementInflight(tube string) {
	workerInflight.WithLabelValues(normalizeMetricLabel(tube, "unknown")).Dec()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
