// Package metrics exposes the Prometheus metrics of the supervisor and the
// workers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry gathers the package-level queuevisor metrics, which register
// with the default Prometheus registry together with the Go runtime and
// process collectors, plus any collector added through Register.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates an empty registry for additional collectors.
func NewRegistry() *Registry {
	return &Registry{registry: prometheus.NewRegistry()}
}

// Register adds a custom collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// Gatherer returns the default gatherer merged with the custom collectors.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{prometheus.DefaultGatherer, r.registry}
}

// Handler serves the gathered metrics in Prometheus format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
