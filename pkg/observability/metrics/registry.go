// Package metrics exposes Prometheus metrics for HTTP traffic and the query engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry manages Prometheus metrics registration and exposure.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a registry holding the HTTP, engine, relationship
// index and Go runtime collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(httpRequestDuration)
	reg.MustRegister(httpRequestsTotal)
	reg.MustRegister(httpRequestsInFlight)

	reg.MustRegister(queryDuration)
	reg.MustRegister(queriesTotal)
	reg.MustRegister(queryRetriesTotal)
	reg.MustRegister(indexRebuildsTotal)
	reg.MustRegister(indexRebuildDuration)
	reg.MustRegister(indexUnmatchedSources)

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{
		registry: reg,
	}
}

// MustRegister registers extra collectors and panics on error.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
// It is mounted on the management server at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns the underlying prometheus.Gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
