// Package metrics owns the Prometheus registry exposed on the management server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a private Prometheus registry preloaded with HTTP, Go
// runtime and process collectors.
type Registry struct {
	registry *prometheus.Registry
	http     *httpMetrics
}

// NewRegistry creates a registry with the default collectors.
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	httpCollectors := newHTTPMetrics(namespace)

	reg.MustRegister(httpCollectors.duration, httpCollectors.total, httpCollectors.inFlight)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{registry: reg, http: httpCollectors}
}

// Register registers a custom collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers collectors and panics on error. Use it at startup.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister removes a collector from the registry.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// Handler serves the registry in Prometheus text or OpenMetrics format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns the underlying prometheus.Gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
