// Package metrics owns the Prometheus registry shared by a process and the
// pipeline counters exported from it.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrDuplicateMetric is returned when a name is registered twice.
var ErrDuplicateMetric = errors.New("metric already registered")

// Registry wraps a prometheus.Registry with Go runtime and process collectors.
type Registry struct {
	registry *prometheus.Registry
	Pipeline *Pipeline

	mu         sync.Mutex
	registered map[string]prometheus.Collector
}

// NewRegistry creates a registry with the pipeline counters registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry:   prometheus.NewRegistry(),
		registered: make(map[string]prometheus.Collector),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r.Pipeline = newPipeline()
	r.Pipeline.register(r.registry)

	return r
}

// PrometheusRegistry returns the underlying registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Register adds a collector under name. Registering the same name twice
// returns ErrDuplicateMetric.
func (r *Registry) Register(name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, name)
	}

	if err := r.registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return fmt.Errorf("%w: %s", ErrDuplicateMetric, name)
		}
		return fmt.Errorf("register %s: %w", name, err)
	}

	r.registered[name] = c
	return nil
}

// Unregister removes the collector registered under name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.registered[name]
	if !ok {
		return false
	}
	delete(r.registered, name)
	return r.registry.Unregister(c)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		Registry: r.registry,
	})
}
