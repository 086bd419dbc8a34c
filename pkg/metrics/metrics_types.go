package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric this store's operations report.
type Registry struct {
	MemStoreBytes   prometheus.Gauge
	FlushTotal      prometheus.Counter
	FlushDuration   prometheus.Histogram
	CompactionTotal *prometheus.CounterVec
	TablesTotal     *prometheus.GaugeVec
	GetTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with every lsmkv metric
// initialized against a fresh prometheus.Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	r.initStoreMetrics()
	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry, for
// wiring into an HTTP handler.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
