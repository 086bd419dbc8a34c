package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStoreMetrics() {
	r.MemStoreBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lsmkv_memstore_bytes",
			Help: "Approximate byte usage of the active memstore",
		},
	)

	r.FlushTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmkv_flush_total",
			Help: "Total number of memstore flushes to a level-0 table",
		},
	)

	r.FlushDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lsmkv_flush_duration_seconds",
			Help:    "Flush duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	r.CompactionTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmkv_compaction_total",
			Help: "Total number of relevels performed, by source level",
		},
		[]string{"level"},
	)

	r.TablesTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lsmkv_tables_total",
			Help: "Live table count, by level",
		},
		[]string{"level"},
	)

	r.GetTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmkv_get_total",
			Help: "Total number of Get calls, by result",
		},
		[]string{"result"},
	)
}
