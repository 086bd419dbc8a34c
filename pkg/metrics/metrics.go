package metrics

import (
	"strconv"
	"time"
)

// RecordFlush records a completed flush and its duration.
func (r *Registry) RecordFlush(duration time.Duration) {
	r.FlushTotal.Inc()
	r.FlushDuration.Observe(duration.Seconds())
}

// RecordCompaction records a relevel out of sourceLevel.
func (r *Registry) RecordCompaction(sourceLevel uint32) {
	r.CompactionTotal.WithLabelValues(strconv.FormatUint(uint64(sourceLevel), 10)).Inc()
}

// SetTableCount sets the live table gauge for level.
func (r *Registry) SetTableCount(level uint32, count int) {
	r.TablesTotal.WithLabelValues(strconv.FormatUint(uint64(level), 10)).Set(float64(count))
}

// SetMemStoreBytes sets the active memstore's approximate byte usage.
func (r *Registry) SetMemStoreBytes(n uint64) {
	r.MemStoreBytes.Set(float64(n))
}

// RecordGet records a Get call's outcome.
func (r *Registry) RecordGet(hit bool) {
	if hit {
		r.GetTotal.WithLabelValues("hit").Inc()
		return
	}
	r.GetTotal.WithLabelValues("miss").Inc()
}
