// Package metrics registers the process's prometheus collectors: memory
// manager free/allocated bytes and eviction count, cache hit/miss, commission
// latency by action, and decode retries. Grounded on ManuGH-xg2g's
// pipeline/worker metrics package: package-level collectors built with
// promauto, registered once at process start, with small adapter methods
// the rest of the core calls instead of reaching into prometheus directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	memoryAllocatedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epicurrents_memory_allocated_bytes",
		Help: "Bytes currently allocated out of the shared buffer budget.",
	})

	memoryFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epicurrents_memory_free_bytes",
		Help: "Bytes currently free in the shared buffer budget.",
	})

	memoryEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epicurrents_memory_evictions_total",
		Help: "Total number of cache owners evicted under memory pressure.",
	})

	cacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epicurrents_cache_ops_total",
		Help: "Coupled cache read/write operations by outcome.",
	}, []string{"op", "outcome"})

	commissionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epicurrents_commission_latency_seconds",
		Help:    "Commission round-trip latency by action.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"action"})

	decodeRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epicurrents_decode_retries_total",
		Help: "Total number of raw reader chunk decode retries.",
	})
)

// MemorySink adapts the package-level memory collectors to the
// memory.Metrics interface without memory importing prometheus directly.
type MemorySink struct{}

func (MemorySink) ObserveAllocatedBytes(n int64) { memoryAllocatedBytes.Set(float64(n)) }
func (MemorySink) ObserveFreeBytes(n int64)      { memoryFreeBytes.Set(float64(n)) }
func (MemorySink) IncEviction()                  { memoryEvictionsTotal.Inc() }

// ObserveCacheOp records a coupled-cache read or write outcome, e.g.
// ObserveCacheOp("read", "hit") / ObserveCacheOp("write", "ok").
func ObserveCacheOp(op, outcome string) {
	cacheOpsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveCommissionLatency records how long a commission took to resolve,
// keyed by its action name.
func ObserveCommissionLatency(action string, d time.Duration) {
	commissionLatency.WithLabelValues(action).Observe(d.Seconds())
}

// IncDecodeRetry records one raw reader chunk decode retry.
func IncDecodeRetry() {
	decodeRetriesTotal.Inc()
}

// ServiceSink adapts the package-level commission-latency collector to the
// service.Metrics interface.
type ServiceSink struct{}

func (ServiceSink) ObserveCommissionLatency(action string, d time.Duration) {
	ObserveCommissionLatency(action, d)
}

// RawIOSink adapts the package-level decode-retry collector to the
// rawio.Metrics interface.
type RawIOSink struct{}

func (RawIOSink) IncDecodeRetry() { IncDecodeRetry() }
