// Package observability holds the Prometheus instrumentation shared by
// the gateway and the response cache. Metrics are diagnostics only and
// never affect control flow.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector toolbus exports. Construct one per
// registry; tests pass their own prometheus.NewRegistry().
type Metrics struct {
	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheSize      prometheus.Gauge

	Restarts *prometheus.CounterVec
}

// New creates and registers the toolbus collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolbus",
				Subsystem: "gateway",
				Name:      "tool_calls_total",
				Help:      "Tool invocations routed through the gateway.",
			},
			[]string{"server", "tool", "outcome"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolbus",
				Subsystem: "gateway",
				Name:      "tool_call_duration_seconds",
				Help:      "Tool invocation duration in seconds, cache misses only.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server", "tool"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toolbus",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups answered without a tool call.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toolbus",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that fell through to the process layer.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toolbus",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted to respect the size bound.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "toolbus",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently resident in the cache.",
		}),
		Restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolbus",
				Subsystem: "supervisor",
				Name:      "restarts_total",
				Help:      "Automatic restarts after worker crashes.",
			},
			[]string{"server"},
		),
	}

	reg.MustRegister(
		m.ToolCalls, m.ToolDuration,
		m.CacheHits, m.CacheMisses, m.CacheEvictions, m.CacheSize,
		m.Restarts,
	)
	return m
}

// ObserveCall records one gateway invocation.
func (m *Metrics) ObserveCall(server, tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(server, tool, outcome).Inc()
	if outcome == "ok" {
		m.ToolDuration.WithLabelValues(server, tool).Observe(d.Seconds())
	}
}
