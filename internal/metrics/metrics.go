// Package metrics centralizes Coop's Prometheus instrumentation: turn
// latency, tool invocation counts, credential pool utilization, compaction
// frequency, and memory write outcomes. Scoped to Coop's own components,
// the way nexus's internal/observability package wires the same library
// across its much larger surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram/gauge Coop records.
type Metrics struct {
	TurnDuration *prometheus.HistogramVec
	TurnCounter  *prometheus.CounterVec

	ToolCounter  *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec

	CredentialUtilization *prometheus.GaugeVec
	CredentialCooldowns   *prometheus.CounterVec

	CompactionCounter  *prometheus.CounterVec
	CompactionDuration prometheus.Histogram

	MemoryWriteCounter *prometheus.CounterVec
}

// New creates and registers Coop's metrics against the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests should pass a
// fresh prometheus.NewRegistry() to avoid collisions across packages.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coop_turn_duration_seconds",
				Help:    "Duration of a complete turn (prompt build through persistence) in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"channel", "status"},
		),
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coop_turns_total",
				Help: "Total number of turns run, by channel and outcome",
			},
			[]string{"channel", "status"},
		),
		ToolCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coop_tool_invocations_total",
				Help: "Total number of tool invocations by tool name and outcome",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coop_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		CredentialUtilization: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coop_credential_utilization_ratio",
				Help: "Last observed rate-limit utilization per credential pool key index",
			},
			[]string{"key_index"},
		),
		CredentialCooldowns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coop_credential_cooldowns_total",
				Help: "Total number of times a credential pool key entered cooldown",
			},
			[]string{"key_index"},
		),
		CompactionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coop_compactions_total",
				Help: "Total number of compaction runs by outcome",
			},
			[]string{"status"},
		),
		CompactionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coop_compaction_duration_seconds",
				Help:    "Duration of compaction runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		MemoryWriteCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coop_memory_writes_total",
				Help: "Total number of memory store writes by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveTurn records a completed turn's duration and outcome.
func (m *Metrics) ObserveTurn(channel, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(channel, status).Inc()
	m.TurnDuration.WithLabelValues(channel, status).Observe(d.Seconds())
}

// ObserveTool records one tool invocation's duration and outcome.
func (m *Metrics) ObserveTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCounter.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// SetCredentialUtilization records a credential pool key's last-seen
// rate-limit utilization, keyed by its index within the pool.
func (m *Metrics) SetCredentialUtilization(keyIndex string, utilization float64) {
	if m == nil {
		return
	}
	m.CredentialUtilization.WithLabelValues(keyIndex).Set(utilization)
}

// RecordCredentialCooldown records a credential pool key entering cooldown.
func (m *Metrics) RecordCredentialCooldown(keyIndex string) {
	if m == nil {
		return
	}
	m.CredentialCooldowns.WithLabelValues(keyIndex).Inc()
}

// ObserveCompaction records a compaction run's duration and outcome.
func (m *Metrics) ObserveCompaction(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CompactionCounter.WithLabelValues(status).Inc()
	m.CompactionDuration.Observe(d.Seconds())
}

// RecordMemoryWrite records a memory store write outcome.
func (m *Metrics) RecordMemoryWrite(outcome string) {
	if m == nil {
		return
	}
	m.MemoryWriteCounter.WithLabelValues(outcome).Inc()
}
