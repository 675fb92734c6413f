// Package metrics provides Prometheus metrics for the chat backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors. A fresh registry is used per
// instance so tests can construct metrics without global registration
// conflicts.
type Metrics struct {
	Registry *prometheus.Registry

	ChatRequestsTotal  *prometheus.CounterVec
	CompletionDuration prometheus.Histogram

	SyncRunsTotal    *prometheus.CounterVec
	SyncLastSuccess  prometheus.Gauge
	SessionsInMemory prometheus.Gauge

	CloudCallsTotal   *prometheus.CounterVec
	LocalWritesTotal  prometheus.Counter
	MemoryWritesTotal *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{Registry: reg}

	m.ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yuzuriha_chat_requests_total",
			Help: "Total number of chat pipeline requests",
		},
		[]string{"status"},
	)

	m.CompletionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yuzuriha_completion_duration_seconds",
			Help:    "Duration of chat completion calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	m.SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yuzuriha_sync_runs_total",
			Help: "Total number of cloud sync runs",
		},
		[]string{"outcome"},
	)

	m.SyncLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yuzuriha_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful cloud sync",
		},
	)

	m.SessionsInMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yuzuriha_sessions_in_memory",
			Help: "Number of sessions held by the orchestrator",
		},
	)

	m.CloudCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yuzuriha_cloud_calls_total",
			Help: "Total number of relational store calls",
		},
		[]string{"operation", "status"},
	)

	m.LocalWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yuzuriha_local_writes_total",
			Help: "Total number of local cache writes",
		},
	)

	m.MemoryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yuzuriha_memory_writes_total",
			Help: "Total number of vector memory writes",
		},
		[]string{"status"},
	)

	reg.MustRegister(
		m.ChatRequestsTotal,
		m.CompletionDuration,
		m.SyncRunsTotal,
		m.SyncLastSuccess,
		m.SessionsInMemory,
		m.CloudCallsTotal,
		m.LocalWritesTotal,
		m.MemoryWritesTotal,
	)

	return m
}
