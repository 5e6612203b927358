// Package metrics provides Prometheus metrics for botbuilder.
// Exports build-stage, oracle, container runtime and status API metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for botbuilder.
type Metrics struct {
	// Build session metrics
	SessionsTotal    *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	StageRunsTotal   *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	TransitionsTotal *prometheus.CounterVec
	DebugCyclesTotal prometheus.Counter
	PersistFailures  prometheus.Counter

	// Oracle metrics
	OracleRequestsTotal   *prometheus.CounterVec
	OracleRequestDuration *prometheus.HistogramVec
	OracleRateLimitWait   prometheus.Histogram

	// Container runtime metrics
	ContainerOpsTotal   *prometheus.CounterVec
	ContainerOpDuration *prometheus.HistogramVec

	// Status API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Export metrics
	ExportsTotal   *prometheus.CounterVec
	ExportDuration *prometheus.HistogramVec

	// Ledger metrics
	LedgerSessionsByStage *prometheus.GaugeVec
	DBConnectionsActive   prometheus.Gauge
	DBConnectionsIdle     prometheus.Gauge

	StartupTime  prometheus.Gauge
	GoroutineNum prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics creates and registers all Prometheus metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	m.SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botbuilder",
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Build sessions that reached an outcome, by outcome",
		},
		[]string{"outcome"},
	)

	m.SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botbuilder",
			Subsystem: "session",
			Name:      "active",
			Help:      "Build sessions currently running in this process",
		},
	)

	m.StageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botbuilder",
			Subsystem: "stage",
			Name:      "runs_total",
			Help:      "Stage executions by stage and result",
		},
		[]string{"stage", "result"},
	)

	m.StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botbuilder",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Stage execution time in seconds (user input time included)",
			Buckets:   []float64{.01, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	m.TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botbuilder",
			Subsystem: "stage",
			Name:      "transitions_total",
			Help:      "State machine transitions by source and target stage",
		},
		[]string{"from", "to"},
	)

	m.DebugCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botbuilder",
			Subsystem: "stage",
			Name:      "debug_cycles_total",
			Help:      "Completed debug regeneration cycles",
		},
	)

	m.PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botbuilder",
			Subsystem: "store",
			Name:      "write_failures_total",
			Help:      "Project files that failed to persist",
		},
	)

	m.OracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botbuilder",
			Subsystem: "oracle",
			Name:      "requests_total",
			Help:      "Oracle calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	m.OracleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botbuilder",
			Subsystem: "oracle",
			Name:      "request_duration_seconds",
			Help:      "Oracle call latency in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"provider"},
	)

	m.OracleRateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "botbuilder",
			Subsystem: "oracle",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the oracle rate limiter",
			Buckets:   []float64{0, .1, .5, 1, 2, 5, 10, 30},
		},
	)

	m.ContainerOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botbuilder",
			Subsystem: "container",
			Name:      "operations_total",
			Help:      "Container runtime operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.ContainerOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botbuilder",
			Subsystem: "container",
			Name:      "operation_duration_seconds",
			Help:      "Container runtime operation latency in seconds",
			Buckets:   []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botbuilder",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of status API requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botbuilder",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	m.ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botbuilder",
			Subsystem: "export",
			Name:      "total",
			Help:      "Project exports by backend and status",
		},
		[]string{"backend", "status"},
	)

	m.ExportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botbuilder",
			Subsystem: "export",
			Name:      "duration_seconds",
			Help:      "Project export duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"backend"},
	)

	m.LedgerSessionsByStage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botbuilder",
			Subsystem: "ledger",
			Name:      "sessions",
			Help:      "Recorded build sessions by last known stage",
		},
		[]string{"stage"},
	)

	m.DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botbuilder",
			Subsystem: "ledger",
			Name:      "connections_active",
			Help:      "Number of active ledger database connections",
		},
	)

	m.DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botbuilder",
			Subsystem: "ledger",
			Name:      "connections_idle",
			Help:      "Number of idle ledger database connections",
		},
	)

	m.GoroutineNum = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botbuilder",
			Subsystem: "process",
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botbuilder",
			Subsystem: "process",
			Name:      "startup_timestamp",
			Help:      "Process startup timestamp",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordStage records one stage execution.
func (m *Metrics) RecordStage(stage, result string, duration time.Duration) {
	m.StageRunsTotal.WithLabelValues(stage, result).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordTransition records a state machine move.
func (m *Metrics) RecordTransition(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSessionOutcome records a finished session.
func (m *Metrics) RecordSessionOutcome(outcome string) {
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordOracleRequest records an oracle call.
func (m *Metrics) RecordOracleRequest(provider string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OracleRequestsTotal.WithLabelValues(provider, status).Inc()
	m.OracleRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordContainerOp records a container runtime operation.
func (m *Metrics) RecordContainerOp(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ContainerOpsTotal.WithLabelValues(operation, status).Inc()
	m.ContainerOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordExport records a project export.
func (m *Metrics) RecordExport(backend string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ExportsTotal.WithLabelValues(backend, status).Inc()
	m.ExportDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordHTTPRequest records a status API request metric
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Helper function to convert status code to label
func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
