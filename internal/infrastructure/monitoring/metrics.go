package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Engine metrics
	FragmentsExtracted prometheus.Counter
	FragmentsExecuted  prometheus.Counter
	FragmentErrors     *prometheus.CounterVec
	IntrinsicCalls     prometheus.Counter
	Batches            prometheus.Counter
	BatchDuration      prometheus.Histogram
	SessionsActive     prometheus.Gauge
	SessionsAwaiting   prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests      int64   `json:"total_requests"`
	TotalErrors        int64   `json:"total_errors"`
	FragmentsExtracted int64   `json:"fragments_extracted"`
	FragmentsExecuted  int64   `json:"fragments_executed"`
	FragmentErrors     int64   `json:"fragment_errors"`
	Batches            int64   `json:"batches"`
	ActiveSessions     int64   `json:"active_sessions"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uiblocks_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uiblocks_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		FragmentsExtracted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "uiblocks_fragments_extracted_total",
				Help: "Total number of UI blocks extracted from terminal output",
			},
		),
		FragmentsExecuted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "uiblocks_fragments_executed_total",
				Help: "Total number of UI blocks that ran to completion",
			},
		),
		FragmentErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uiblocks_fragment_errors_total",
				Help: "Total number of UI block failures by stage",
			},
			[]string{"stage"},
		),
		IntrinsicCalls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "uiblocks_intrinsic_calls_total",
				Help: "Total number of intrinsic calls made by scripts",
			},
		),
		Batches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "uiblocks_batches_total",
				Help: "Total number of executed batches",
			},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "uiblocks_batch_duration_seconds",
				Help:    "Batch execution duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .016, .05, .1, .5, 1, 2.5},
			},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "uiblocks_sessions_active",
				Help: "Number of live sessions",
			},
		),
		SessionsAwaiting: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "uiblocks_sessions_awaiting",
				Help: "Number of sessions waiting for capability readiness",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "uiblocks_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uiblocks_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "uiblocks_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// AddFragmentsExtracted counts blocks found in delivered text.
func (m *Metrics) AddFragmentsExtracted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.FragmentsExtracted.Add(float64(n))
	m.mu.Lock()
	m.snapshot.FragmentsExtracted += int64(n)
	m.mu.Unlock()
}

// RecordFragmentExecuted counts a block that ran to completion.
func (m *Metrics) RecordFragmentExecuted(calls int) {
	if m == nil {
		return
	}
	m.FragmentsExecuted.Inc()
	m.IntrinsicCalls.Add(float64(calls))
	m.mu.Lock()
	m.snapshot.FragmentsExecuted++
	m.mu.Unlock()
}

// RecordFragmentError counts a failure at stage (lex, parse, compile, ...).
func (m *Metrics) RecordFragmentError(stage string) {
	if m == nil {
		return
	}
	m.FragmentErrors.WithLabelValues(stage).Inc()
	m.mu.Lock()
	m.snapshot.FragmentErrors++
	m.mu.Unlock()
}

// RecordBatch records one executed batch.
func (m *Metrics) RecordBatch(duration time.Duration) {
	if m == nil {
		return
	}
	m.Batches.Inc()
	m.BatchDuration.Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.Batches++
	m.mu.Unlock()
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// SetSessionsAwaiting sets the number of sessions in the readiness gate.
func (m *Metrics) SetSessionsAwaiting(count int) {
	if m == nil {
		return
	}
	m.SessionsAwaiting.Set(float64(count))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns current values for the JSON API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
