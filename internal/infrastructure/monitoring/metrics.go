package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/AgentOS/termmux/internal/terminal"
)

const namespace = "termmux"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Terminal metrics
	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	TerminalRequests *prometheus.CounterVec
	InputBytesTotal  prometheus.Counter
	OutputBytesTotal prometheus.Counter
	SpawnDuration    prometheus.Histogram
	SpawnFailures    prometheus.Counter
	QueryDuration    *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSEvicted     prometheus.Counter

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveSessions    int64   `json:"active_sessions"`
	SessionsCreated   int64   `json:"sessions_created"`
	ActiveConnections int64   `json:"active_connections"`
	TotalDuration     float64 `json:"-"` // sum of all request durations
	RequestCount      int64   `json:"-"` // count for averaging
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector registered with reg. Passing a fresh
// prometheus.NewRegistry keeps collectors from colliding in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Terminal metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "terminal_sessions_active",
				Help:      "Number of running terminal sessions",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_sessions_created_total",
				Help:      "Total number of terminal sessions spawned",
			},
		),
		SessionsEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_sessions_ended_total",
				Help:      "Total number of terminal sessions that ended",
			},
			[]string{"reason"},
		),
		TerminalRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_requests_total",
				Help:      "Total number of terminal requests by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		InputBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_input_bytes_total",
				Help:      "Bytes written to terminal processes",
			},
		),
		OutputBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_output_bytes_total",
				Help:      "Bytes read from terminal processes",
			},
		),
		SpawnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "terminal_spawn_duration_seconds",
				Help:      "Time taken to start a shell on a pty",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		SpawnFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_spawn_failures_total",
				Help:      "Total number of failed shell spawns",
			},
		),
		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "terminal_query_duration_seconds",
				Help:      "Round-trip time of queries through the multiplexer loop",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"query", "status"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		WSEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_evicted_total",
				Help:      "WebSocket clients disconnected because their send buffer filled",
			},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordQuery records a multiplexer query round trip
func (m *Metrics) RecordQuery(query, status string, duration time.Duration) {
	m.QueryDuration.WithLabelValues(query, status).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSEvicted counts a client disconnected for falling behind
func (m *Metrics) IncWSEvicted() {
	m.WSEvicted.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// RequestHandled implements terminal.Observer.
func (m *Metrics) RequestHandled(req terminal.RequestType, outcome string) {
	label := string(req)
	if !req.Known() {
		label = "unknown"
	}
	m.TerminalRequests.WithLabelValues(label, outcome).Inc()
}

// SpawnObserved implements terminal.Observer.
func (m *Metrics) SpawnObserved(d time.Duration, err error) {
	if err != nil {
		m.SpawnFailures.Inc()
		return
	}
	m.SpawnDuration.Observe(d.Seconds())
}

// SessionStarted implements terminal.Observer.
func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
	m.SessionsCreated.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.snapshot.SessionsCreated++
	m.mu.Unlock()
}

// SessionEnded implements terminal.Observer.
func (m *Metrics) SessionEnded(reason string) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// InputBytes implements terminal.Observer.
func (m *Metrics) InputBytes(n int) {
	m.InputBytesTotal.Add(float64(n))
}

// OutputBytes implements terminal.Observer.
func (m *Metrics) OutputBytes(n int) {
	m.OutputBytesTotal.Add(float64(n))
}

var _ terminal.Observer = (*Metrics)(nil)
