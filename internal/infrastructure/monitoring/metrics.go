package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Terminal session metrics
	SessionsActive prometheus.Gauge
	Spawns         *prometheus.CounterVec
	SpawnDuration  *prometheus.HistogramVec
	Respawns       *prometheus.CounterVec
	Kills          *prometheus.CounterVec
	Exits          *prometheus.CounterVec
	Installs       *prometheus.CounterVec
	TerminalBytes  *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
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
	ActiveConnections int64   `json:"active_connections"`
	TotalDuration     float64 `json:"-"` // sum of all request durations
	RequestCount      int64   `json:"-"` // count for averaging
}

// NewMetrics creates a metrics collector registered on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector registered on reg.
// Tests pass a fresh prometheus.NewRegistry() so repeated construction
// does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squadron_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "squadron_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "squadron_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "squadron_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Terminal session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "squadron_terminal_sessions_active",
				Help: "Number of terminal sessions with a live process",
			},
		),
		Spawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squadron_terminal_spawns_total",
				Help: "Total number of spawn attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		SpawnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "squadron_terminal_spawn_duration_seconds",
				Help:    "Time from ensure to running, including preflight",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120, 300},
			},
			[]string{"provider"},
		),
		Respawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squadron_terminal_respawns_total",
				Help: "Total number of provider or model changes on a running session",
			},
			[]string{"from", "to"},
		),
		Kills: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squadron_terminal_kills_total",
				Help: "Total number of terminated processes by escalation step",
			},
			[]string{"signal"},
		),
		Exits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squadron_terminal_exits_total",
				Help: "Total number of processes that exited on their own",
			},
			[]string{"provider", "status"},
		),
		Installs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squadron_terminal_installs_total",
				Help: "Total number of provider CLI installs by outcome",
			},
			[]string{"provider", "outcome"},
		),
		TerminalBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squadron_terminal_bytes_total",
				Help: "Bytes moved through terminal sessions",
			},
			[]string{"direction"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "squadron_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "squadron_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "squadron_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
	}

	return m
}

// Run updates the uptime gauge until stop is closed
func (m *Metrics) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		}
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordSpawn records a spawn attempt. outcome is "running" or an error kind.
func (m *Metrics) RecordSpawn(provider, outcome string, duration time.Duration) {
	m.Spawns.WithLabelValues(provider, outcome).Inc()
	if outcome == "running" {
		m.SpawnDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// RecordRespawn records a provider or model change
func (m *Metrics) RecordRespawn(from, to string) {
	m.Respawns.WithLabelValues(from, to).Inc()
}

// RecordKill records the last signal needed to stop a process
func (m *Metrics) RecordKill(signal string) {
	m.Kills.WithLabelValues(signal).Inc()
}

// RecordExit records a process that ended on its own
func (m *Metrics) RecordExit(provider string, code int, signal string) {
	status := "success"
	switch {
	case signal != "":
		status = "signaled"
	case code != 0:
		status = "failure"
	}
	m.Exits.WithLabelValues(provider, status).Inc()
}

// RecordInstall records a provider CLI install
func (m *Metrics) RecordInstall(provider string, success, timedOut bool) {
	outcome := "success"
	switch {
	case timedOut:
		outcome = "timeout"
	case !success:
		outcome = "failure"
	}
	m.Installs.WithLabelValues(provider, outcome).Inc()
}

// AddTerminalBytes counts bytes in direction "in" (to the process) or "out"
func (m *Metrics) AddTerminalBytes(direction string, n int) {
	m.TerminalBytes.WithLabelValues(direction).Add(float64(n))
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
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

// Snapshot returns the current values for the JSON stats endpoint
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// UptimeDuration returns time since the collector was created
func (m *Metrics) UptimeDuration() time.Duration {
	return time.Since(m.startTime)
}
