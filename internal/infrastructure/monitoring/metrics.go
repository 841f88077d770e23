package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/ipc"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Kernel call metrics
	KernelCalls    *prometheus.CounterVec
	KernelDuration *prometheus.HistogramVec

	// Process metrics
	ProcessesLive    prometheus.Gauge
	ProcessesBlocked prometheus.Gauge
	ProcessesStarted *prometheus.CounterVec
	Terminations     *prometheus.CounterVec
	GateTransitions  *prometheus.CounterVec

	// IPC metrics
	IPCDelivered *prometheus.CounterVec
	IPCTimeouts  prometheus.Counter

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
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	TotalDuration float64 `json:"-"` // sum of all request durations
	RequestCount  int64   `json:"-"` // count for averaging
	KernelCalls   int64   `json:"kernel_calls"`
	KernelErrors  int64   `json:"kernel_errors"`
	LiveProcesses int64   `json:"live_processes"`
	Terminations  int64   `json:"terminations"`
	Deliveries    int64   `json:"deliveries"`
	Timeouts      int64   `json:"timeouts"`
	WSConnections int64   `json:"ws_connections"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolation_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "isolation_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "isolation_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "isolation_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Kernel call metrics
		KernelCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolation_kernel_calls_total",
				Help: "Total number of kernel calls by result",
			},
			[]string{"op", "nature", "reason"},
		),
		KernelDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "isolation_kernel_call_duration_seconds",
				Help:    "Kernel call duration in seconds, blocking time included",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1, 10},
			},
			[]string{"op"},
		),

		// Process metrics
		ProcessesLive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "isolation_processes_live",
				Help: "Number of live processes",
			},
		),
		ProcessesBlocked: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "isolation_processes_blocked",
				Help: "Number of processes whose gate is blocked",
			},
		),
		ProcessesStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolation_processes_started_total",
				Help: "Total number of processes started",
			},
			[]string{"app"},
		),
		Terminations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolation_terminations_total",
				Help: "Total number of process terminations",
			},
			[]string{"app", "reason"},
		),
		GateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolation_gate_transitions_total",
				Help: "Total number of scheduling gate transitions",
			},
			[]string{"to", "cause"},
		),

		// IPC metrics
		IPCDelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolation_ipc_delivered_total",
				Help: "Total number of messages delivered",
			},
			[]string{"nature"},
		),
		IPCTimeouts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "isolation_ipc_timeouts_total",
				Help: "Total number of IPC waits that timed out",
			},
		),

		// WebSocket metrics
		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "isolation_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolation_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "isolation_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}
	return m
}

// RunUptime updates the uptime metric every second until ctx ends.
func (m *Metrics) RunUptime(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
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

// Call records a kernel call. It implements kernel.Recorder.
func (m *Metrics) Call(op string, st status.Status, d time.Duration) {
	m.KernelCalls.WithLabelValues(op, st.Nature.String(), st.Reason.String()).Inc()
	m.KernelDuration.WithLabelValues(op).Observe(d.Seconds())

	m.mu.Lock()
	m.snapshot.KernelCalls++
	if st.IsError() {
		m.snapshot.KernelErrors++
	}
	m.mu.Unlock()
}

// ProcessStarted records a new process
func (m *Metrics) ProcessStarted(app string) {
	m.ProcessesStarted.WithLabelValues(app).Inc()
	m.ProcessesLive.Inc()
	m.mu.Lock()
	m.snapshot.LiveProcesses++
	m.mu.Unlock()
}

// ProcessTerminated records a termination
func (m *Metrics) ProcessTerminated(app string, reason kernel.TerminationReason) {
	m.Terminations.WithLabelValues(app, reason.String()).Inc()
	m.ProcessesLive.Dec()
	m.mu.Lock()
	m.snapshot.LiveProcesses--
	m.snapshot.Terminations++
	m.mu.Unlock()
}

// Transition records a gate transition and tracks blocked processes
func (m *Metrics) Transition(t sched.Transition) {
	m.GateTransitions.WithLabelValues(t.To.String(), t.Cause.String()).Inc()
	if t.From == sched.Blocked {
		m.ProcessesBlocked.Dec()
	}
	if t.To == sched.Blocked {
		m.ProcessesBlocked.Inc()
	}
}

// Delivered records a delivered message
func (m *Metrics) Delivered(n ipc.Nature) {
	m.IPCDelivered.WithLabelValues(n.String()).Inc()
	m.mu.Lock()
	m.snapshot.Deliveries++
	m.mu.Unlock()
}

// TimedOut records an IPC timeout
func (m *Metrics) TimedOut() {
	m.IPCTimeouts.Inc()
	m.mu.Lock()
	m.snapshot.Timeouts++
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
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	if s.RequestCount > 0 {
		s.AvgLatencyMs = s.TotalDuration / float64(s.RequestCount) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

var _ kernel.Recorder = (*Metrics)(nil)
