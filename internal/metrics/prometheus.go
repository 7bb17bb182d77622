package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the window watcher
type Metrics struct {
	// Heartbeat metrics
	HeartbeatsTotal       *prometheus.CounterVec
	HeartbeatsMergedTotal prometheus.Counter
	HeartbeatCommitsTotal prometheus.Counter

	// Window poll metrics
	WindowPollsTotal    *prometheus.CounterVec
	WindowPollDuration  prometheus.Histogram
	CurrentWindowChange prometheus.Counter

	// Queue metrics
	QueueDepth            prometheus.Gauge
	QueueEnqueuedTotal    prometheus.Counter
	QueueDispatchedTotal  *prometheus.CounterVec
	QueueDroppedTotal     prometheus.Counter
	ServerConnected       prometheus.Gauge
	ReconnectAttemptsTotal prometheus.Counter

	// API request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// HTTP status server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		HeartbeatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sd_watcher_heartbeats_total",
				Help: "Total number of heartbeats produced by the poll loop",
			},
			[]string{"bucket", "status"},
		),

		HeartbeatsMergedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sd_watcher_heartbeats_merged_total",
				Help: "Total number of heartbeats merged client-side before commit",
			},
		),

		HeartbeatCommitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sd_watcher_heartbeat_commits_total",
				Help: "Total number of merged heartbeat spans committed to the queue",
			},
		),

		WindowPollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sd_watcher_window_polls_total",
				Help: "Total number of active window polls",
			},
			[]string{"status"},
		),

		WindowPollDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sd_watcher_window_poll_duration_seconds",
				Help:    "Time spent reading the active window",
				Buckets: prometheus.DefBuckets,
			},
		),

		CurrentWindowChange: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sd_watcher_window_changes_total",
				Help: "Total number of active window changes observed",
			},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sd_watcher_queue_depth",
				Help: "Number of requests currently spooled in the offline queue",
			},
		),

		QueueEnqueuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sd_watcher_queue_enqueued_total",
				Help: "Total number of requests added to the offline queue",
			},
		),

		QueueDispatchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sd_watcher_queue_dispatched_total",
				Help: "Total number of queued requests dispatched to the server",
			},
			[]string{"status"},
		),

		QueueDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sd_watcher_queue_dropped_total",
				Help: "Total number of queued requests dropped as unretriable",
			},
		),

		ServerConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sd_watcher_server_connected",
				Help: "Whether the watcher currently has a connection to sd-server (1/0)",
			},
		),

		ReconnectAttemptsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sd_watcher_reconnect_attempts_total",
				Help: "Total number of attempts to reconnect to sd-server",
			},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sd_watcher_api_requests_total",
				Help: "Total number of sd-server API requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sd_watcher_api_request_duration_seconds",
				Help:    "Duration of sd-server API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sd_watcher_http_requests_total",
				Help: "Total number of requests handled by the status server",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sd_watcher_http_request_duration_seconds",
				Help:    "Duration of status server requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordAPIRequest records an outbound API request outcome
func (m *Metrics) RecordAPIRequest(method, endpoint, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordHTTPRequest records a status server request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetConnected updates the server connectivity gauge
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.ServerConnected.Set(1)
	} else {
		m.ServerConnected.Set(0)
	}
}
