package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	alertsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_alerts_emitted_total",
			Help: "Edge-triggered alerts emitted by kind.",
		},
		[]string{"kind"},
	)
	alertConfigWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_alert_config_writes_total",
			Help: "Successful alert configuration writes.",
		},
	)
	alertConfigWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_alert_config_write_failures_total",
			Help: "Failed alert configuration writes.",
		},
	)
	optimisticRollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_optimistic_rollbacks_total",
			Help: "Optimistic alert edits rolled back after a failed write.",
		},
	)
	watchSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_watch_sessions",
			Help: "Open viewing sessions.",
		},
	)
	telemetryReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_telemetry_reports_total",
			Help: "Position reports received by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
)

func Register() {
	prometheus.MustRegister(httpRequests, httpLatency, alertsEmitted, alertConfigWrites, alertConfigWriteFailures, optimisticRollbacks, watchSessions, telemetryReports)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request counts and latency per route template.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		httpLatency.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

func IncAlertEmitted(kind string) {
	alertsEmitted.WithLabelValues(kind).Inc()
}

func IncAlertConfigWrite() {
	alertConfigWrites.Inc()
}

func IncAlertConfigWriteFailure() {
	alertConfigWriteFailures.Inc()
}

func IncOptimisticRollback() {
	optimisticRollbacks.Inc()
}

func IncWatchSessions() {
	watchSessions.Inc()
}

func DecWatchSessions() {
	watchSessions.Dec()
}

func IncTelemetryReport(source, outcome string) {
	telemetryReports.WithLabelValues(source, outcome).Inc()
}
