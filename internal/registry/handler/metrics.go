package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	docbrokerDocumentsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docbroker_documents_total",
		Help: "Registered documents by overall classification level.",
	}, []string{"classification"})

	docbrokerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docbroker_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	docbrokerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docbroker_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	docbrokerLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docbroker_logins_total",
		Help: "Total employee login verifications by result.",
	}, []string{"result"})

	docbrokerDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docbroker_deliveries_total",
		Help: "Total document deliveries by mode (staged, direct, pickup).",
	}, []string{"mode"})

	docbrokerAuditEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docbroker_audit_entries_total",
		Help: "Total audit ledger entries appended.",
	})

	docbrokerSweepRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docbroker_sweep_removed_total",
		Help: "Total expired records removed by the janitor, per table.",
	}, []string{"table"})

	docbrokerAgentUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docbroker_agent_up",
		Help: "Whether a cloud agent answered its last health probe (1 = up).",
	}, []string{"agent"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		docbrokerRequestsTotal.WithLabelValues(method, path, status).Inc()
		docbrokerRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLogin records the outcome of a login verification.
func RecordLogin(success bool) {
	if success {
		docbrokerLoginsTotal.WithLabelValues("verified").Inc()
	} else {
		docbrokerLoginsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordDelivery records one completed delivery. mode is "staged", "direct",
// or "pickup".
func RecordDelivery(mode string) {
	docbrokerDeliveriesTotal.WithLabelValues(mode).Inc()
}

// RecordAuditAppend records an audit ledger entry append.
func RecordAuditAppend() {
	docbrokerAuditEntriesTotal.Inc()
}

// RecordSweep records how many expired records a janitor sweep removed.
func RecordSweep(table string, removed int) {
	docbrokerSweepRemovedTotal.WithLabelValues(table).Add(float64(removed))
}

// SetAgentUp sets the health gauge for a cloud agent.
func SetAgentUp(agent string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	docbrokerAgentUp.WithLabelValues(agent).Set(v)
}

// SetDocumentsGauge sets the document count gauge for a classification level.
func SetDocumentsGauge(classification string, count float64) {
	docbrokerDocumentsTotal.WithLabelValues(classification).Set(count)
}
