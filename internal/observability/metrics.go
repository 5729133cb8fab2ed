package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cranberries",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cranberries",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cranberries",
			Subsystem: "discovery",
			Name:      "reconcile_total",
			Help:      "Reconciliation passes by namespace level.",
		},
		[]string{"level"},
	)
	emittedVersions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cranberries",
			Subsystem: "discovery",
			Name:      "emitted_versions",
			Help:      "Aspired versions in the last list emitted for a model.",
		},
		[]string{"model"},
	)
	skippedVersions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cranberries",
			Subsystem: "discovery",
			Name:      "skipped_versions_total",
			Help:      "Version children excluded from an emitted list.",
		},
		[]string{"reason"},
	)
	watchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cranberries",
			Subsystem: "coord",
			Name:      "watch_events_total",
			Help:      "Watch and session notifications dispatched by the coordination client.",
		},
		[]string{"type"},
	)
	coordErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cranberries",
			Subsystem: "coord",
			Name:      "errors_total",
			Help:      "Coordination calls that returned an error, by kind.",
		},
		[]string{"op", "kind"},
	)
	reporterWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cranberries",
			Subsystem: "reporter",
			Name:      "writes_total",
			Help:      "State mirror writes by operation and result.",
		},
		[]string{"op", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			reconcileTotal,
			emittedVersions,
			skippedVersions,
			watchEvents,
			coordErrors,
			reporterWrites,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordReconcile(level string) {
	RegisterMetrics()
	reconcileTotal.WithLabelValues(level).Inc()
}

func SetEmittedVersions(model string, count int) {
	RegisterMetrics()
	emittedVersions.WithLabelValues(model).Set(float64(count))
}

func RecordSkippedVersion(reason string) {
	RegisterMetrics()
	skippedVersions.WithLabelValues(reason).Inc()
}

func RecordWatchEvent(eventType string) {
	RegisterMetrics()
	watchEvents.WithLabelValues(eventType).Inc()
}

func RecordCoordError(op, kind string) {
	RegisterMetrics()
	coordErrors.WithLabelValues(op, kind).Inc()
}

func RecordReporterWrite(op string, success bool) {
	RegisterMetrics()
	result := "ok"
	if !success {
		result = "error"
	}
	reporterWrites.WithLabelValues(op, result).Inc()
}
