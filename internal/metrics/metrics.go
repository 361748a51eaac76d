// Package metrics exposes Prometheus collectors for the ledger service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coffer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coffer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coffer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	httpThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coffer",
			Subsystem: "http",
			Name:      "throttled_requests_total",
			Help:      "Total number of HTTP requests rejected by the rate limiter.",
		},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coffer",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	ledgerOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coffer",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"kind"},
	)

	ledgerHeldBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coffer",
			Subsystem: "ledger",
			Name:      "held_balance",
			Help:      "Sum of all account balances in smallest units.",
		},
	)

	ledgerRemainingCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coffer",
			Subsystem: "ledger",
			Name:      "remaining_capacity",
			Help:      "Deposit capacity still available in smallest units.",
		},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coffer",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of operation events published to the broker.",
		},
		[]string{"outcome"},
	)

	exportAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coffer",
			Subsystem: "export",
			Name:      "attempts_total",
			Help:      "Total number of journal export attempts.",
		},
		[]string{"outcome"},
	)

	exportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coffer",
			Subsystem: "export",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of journal export attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	exportBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coffer",
			Subsystem: "export",
			Name:      "backlog",
			Help:      "Number of journal entries waiting to be exported.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		httpThrottled,
		ledgerOperations,
		ledgerOperationDuration,
		ledgerHeldBalance,
		ledgerRemainingCapacity,
		eventsPublished,
		exportAttempts,
		exportDuration,
		exportBacklog,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOperation records one ledger operation attempt.
// Outcome is one of "ok", "rejected" or "failed".
func RecordOperation(kind, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	ledgerOperations.WithLabelValues(kind, outcome).Inc()
	ledgerOperationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetLedgerGauges publishes the current held balance and remaining capacity.
func SetLedgerGauges(held, remaining int64) {
	ledgerHeldBalance.Set(float64(held))
	ledgerRemainingCapacity.Set(float64(remaining))
}

// RecordEventPublish records one broker publish attempt.
func RecordEventPublish(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	eventsPublished.WithLabelValues(outcome).Inc()
}

// RecordExportAttempt records one journal export attempt.
func RecordExportAttempt(duration time.Duration, err error) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	exportAttempts.WithLabelValues(outcome).Inc()
	exportDuration.Observe(duration.Seconds())
}

// SetExportBacklog publishes the number of journal entries awaiting export.
func SetExportBacklog(n int) {
	exportBacklog.Set(float64(n))
}

// RecordThrottled records one request rejected by the rate limiter.
func RecordThrottled() {
	httpThrottled.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses unknown paths into a single label so the
// metric cardinality stays bounded.
func canonicalPath(raw string) string {
	switch raw {
	case "/healthz", "/readyz", "/metrics":
		return raw
	case "/api/v1/deposits",
		"/api/v1/withdrawals",
		"/api/v1/transfers/inbound",
		"/api/v1/balance",
		"/api/v1/capacity",
		"/api/v1/stats",
		"/api/v1/history":
		return raw
	}
	return "/other"
}
