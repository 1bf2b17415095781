// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring and exposes
// Prometheus collectors for the HTTP surface, the model clients, and the
// stream worker fabric.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	StageEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_entries_total",
			Help: "Total number of stream entries handled per stage and outcome",
		},
		[]string{"stage", "outcome"},
	)
	StageEntryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stage_entry_duration_seconds",
			Help:    "Per-entry handler duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	StageEntriesInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stage_entries_in_flight",
			Help: "Entries currently being handled per stage",
		},
		[]string{"stage"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of entries quarantined to a dead-letter stream",
		},
		[]string{"stage"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(StageEntriesTotal)
	prometheus.MustRegister(StageEntryDuration)
	prometheus.MustRegister(StageEntriesInFlight)
	prometheus.MustRegister(DLQMessagesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// StartStageEntry marks an entry as in flight for the stage.
func StartStageEntry(stage string) {
	StageEntriesInFlight.WithLabelValues(stage).Inc()
}

// FinishStageEntry records the outcome and duration of one handled entry.
// Outcome is one of "acked", "dead_lettered", or "requeued".
func FinishStageEntry(stage, outcome string, dur time.Duration) {
	StageEntriesInFlight.WithLabelValues(stage).Dec()
	StageEntriesTotal.WithLabelValues(stage, outcome).Inc()
	StageEntryDuration.WithLabelValues(stage).Observe(dur.Seconds())
}

// ObserveAIRequest records one model API call.
func ObserveAIRequest(provider, operation string, dur time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, operation).Inc()
	AIRequestDuration.WithLabelValues(provider, operation).Observe(dur.Seconds())
}
