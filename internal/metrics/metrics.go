// Package metrics exposes Prometheus instrumentation for the evaluation
// worker: phase durations, job outcomes, and currently-active runnables.
// Grounded on the reference platform's internal/metrics.metrics.go, with the
// echo-specific HTTP middleware dropped — this worker has no inbound HTTP
// API to instrument, only outbound coordinator calls and sandbox phases.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunnablesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evalworker_runnables_active",
			Help: "Number of runnables currently executing",
		},
		[]string{"worker_id"},
	)

	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evalworker_phase_duration_seconds",
			Help:    "Wall-clock time spent in each execution phase",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"phase", "runner"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalworker_jobs_total",
			Help: "Total jobs processed, by terminal status",
		},
		[]string{"status"},
	)

	ClassifiedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalworker_classified_errors_total",
			Help: "Total job failures by classified error kind",
		},
		[]string{"kind"},
	)

	CoordinatorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evalworker_coordinator_request_duration_seconds",
			Help:    "Time for coordinator HTTP calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		RunnablesActive,
		PhaseDuration,
		JobsTotal,
		ClassifiedErrorsTotal,
		CoordinatorRequestDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts a standalone HTTP server serving /metrics on the
// given address.
func StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			// metrics are non-critical; a listen error is dropped here and
			// never reaches the caller
		}
	}()
	return srv
}
