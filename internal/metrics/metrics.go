package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nullcrew/taskforge/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics

	ClaimLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taskforge",
		Name:      "claim_latency_seconds",
		Help:      "Time from a task's scheduledAt to the moment a worker claims it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskforge",
		Name:      "execution_duration_seconds",
		Help:      "Duration of a task's handler execution, by outcome.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})

	TasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskforge",
		Name:      "worker_tasks_in_flight",
		Help:      "Number of tasks currently being executed by this worker.",
	})

	TasksCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskforge",
		Name:      "tasks_completed_total",
		Help:      "Total tasks finished, by outcome.",
	}, []string{"outcome"})

	// Sweeper metrics

	SweeperExpiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskforge",
		Name:      "sweeper_expired_total",
		Help:      "Total lease-expired tasks handled by the sweeper, by action.",
	}, []string{"action"})

	SweeperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taskforge",
		Name:      "sweeper_cycle_duration_seconds",
		Help:      "Time taken to drain one sweeper pass.",
		Buckets:   prometheus.DefBuckets,
	})

	// Poll loop lifecycle

	PollerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskforge",
		Name:      "poller_start_time_seconds",
		Help:      "Unix timestamp when the poll loop started.",
	})

	PollerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskforge",
		Name:      "poller_shutdowns_total",
		Help:      "Number of times the poll loop has shut down.",
	})

	// Admin HTTP API metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskforge",
		Name:      "http_request_duration_seconds",
		Help:      "Admin HTTP API request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskforge",
		Name:      "http_requests_total",
		Help:      "Total admin HTTP API requests.",
	}, []string{"method", "path", "status"})
)

// Register registers every collector above against the default
// Prometheus registry. Call once per process.
func Register() {
	prometheus.MustRegister(
		ClaimLatency,
		ExecutionDuration,
		TasksInFlight,
		TasksCompletedTotal,
		SweeperExpiredTotal,
		SweeperCycleDuration,
		PollerStartTime,
		PollerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer returns an HTTP server exposing /metrics, /livez and
// /readyz on addr. checker may be nil, in which case the liveness and
// readiness routes always report up without checking anything.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", healthHandler(checker, health.Checker.Liveness))
	mux.HandleFunc("/readyz", healthHandler(checker, health.Checker.Readiness))
	return &http.Server{Addr: addr, Handler: mux}
}

func healthHandler(checker *health.Checker, check func(*health.Checker, context.Context) health.HealthResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(health.HealthResult{Status: "up"})
			return
		}
		result := check(checker, r.Context())
		w.Header().Set("Content-Type", "application/json")
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(result)
	}
}
