package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Run lifecycle

	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vwrotation",
		Name:      "runs_total",
		Help:      "Total finished runs, by outcome.",
	}, []string{"outcome"})

	RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vwrotation",
		Name:      "run_duration_seconds",
		Help:      "Duration of job executions.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"outcome"})

	RunsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vwrotation",
		Name:      "runs_in_flight",
		Help:      "Number of jobs currently executing.",
	})

	RetriesScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vwrotation",
		Name:      "retries_scheduled_total",
		Help:      "Total retries scheduled after failed or timed out runs.",
	})

	GiveUpsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vwrotation",
		Name:      "give_ups_total",
		Help:      "Total retry chains abandoned after exhausting the attempt budget.",
	})

	RunsInterruptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vwrotation",
		Name:      "runs_interrupted_total",
		Help:      "Pending runs closed as interrupted during startup recovery.",
	})

	// Scheduler loop

	SchedulerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vwrotation",
		Name:      "scheduler_start_time_seconds",
		Help:      "Unix timestamp when the scheduler loop started.",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vwrotation",
		Name:      "tick_duration_seconds",
		Help:      "Time taken for one evaluation pass over the registry.",
		Buckets:   prometheus.DefBuckets,
	})

	LedgerErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vwrotation",
		Name:      "ledger_errors_total",
		Help:      "Ledger reads and writes that failed and were skipped or deferred.",
	})

	// Vaultwarden client

	VaultRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vwrotation",
		Name:      "vault_requests_total",
		Help:      "Requests against the Vaultwarden API, by operation and result.",
	}, []string{"operation", "result"})

	RotationCandidates = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vwrotation",
		Name:      "rotation_candidates",
		Help:      "Items due for rotation found by the latest sweep.",
	})

	// Notifications

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vwrotation",
		Name:      "notifications_total",
		Help:      "Notification dispatches, by result.",
	}, []string{"result"})

	// HTTP status API

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vwrotation",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vwrotation",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		RunsTotal,
		RunDuration,
		RunsInFlight,
		RetriesScheduledTotal,
		GiveUpsTotal,
		RunsInterruptedTotal,
		SchedulerStartTime,
		TickDuration,
		LedgerErrorsTotal,
		VaultRequestsTotal,
		RotationCandidates,
		NotificationsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}
