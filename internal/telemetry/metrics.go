package telemetry

import "github.com/prometheus/client_golang/prometheus"

// TasksCompletedTotal counts successful task handler invocations (spec.md §4.3 step 5).
var TasksCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avmorch",
		Subsystem: "tasks",
		Name:      "completed_total",
		Help:      "Total number of tasks completed successfully, by task name.",
	},
	[]string{"task"},
)

// TasksDelayedTotal counts cooperative TaskDelay suspensions (spec.md §4.3 step 4).
var TasksDelayedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avmorch",
		Subsystem: "tasks",
		Name:      "delayed_total",
		Help:      "Total number of tasks that requested delayed redelivery.",
	},
	[]string{"task"},
)

// TasksPermanentErrorsTotal counts handler failures projected onto entity status.
var TasksPermanentErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avmorch",
		Subsystem: "tasks",
		Name:      "permanent_errors_total",
		Help:      "Total number of tasks that failed permanently, by task name and classification.",
	},
	[]string{"task", "classification"},
)

// TasksDeadLetteredTotal counts nack-without-requeue events (spec.md §4.3 step 4).
var TasksDeadLetteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avmorch",
		Subsystem: "tasks",
		Name:      "deadlettered_total",
		Help:      "Total number of tasks routed to the dead-letter exchange.",
	},
	[]string{"task"},
)

// RetryRepublishedTotal counts Retry Collector republish events (spec.md §4.2).
var RetryRepublishedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "avmorch",
		Subsystem: "retry",
		Name:      "republished_total",
		Help:      "Total number of dead-lettered messages republished by the retry collector.",
	},
)

// RetryTerminallyFailedTotal counts messages that exceeded the absolute retry timeout.
var RetryTerminallyFailedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "avmorch",
		Subsystem: "retry",
		Name:      "terminally_failed_total",
		Help:      "Total number of messages dead-lettered to orchestration.failed after exceeding retry.fail_timeout.",
	},
)

// CampaignCommandsReadyTotal counts Commands transitioning to READY within campaigns.
var CampaignCommandsReadyTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "avmorch",
		Subsystem: "campaign",
		Name:      "commands_ready_total",
		Help:      "Total number of campaign Commands that reached READY.",
	},
)

// AVMCreateDuration tracks wall-clock time from avm_create to AVM READY.
var AVMCreateDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "avmorch",
		Subsystem: "avm",
		Name:      "create_duration_seconds",
		Help:      "Duration from avm_create dispatch to AVM reaching READY.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	},
)

// BillingOpenTotal is a gauge of currently-open billing records (ts_stopped IS NULL).
var BillingOpenTotal = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "avmorch",
		Subsystem: "billing",
		Name:      "open_total",
		Help:      "Number of AVMs currently accruing billing time.",
	},
)

// HTTPRequestDuration tracks the API surface's request latency, labelled by
// method/route/status (the handler-layer contract point in spec.md §6).
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "avmorch",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// All returns all avmorch-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		TasksCompletedTotal,
		TasksDelayedTotal,
		TasksPermanentErrorsTotal,
		TasksDeadLetteredTotal,
		RetryRepublishedTotal,
		RetryTerminallyFailedTotal,
		CampaignCommandsReadyTotal,
		AVMCreateDuration,
		BillingOpenTotal,
		HTTPRequestDuration,
	}
}
