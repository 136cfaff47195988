package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollsTotal tracks polling attempts by outcome
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_polls_total",
			Help: "Total number of polling attempts",
		},
		[]string{"outcome"},
	)

	// TransitionsTotal tracks status transitions
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_transitions_total",
			Help: "Total number of transaction status transitions",
		},
		[]string{"from", "to"},
	)

	// ForcedConfirmations tracks escalated force-confirm transitions
	ForcedConfirmations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_forced_confirmations_total",
			Help: "Total number of forced confirmations",
		},
	)

	// ChainCallsTotal tracks chain status API calls
	ChainCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_chain_calls_total",
			Help: "Total number of chain status API calls",
		},
		[]string{"endpoint", "result"},
	)

	// PollDuration tracks how long one poll takes end to end
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconciler_poll_duration_seconds",
			Help:    "Duration of a single polling job",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueueDepth tracks broker-side queue sizes
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconciler_queue_depth",
			Help: "Number of jobs per queue state",
		},
		[]string{"state"},
	)

	// ScheduledJobs tracks jobs enqueued by the reconciliation sweep
	ScheduledJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_scheduled_jobs_total",
			Help: "Jobs enqueued by the scheduler and monitor",
		},
		[]string{"source"},
	)

	// NotificationsTotal tracks terminal-status notifications
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_notifications_total",
			Help: "Terminal status notifications sent",
		},
		[]string{"status"},
	)

	// PrunedTransactions tracks retention pruner deletions
	PrunedTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_pruned_transactions_total",
			Help: "Terminal transactions removed by the retention pruner",
		},
	)
)
