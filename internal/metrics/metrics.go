package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MonitorPollsTotal counts monitor poll cycles by chain and outcome
	MonitorPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_monitor_polls_total",
			Help: "Total number of monitor poll cycles",
		},
		[]string{"chain", "result"},
	)

	// MonitorTxProcessed counts transactions seen by each chain monitor
	MonitorTxProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_monitor_transactions_total",
			Help: "Total number of transactions processed by monitors",
		},
		[]string{"chain"},
	)

	// TaskProcessorResults counts task post-processing outcomes
	TaskProcessorResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_task_processor_results_total",
			Help: "Total number of task processor dispatches by outcome",
		},
		[]string{"task_type", "result"},
	)

	// MonitorCursorTimestamp tracks the cursor age per chain
	MonitorCursorTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dex_monitor_cursor_timestamp_seconds",
			Help: "Unix timestamp of the last transaction covered by the monitor cursor",
		},
		[]string{"chain"},
	)

	// WorkerRetriesTotal counts retry attempts per worker
	WorkerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_worker_retries_total",
			Help: "Total number of worker retry attempts",
		},
		[]string{"worker"},
	)

	// WorkerTasksTotal counts finished worker tasks by terminal outcome
	WorkerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_worker_tasks_total",
			Help: "Total number of worker tasks reaching a terminal state",
		},
		[]string{"worker", "result"},
	)

	// OfferTasksTotal counts offer workflow attempts by type and outcome
	OfferTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_offer_tasks_total",
			Help: "Total number of offer workflow attempts",
		},
		[]string{"task_type", "result"},
	)

	// BctxQueuedTotal counts outbound transfers enqueued per platform
	BctxQueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_bctx_queued_total",
			Help: "Total number of outbound bridge transfers enqueued",
		},
		[]string{"platform"},
	)

	// BctxSubmittedTotal counts outbound transfer submissions per
	// platform and result
	BctxSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_bctx_submitted_total",
			Help: "Total number of outbound bridge transfer submissions",
		},
		[]string{"platform", "result"},
	)

	// ReceiptsSaved counts operation receipts persisted per platform
	ReceiptsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_op_receipts_saved_total",
			Help: "Total number of operation receipts persisted",
		},
		[]string{"platform"},
	)

	// SubmitDuration tracks ledger submission latency
	SubmitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dex_submit_duration_seconds",
			Help:    "Ledger transaction submission duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dex_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
