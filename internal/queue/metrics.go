package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jobboard"

// Processing outcomes.
const (
	outcomeCompleted = "completed"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeDeferred  = "deferred"
)

// Sweep names.
const (
	sweepRetryable = "retryable"
	sweepStuck     = "stuck"
	sweepCleanup   = "cleanup"
)

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notification_queue",
			Name:      "size",
			Help:      "Number of queue items by status",
		},
		[]string{"status"},
	)

	itemsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification_queue",
			Name:      "enqueued_total",
			Help:      "Total queue items created",
		},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification_queue",
			Name:      "items_processed_total",
			Help:      "Queue item transitions out of processing by outcome",
		},
		[]string{"outcome"},
	)

	claimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification_queue",
			Name:      "claim_conflicts_total",
			Help:      "Claims lost to another worker",
		},
	)

	sweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification_queue",
			Name:      "sweep_items_total",
			Help:      "Items affected by periodic sweeps",
		},
		[]string{"sweep"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notification_queue",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver a notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)
)

func recordEnqueued() {
	itemsEnqueued.Inc()
}

func recordItemProcessed(outcome string) {
	itemsProcessed.WithLabelValues(outcome).Inc()
}

func recordClaimConflict() {
	claimConflicts.Inc()
}

func recordSweep(sweep string, count int64) {
	sweepItems.WithLabelValues(sweep).Add(float64(count))
}

func recordSendDuration(channel string, duration time.Duration) {
	sendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	for _, status := range Statuses {
		queueSize.WithLabelValues(string(status)).Set(float64(stats.Get(status)))
	}
}
