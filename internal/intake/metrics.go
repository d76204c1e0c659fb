package intake

import (
	"github.com/bissquit/jobboard-notify/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultEnqueued = "enqueued"
	resultRejected = "rejected"
	resultRequeued = "requeued"
)

var messagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "notification_intake",
		Name:      "messages_total",
		Help:      "Intake events by result",
	},
	[]string{"result"},
)

func recordMessage(result string) {
	messagesTotal.WithLabelValues(result).Inc()
}
