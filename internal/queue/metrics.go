package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	// QueueEnqueuedTotal counts enqueue attempts by task type and outcome.
	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoice",
			Name:      "queue_enqueued_total",
			Help:      "Tasks submitted to the queue grouped by outcome",
		},
		[]string{"task_type", "status"},
	)
	// QueueProcessedTotal counts handler runs by task type and outcome.
	QueueProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invoice",
			Name:      "queue_processed_total",
			Help:      "Total tasks processed grouped by status",
		},
		[]string{"task_type", "status"},
	)
)

func init() {
	prometheus.MustRegister(QueueEnqueuedTotal, QueueProcessedTotal)
}
