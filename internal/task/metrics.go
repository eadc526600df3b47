package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blunderlab_tasks_submitted_total",
		Help: "Tasks enqueued, by task name.",
	}, []string{"task"})

	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blunderlab_tasks_processed_total",
		Help: "Tasks finished, by task name and outcome.",
	}, []string{"task", "status"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blunderlab_queue_depth",
		Help: "Messages waiting in the broker, by queue.",
	}, []string{"queue"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blunderlab_task_duration_seconds",
		Help:    "Handler wall time, by task name.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"task"})
)
