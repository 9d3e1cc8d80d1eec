package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursegen",
		Subsystem: "scheduler",
		Name:      "tasks_processed_total",
		Help:      "Tasks that reached a terminal outcome, by resulting status.",
	}, []string{"status"})

	retriesScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coursegen",
		Subsystem: "scheduler",
		Name:      "retries_scheduled_total",
		Help:      "Retries scheduled after classified failures.",
	})

	errorsClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursegen",
		Subsystem: "scheduler",
		Name:      "errors_classified_total",
		Help:      "Classified task failures, by category.",
	}, []string{"category"})
)
