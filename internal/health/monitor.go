package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/store"
)

var unhealthyJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "coursegen",
	Subsystem: "health",
	Name:      "unhealthy_jobs",
	Help:      "Processing jobs per health verdict from the last sweep.",
}, []string{"status"})

// Notifier receives a progress notification when a job turns unhealthy.
type Notifier interface {
	Publish(ctx context.Context, jobID uuid.UUID, taskID *uuid.UUID, message string)
}

// Monitor periodically evaluates every processing job. It only reads
// state and recommends actions; recovery itself stays with the recovery
// controller and the operator.
type Monitor struct {
	jobs     store.JobStore
	tasks    store.TaskStore
	errs     store.ErrorStore
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(
	jobs store.JobStore,
	tasks store.TaskStore,
	errs store.ErrorStore,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	return &Monitor{
		jobs:     jobs,
		tasks:    tasks,
		errs:     errs,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "health_monitor"),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// Snapshot evaluates a single job right now.
func (m *Monitor) Snapshot(ctx context.Context, job *domain.Job) (domain.HealthSnapshot, error) {
	tasks, err := m.tasks.ListByJob(ctx, job.ID)
	if err != nil {
		return domain.HealthSnapshot{}, err
	}

	unresolved, err := m.errs.ListUnresolvedByJob(ctx, job.ID)
	if err != nil {
		return domain.HealthSnapshot{}, err
	}

	return Evaluate(job, tasks, unresolved, m.cfg, time.Now().UTC()), nil
}

// sweep evaluates every processing job once.
func (m *Monitor) sweep(ctx context.Context) {
	jobs, err := m.jobs.ListByStatus(ctx, domain.JobStatusProcessing)
	if err != nil {
		m.logger.Error("failed to list processing jobs", "error", err)
		return
	}

	counts := map[domain.HealthStatus]int{}

	for _, job := range jobs {
		snapshot, err := m.Snapshot(ctx, job)
		if err != nil {
			m.logger.Error("failed to evaluate job health",
				"job_id", job.ID, "error", err)
			continue
		}

		counts[snapshot.Status]++

		if snapshot.Status == domain.HealthHealthy {
			continue
		}

		m.logger.Warn("job is unhealthy",
			"job_id", job.ID,
			"health", snapshot.Status,
			"recommended_action", snapshot.RecommendedAction,
			"running", snapshot.RunningTasks,
			"pending", snapshot.PendingTasks,
			"failed", snapshot.FailedTasks,
			"last_activity_at", snapshot.LastActivityAt)

		m.notifier.Publish(ctx, job.ID, nil,
			fmt.Sprintf("health: %s, recommended action: %s",
				snapshot.Status, snapshot.RecommendedAction))
	}

	for _, status := range []domain.HealthStatus{
		domain.HealthHealthy, domain.HealthStalled, domain.HealthStuck,
		domain.HealthFailed, domain.HealthAbandoned,
	} {
		unhealthyJobs.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
