// Package recovery executes operator- or system-triggered recovery on
// unhealthy jobs: resume, restart, and delete. All three return a
// structured Result instead of an error when the job is simply not in an
// eligible state, and every one re-checks the job's current status
// immediately before acting to guard against racing a just-finished job.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/health"
	"github.com/dbawebdesign/lailms/internal/orchestrator"
	"github.com/dbawebdesign/lailms/internal/store"
)

// Result is the structured outcome of a recovery action.
type Result struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Action  domain.RecoveryAction `json:"action"`
}

// Dispatcher hands a task back to the scheduler.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *domain.Task) error
}

// TimerCanceller suppresses in-flight retry timers for a job.
type TimerCanceller interface {
	CancelJobTimers(jobID uuid.UUID)
}

// Notifier receives a progress notification on every recovery action.
type Notifier interface {
	Publish(ctx context.Context, jobID uuid.UUID, taskID *uuid.UUID, message string)
}

// Forgetter drops publisher snapshot state for deleted jobs.
type Forgetter interface {
	Forget(jobID uuid.UUID)
}

// Controller executes recovery actions, bounded by a per-job
// recovery-attempt cap. Restart and delete are explicit operator actions
// and are not gated by the cap.
type Controller struct {
	jobs        store.JobStore
	tasks       store.TaskStore
	errs        store.ErrorStore
	dispatcher  Dispatcher
	timers      TimerCanceller
	notifier    Notifier
	forgetter   Forgetter
	maxAttempts int
	logger      *slog.Logger
}

// New creates a Controller.
func New(
	jobs store.JobStore,
	tasks store.TaskStore,
	errs store.ErrorStore,
	dispatcher Dispatcher,
	timers TimerCanceller,
	notifier Notifier,
	forgetter Forgetter,
	maxAttempts int,
	logger *slog.Logger,
) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Controller{
		jobs:        jobs,
		tasks:       tasks,
		errs:        errs,
		dispatcher:  dispatcher,
		timers:      timers,
		notifier:    notifier,
		forgetter:   forgetter,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "recovery_controller"),
	}
}

// AttemptRecovery resumes a job by re-queueing its waiting tasks,
// preserving their retry counters. It is bounded by the recovery cap and
// rejected when the underlying failure is structural.
func (c *Controller) AttemptRecovery(ctx context.Context, jobID uuid.UUID) (*Result, error) {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.IsTerminal() {
		return &Result{
			Success: false,
			Message: fmt.Sprintf("job is already %s and cannot be resumed", job.Status),
			Action:  domain.ActionResume,
		}, nil
	}

	if job.RecoveryAttempts >= c.maxAttempts {
		return &Result{
			Success: false,
			Message: fmt.Sprintf("recovery attempt cap reached (%d of %d)", job.RecoveryAttempts, c.maxAttempts),
			Action:  domain.ActionResume,
		}, nil
	}

	unresolved, err := c.errs.ListUnresolvedByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if health.HasStructuralFailure(unresolved) {
		return &Result{
			Success: false,
			Message: "the failure is not retryable; delete the job and retry after fixing the source material",
			Action:  domain.ActionResume,
		}, nil
	}

	tasks, err := c.tasks.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	requeued := 0
	for _, task := range tasks {
		switch task.Status {
		case domain.TaskStatusPending, domain.TaskStatusQueued, domain.TaskStatusRetrying:
			if err := c.dispatcher.Dispatch(ctx, task); err != nil {
				c.logger.Error("failed to re-dispatch task during recovery",
					"job_id", jobID, "task_id", task.ID, "error", err)
				continue
			}
			requeued++
		}
	}

	attempts, err := c.jobs.IncrementRecoveryAttempts(ctx, jobID)
	if err != nil {
		return nil, err
	}

	c.logger.Info("recovery attempted",
		"job_id", jobID, "tasks_requeued", requeued, "recovery_attempts", attempts)
	c.notifier.Publish(ctx, jobID, nil,
		fmt.Sprintf("recovery attempt %d of %d: %d tasks re-queued", attempts, c.maxAttempts, requeued))

	return &Result{
		Success: true,
		Message: fmt.Sprintf("%d tasks re-queued (recovery attempt %d of %d)", requeued, attempts, c.maxAttempts),
		Action:  domain.ActionResume,
	}, nil
}

// RestartJob destructively restarts a job: outstanding tasks are
// cancelled and removed, the task set is recreated from the original
// plan, counters reset, and the job goes back to queued. It is a
// distinct explicit action, not gated by the recovery cap, and requires
// confirmation at the boundary.
func (c *Controller) RestartJob(ctx context.Context, jobID uuid.UUID) (*Result, error) {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.IsImmutable() {
		return &Result{
			Success: false,
			Message: fmt.Sprintf("job is %s and cannot be restarted", job.Status),
			Action:  domain.ActionRestart,
		}, nil
	}

	c.timers.CancelJobTimers(jobID)

	if _, err := c.tasks.CancelActiveByJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to cancel outstanding tasks: %w", err)
	}

	if err := c.tasks.DeleteByJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to remove old task set: %w", err)
	}

	tasks, err := orchestrator.DecomposePlan(jobID, job.Plan)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild task set: %w", err)
	}
	if err := c.tasks.Insert(ctx, tasks...); err != nil {
		return nil, fmt.Errorf("failed to persist new task set: %w", err)
	}

	if err := c.errs.ResolveByJob(ctx, jobID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to resolve error records: %w", err)
	}

	if err := c.jobs.ResetForRestart(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to reset job: %w", err)
	}

	for _, task := range tasks {
		if err := c.dispatcher.Dispatch(ctx, task); err != nil {
			c.logger.Error("failed to dispatch restarted task",
				"job_id", jobID, "task_id", task.ID, "error", err)
		}
	}

	c.logger.Info("job restarted", "job_id", jobID, "tasks", len(tasks))
	c.notifier.Publish(ctx, jobID, nil, fmt.Sprintf("job restarted with %d tasks", len(tasks)))

	return &Result{
		Success: true,
		Message: fmt.Sprintf("job restarted with %d tasks", len(tasks)),
		Action:  domain.ActionRestart,
	}, nil
}

// DeleteJob cancels outstanding work and removes the job with all of its
// tasks and error records. Irreversible; the caller may resubmit the
// original plan afterwards.
func (c *Controller) DeleteJob(ctx context.Context, jobID uuid.UUID) (*Result, error) {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	c.timers.CancelJobTimers(jobID)

	if !job.IsTerminal() {
		if _, err := c.tasks.CancelActiveByJob(ctx, jobID); err != nil {
			return nil, fmt.Errorf("failed to cancel outstanding tasks: %w", err)
		}
	}

	if err := c.errs.DeleteByJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to delete error records: %w", err)
	}
	if err := c.tasks.DeleteByJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to delete tasks: %w", err)
	}
	if err := c.jobs.Delete(ctx, jobID); err != nil {
		return nil, fmt.Errorf("failed to delete job: %w", err)
	}

	c.forgetter.Forget(jobID)

	c.logger.Info("job deleted", "job_id", jobID, "title", job.Title)

	return &Result{
		Success: true,
		Message: "job and all of its records were deleted",
		Action:  domain.ActionDeleteAndRetry,
	}, nil
}
