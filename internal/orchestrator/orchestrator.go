// Package orchestrator creates generation jobs, decomposes them into
// tasks, aggregates task state into job status, and finalizes jobs when
// every task reaches a terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/store"
)

// Common orchestrator errors
var (
	// ErrJobImmutable is returned when an operation targets a completed
	// or cancelled job.
	ErrJobImmutable = errors.New("job is completed or cancelled and can no longer change")

	// ErrJobNotTerminal is returned when dismiss is attempted on a job
	// that is still processing.
	ErrJobNotTerminal = errors.New("job has not reached a terminal state")

	// ErrTaskNotSkippable is returned when skip targets a task outside
	// pending/queued/running.
	ErrTaskNotSkippable = errors.New("task cannot be skipped in its current state")
)

// Dispatcher hands a persisted task to the scheduler.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *domain.Task) error
}

// TimerCanceller suppresses in-flight retry timers for a job.
type TimerCanceller interface {
	CancelJobTimers(jobID uuid.UUID)
}

// Notifier receives a progress notification on every job mutation.
type Notifier interface {
	Publish(ctx context.Context, jobID uuid.UUID, taskID *uuid.UUID, message string)
}

// Orchestrator owns the job lifecycle.
type Orchestrator struct {
	jobs       store.JobStore
	tasks      store.TaskStore
	errs       store.ErrorStore
	dispatcher Dispatcher
	timers     TimerCanceller
	notifier   Notifier
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(
	jobs store.JobStore,
	tasks store.TaskStore,
	errs store.ErrorStore,
	dispatcher Dispatcher,
	timers TimerCanceller,
	notifier Notifier,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		jobs:       jobs,
		tasks:      tasks,
		errs:       errs,
		dispatcher: dispatcher,
		timers:     timers,
		notifier:   notifier,
		logger:     logger.With("component", "orchestrator"),
	}
}

// CreateJob decomposes a generation plan into an ordered task list,
// persists the job and its tasks, and dispatches the tasks.
func (o *Orchestrator) CreateJob(ctx context.Context, ownerID uuid.UUID, title string, plan domain.GenerationPlan) (*domain.Job, error) {
	job, err := domain.NewJob(ownerID, title, plan)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	tasks, err := DecomposePlan(job.ID, plan)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	if err := o.jobs.Create(ctx, job, tasks); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	o.notifier.Publish(ctx, job.ID, nil,
		fmt.Sprintf("job %q created with %d tasks", job.Title, len(tasks)))

	for _, task := range tasks {
		if err := o.dispatcher.Dispatch(ctx, task); err != nil {
			// The task stays pending in the store; boot recovery or an
			// operator resume re-dispatches it.
			o.logger.Error("failed to dispatch task",
				"job_id", job.ID, "task_id", task.ID, "error", err)
		}
	}

	return job, nil
}

// DecomposePlan builds the ordered task set for a plan: one section task
// per requested section, then assessment, quiz and exam when included.
func DecomposePlan(jobID uuid.UUID, plan domain.GenerationPlan) ([]*domain.Task, error) {
	tasks := make([]*domain.Task, 0, plan.TaskCount())
	seq := 1

	for i := 1; i <= plan.Sections; i++ {
		task, err := domain.NewTask(jobID, domain.TaskTypeSection, fmt.Sprintf("Section %d", i), seq)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
		seq++
	}

	extras := []struct {
		include bool
		kind    domain.TaskType
		label   string
	}{
		{plan.IncludeAssessment, domain.TaskTypeAssessment, "Assessment"},
		{plan.IncludeQuiz, domain.TaskTypeQuiz, "Quiz"},
		{plan.IncludeExam, domain.TaskTypeExam, "Final exam"},
	}
	for _, extra := range extras {
		if !extra.include {
			continue
		}
		task, err := domain.NewTask(jobID, extra.kind, extra.label, seq)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
		seq++
	}

	if len(tasks) == 0 {
		return nil, domain.ErrEmptyPlan
	}

	return tasks, nil
}

// RecomputeJobStatus re-derives the job's status and progress from its
// current task snapshot. It is idempotent and safe to re-run after any
// task mutation. Completed and cancelled jobs are never changed.
func (o *Orchestrator) RecomputeJobStatus(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.IsImmutable() {
		return job, nil
	}

	tasks, err := o.tasks.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	status, progress := DeriveJobState(job, tasks)

	if status == job.Status && progress == job.Progress {
		return job, nil
	}

	var completedAt *time.Time
	if completedAt = job.CompletedAt; completedAt == nil {
		if status == domain.JobStatusCompleted || status == domain.JobStatusFailed {
			now := time.Now().UTC()
			completedAt = &now
		}
	}

	if err := o.jobs.UpdateDerived(ctx, jobID, status, progress, completedAt); err != nil {
		return nil, err
	}

	if status != job.Status {
		o.notifier.Publish(ctx, jobID, nil, fmt.Sprintf("job %s", status))
	}

	job.Status = status
	job.Progress = progress
	job.CompletedAt = completedAt
	return job, nil
}

// DeriveJobState computes the job status and progress implied by a task
// snapshot. Status rules: completed iff every task is completed or
// skipped; failed iff at least one task failed and none are still
// active; processing once any task has left the pending/queued pool;
// otherwise the current (queued) status stands. Progress is the share of
// tasks in a terminal outcome, falling back to the stored scalar when
// the job has no tasks.
func DeriveJobState(job *domain.Job, tasks []*domain.Task) (domain.JobStatus, int) {
	total := len(tasks)
	if total == 0 {
		return job.Status, job.Progress
	}

	var completed, failed, skipped, active, untouched int
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusCompleted:
			completed++
		case domain.TaskStatusFailed:
			failed++
		case domain.TaskStatusSkipped:
			skipped++
		case domain.TaskStatusPending, domain.TaskStatusQueued:
			active++
			untouched++
		case domain.TaskStatusRunning, domain.TaskStatusRetrying:
			active++
		case domain.TaskStatusCancelled:
			// cancelled tasks count toward neither completion nor failure
		}
	}

	progress := int(math.Round(100 * float64(completed+failed+skipped) / float64(total)))

	switch {
	case completed+skipped == total:
		return domain.JobStatusCompleted, progress
	case failed > 0 && active == 0:
		return domain.JobStatusFailed, progress
	case untouched == len(tasks):
		// nothing has started yet
		return job.Status, progress
	default:
		return domain.JobStatusProcessing, progress
	}
}

// GetJobDetail returns a job together with its tasks and unresolved
// errors.
func (o *Orchestrator) GetJobDetail(ctx context.Context, jobID uuid.UUID) (*domain.Job, []*domain.Task, []*domain.ErrorRecord, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, nil, nil, err
	}

	tasks, err := o.tasks.ListByJob(ctx, jobID)
	if err != nil {
		return nil, nil, nil, err
	}

	errs, err := o.errs.ListUnresolvedByJob(ctx, jobID)
	if err != nil {
		return nil, nil, nil, err
	}

	return job, tasks, errs, nil
}

// ListJobs returns an owner's jobs, excluding dismissed ones unless
// requested.
func (o *Orchestrator) ListJobs(ctx context.Context, ownerID uuid.UUID, includeDismissed bool) ([]*domain.Job, error) {
	return o.jobs.ListByOwner(ctx, ownerID, includeDismissed)
}

// CancelJob cancels a job: all non-terminal tasks become cancelled and
// in-flight retry timers are suppressed. Cancelling an immutable job is
// rejected with a structured error.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.IsImmutable() {
		return ErrJobImmutable
	}

	o.timers.CancelJobTimers(jobID)

	cancelled, err := o.tasks.CancelActiveByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to cancel tasks: %w", err)
	}

	if err := o.jobs.UpdateDerived(ctx, jobID, domain.JobStatusCancelled, job.Progress, job.CompletedAt); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	o.logger.Info("job cancelled", "job_id", jobID, "tasks_cancelled", cancelled)
	o.notifier.Publish(ctx, jobID, nil, "job cancelled")

	return nil
}

// DismissJob hides a terminal job from the visible list without deleting
// its records.
func (o *Orchestrator) DismissJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if !job.IsTerminal() {
		return ErrJobNotTerminal
	}

	if err := o.jobs.SetDismissed(ctx, jobID, true); err != nil {
		return fmt.Errorf("failed to dismiss job: %w", err)
	}

	return nil
}

// SkipTask marks a pending, queued or running task skipped via explicit
// operator action and re-derives the job status.
func (o *Orchestrator) SkipTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if !task.CanTransitionTo(domain.TaskStatusSkipped) {
		return ErrTaskNotSkippable
	}

	if err := o.tasks.UpdateStatus(ctx, taskID, domain.TaskStatusSkipped, ""); err != nil {
		return fmt.Errorf("failed to skip task: %w", err)
	}

	o.notifier.Publish(ctx, task.JobID, &taskID, fmt.Sprintf("%s skipped", taskLabel(task)))

	if _, err := o.RecomputeJobStatus(ctx, task.JobID); err != nil {
		return err
	}

	return nil
}

func taskLabel(t *domain.Task) string {
	if t.Label != "" {
		return t.Label
	}
	return string(t.Type)
}
