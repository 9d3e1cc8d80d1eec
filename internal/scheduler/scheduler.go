// Package scheduler dispatches queued generation tasks to a bounded
// worker pool, classifies failures, records them, and re-queues work
// per the retry policy.
//
// Workers claim a task through the store's atomic queued-to-running
// compare-and-set before running it, so a task runs on at most one
// worker even when it was enqueued more than once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/classify"
	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/generation"
	"github.com/dbawebdesign/lailms/internal/platform/logger"
	"github.com/dbawebdesign/lailms/internal/retrypolicy"
	"github.com/dbawebdesign/lailms/internal/store"
)

// Notifier receives a progress notification on every task status change.
type Notifier interface {
	Publish(ctx context.Context, jobID uuid.UUID, taskID *uuid.UUID, message string)
}

// StatusRecomputer re-derives a job's status from its task snapshot.
// The orchestrator implements this; it is wired after construction to
// break the scheduler/orchestrator dependency knot.
type StatusRecomputer interface {
	RecomputeJobStatus(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	// WorkerCount determines how many concurrent workers process tasks.
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue.
	QueueSize int

	// DrainTimeout bounds how long Stop waits for in-flight tasks.
	DrainTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:  4,
		QueueSize:    100,
		DrainTimeout: 30 * time.Second,
	}
}

// Scheduler manages background task processing.
type Scheduler struct {
	jobs     store.JobStore
	tasks    store.TaskStore
	errs     store.ErrorStore
	gen      generation.Generator
	queue    *TaskQueue
	notifier Notifier

	recomputer StatusRecomputer

	cfg    Config
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timerMu sync.Mutex
	timers  map[uuid.UUID]map[uuid.UUID]*time.Timer

	// afterFunc schedules retry timers; tests replace it to avoid
	// real delays.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates a Scheduler. SetRecomputer must be called before Start.
func New(
	jobs store.JobStore,
	tasks store.TaskStore,
	errs store.ErrorStore,
	gen generation.Generator,
	notifier Notifier,
	cfg Config,
	log *slog.Logger,
) *Scheduler {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		jobs:      jobs,
		tasks:     tasks,
		errs:      errs,
		gen:       gen,
		queue:     NewTaskQueue(cfg.QueueSize, log),
		notifier:  notifier,
		cfg:       cfg,
		log:       log.With("component", "scheduler"),
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[uuid.UUID]map[uuid.UUID]*time.Timer),
		afterFunc: time.AfterFunc,
	}
}

// SetRecomputer wires the job status recomputation callback.
func (s *Scheduler) SetRecomputer(r StatusRecomputer) {
	s.recomputer = r
}

// Start recovers unfinished tasks from previous runs and launches the
// worker pool.
func (s *Scheduler) Start() error {
	if s.recomputer == nil {
		return fmt.Errorf("scheduler started without a status recomputer")
	}

	if err := s.recover(); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	return nil
}

// Stop gracefully shuts down the scheduler: pending retry timers are
// cancelled, workers drain in-flight tasks up to DrainTimeout, and the
// queue is closed. Persisted statuses let boot recovery resume the rest.
func (s *Scheduler) Stop() {
	s.cancel()

	s.timerMu.Lock()
	for _, jobTimers := range s.timers {
		for _, t := range jobTimers {
			t.Stop()
		}
	}
	s.timers = make(map[uuid.UUID]map[uuid.UUID]*time.Timer)
	s.timerMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.DrainTimeout):
		s.log.Warn("drain timeout elapsed before all workers stopped",
			"drain_timeout", s.cfg.DrainTimeout)
	}

	s.queue.Close()
}

// Dispatch marks a task queued in the store and hands it to the worker
// pool. A task that is already running or finished is left alone: the
// mark is conditional, so re-dispatching (operator resume) a task a
// worker holds does not pull it back to queued.
func (s *Scheduler) Dispatch(ctx context.Context, task *domain.Task) error {
	if err := s.tasks.MarkQueued(ctx, task.ID); err != nil {
		if errors.Is(err, store.ErrTaskNotClaimable) {
			s.log.Debug("not re-queueing task that is running or finished",
				"task_id", task.ID)
			return nil
		}
		return fmt.Errorf("failed to queue task: %w", err)
	}
	task.Status = domain.TaskStatusQueued

	s.notifier.Publish(ctx, task.JobID, &task.ID, fmt.Sprintf("%s queued", taskDisplay(task)))

	return s.queue.Enqueue(task)
}

// CancelJobTimers suppresses every in-flight retry timer for the job.
// Called when a job is cancelled, restarted or deleted.
func (s *Scheduler) CancelJobTimers(jobID uuid.UUID) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	for _, t := range s.timers[jobID] {
		t.Stop()
	}
	delete(s.timers, jobID)
}

// recover re-queues work left over from a previous run: queued and
// pending tasks of live jobs go straight back on the queue, running
// tasks are reset (interrupted by a crash), and retrying tasks lost
// their timers with the process.
func (s *Scheduler) recover() error {
	ctx := context.Background()

	leftover, err := s.tasks.ListByStatus(
		ctx,
		domain.TaskStatusPending,
		domain.TaskStatusQueued,
		domain.TaskStatusRunning,
		domain.TaskStatusRetrying,
	)
	if err != nil {
		return fmt.Errorf("failed to list unfinished tasks: %w", err)
	}

	if len(leftover) == 0 {
		return nil
	}

	s.log.Info("recovering unfinished tasks", "count", len(leftover))

	for _, task := range leftover {
		job, err := s.jobs.Get(ctx, task.JobID)
		if err != nil {
			s.log.Error("failed to load job for recovered task",
				"task_id", task.ID, "job_id", task.JobID, "error", err)
			continue
		}
		if job.IsTerminal() {
			continue
		}

		reason := ""
		if task.Status == domain.TaskStatusRunning {
			reason = "reset after recovery"
		}

		if err := s.tasks.UpdateStatus(ctx, task.ID, domain.TaskStatusQueued, reason); err != nil {
			s.log.Error("failed to reset recovered task",
				"task_id", task.ID, "error", err)
			continue
		}
		task.Status = domain.TaskStatusQueued

		if err := s.queue.Enqueue(task); err != nil {
			s.log.Error("failed to requeue recovered task, queue is full",
				"task_id", task.ID, "task_type", task.Type)
		}
	}

	return nil
}

// worker processes tasks from the queue.
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	s.log.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug("stopping worker", "worker_id", id)
			return

		case task, ok := <-s.queue.GetChannel():
			if !ok {
				s.log.Debug("task channel closed, stopping worker", "worker_id", id)
				return
			}
			s.processTask(task, id)
		}
	}
}

// processTask handles execution of a single task.
func (s *Scheduler) processTask(queued *domain.Task, workerID int) {
	log := s.log.With(
		"task_id", queued.ID,
		"task_type", queued.Type,
		"worker_id", workerID,
	)
	ctx := logger.WithLogger(context.Background(), log)

	// The job may have reached a terminal state while the task sat in
	// the queue.
	job, err := s.jobs.Get(ctx, queued.JobID)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.Debug("job no longer exists, dropping task")
			return
		}
		log.Error("failed to load job for task", "error", err)
		return
	}

	if job.IsTerminal() {
		log.Debug("skipping task of terminal job", "job_status", job.Status)
		return
	}

	// The claim is a compare-and-set on the queued status, so a task
	// that was skipped, cancelled, or enqueued twice (an operator resume
	// can re-dispatch a task already in the queue) runs at most once.
	task, err := s.tasks.Claim(ctx, queued.ID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotClaimable):
			log.Debug("skipping task no longer queued")
		case store.IsNotFoundError(err):
			log.Debug("task no longer exists, dropping")
		default:
			log.Error("failed to claim task", "error", err)
		}
		return
	}
	s.notifier.Publish(ctx, task.JobID, &task.ID, fmt.Sprintf("%s running", taskDisplay(task)))
	s.recompute(ctx, task.JobID)

	log.Info("processing task")

	result, err := s.gen.Produce(ctx, generation.Request{
		JobID:    job.ID,
		TaskID:   task.ID,
		TaskType: task.Type,
		JobTitle: job.Title,
		Label:    task.Label,
		Sequence: task.Sequence,
	})

	if err != nil {
		log.Error("task execution failed", "error", err)
		s.handleFailure(ctx, task, job, err)
		return
	}

	log.Info("task completed successfully", "content_bytes", len(result.Content))

	if err := s.tasks.UpdateStatus(ctx, task.ID, domain.TaskStatusCompleted, ""); err != nil {
		log.Error("failed to update task status to completed", "error", err)
		return
	}
	tasksProcessedTotal.WithLabelValues(string(domain.TaskStatusCompleted)).Inc()

	s.notifier.Publish(ctx, task.JobID, &task.ID, fmt.Sprintf("%s completed", taskDisplay(task)))
	s.recompute(ctx, task.JobID)
}

// handleFailure classifies the raw error, persists an error record, and
// either schedules a retry or marks the task failed. Every failure is
// recorded before any retry decision is made.
func (s *Scheduler) handleFailure(ctx context.Context, task *domain.Task, job *domain.Job, rawErr error) {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()

	cls := classify.Classify(rawErr, nil)
	errorsClassifiedTotal.WithLabelValues(string(cls.Category)).Inc()

	record := &domain.ErrorRecord{
		ID:               uuid.New(),
		JobID:            task.JobID,
		TaskID:           &task.ID,
		RawMessage:       rawErr.Error(),
		Category:         cls.Category,
		Severity:         cls.Severity,
		Retryable:        cls.Retryable,
		RetryStrategy:    cls.Strategy.Kind,
		SuggestedActions: cls.SuggestedActions,
		Context: map[string]any{
			"task_type": string(task.Type),
			"job_title": job.Title,
			"sequence":  task.Sequence,
		},
		CreatedAt: now,
	}
	if err := s.errs.Create(ctx, record); err != nil {
		log.Error("failed to persist error record", "error", err)
	}

	recent, err := s.errs.CountRecentByCategory(
		ctx, task.ID, cls.Category, now.Add(-retrypolicy.CircuitBreakerWindow))
	if err != nil {
		log.Warn("failed to count recent errors, skipping circuit breaker", "error", err)
		recent = 0
	}

	if retrypolicy.ShouldRetry(task, cls, recent) {
		delay := retrypolicy.Delay(task.RetryCount, cls.Strategy)

		newCount, err := s.tasks.MarkRetrying(ctx, task.ID, cls.UserMessage)
		if err != nil {
			log.Error("failed to mark task retrying", "error", err)
			return
		}
		retriesScheduledTotal.Inc()

		s.notifier.Publish(ctx, task.JobID, &task.ID,
			fmt.Sprintf("%s retrying in %s (attempt %d of %d)",
				taskDisplay(task), delay, newCount, cls.Strategy.MaxRetries))
		s.recompute(ctx, task.JobID)

		s.scheduleRequeue(task, delay)
		return
	}

	if err := s.tasks.UpdateStatus(ctx, task.ID, domain.TaskStatusFailed, cls.UserMessage); err != nil {
		log.Error("failed to update task status to failed", "error", err)
		return
	}
	tasksProcessedTotal.WithLabelValues(string(domain.TaskStatusFailed)).Inc()

	if err := s.jobs.SetErrorMessage(ctx, task.JobID, cls.UserMessage); err != nil {
		log.Error("failed to set job error message", "error", err)
	}

	s.notifier.Publish(ctx, task.JobID, &task.ID,
		fmt.Sprintf("%s failed: %s", taskDisplay(task), cls.UserMessage))
	s.recompute(ctx, task.JobID)
}

// scheduleRequeue arms a timer that moves the task from retrying back to
// queued after the computed delay. Timers are tracked per job so job
// cancellation can suppress them.
func (s *Scheduler) scheduleRequeue(task *domain.Task, delay time.Duration) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timers[task.JobID] == nil {
		s.timers[task.JobID] = make(map[uuid.UUID]*time.Timer)
	}

	s.timers[task.JobID][task.ID] = s.afterFunc(delay, func() {
		s.timerMu.Lock()
		delete(s.timers[task.JobID], task.ID)
		if len(s.timers[task.JobID]) == 0 {
			delete(s.timers, task.JobID)
		}
		s.timerMu.Unlock()

		s.requeue(task.ID)
	})
}

// requeue re-checks state right before re-dispatching a retried task:
// the job may have been cancelled or deleted while the timer ran.
func (s *Scheduler) requeue(taskID uuid.UUID) {
	ctx := logger.WithLogger(context.Background(), s.log)

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		if !store.IsNotFoundError(err) {
			s.log.Error("failed to load task for requeue", "task_id", taskID, "error", err)
		}
		return
	}

	if task.Status != domain.TaskStatusRetrying {
		s.log.Debug("skipping requeue, task left retrying state",
			"task_id", taskID, "status", task.Status)
		return
	}

	job, err := s.jobs.Get(ctx, task.JobID)
	if err != nil || job.IsTerminal() {
		return
	}

	if err := s.Dispatch(ctx, task); err != nil {
		// Left queued in the store: boot recovery or an operator resume
		// picks it up.
		s.log.Error("failed to requeue retried task", "task_id", taskID, "error", err)
	}
}

func (s *Scheduler) recompute(ctx context.Context, jobID uuid.UUID) {
	if _, err := s.recomputer.RecomputeJobStatus(ctx, jobID); err != nil {
		logger.FromContext(ctx).Error("failed to recompute job status",
			"job_id", jobID, "error", err)
	}
}

func taskDisplay(t *domain.Task) string {
	if t.Label != "" {
		return t.Label
	}
	return string(t.Type)
}
