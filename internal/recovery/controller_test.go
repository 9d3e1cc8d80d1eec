package recovery

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/orchestrator"
	"github.com/dbawebdesign/lailms/internal/store"
	"github.com/dbawebdesign/lailms/internal/store/storetest"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	dispatch []uuid.UUID
}

func (d *recordingDispatcher) Dispatch(_ context.Context, task *domain.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatch = append(d.dispatch, task.ID)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatch)
}

type recordingTimers struct {
	mu        sync.Mutex
	cancelled []uuid.UUID
}

func (r *recordingTimers) CancelJobTimers(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, jobID)
}

type recordingForgetter struct {
	mu        sync.Mutex
	forgotten []uuid.UUID
}

func (f *recordingForgetter) Forget(jobID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, jobID)
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, uuid.UUID, *uuid.UUID, string) {}

type fixture struct {
	stores     *storetest.MemoryStores
	dispatcher *recordingDispatcher
	timers     *recordingTimers
	forgetter  *recordingForgetter
	controller *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	stores := storetest.NewMemoryStores()
	dispatcher := &recordingDispatcher{}
	timers := &recordingTimers{}
	forgetter := &recordingForgetter{}

	controller := New(
		stores.Jobs, stores.Tasks, stores.Errors,
		dispatcher, timers, noopNotifier{}, forgetter, 3, log)

	return &fixture{
		stores:     stores,
		dispatcher: dispatcher,
		timers:     timers,
		forgetter:  forgetter,
		controller: controller,
	}
}

// seedJob persists a job with its decomposed task set in the given
// statuses.
func (f *fixture) seedJob(t *testing.T, jobStatus domain.JobStatus, taskStatuses ...domain.TaskStatus) *domain.Job {
	t.Helper()

	plan := domain.GenerationPlan{Sections: len(taskStatuses)}
	job, err := domain.NewJob(uuid.New(), "Intro to Botany", plan)
	require.NoError(t, err)
	job.Status = jobStatus

	tasks, err := orchestrator.DecomposePlan(job.ID, plan)
	require.NoError(t, err)
	for i, task := range tasks {
		task.Status = taskStatuses[i]
	}

	require.NoError(t, f.stores.Jobs.Create(context.Background(), job, tasks))
	return job
}

func (f *fixture) seedError(t *testing.T, jobID uuid.UUID, category domain.ErrorCategory) {
	t.Helper()
	require.NoError(t, f.stores.Errors.Create(context.Background(), &domain.ErrorRecord{
		ID:        uuid.New(),
		JobID:     jobID,
		Category:  category,
		Severity:  domain.SeverityHigh,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestAttemptRecoveryRequeuesWaitingTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seedJob(t, domain.JobStatusProcessing,
		domain.TaskStatusPending, domain.TaskStatusRetrying, domain.TaskStatusCompleted)

	result, err := f.controller.AttemptRecovery(context.Background(), job.ID)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.ActionResume, result.Action)
	assert.Equal(t, 2, f.dispatcher.count(), "completed tasks are not re-dispatched")

	stored, err := f.stores.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RecoveryAttempts)
}

func TestAttemptRecoveryPreservesRetryCounters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seedJob(t, domain.JobStatusProcessing, domain.TaskStatusRetrying)

	tasks, err := f.stores.Tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.stores.Tasks.MarkRetrying(context.Background(), tasks[0].ID, "timeout")
		require.NoError(t, err)
	}

	result, err := f.controller.AttemptRecovery(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, result.Success)

	after, err := f.stores.Tasks.Get(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.RetryCount, "resume must not reset retry counters")
}

func TestAttemptRecoveryRespectsCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seedJob(t, domain.JobStatusProcessing, domain.TaskStatusPending)

	for i := 0; i < 3; i++ {
		_, err := f.stores.Jobs.IncrementRecoveryAttempts(context.Background(), job.ID)
		require.NoError(t, err)
	}

	result, err := f.controller.AttemptRecovery(context.Background(), job.ID)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "cap")
	assert.Zero(t, f.dispatcher.count())
}

func TestAttemptRecoveryRejectsStructuralFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seedJob(t, domain.JobStatusProcessing, domain.TaskStatusPending)
	f.seedError(t, job.ID, domain.CategoryKnowledgeBaseEmpty)

	result, err := f.controller.AttemptRecovery(context.Background(), job.ID)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "not retryable")
	assert.Zero(t, f.dispatcher.count())
}

func TestAttemptRecoveryRejectsTerminalJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seedJob(t, domain.JobStatusCompleted, domain.TaskStatusCompleted)

	result, err := f.controller.AttemptRecovery(context.Background(), job.ID)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "completed")
}

func TestRestartJobRebuildsTaskSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seedJob(t, domain.JobStatusFailed,
		domain.TaskStatusFailed, domain.TaskStatusCompleted)
	f.seedError(t, job.ID, domain.CategoryAPITimeout)

	originalTasks, err := f.stores.Tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)

	result, err := f.controller.RestartJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.ActionRestart, result.Action)
	assert.Contains(t, f.timers.cancelled, job.ID)

	stored, err := f.stores.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, stored.Status)
	assert.Zero(t, stored.Progress)
	assert.Zero(t, stored.RecoveryAttempts)
	assert.Empty(t, stored.ErrorMessage)

	// A fresh task set replaces the old one.
	newTasks, err := f.stores.Tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, newTasks, len(originalTasks))
	for i, task := range newTasks {
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.NotEqual(t, originalTasks[i].ID, task.ID)
	}
	assert.Equal(t, len(newTasks), f.dispatcher.count())

	// Old error records are marked resolved, not deleted.
	unresolved, err := f.stores.Errors.ListUnresolvedByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestRestartWorksAtRecoveryCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seedJob(t, domain.JobStatusProcessing, domain.TaskStatusPending)

	for i := 0; i < 3; i++ {
		_, err := f.stores.Jobs.IncrementRecoveryAttempts(context.Background(), job.ID)
		require.NoError(t, err)
	}

	// Resume is exhausted...
	resume, err := f.controller.AttemptRecovery(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, resume.Success)

	// ...but restart is an explicit operator action and is not gated by
	// the cap.
	restart, err := f.controller.RestartJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, restart.Success)
}

func TestRestartRejectsImmutableJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seedJob(t, domain.JobStatusCancelled, domain.TaskStatusCancelled)

	result, err := f.controller.RestartJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "cancelled")
	assert.Zero(t, f.dispatcher.count())
}

func TestDeleteJobRemovesEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seedJob(t, domain.JobStatusProcessing,
		domain.TaskStatusRunning, domain.TaskStatusPending)
	f.seedError(t, job.ID, domain.CategoryAPITimeout)

	result, err := f.controller.DeleteJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.ActionDeleteAndRetry, result.Action)
	assert.Contains(t, f.timers.cancelled, job.ID)
	assert.Contains(t, f.forgetter.forgotten, job.ID)

	_, err = f.stores.Jobs.Get(context.Background(), job.ID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	tasks, err := f.stores.Tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	records, err := f.stores.Errors.ListUnresolvedByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteMissingJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.controller.DeleteJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}
