package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/store/storetest"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	dispatch []uuid.UUID
	fail     bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, task *domain.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return assert.AnError
	}
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

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, uuid.UUID, *uuid.UUID, string) {}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *storetest.MemoryStores, *recordingDispatcher, *recordingTimers) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	stores := storetest.NewMemoryStores()
	dispatcher := &recordingDispatcher{}
	timers := &recordingTimers{}

	orch := New(stores.Jobs, stores.Tasks, stores.Errors, dispatcher, timers, noopNotifier{}, log)
	return orch, stores, dispatcher, timers
}

func TestDecomposePlan(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	plan := domain.GenerationPlan{
		Sections:          3,
		IncludeAssessment: true,
		IncludeExam:       true,
	}

	tasks, err := DecomposePlan(jobID, plan)
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	wantLabels := []string{"Section 1", "Section 2", "Section 3", "Assessment", "Final exam"}
	wantTypes := []domain.TaskType{
		domain.TaskTypeSection, domain.TaskTypeSection, domain.TaskTypeSection,
		domain.TaskTypeAssessment, domain.TaskTypeExam,
	}

	for i, task := range tasks {
		assert.Equal(t, jobID, task.JobID)
		assert.Equal(t, wantLabels[i], task.Label)
		assert.Equal(t, wantTypes[i], task.Type)
		assert.Equal(t, i+1, task.Sequence)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
	}

	_, err = DecomposePlan(jobID, domain.GenerationPlan{})
	assert.ErrorIs(t, err, domain.ErrEmptyPlan)
}

func TestCreateJobPersistsAndDispatches(t *testing.T) {
	t.Parallel()

	orch, stores, dispatcher, _ := newTestOrchestrator(t)

	job, err := orch.CreateJob(context.Background(), uuid.New(), "Intro to Botany",
		domain.GenerationPlan{Sections: 2, IncludeQuiz: true})
	require.NoError(t, err)

	stored, err := stores.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, stored.Status)

	tasks, err := stores.Tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	assert.Equal(t, 3, dispatcher.count())
}

func TestCreateJobSurvivesDispatchFailure(t *testing.T) {
	t.Parallel()

	orch, stores, dispatcher, _ := newTestOrchestrator(t)
	dispatcher.fail = true

	// Dispatch failures leave tasks pending for boot recovery; job
	// creation itself must still succeed.
	job, err := orch.CreateJob(context.Background(), uuid.New(), "Intro to Botany",
		domain.GenerationPlan{Sections: 1})
	require.NoError(t, err)

	tasks, err := stores.Tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskStatusPending, tasks[0].Status)
}

func TestDeriveJobState(t *testing.T) {
	t.Parallel()

	mk := func(statuses ...domain.TaskStatus) []*domain.Task {
		tasks := make([]*domain.Task, len(statuses))
		for i, status := range statuses {
			tasks[i] = &domain.Task{ID: uuid.New(), Status: status}
		}
		return tasks
	}

	job := &domain.Job{Status: domain.JobStatusProcessing, Progress: 37}

	tests := []struct {
		name         string
		tasks        []*domain.Task
		wantStatus   domain.JobStatus
		wantProgress int
	}{
		{
			name:         "all completed",
			tasks:        mk(domain.TaskStatusCompleted, domain.TaskStatusCompleted),
			wantStatus:   domain.JobStatusCompleted,
			wantProgress: 100,
		},
		{
			name:         "completed and skipped count as done",
			tasks:        mk(domain.TaskStatusCompleted, domain.TaskStatusSkipped),
			wantStatus:   domain.JobStatusCompleted,
			wantProgress: 100,
		},
		{
			name:         "failure with work remaining stays processing",
			tasks:        mk(domain.TaskStatusFailed, domain.TaskStatusRunning),
			wantStatus:   domain.JobStatusProcessing,
			wantProgress: 50,
		},
		{
			name:         "failure with nothing active fails the job",
			tasks:        mk(domain.TaskStatusFailed, domain.TaskStatusCompleted),
			wantStatus:   domain.JobStatusFailed,
			wantProgress: 100,
		},
		{
			name:         "mid flight",
			tasks:        mk(domain.TaskStatusCompleted, domain.TaskStatusRunning, domain.TaskStatusPending),
			wantStatus:   domain.JobStatusProcessing,
			wantProgress: 33,
		},
		{
			name:         "retrying keeps the job alive",
			tasks:        mk(domain.TaskStatusRetrying, domain.TaskStatusFailed),
			wantStatus:   domain.JobStatusProcessing,
			wantProgress: 50,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			status, progress := DeriveJobState(job, tc.tasks)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantProgress, progress)
		})
	}
}

func TestDeriveJobStateZeroTasksKeepsStoredState(t *testing.T) {
	t.Parallel()

	job := &domain.Job{Status: domain.JobStatusProcessing, Progress: 62}

	status, progress := DeriveJobState(job, nil)

	assert.Equal(t, domain.JobStatusProcessing, status)
	assert.Equal(t, 62, progress)
}

func TestDeriveJobStateUntouchedKeepsQueued(t *testing.T) {
	t.Parallel()

	job := &domain.Job{Status: domain.JobStatusQueued}
	tasks := []*domain.Task{
		{ID: uuid.New(), Status: domain.TaskStatusPending},
		{ID: uuid.New(), Status: domain.TaskStatusQueued},
	}

	status, progress := DeriveJobState(job, tasks)

	assert.Equal(t, domain.JobStatusQueued, status)
	assert.Equal(t, 0, progress)
}

func TestRecomputeJobStatusIsIdempotent(t *testing.T) {
	t.Parallel()

	orch, stores, _, _ := newTestOrchestrator(t)

	job, err := orch.CreateJob(context.Background(), uuid.New(), "Intro to Botany",
		domain.GenerationPlan{Sections: 2})
	require.NoError(t, err)

	tasks, err := stores.Tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		require.NoError(t, stores.Tasks.UpdateStatus(context.Background(), task.ID, domain.TaskStatusCompleted, ""))
	}

	first, err := orch.RecomputeJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, first.Status)
	assert.Equal(t, 100, first.Progress)
	require.NotNil(t, first.CompletedAt)

	completedAt := *first.CompletedAt

	// Re-running must not change anything, including the completion
	// timestamp.
	second, err := orch.RecomputeJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, second.Status)
	require.NotNil(t, second.CompletedAt)
	assert.True(t, second.CompletedAt.Equal(completedAt))
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	orch, stores, _, timers := newTestOrchestrator(t)

	job, err := orch.CreateJob(context.Background(), uuid.New(), "Intro to Botany",
		domain.GenerationPlan{Sections: 2})
	require.NoError(t, err)

	require.NoError(t, orch.CancelJob(context.Background(), job.ID))

	stored, err := stores.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, stored.Status)

	tasks, err := stores.Tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, domain.TaskStatusCancelled, task.Status)
	}

	assert.Contains(t, timers.cancelled, job.ID)

	// Cancelling again hits the immutability guard.
	assert.ErrorIs(t, orch.CancelJob(context.Background(), job.ID), ErrJobImmutable)
}

func TestDismissJobRequiresTerminalState(t *testing.T) {
	t.Parallel()

	orch, stores, _, _ := newTestOrchestrator(t)

	job, err := orch.CreateJob(context.Background(), uuid.New(), "Intro to Botany",
		domain.GenerationPlan{Sections: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, orch.DismissJob(context.Background(), job.ID), ErrJobNotTerminal)

	require.NoError(t, orch.CancelJob(context.Background(), job.ID))
	require.NoError(t, orch.DismissJob(context.Background(), job.ID))

	stored, err := stores.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, stored.Dismissed)

	// Dismissed jobs disappear from the default listing.
	visible, err := orch.ListJobs(context.Background(), job.OwnerID, false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := orch.ListJobs(context.Background(), job.OwnerID, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSkipTask(t *testing.T) {
	t.Parallel()

	orch, stores, _, _ := newTestOrchestrator(t)

	job, err := orch.CreateJob(context.Background(), uuid.New(), "Intro to Botany",
		domain.GenerationPlan{Sections: 1, IncludeQuiz: true})
	require.NoError(t, err)

	tasks, err := stores.Tasks.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	require.NoError(t, stores.Tasks.UpdateStatus(context.Background(), tasks[0].ID, domain.TaskStatusCompleted, ""))

	require.NoError(t, orch.SkipTask(context.Background(), tasks[1].ID))

	skipped, err := stores.Tasks.Get(context.Background(), tasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSkipped, skipped.Status)

	// Completed + skipped means the job is done.
	stored, err := stores.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)

	// A terminal task cannot be skipped again.
	assert.ErrorIs(t, orch.SkipTask(context.Background(), tasks[1].ID), ErrTaskNotSkippable)
}

func TestRecomputeLeavesImmutableJobsAlone(t *testing.T) {
	t.Parallel()

	orch, stores, _, _ := newTestOrchestrator(t)

	job, err := orch.CreateJob(context.Background(), uuid.New(), "Intro to Botany",
		domain.GenerationPlan{Sections: 1})
	require.NoError(t, err)
	require.NoError(t, orch.CancelJob(context.Background(), job.ID))

	before, err := stores.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)

	result, err := orch.RecomputeJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, result.Status)
	assert.Equal(t, before.Progress, result.Progress)
}
