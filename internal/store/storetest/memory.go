// Package storetest provides in-memory implementations of the store
// interfaces for use in tests. They are safe for concurrent use and
// return defensive copies so callers cannot mutate shared state.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/store"
)

// MemoryStores bundles the three in-memory stores over one shared state
// so job deletes can cascade the way the database schema does.
type MemoryStores struct {
	Jobs   *MemoryJobStore
	Tasks  *MemoryTaskStore
	Errors *MemoryErrorStore
}

// NewMemoryStores creates a linked set of in-memory stores.
func NewMemoryStores() *MemoryStores {
	state := &memoryState{
		jobs:   make(map[uuid.UUID]*domain.Job),
		tasks:  make(map[uuid.UUID]*domain.Task),
		errors: make(map[uuid.UUID]*domain.ErrorRecord),
	}
	return &MemoryStores{
		Jobs:   &MemoryJobStore{state: state},
		Tasks:  &MemoryTaskStore{state: state},
		Errors: &MemoryErrorStore{state: state},
	}
}

type memoryState struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]*domain.Job
	tasks  map[uuid.UUID]*domain.Task
	errors map[uuid.UUID]*domain.ErrorRecord
}

func copyJob(job *domain.Job) *domain.Job {
	c := *job
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func copyTask(task *domain.Task) *domain.Task {
	c := *task
	return &c
}

func copyErrorRecord(record *domain.ErrorRecord) *domain.ErrorRecord {
	c := *record
	if record.TaskID != nil {
		id := *record.TaskID
		c.TaskID = &id
	}
	if record.ResolvedAt != nil {
		t := *record.ResolvedAt
		c.ResolvedAt = &t
	}
	c.SuggestedActions = append([]string(nil), record.SuggestedActions...)
	if record.Context != nil {
		c.Context = make(map[string]any, len(record.Context))
		for k, v := range record.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// MemoryJobStore implements store.JobStore in memory.
type MemoryJobStore struct {
	state *memoryState
}

var _ store.JobStore = (*MemoryJobStore)(nil)

// Create persists a job together with its initial task set.
func (s *MemoryJobStore) Create(_ context.Context, job *domain.Job, tasks []*domain.Task) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if _, exists := s.state.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	s.state.jobs[job.ID] = copyJob(job)
	for _, task := range tasks {
		s.state.tasks[task.ID] = copyTask(task)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	job, ok := s.state.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return copyJob(job), nil
}

// ListByOwner retrieves all jobs belonging to an owner, newest first.
func (s *MemoryJobStore) ListByOwner(_ context.Context, ownerID uuid.UUID, includeDismissed bool) ([]*domain.Job, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	var jobs []*domain.Job
	for _, job := range s.state.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if job.Dismissed && !includeDismissed {
			continue
		}
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// ListByStatus retrieves all jobs with the given status.
func (s *MemoryJobStore) ListByStatus(_ context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	var jobs []*domain.Job
	for _, job := range s.state.jobs {
		if job.Status == status {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// UpdateDerived writes the recomputed status, progress and completion
// timestamp for a job.
func (s *MemoryJobStore) UpdateDerived(_ context.Context, id uuid.UUID, status domain.JobStatus, progress int, completedAt *time.Time) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	job, ok := s.state.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.Status = status
	job.Progress = progress
	if completedAt != nil {
		t := *completedAt
		job.CompletedAt = &t
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// SetErrorMessage sets the job-level last-error message.
func (s *MemoryJobStore) SetErrorMessage(_ context.Context, id uuid.UUID, message string) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	job, ok := s.state.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.ErrorMessage = message
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// SetDismissed sets the dismiss flag.
func (s *MemoryJobStore) SetDismissed(_ context.Context, id uuid.UUID, dismissed bool) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	job, ok := s.state.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.Dismissed = dismissed
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementRecoveryAttempts bumps the recovery counter and returns the
// new value.
func (s *MemoryJobStore) IncrementRecoveryAttempts(_ context.Context, id uuid.UUID) (int, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	job, ok := s.state.jobs[id]
	if !ok {
		return 0, store.ErrJobNotFound
	}
	job.RecoveryAttempts++
	job.UpdatedAt = time.Now().UTC()
	return job.RecoveryAttempts, nil
}

// ResetForRestart returns a job to its freshly-created state.
func (s *MemoryJobStore) ResetForRestart(_ context.Context, id uuid.UUID) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	job, ok := s.state.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	job.Status = domain.JobStatusQueued
	job.Progress = 0
	job.ErrorMessage = ""
	job.RecoveryAttempts = 0
	job.Dismissed = false
	job.CompletedAt = nil
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes the job and cascades to its tasks and error records.
func (s *MemoryJobStore) Delete(_ context.Context, id uuid.UUID) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if _, ok := s.state.jobs[id]; !ok {
		return store.ErrJobNotFound
	}
	delete(s.state.jobs, id)
	for taskID, task := range s.state.tasks {
		if task.JobID == id {
			delete(s.state.tasks, taskID)
		}
	}
	for recordID, record := range s.state.errors {
		if record.JobID == id {
			delete(s.state.errors, recordID)
		}
	}
	return nil
}

// MemoryTaskStore implements store.TaskStore in memory.
type MemoryTaskStore struct {
	state *memoryState
}

var _ store.TaskStore = (*MemoryTaskStore)(nil)

// Insert persists new tasks.
func (s *MemoryTaskStore) Insert(_ context.Context, tasks ...*domain.Task) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for _, task := range tasks {
		if _, exists := s.state.tasks[task.ID]; exists {
			return store.ErrDuplicate
		}
		s.state.tasks[task.ID] = copyTask(task)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *MemoryTaskStore) Get(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	task, ok := s.state.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(task), nil
}

// ListByJob retrieves all tasks for a job ordered by sequence.
func (s *MemoryTaskStore) ListByJob(_ context.Context, jobID uuid.UUID) ([]*domain.Task, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	var tasks []*domain.Task
	for _, task := range s.state.tasks {
		if task.JobID == jobID {
			tasks = append(tasks, copyTask(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Sequence < tasks[j].Sequence
	})
	return tasks, nil
}

// ListByStatus retrieves all tasks in any of the given statuses.
func (s *MemoryTaskStore) ListByStatus(_ context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	wanted := make(map[domain.TaskStatus]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	var tasks []*domain.Task
	for _, task := range s.state.tasks {
		if _, ok := wanted[task.Status]; ok {
			tasks = append(tasks, copyTask(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// UpdateStatus sets the task status and error text.
func (s *MemoryTaskStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.TaskStatus, errorMsg string) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	task, ok := s.state.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	now := time.Now().UTC()
	task.Status = status
	task.ErrorMessage = errorMsg
	task.LastActivityAt = now
	task.UpdatedAt = now
	return nil
}

// MarkQueued moves a waiting task to queued, refusing running and
// terminal tasks.
func (s *MemoryTaskStore) MarkQueued(_ context.Context, id uuid.UUID) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	task, ok := s.state.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	switch task.Status {
	case domain.TaskStatusPending, domain.TaskStatusQueued, domain.TaskStatusRetrying:
	default:
		return store.ErrTaskNotClaimable
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusQueued
	task.ErrorMessage = ""
	task.LastActivityAt = now
	task.UpdatedAt = now
	return nil
}

// Claim atomically moves a queued task to running. The whole check-and-
// set runs under the store lock, so only one of two concurrent claims
// for the same task succeeds.
func (s *MemoryTaskStore) Claim(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	task, ok := s.state.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusQueued {
		return nil, store.ErrTaskNotClaimable
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusRunning
	task.LastActivityAt = now
	task.UpdatedAt = now
	return copyTask(task), nil
}

// MarkRetrying sets the task to retrying and increments its retry count.
func (s *MemoryTaskStore) MarkRetrying(_ context.Context, id uuid.UUID, errorMsg string) (int, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	task, ok := s.state.tasks[id]
	if !ok {
		return 0, store.ErrTaskNotFound
	}
	now := time.Now().UTC()
	task.Status = domain.TaskStatusRetrying
	task.ErrorMessage = errorMsg
	task.RetryCount++
	task.LastActivityAt = now
	task.UpdatedAt = now
	return task.RetryCount, nil
}

// CancelActiveByJob marks every non-terminal task of the job cancelled.
func (s *MemoryTaskStore) CancelActiveByJob(_ context.Context, jobID uuid.UUID) (int, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	now := time.Now().UTC()
	cancelled := 0
	for _, task := range s.state.tasks {
		if task.JobID != jobID || !task.IsActive() {
			continue
		}
		task.Status = domain.TaskStatusCancelled
		task.LastActivityAt = now
		task.UpdatedAt = now
		cancelled++
	}
	return cancelled, nil
}

// DeleteByJob removes all tasks for a job.
func (s *MemoryTaskStore) DeleteByJob(_ context.Context, jobID uuid.UUID) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for id, task := range s.state.tasks {
		if task.JobID == jobID {
			delete(s.state.tasks, id)
		}
	}
	return nil
}

// MemoryErrorStore implements store.ErrorStore in memory.
type MemoryErrorStore struct {
	state *memoryState
}

var _ store.ErrorStore = (*MemoryErrorStore)(nil)

// Create appends a new error record.
func (s *MemoryErrorStore) Create(_ context.Context, record *domain.ErrorRecord) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if _, exists := s.state.errors[record.ID]; exists {
		return store.ErrDuplicate
	}
	s.state.errors[record.ID] = copyErrorRecord(record)
	return nil
}

// ListUnresolvedByJob retrieves the unresolved records for a job, newest
// first.
func (s *MemoryErrorStore) ListUnresolvedByJob(_ context.Context, jobID uuid.UUID) ([]*domain.ErrorRecord, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	var records []*domain.ErrorRecord
	for _, record := range s.state.errors {
		if record.JobID == jobID && record.ResolvedAt == nil {
			records = append(records, copyErrorRecord(record))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// CountRecentByCategory counts a task's records for one category created
// at or after since.
func (s *MemoryErrorStore) CountRecentByCategory(_ context.Context, taskID uuid.UUID, category domain.ErrorCategory, since time.Time) (int, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	count := 0
	for _, record := range s.state.errors {
		if record.TaskID == nil || *record.TaskID != taskID {
			continue
		}
		if record.Category != category {
			continue
		}
		if record.CreatedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// ResolveByJob stamps resolved_at on every unresolved record of the job.
func (s *MemoryErrorStore) ResolveByJob(_ context.Context, jobID uuid.UUID, at time.Time) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for _, record := range s.state.errors {
		if record.JobID == jobID && record.ResolvedAt == nil {
			t := at.UTC()
			record.ResolvedAt = &t
		}
	}
	return nil
}

// DeleteByJob removes all error records for a job.
func (s *MemoryErrorStore) DeleteByJob(_ context.Context, jobID uuid.UUID) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for id, record := range s.state.errors {
		if record.JobID == jobID {
			delete(s.state.errors, id)
		}
	}
	return nil
}
