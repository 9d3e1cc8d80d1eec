package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/domain"
)

// TaskStore defines the interface for persisting generation tasks.
// The store guarantees atomic single-row updates; Claim is the
// compare-and-set that keeps two workers off the same task.
type TaskStore interface {
	// Insert persists new tasks.
	Insert(ctx context.Context, tasks ...*domain.Task) error

	// Get retrieves a task by ID. Returns ErrTaskNotFound if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListByJob retrieves all tasks for a job ordered by sequence.
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Task, error)

	// ListByStatus retrieves all tasks in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error)

	// UpdateStatus sets the task status and error text, refreshing the
	// last-activity timestamp.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errorMsg string) error

	// MarkQueued atomically moves a waiting task (pending, retrying, or
	// already queued) to queued and clears its error text. Returns
	// ErrTaskNotClaimable when the task is running or terminal, so a
	// re-dispatch can never yank a task out from under a worker.
	MarkQueued(ctx context.Context, id uuid.UUID) error

	// Claim atomically moves a queued task to running and returns the
	// claimed task. Returns ErrTaskNotClaimable when the task is no
	// longer queued, ErrTaskNotFound when it does not exist. Exactly one
	// of two concurrent claims for the same task succeeds.
	Claim(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// MarkRetrying sets the task to retrying, increments its retry count
	// and returns the new count.
	MarkRetrying(ctx context.Context, id uuid.UUID, errorMsg string) (int, error)

	// CancelActiveByJob marks every non-terminal task of the job
	// cancelled and returns how many rows changed.
	CancelActiveByJob(ctx context.Context, jobID uuid.UUID) (int, error)

	// DeleteByJob removes all task rows for a job.
	DeleteByJob(ctx context.Context, jobID uuid.UUID) error
}
