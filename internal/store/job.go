package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/domain"
)

// JobStore defines the interface for persisting generation jobs.
type JobStore interface {
	// Create persists a job together with its initial task set in a
	// single transaction.
	Create(ctx context.Context, job *domain.Job, tasks []*domain.Task) error

	// Get retrieves a job by ID. Returns ErrJobNotFound if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ListByOwner retrieves all jobs belonging to an owner, newest first.
	// Dismissed jobs are excluded unless includeDismissed is set.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, includeDismissed bool) ([]*domain.Job, error)

	// ListByStatus retrieves all jobs with the given status.
	ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error)

	// UpdateDerived writes the recomputed status, progress and completion
	// timestamp for a job.
	UpdateDerived(ctx context.Context, id uuid.UUID, status domain.JobStatus, progress int, completedAt *time.Time) error

	// SetErrorMessage sets the job-level last-error message.
	SetErrorMessage(ctx context.Context, id uuid.UUID, message string) error

	// SetDismissed sets the dismiss/clear flag on a terminal job.
	SetDismissed(ctx context.Context, id uuid.UUID, dismissed bool) error

	// IncrementRecoveryAttempts bumps the recovery counter and returns
	// the new value.
	IncrementRecoveryAttempts(ctx context.Context, id uuid.UUID) (int, error)

	// ResetForRestart returns a job to its freshly-created state: queued,
	// zero progress, no error, zero recovery attempts, not dismissed.
	ResetForRestart(ctx context.Context, id uuid.UUID) error

	// Delete removes the job row. Task and error rows cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}
