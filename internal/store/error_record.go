package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/domain"
)

// ErrorStore defines the interface for the append-only error record log.
type ErrorStore interface {
	// Create appends a new error record.
	Create(ctx context.Context, record *domain.ErrorRecord) error

	// ListUnresolvedByJob retrieves the unresolved records for a job,
	// newest first.
	ListUnresolvedByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.ErrorRecord, error)

	// CountRecentByCategory counts records for a task with the given
	// category created at or after since. Feeds the retry circuit breaker.
	CountRecentByCategory(ctx context.Context, taskID uuid.UUID, category domain.ErrorCategory, since time.Time) (int, error)

	// ResolveByJob stamps resolved_at on every unresolved record of the
	// job. Records already resolved are left untouched.
	ResolveByJob(ctx context.Context, jobID uuid.UUID, at time.Time) error

	// DeleteByJob removes all error rows for a job.
	DeleteByJob(ctx context.Context, jobID uuid.UUID) error
}
