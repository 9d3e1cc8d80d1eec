// Package postgres implements the store interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/platform/logger"
	"github.com/dbawebdesign/lailms/internal/store"
)

// JobStore implements store.JobStore using PostgreSQL.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, owner_id, title, status, progress, error_message,
	dismissed, recovery_attempts, plan, created_at, updated_at, completed_at`

// Create persists a job and its initial task set in one transaction.
func (s *JobStore) Create(ctx context.Context, job *domain.Job, tasks []*domain.Task) error {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	planJSON, err := json.Marshal(job.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal generation plan: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO generation_jobs
			(id, owner_id, title, status, progress, error_message,
			 dismissed, recovery_attempts, plan, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		job.ID, job.OwnerID, job.Title, job.Status, job.Progress, job.ErrorMessage,
		job.Dismissed, job.RecoveryAttempts, planJSON, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert job", "job_id", job.ID, "error", err)
		return fmt.Errorf("failed to save job to database: %w", err)
	}

	for _, task := range tasks {
		if err := insertTask(ctx, tx, task); err != nil {
			log.Error("failed to insert task", "task_id", task.ID, "error", err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}

	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE id = $1
	`, id)

	return scanJob(row)
}

// ListByOwner retrieves an owner's jobs, newest first.
func (s *JobStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, includeDismissed bool) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE owner_id = $1
	`
	if !includeDismissed {
		query += ` AND dismissed = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by owner: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanJobs(rows)
}

// ListByStatus retrieves all jobs with the given status.
func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by status: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanJobs(rows)
}

// UpdateDerived writes the recomputed status, progress and completion timestamp.
func (s *JobStore) UpdateDerived(ctx context.Context, id uuid.UUID, status domain.JobStatus, progress int, completedAt *time.Time) error {
	return s.exec(ctx, "update job status", `
		UPDATE generation_jobs
		SET status = $1, progress = $2, completed_at = $3, updated_at = $4
		WHERE id = $5
	`, status, progress, completedAt, time.Now().UTC(), id)
}

// SetErrorMessage sets the job-level last-error message.
func (s *JobStore) SetErrorMessage(ctx context.Context, id uuid.UUID, message string) error {
	return s.exec(ctx, "set job error message", `
		UPDATE generation_jobs
		SET error_message = $1, updated_at = $2
		WHERE id = $3
	`, message, time.Now().UTC(), id)
}

// SetDismissed sets the dismiss/clear flag.
func (s *JobStore) SetDismissed(ctx context.Context, id uuid.UUID, dismissed bool) error {
	return s.exec(ctx, "set job dismissed", `
		UPDATE generation_jobs
		SET dismissed = $1, updated_at = $2
		WHERE id = $3
	`, dismissed, time.Now().UTC(), id)
}

// IncrementRecoveryAttempts bumps the recovery counter and returns the new value.
func (s *JobStore) IncrementRecoveryAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE generation_jobs
		SET recovery_attempts = recovery_attempts + 1, updated_at = $1
		WHERE id = $2
		RETURNING recovery_attempts
	`, time.Now().UTC(), id).Scan(&attempts)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment recovery attempts: %w", err)
	}

	return attempts, nil
}

// ResetForRestart returns a job to its freshly-created state.
func (s *JobStore) ResetForRestart(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "reset job for restart", `
		UPDATE generation_jobs
		SET status = $1, progress = 0, error_message = '',
			recovery_attempts = 0, dismissed = FALSE,
			completed_at = NULL, updated_at = $2
		WHERE id = $3
	`, domain.JobStatusQueued, time.Now().UTC(), id)
}

// Delete removes the job row. Task and error rows cascade via FK.
func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "delete job", `
		DELETE FROM generation_jobs
		WHERE id = $1
	`, id)
}

// exec runs a single-row statement and maps zero affected rows to
// ErrJobNotFound.
func (s *JobStore) exec(ctx context.Context, op, query string, args ...any) error {
	log := logger.FromContext(ctx)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to "+op, "error", err)
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrJobNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var errorMessage sql.NullString
	var planJSON []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Title, &job.Status, &job.Progress, &errorMessage,
		&job.Dismissed, &job.RecoveryAttempts, &planJSON,
		&job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}

	job.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &job.Plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal generation plan: %w", err)
		}
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}
