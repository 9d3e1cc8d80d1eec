package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/platform/logger"
	"github.com/dbawebdesign/lailms/internal/store"
)

// TaskStore implements store.TaskStore using PostgreSQL.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, job_id, type, label, status, error_message,
	retry_count, sequence, last_activity_at, created_at, updated_at`

// Insert persists new tasks.
func (s *TaskStore) Insert(ctx context.Context, tasks ...*domain.Task) error {
	log := logger.FromContext(ctx)

	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
		if err := insertTask(ctx, s.db, task); err != nil {
			log.Error("failed to insert task", "task_id", task.ID, "error", err)
			return err
		}
	}

	return nil
}

// insertTask writes one task row against a connection or transaction.
func insertTask(ctx context.Context, db store.DBTX, task *domain.Task) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO generation_tasks
			(id, job_id, type, label, status, error_message,
			 retry_count, sequence, last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		task.ID, task.JobID, task.Type, task.Label, task.Status, task.ErrorMessage,
		task.RetryCount, task.Sequence, task.LastActivityAt, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task to database: %w", err)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM generation_tasks
		WHERE id = $1
	`, id)

	return scanTask(row)
}

// ListByJob retrieves all tasks for a job ordered by sequence.
func (s *TaskStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM generation_tasks
		WHERE job_id = $1
		ORDER BY sequence ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by job: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanTasks(rows)
}

// ListByStatus retrieves all tasks in any of the given statuses.
func (s *TaskStore) ListByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = status
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM generation_tasks
		WHERE status IN (%s)
		ORDER BY created_at ASC
	`, taskColumns, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by status: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanTasks(rows)
}

// UpdateStatus sets the task status and error text, refreshing the
// last-activity timestamp.
func (s *TaskStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, errorMsg string) error {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE generation_tasks
		SET status = $1, error_message = $2, last_activity_at = $3, updated_at = $3
		WHERE id = $4
	`, status, errorMsg, now, id)
	if err != nil {
		log.Error("failed to update task status",
			"task_id", id, "status", status, "error", err)
		return fmt.Errorf("failed to update task status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// MarkQueued moves a waiting task to queued. The status guard excludes
// running and terminal tasks, so a concurrent re-dispatch cannot clobber
// a claimed task back to queued.
func (s *TaskStore) MarkQueued(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE generation_tasks
		SET status = $1, error_message = '', last_activity_at = $2, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5, $6)
	`, domain.TaskStatusQueued, now, id,
		domain.TaskStatusPending, domain.TaskStatusQueued, domain.TaskStatusRetrying)
	if err != nil {
		return fmt.Errorf("failed to mark task queued: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return store.ErrTaskNotClaimable
	}

	return nil
}

// Claim atomically moves a queued task to running. The status guard in
// the WHERE clause makes the claim a compare-and-set: when the task was
// already claimed, skipped or cancelled, zero rows match and the caller
// gets ErrTaskNotClaimable.
func (s *TaskStore) Claim(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	now := time.Now().UTC()

	row := s.db.QueryRowContext(ctx, `
		UPDATE generation_tasks
		SET status = $1, last_activity_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+taskColumns+`
	`, domain.TaskStatusRunning, now, id, domain.TaskStatusQueued)

	task, err := scanTask(row)
	if errors.Is(err, store.ErrTaskNotFound) {
		// Distinguish a vanished task from one another worker claimed.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrTaskNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	return task, nil
}

// MarkRetrying sets the task to retrying and increments its retry count,
// returning the new count.
func (s *TaskStore) MarkRetrying(ctx context.Context, id uuid.UUID, errorMsg string) (int, error) {
	now := time.Now().UTC()

	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE generation_tasks
		SET status = $1, error_message = $2, retry_count = retry_count + 1,
			last_activity_at = $3, updated_at = $3
		WHERE id = $4
		RETURNING retry_count
	`, domain.TaskStatusRetrying, errorMsg, now, id).Scan(&count)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrTaskNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to mark task retrying: %w", err)
	}

	return count, nil
}

// CancelActiveByJob marks every non-terminal task of the job cancelled.
func (s *TaskStore) CancelActiveByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE generation_tasks
		SET status = $1, last_activity_at = $2, updated_at = $2
		WHERE job_id = $3 AND status IN ($4, $5, $6, $7)
	`, domain.TaskStatusCancelled, now, jobID,
		domain.TaskStatusPending, domain.TaskStatusQueued,
		domain.TaskStatusRunning, domain.TaskStatusRetrying)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel tasks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}

// DeleteByJob removes all task rows for a job.
func (s *TaskStore) DeleteByJob(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM generation_tasks
		WHERE job_id = $1
	`, jobID); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var label, errorMessage sql.NullString

	err := row.Scan(
		&task.ID, &task.JobID, &task.Type, &label, &task.Status, &errorMessage,
		&task.RetryCount, &task.Sequence, &task.LastActivityAt,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task row: %w", err)
	}

	task.Label = label.String
	task.ErrorMessage = errorMessage.String

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}
