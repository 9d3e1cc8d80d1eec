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

// ErrorStore implements store.ErrorStore using PostgreSQL. The table is
// append-only: rows are only ever inserted, resolved once, or deleted
// together with their job.
type ErrorStore struct {
	db *sql.DB
}

// NewErrorStore creates a new ErrorStore.
func NewErrorStore(db *sql.DB) *ErrorStore {
	return &ErrorStore{db: db}
}

const errorColumns = `id, job_id, task_id, raw_message, stack, category, severity,
	is_retryable, retry_strategy, suggested_actions, context, created_at, resolved_at`

// Create appends a new error record.
func (s *ErrorStore) Create(ctx context.Context, record *domain.ErrorRecord) error {
	log := logger.FromContext(ctx)

	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	actionsJSON, err := json.Marshal(record.SuggestedActions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggested actions: %w", err)
	}

	var contextJSON []byte
	if record.Context != nil {
		contextJSON, err = json.Marshal(record.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal error context: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generation_errors
			(id, job_id, task_id, raw_message, stack, category, severity,
			 is_retryable, retry_strategy, suggested_actions, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		record.ID, record.JobID, record.TaskID, record.RawMessage, record.Stack,
		record.Category, record.Severity, record.Retryable, record.RetryStrategy,
		actionsJSON, contextJSON, record.CreatedAt,
	)
	if err != nil {
		log.Error("failed to insert error record",
			"job_id", record.JobID, "category", record.Category, "error", err)
		return fmt.Errorf("failed to save error record: %w", err)
	}

	return nil
}

// ListUnresolvedByJob retrieves the unresolved records for a job, newest first.
func (s *ErrorStore) ListUnresolvedByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+errorColumns+`
		FROM generation_errors
		WHERE job_id = $1 AND resolved_at IS NULL
		ORDER BY created_at DESC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query error records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*domain.ErrorRecord
	for rows.Next() {
		record, err := scanErrorRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating error record rows: %w", err)
	}

	return records, nil
}

// CountRecentByCategory counts a task's records for one category created
// at or after since.
func (s *ErrorStore) CountRecentByCategory(ctx context.Context, taskID uuid.UUID, category domain.ErrorCategory, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM generation_errors
		WHERE task_id = $1 AND category = $2 AND created_at >= $3
	`, taskID, category, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent error records: %w", err)
	}

	return count, nil
}

// ResolveByJob stamps resolved_at on every unresolved record of the job.
func (s *ErrorStore) ResolveByJob(ctx context.Context, jobID uuid.UUID, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE generation_errors
		SET resolved_at = $1
		WHERE job_id = $2 AND resolved_at IS NULL
	`, at.UTC(), jobID); err != nil {
		return fmt.Errorf("failed to resolve error records: %w", err)
	}
	return nil
}

// DeleteByJob removes all error rows for a job.
func (s *ErrorStore) DeleteByJob(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM generation_errors
		WHERE job_id = $1
	`, jobID); err != nil {
		return fmt.Errorf("failed to delete error records: %w", err)
	}
	return nil
}

func scanErrorRecord(row rowScanner) (*domain.ErrorRecord, error) {
	var record domain.ErrorRecord
	var taskID uuid.NullUUID
	var stack sql.NullString
	var actionsJSON, contextJSON []byte
	var resolvedAt sql.NullTime

	err := row.Scan(
		&record.ID, &record.JobID, &taskID, &record.RawMessage, &stack,
		&record.Category, &record.Severity, &record.Retryable, &record.RetryStrategy,
		&actionsJSON, &contextJSON, &record.CreatedAt, &resolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrErrorRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan error record row: %w", err)
	}

	if taskID.Valid {
		id := taskID.UUID
		record.TaskID = &id
	}
	record.Stack = stack.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		record.ResolvedAt = &t
	}
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &record.SuggestedActions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal suggested actions: %w", err)
		}
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &record.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error context: %w", err)
		}
	}

	return &record, nil
}
