package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the kind of generation step a task performs.
type TaskType string

// Possible task types
const (
	TaskTypeSection    TaskType = "section"
	TaskTypeAssessment TaskType = "assessment"
	TaskTypeQuiz       TaskType = "quiz"
	TaskTypeExam       TaskType = "exam"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusRetrying  TaskStatus = "retrying"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyTaskJobID    = errors.New("task job ID cannot be empty")
	ErrInvalidTaskType   = errors.New("invalid task type")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// taskTransitions holds the directed edges of the task state machine.
// skipped is reachable from pending/queued/running via explicit operator
// action. Failure capture moves a running task straight to retrying when
// the policy grants another attempt; failed is reserved for exhausted or
// non-retryable errors.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:  {TaskStatusQueued, TaskStatusSkipped, TaskStatusCancelled},
	TaskStatusQueued:   {TaskStatusRunning, TaskStatusSkipped, TaskStatusCancelled},
	TaskStatusRunning:  {TaskStatusCompleted, TaskStatusFailed, TaskStatusRetrying, TaskStatusSkipped, TaskStatusCancelled},
	TaskStatusFailed:   {TaskStatusRetrying, TaskStatusCancelled},
	TaskStatusRetrying: {TaskStatusQueued, TaskStatusCancelled},
}

// Task represents one atomic generation step belonging to a Job.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	JobID          uuid.UUID  `json:"job_id"`
	Type           TaskType   `json:"type"`
	Label          string     `json:"label,omitempty"`
	Status         TaskStatus `json:"status"`
	ErrorMessage   string     `json:"error,omitempty"`
	RetryCount     int        `json:"current_retry_count"`
	Sequence       int        `json:"sequence"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewTask creates a pending Task for the given job.
func NewTask(jobID uuid.UUID, taskType TaskType, label string, sequence int) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:             uuid.New(),
		JobID:          jobID,
		Type:           taskType,
		Label:          label,
		Status:         TaskStatusPending,
		Sequence:       sequence,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.JobID == uuid.Nil {
		return ErrEmptyTaskJobID
	}

	if !isValidTaskType(t.Type) {
		return ErrInvalidTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}

// IsTerminal reports whether the task status is final.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusSkipped, TaskStatusCancelled:
		return true
	case TaskStatusFailed:
		// failed is terminal unless a retry moves it back through retrying
		return true
	default:
		return false
	}
}

// IsActive reports whether the task is still in flight or waiting to run.
func (t *Task) IsActive() bool {
	switch t.Status {
	case TaskStatusPending, TaskStatusQueued, TaskStatusRunning, TaskStatusRetrying:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving to the given status follows an
// edge of the task state machine.
func (t *Task) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[t.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

func isValidTaskType(taskType TaskType) bool {
	switch taskType {
	case TaskTypeSection, TaskTypeAssessment, TaskTypeQuiz, TaskTypeExam:
		return true
	default:
		return false
	}
}

func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusQueued, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped,
		TaskStatusRetrying, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
