package api

import (
	"time"

	"github.com/dbawebdesign/lailms/internal/domain"
)

// CreateJobRequest is the request body for creating a generation job.
type CreateJobRequest struct {
	OwnerID           string `json:"owner_id"            validate:"required,uuid"`
	Title             string `json:"title"               validate:"required,max=200"`
	Sections          int    `json:"sections"            validate:"min=0,max=100"`
	IncludeAssessment bool   `json:"include_assessment"`
	IncludeQuiz       bool   `json:"include_quiz"`
	IncludeExam       bool   `json:"include_exam"`
}

// RestartJobRequest is the request body for the restart endpoint.
// Restart discards all task progress, so it must be confirmed explicitly.
type RestartJobRequest struct {
	Confirm bool `json:"confirm"`
}

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Label        string    `json:"label,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error,omitempty"`
	RetryCount   int       `json:"retry_count"`
	Sequence     int       `json:"sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ErrorRecordResponse represents one unresolved error of a job.
type ErrorRecordResponse struct {
	ID               string    `json:"id"`
	TaskID           string    `json:"task_id,omitempty"`
	Category         string    `json:"category"`
	Severity         string    `json:"severity"`
	Retryable        bool      `json:"is_retryable"`
	SuggestedActions []string  `json:"suggested_actions"`
	CreatedAt        time.Time `json:"created_at"`
}

// JobResponse represents the response data for a job.
type JobResponse struct {
	ID               string                 `json:"id"`
	OwnerID          string                 `json:"owner_id"`
	Title            string                 `json:"title"`
	Status           string                 `json:"status"`
	Progress         int                    `json:"progress"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	Dismissed        bool                   `json:"dismissed"`
	RecoveryAttempts int                    `json:"recovery_attempts"`
	Plan             domain.GenerationPlan  `json:"plan"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	Health           *domain.HealthSnapshot `json:"health,omitempty"`
}

// JobDetailResponse is the full view of a job: the job itself, its
// ordered tasks and its unresolved errors.
type JobDetailResponse struct {
	Job    JobResponse           `json:"job"`
	Tasks  []TaskResponse        `json:"tasks"`
	Errors []ErrorRecordResponse `json:"errors"`
}

func jobToResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:               job.ID.String(),
		OwnerID:          job.OwnerID.String(),
		Title:            job.Title,
		Status:           string(job.Status),
		Progress:         job.Progress,
		ErrorMessage:     job.ErrorMessage,
		Dismissed:        job.Dismissed,
		RecoveryAttempts: job.RecoveryAttempts,
		Plan:             job.Plan,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
		CompletedAt:      job.CompletedAt,
	}
}

func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:           task.ID.String(),
		Type:         string(task.Type),
		Label:        task.Label,
		Status:       string(task.Status),
		ErrorMessage: task.ErrorMessage,
		RetryCount:   task.RetryCount,
		Sequence:     task.Sequence,
		UpdatedAt:    task.UpdatedAt,
	}
}

func errorRecordToResponse(record *domain.ErrorRecord) ErrorRecordResponse {
	resp := ErrorRecordResponse{
		ID:               record.ID.String(),
		Category:         string(record.Category),
		Severity:         string(record.Severity),
		Retryable:        record.Retryable,
		SuggestedActions: record.SuggestedActions,
		CreatedAt:        record.CreatedAt,
	}
	if record.TaskID != nil {
		resp.TaskID = record.TaskID.String()
	}
	return resp
}
