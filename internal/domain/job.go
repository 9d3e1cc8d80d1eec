package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the processing state of a generation job
type JobStatus string

// Possible job status values
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Common validation errors for Job
var (
	ErrEmptyJobID       = errors.New("job ID cannot be empty")
	ErrEmptyJobOwnerID  = errors.New("job owner ID cannot be empty")
	ErrEmptyJobTitle    = errors.New("job title cannot be empty")
	ErrInvalidJobStatus = errors.New("invalid job status")
	ErrEmptyPlan        = errors.New("generation plan produces no tasks")
)

// GenerationPlan describes what a course-generation job should produce.
// It is persisted with the job so a restart can rebuild the exact same
// task set.
type GenerationPlan struct {
	Sections          int  `json:"sections"`
	IncludeAssessment bool `json:"include_assessment"`
	IncludeQuiz       bool `json:"include_quiz"`
	IncludeExam       bool `json:"include_exam"`
}

// TaskCount returns the number of tasks the plan decomposes into.
func (p GenerationPlan) TaskCount() int {
	n := p.Sections
	if p.IncludeAssessment {
		n++
	}
	if p.IncludeQuiz {
		n++
	}
	if p.IncludeExam {
		n++
	}
	return n
}

// Job represents one end-to-end course-generation request, composed of
// many tasks. Its status is derived from the statuses of its tasks; once
// completed or cancelled it is immutable except for the Dismissed flag.
type Job struct {
	ID               uuid.UUID      `json:"id"`
	OwnerID          uuid.UUID      `json:"owner_id"`
	Title            string         `json:"title"`
	Status           JobStatus      `json:"status"`
	Progress         int            `json:"progress"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Dismissed        bool           `json:"dismissed"`
	RecoveryAttempts int            `json:"recovery_attempts"`
	Plan             GenerationPlan `json:"plan"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// NewJob creates a new Job with the given owner, title and plan.
// The job starts queued with zero progress.
// Returns an error if validation fails.
func NewJob(ownerID uuid.UUID, title string, plan GenerationPlan) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		Status:    JobStatusQueued,
		Progress:  0,
		Plan:      plan,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.OwnerID == uuid.Nil {
		return ErrEmptyJobOwnerID
	}

	if j.Title == "" {
		return ErrEmptyJobTitle
	}

	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}

	if j.Plan.TaskCount() == 0 {
		return ErrEmptyPlan
	}

	return nil
}

// IsTerminal reports whether the job has reached a state from which its
// tasks no longer change.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsImmutable reports whether the job may no longer be mutated except for
// the Dismissed flag. Failed jobs stay mutable so they can be restarted.
func (j *Job) IsImmutable() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusCancelled
}

func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}
