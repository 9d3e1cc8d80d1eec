package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrorCategory is the classifier's verdict on what kind of failure an
// error represents.
type ErrorCategory string

// Possible error categories
const (
	CategoryAPILimit                  ErrorCategory = "api_limit"
	CategoryAPITimeout                ErrorCategory = "api_timeout"
	CategoryKnowledgeBaseEmpty        ErrorCategory = "knowledge_base_empty"
	CategoryKnowledgeBaseInsufficient ErrorCategory = "knowledge_base_insufficient"
	CategoryDatabaseConnection        ErrorCategory = "database_connection"
	CategoryDatabaseConstraint        ErrorCategory = "database_constraint"
	CategoryPermissionDenied          ErrorCategory = "permission_denied"
	CategoryMemoryExceeded            ErrorCategory = "memory_exceeded"
	CategoryUnknown                   ErrorCategory = "unknown"
)

// ErrorSeverity grades how serious a classified failure is.
type ErrorSeverity string

// Possible severities, ordered from least to most serious.
const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// severityRank orders severities for "most severe" comparisons.
var severityRank = map[ErrorSeverity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MoreSevere reports whether a outranks b.
func MoreSevere(a, b ErrorSeverity) bool {
	return severityRank[a] > severityRank[b]
}

// Common validation errors for ErrorRecord
var (
	ErrEmptyErrorID     = errors.New("error record ID cannot be empty")
	ErrEmptyErrorJobID  = errors.New("error record job ID cannot be empty")
	ErrAlreadyResolved  = errors.New("error record is already resolved")
)

// ErrorRecord is the append-only persisted capture of one classified
// failure. ResolvedAt is set at most once, by the recovery controller.
type ErrorRecord struct {
	ID               uuid.UUID      `json:"id"`
	JobID            uuid.UUID      `json:"job_id"`
	TaskID           *uuid.UUID     `json:"task_id,omitempty"`
	RawMessage       string         `json:"raw_message"`
	Stack            string         `json:"stack,omitempty"`
	Category         ErrorCategory  `json:"category"`
	Severity         ErrorSeverity  `json:"severity"`
	Retryable        bool           `json:"is_retryable"`
	RetryStrategy    RetryStrategyKind `json:"retry_strategy"`
	SuggestedActions []string       `json:"suggested_actions"`
	Context          map[string]any `json:"context,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
}

// Validate checks if the ErrorRecord has valid data.
func (e *ErrorRecord) Validate() error {
	if e.ID == uuid.Nil {
		return ErrEmptyErrorID
	}

	if e.JobID == uuid.Nil {
		return ErrEmptyErrorJobID
	}

	return nil
}

// Resolve marks the record resolved at the given time. It fails if the
// record was already resolved.
func (e *ErrorRecord) Resolve(at time.Time) error {
	if e.ResolvedAt != nil {
		return ErrAlreadyResolved
	}

	resolved := at.UTC()
	e.ResolvedAt = &resolved
	return nil
}

// MostSevereUnresolved returns the unresolved record with the highest
// severity, or nil if every record is resolved.
func MostSevereUnresolved(records []*ErrorRecord) *ErrorRecord {
	var worst *ErrorRecord
	for _, rec := range records {
		if rec.ResolvedAt != nil {
			continue
		}
		if worst == nil || MoreSevere(rec.Severity, worst.Severity) {
			worst = rec
		}
	}
	return worst
}
