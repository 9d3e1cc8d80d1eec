package api

import (
	"errors"
	"net/http"

	"github.com/dbawebdesign/lailms/internal/orchestrator"
	"github.com/dbawebdesign/lailms/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type. This prevents leaking internal error
// types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrErrorRecordNotFound):
		return http.StatusNotFound

	// Conflict errors: the entity exists but refuses the operation
	case errors.Is(err, orchestrator.ErrJobImmutable),
		errors.Is(err, orchestrator.ErrJobNotTerminal),
		errors.Is(err, orchestrator.ErrTaskNotSkippable):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal
// details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrErrorRecordNotFound):
		return "Error record not found"

	case errors.Is(err, orchestrator.ErrJobImmutable):
		return "Job is completed or cancelled and can no longer change"

	case errors.Is(err, orchestrator.ErrJobNotTerminal):
		return "Job is still processing and cannot be dismissed"

	case errors.Is(err, orchestrator.ErrTaskNotSkippable):
		return "Task cannot be skipped in its current state"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	default:
		return "An unexpected error occurred"
	}
}
