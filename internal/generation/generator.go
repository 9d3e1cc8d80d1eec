// Package generation defines the boundary to the external AI content
// generator. The orchestration core treats content production as an
// opaque call; its latency and failure modes are exactly what the error
// classifier handles.
package generation

import (
	"context"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms/internal/domain"
)

// Request describes one generation step to produce.
type Request struct {
	JobID    uuid.UUID       `json:"job_id"`
	TaskID   uuid.UUID       `json:"task_id"`
	TaskType domain.TaskType `json:"task_type"`
	JobTitle string          `json:"job_title"`
	Label    string          `json:"label,omitempty"`
	Sequence int             `json:"sequence"`
}

// Result holds the produced content for one generation step.
type Result struct {
	Content string `json:"content"`
}

// Generator defines the interface for producing course content.
// This interface serves as a boundary between the orchestration core and
// external AI/LLM services.
type Generator interface {
	// Produce generates the output for a single task. It returns an
	// error whose message the classifier maps to the retry taxonomy.
	Produce(ctx context.Context, req Request) (*Result, error)
}
