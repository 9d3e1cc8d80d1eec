package gemini

import (
	"context"

	"github.com/dbawebdesign/lailms/internal/generation"
)

// DisabledGenerator is wired when no LLM credentials are configured.
// Every call fails closed with a clear, classifiable error instead of
// silently producing nothing.
type DisabledGenerator struct{}

// Produce always returns ErrGeneratorDisabled.
func (DisabledGenerator) Produce(ctx context.Context, req generation.Request) (*generation.Result, error) {
	return nil, generation.ErrGeneratorDisabled
}
