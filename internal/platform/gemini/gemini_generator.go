// Package gemini implements the generation.Generator interface using
// Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/dbawebdesign/lailms/internal/config"
	"github.com/dbawebdesign/lailms/internal/domain"
	"github.com/dbawebdesign/lailms/internal/generation"
)

// GeminiGenerator implements the generation.Generator interface using
// Google's Gemini API to produce course content. It performs a single
// attempt per call; retries belong to the scheduler, which owns the
// retry taxonomy.
type GeminiGenerator struct {
	logger *slog.Logger
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a new GeminiGenerator with the provided
// configuration. It fails fast on missing credentials so the caller can
// fall back to a disabled generator.
func NewGeminiGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*GeminiGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return &GeminiGenerator{
		logger: logger.With("component", "gemini_generator"),
		client: client,
		model:  cfg.ModelName,
	}, nil
}

// Produce generates the content for a single task.
func (g *GeminiGenerator) Produce(ctx context.Context, req generation.Request) (*generation.Result, error) {
	prompt := buildPrompt(req)

	g.logger.DebugContext(ctx, "calling Gemini API",
		"job_id", req.JobID,
		"task_id", req.TaskID,
		"task_type", req.TaskType,
		"model", g.model)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, generation.ErrInvalidResponse
	}

	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, generation.ErrContentBlocked
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, generation.ErrInvalidResponse
	}

	return &generation.Result{Content: text}, nil
}

// buildPrompt renders the per-task-type instruction for the model.
func buildPrompt(req generation.Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are generating course material for the course %q.\n\n", req.JobTitle)

	switch req.TaskType {
	case domain.TaskTypeSection:
		fmt.Fprintf(&b, "Write the full lesson content for %s (section %d of the course).\n", labelOr(req, "this section"), req.Sequence)
		b.WriteString("Structure it with an introduction, core concepts, worked examples, and a summary.")
	case domain.TaskTypeAssessment:
		b.WriteString("Write a graded assessment covering the whole course: ")
		b.WriteString("a mix of short-answer and applied questions with model answers.")
	case domain.TaskTypeQuiz:
		b.WriteString("Write a short multiple-choice quiz for the course with answer key and ")
		b.WriteString("one-line explanations per answer.")
	case domain.TaskTypeExam:
		b.WriteString("Write a comprehensive final exam for the course with a grading rubric.")
	default:
		fmt.Fprintf(&b, "Produce the %s content for this course.", req.TaskType)
	}

	return b.String()
}

func labelOr(req generation.Request, fallback string) string {
	if req.Label != "" {
		return fmt.Sprintf("%q", req.Label)
	}
	return fallback
}
