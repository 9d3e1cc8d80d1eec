package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewJob(t *testing.T) {
	t.Parallel()
	ownerID := uuid.New()
	plan := GenerationPlan{Sections: 3, IncludeQuiz: true}

	job, err := NewJob(ownerID, "Intro to Botany", plan)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if job.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if job.OwnerID != ownerID {
		t.Errorf("Expected owner ID %s, got %s", ownerID, job.OwnerID)
	}

	if job.Status != JobStatusQueued {
		t.Errorf("Expected status %s, got %s", JobStatusQueued, job.Status)
	}

	if job.Progress != 0 {
		t.Errorf("Expected zero progress, got %d", job.Progress)
	}

	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Error("Expected non-zero timestamps")
	}

	// Test invalid owner
	_, err = NewJob(uuid.Nil, "Intro to Botany", plan)
	if err != ErrEmptyJobOwnerID {
		t.Errorf("Expected error %v, got %v", ErrEmptyJobOwnerID, err)
	}

	// Test empty title
	_, err = NewJob(ownerID, "", plan)
	if err != ErrEmptyJobTitle {
		t.Errorf("Expected error %v, got %v", ErrEmptyJobTitle, err)
	}

	// Test a plan producing no tasks
	_, err = NewJob(ownerID, "Intro to Botany", GenerationPlan{})
	if err != ErrEmptyPlan {
		t.Errorf("Expected error %v, got %v", ErrEmptyPlan, err)
	}
}

func TestGenerationPlanTaskCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		plan GenerationPlan
		want int
	}{
		{"empty plan", GenerationPlan{}, 0},
		{"sections only", GenerationPlan{Sections: 4}, 4},
		{"all extras", GenerationPlan{Sections: 2, IncludeAssessment: true, IncludeQuiz: true, IncludeExam: true}, 5},
		{"extras without sections", GenerationPlan{IncludeExam: true}, 1},
	}

	for _, tc := range tests {
		if got := tc.plan.TaskCount(); got != tc.want {
			t.Errorf("%s: expected %d tasks, got %d", tc.name, tc.want, got)
		}
	}
}

func TestJobTerminalAndImmutable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status    JobStatus
		terminal  bool
		immutable bool
	}{
		{JobStatusQueued, false, false},
		{JobStatusProcessing, false, false},
		{JobStatusCompleted, true, true},
		{JobStatusFailed, true, false}, // failed jobs stay restartable
		{JobStatusCancelled, true, true},
	}

	for _, tc := range tests {
		job := Job{Status: tc.status}

		if got := job.IsTerminal(); got != tc.terminal {
			t.Errorf("%s: expected IsTerminal %v, got %v", tc.status, tc.terminal, got)
		}
		if got := job.IsImmutable(); got != tc.immutable {
			t.Errorf("%s: expected IsImmutable %v, got %v", tc.status, tc.immutable, got)
		}
	}
}
