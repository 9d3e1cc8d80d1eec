// Package health derives liveness verdicts for processing jobs.
//
// Evaluation is a stateless function of an explicit job and task
// snapshot plus the current time; the timer lives in Monitor, not in
// process-wide state. A snapshot is computed fresh on every check and
// never stored as the source of truth.
package health

import (
	"fmt"
	"time"

	"github.com/dbawebdesign/lailms/internal/classify"
	"github.com/dbawebdesign/lailms/internal/domain"
)

// Config holds the health evaluation thresholds. The stall and stuck
// thresholds are configuration, not constants baked into the algorithm.
type Config struct {
	// CheckInterval is how often the monitor re-evaluates processing jobs.
	CheckInterval time.Duration

	// StallAfter is how long pending/queued tasks may sit without any
	// transition before the job counts as stalled.
	StallAfter time.Duration

	// StuckAfter is how long a running task may go without any status
	// change before the job counts as stuck.
	StuckAfter time.Duration

	// MaxRecoveryAttempts mirrors the recovery controller's cap so
	// snapshots can report remaining budget.
	MaxRecoveryAttempts int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:       30 * time.Second,
		StallAfter:          2 * time.Minute,
		StuckAfter:          5 * time.Minute,
		MaxRecoveryAttempts: 3,
	}
}

// structuralCategories are non-retryable failures that restarting cannot
// fix; the only way forward is deleting the job and retrying after the
// underlying condition is addressed.
var structuralCategories = map[domain.ErrorCategory]bool{
	domain.CategoryKnowledgeBaseEmpty:        true,
	domain.CategoryKnowledgeBaseInsufficient: true,
}

// Evaluate computes a HealthSnapshot for a job from a consistent task
// snapshot, the job's unresolved errors, and the current time.
func Evaluate(
	job *domain.Job,
	tasks []*domain.Task,
	unresolved []*domain.ErrorRecord,
	cfg Config,
	now time.Time,
) domain.HealthSnapshot {
	var running, pending, failed, retrying, queued int
	lastActivity := job.UpdatedAt
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusRunning:
			running++
		case domain.TaskStatusPending:
			pending++
		case domain.TaskStatusQueued:
			queued++
		case domain.TaskStatusRetrying:
			retrying++
		case domain.TaskStatusFailed:
			failed++
		}
		if t.LastActivityAt.After(lastActivity) {
			lastActivity = t.LastActivityAt
		}
	}

	active := running + pending + queued + retrying
	idle := now.Sub(lastActivity)

	status := domain.HealthHealthy
	switch {
	case failed > 0 && running+retrying+queued == 0 && pending == 0:
		status = domain.HealthFailed
	case job.Status == domain.JobStatusProcessing && active == 0:
		status = domain.HealthAbandoned
	case running > 0 && idle > cfg.StuckAfter:
		status = domain.HealthStuck
	case running == 0 && pending+queued > 0 && idle > cfg.StallAfter:
		status = domain.HealthStalled
	}

	snapshot := domain.HealthSnapshot{
		Status:              status,
		Progress:            job.Progress,
		RunningTasks:        running,
		PendingTasks:        pending + queued,
		FailedTasks:         failed,
		RecoveryAttempts:    job.RecoveryAttempts,
		MaxRecoveryAttempts: cfg.MaxRecoveryAttempts,
		LastActivityAt:      lastActivity,
		RecommendedAction:   recommendAction(status, unresolved),
		Detail:              deriveDetail(status, job, unresolved),
	}

	return snapshot
}

// recommendAction maps the verdict to a recovery action: stalled jobs
// resume, stuck jobs restart, and failed or abandoned jobs restart
// unless the underlying classification was structural, in which case
// only delete-and-retry can help.
func recommendAction(status domain.HealthStatus, unresolved []*domain.ErrorRecord) domain.RecoveryAction {
	switch status {
	case domain.HealthStalled:
		return domain.ActionResume
	case domain.HealthStuck:
		return domain.ActionRestart
	case domain.HealthFailed, domain.HealthAbandoned:
		if HasStructuralFailure(unresolved) {
			return domain.ActionDeleteAndRetry
		}
		return domain.ActionRestart
	default:
		return domain.ActionNone
	}
}

// HasStructuralFailure reports whether any unresolved record belongs to
// a non-retryable structural category.
func HasStructuralFailure(unresolved []*domain.ErrorRecord) bool {
	for _, rec := range unresolved {
		if rec.ResolvedAt == nil && structuralCategories[rec.Category] {
			return true
		}
	}
	return false
}

// deriveDetail picks the user-facing detail text: the canonical message
// for the most severe unresolved error, or a generic status sentence.
func deriveDetail(status domain.HealthStatus, job *domain.Job, unresolved []*domain.ErrorRecord) string {
	if worst := domain.MostSevereUnresolved(unresolved); worst != nil {
		return classify.ForCategory(worst.Category).UserMessage
	}

	switch status {
	case domain.HealthHealthy:
		return fmt.Sprintf("Generation is progressing normally (%d%%).", job.Progress)
	case domain.HealthStalled:
		return "Generation has stalled; queued work is not being picked up."
	case domain.HealthStuck:
		return "Generation appears stuck; a running step has stopped making progress."
	case domain.HealthAbandoned:
		return "Generation was interrupted and no work is currently scheduled."
	case domain.HealthFailed:
		return "Generation failed and automatic retries are exhausted."
	default:
		return ""
	}
}
