package domain

import "time"

// HealthStatus is the liveness verdict for a processing job.
type HealthStatus string

// Possible health statuses
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthStalled   HealthStatus = "stalled"
	HealthStuck     HealthStatus = "stuck"
	HealthFailed    HealthStatus = "failed"
	HealthAbandoned HealthStatus = "abandoned"
)

// RecoveryAction is the action the health monitor recommends for an
// unhealthy job.
type RecoveryAction string

// Possible recovery actions
const (
	ActionNone           RecoveryAction = "none"
	ActionResume         RecoveryAction = "resume"
	ActionRestart        RecoveryAction = "restart"
	ActionDeleteAndRetry RecoveryAction = "delete_and_retry"
)

// HealthSnapshot is a derived, non-persisted view of a processing job's
// liveness. It is computed fresh from the current job and task state on
// every check and never stored as the source of truth.
type HealthSnapshot struct {
	Status              HealthStatus   `json:"status"`
	Progress            int            `json:"progress"`
	RunningTasks        int            `json:"running_tasks"`
	PendingTasks        int            `json:"pending_tasks"`
	FailedTasks         int            `json:"failed_tasks"`
	RecoveryAttempts    int            `json:"recovery_attempts"`
	MaxRecoveryAttempts int            `json:"max_recovery_attempts"`
	Detail              string         `json:"detail,omitempty"`
	LastActivityAt      time.Time      `json:"last_activity_at"`
	RecommendedAction   RecoveryAction `json:"recommended_action"`
}
