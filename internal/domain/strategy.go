package domain

import "time"

// RetryStrategyKind names the delay algorithm applied between retries.
type RetryStrategyKind string

// Possible retry strategy kinds
const (
	RetryStrategyNone        RetryStrategyKind = "none"
	RetryStrategyImmediate   RetryStrategyKind = "immediate"
	RetryStrategyLinear      RetryStrategyKind = "linear"
	RetryStrategyExponential RetryStrategyKind = "exponential"
)

// RetryStrategy is a named delay algorithm plus its bounds.
type RetryStrategy struct {
	Kind          RetryStrategyKind `json:"kind"`
	MaxRetries    int               `json:"max_retries"`
	InitialDelay  time.Duration     `json:"initial_delay"`
	MaxDelay      time.Duration     `json:"max_delay"`
	BackoffFactor float64           `json:"backoff_factor"`
}
