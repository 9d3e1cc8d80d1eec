// Package retrypolicy decides whether and when a failed task may run
// again. It is pure: callers supply the task, the classification, and
// the recent same-category error count; no clock or store is consulted.
package retrypolicy

import (
	"math"
	"time"

	"github.com/dbawebdesign/lailms/internal/classify"
	"github.com/dbawebdesign/lailms/internal/domain"
)

// Circuit breaker bounds: repeated same-category failures inside the
// window suppress further retries regardless of remaining retry budget.
const (
	CircuitBreakerWindow = 60 * time.Minute
	CircuitBreakerLimit  = 3
)

// Delay computes how long to wait before the next attempt. retryCount is
// the number of retries already performed for the task.
func Delay(retryCount int, strategy domain.RetryStrategy) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	switch strategy.Kind {
	case domain.RetryStrategyImmediate:
		return 0
	case domain.RetryStrategyLinear:
		delay := strategy.InitialDelay + time.Duration(retryCount)*strategy.InitialDelay
		return capDelay(delay, strategy.MaxDelay)
	case domain.RetryStrategyExponential:
		factor := math.Pow(strategy.BackoffFactor, float64(retryCount))
		delay := time.Duration(float64(strategy.InitialDelay) * factor)
		return capDelay(delay, strategy.MaxDelay)
	default:
		// none: the caller must not schedule a retry at all
		return 0
	}
}

// ShouldRetry reports whether another attempt is permitted for the task.
// recentSameCategory is the number of error records for this task with
// the same category created within CircuitBreakerWindow.
func ShouldRetry(task *domain.Task, c classify.Classification, recentSameCategory int) bool {
	if !c.Retryable {
		return false
	}

	if task.RetryCount >= c.Strategy.MaxRetries {
		return false
	}

	if recentSameCategory >= CircuitBreakerLimit {
		return false
	}

	return true
}

func capDelay(delay, max time.Duration) time.Duration {
	if max > 0 && delay > max {
		return max
	}
	return delay
}
