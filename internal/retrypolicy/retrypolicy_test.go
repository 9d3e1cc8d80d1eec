package retrypolicy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dbawebdesign/lailms/internal/classify"
	"github.com/dbawebdesign/lailms/internal/domain"
)

var exponentialStrategy = domain.RetryStrategy{
	Kind:          domain.RetryStrategyExponential,
	MaxRetries:    5,
	InitialDelay:  5000 * time.Millisecond,
	MaxDelay:      60000 * time.Millisecond,
	BackoffFactor: 2,
}

var linearStrategy = domain.RetryStrategy{
	Kind:          domain.RetryStrategyLinear,
	MaxRetries:    3,
	InitialDelay:  2000 * time.Millisecond,
	MaxDelay:      10000 * time.Millisecond,
	BackoffFactor: 1,
}

func TestDelayExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 5000 * time.Millisecond},
		{1, 10000 * time.Millisecond},
		{2, 20000 * time.Millisecond},
		{3, 40000 * time.Millisecond},
		{4, 60000 * time.Millisecond}, // 80s capped at the max
		{10, 60000 * time.Millisecond},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, Delay(tc.retryCount, exponentialStrategy),
			"retry count %d", tc.retryCount)
	}
}

func TestDelayLinear(t *testing.T) {
	t.Parallel()

	var prev time.Duration
	for count := 0; count < 10; count++ {
		delay := Delay(count, linearStrategy)

		assert.GreaterOrEqual(t, delay, prev, "delay must be non-decreasing")
		assert.LessOrEqual(t, delay, linearStrategy.MaxDelay)
		prev = delay
	}

	assert.Equal(t, 2000*time.Millisecond, Delay(0, linearStrategy))
	assert.Equal(t, 4000*time.Millisecond, Delay(1, linearStrategy))
	assert.Equal(t, 10000*time.Millisecond, Delay(7, linearStrategy))
}

func TestDelayImmediateAndNone(t *testing.T) {
	t.Parallel()

	immediate := domain.RetryStrategy{Kind: domain.RetryStrategyImmediate, MaxRetries: 1}
	assert.Equal(t, time.Duration(0), Delay(0, immediate))

	none := domain.RetryStrategy{Kind: domain.RetryStrategyNone}
	assert.Equal(t, time.Duration(0), Delay(0, none))
}

func TestDelayNegativeCount(t *testing.T) {
	t.Parallel()

	// Treated as the first retry rather than producing a sub-initial delay.
	assert.Equal(t, 5000*time.Millisecond, Delay(-3, exponentialStrategy))
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	retryable := classify.Classify(errors.New("rate limit"), nil)
	nonRetryable := classify.Classify(errors.New("no documents found"), nil)

	tests := []struct {
		name       string
		retryCount int
		cls        classify.Classification
		recent     int
		want       bool
	}{
		{"fresh retryable task", 0, retryable, 0, true},
		{"budget remaining", 4, retryable, 0, true},
		{"budget exhausted", 5, retryable, 0, false},
		{"over budget", 9, retryable, 0, false},
		{"non-retryable category", 0, nonRetryable, 0, false},
		{"circuit breaker tripped", 0, retryable, CircuitBreakerLimit, false},
		{"circuit breaker below limit", 0, retryable, CircuitBreakerLimit - 1, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			task := &domain.Task{RetryCount: tc.retryCount}
			assert.Equal(t, tc.want, ShouldRetry(task, tc.cls, tc.recent))
		})
	}
}
