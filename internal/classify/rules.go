package classify

import (
	"strings"
	"time"

	"github.com/dbawebdesign/lailms/internal/domain"
)

// rule pairs a text-matching predicate with a fixed classification
// payload. Rules are data, not code branches; order in the table is
// priority.
type rule struct {
	category         domain.ErrorCategory
	substrings       []string
	requireAll       [][]string // each group: all substrings must appear
	severity         domain.ErrorSeverity
	retryable        bool
	strategy         domain.RetryStrategy
	suggestedActions []string
	userMessage      string
}

// matches reports whether the lowercased error message triggers the rule.
func (r rule) matches(lowered string) bool {
	for _, s := range r.substrings {
		if strings.Contains(lowered, s) {
			return true
		}
	}
	for _, group := range r.requireAll {
		all := true
		for _, s := range group {
			if !strings.Contains(lowered, s) {
				all = false
				break
			}
		}
		if all && len(group) > 0 {
			return true
		}
	}
	return false
}

// rules is the ordered category table. First match wins.
var rules = []rule{
	{
		category:   domain.CategoryAPILimit,
		substrings: []string{"rate limit", "too many requests", "429"},
		severity:   domain.SeverityMedium,
		retryable:  true,
		strategy: domain.RetryStrategy{
			Kind:          domain.RetryStrategyExponential,
			MaxRetries:    5,
			InitialDelay:  5000 * time.Millisecond,
			MaxDelay:      60000 * time.Millisecond,
			BackoffFactor: 2,
		},
		suggestedActions: []string{
			"Wait for the provider rate limit to reset",
			"Reduce concurrent generation jobs",
		},
		userMessage: "The AI service is rate limiting requests. Generation will retry automatically.",
	},
	{
		category:   domain.CategoryAPITimeout,
		substrings: []string{"timed out", "timeout", "etimedout", "deadline exceeded"},
		severity:   domain.SeverityLow,
		retryable:  true,
		strategy: domain.RetryStrategy{
			Kind:          domain.RetryStrategyLinear,
			MaxRetries:    3,
			InitialDelay:  2000 * time.Millisecond,
			MaxDelay:      10000 * time.Millisecond,
			BackoffFactor: 1,
		},
		suggestedActions: []string{
			"Retry the step",
			"Check AI service status if timeouts persist",
		},
		userMessage: "The AI service took too long to respond. Generation will retry automatically.",
	},
	{
		category:   domain.CategoryKnowledgeBaseEmpty,
		substrings: []string{"no documents found", "empty knowledge base", "no chunks available"},
		severity:   domain.SeverityCritical,
		retryable:  false,
		strategy:   domain.RetryStrategy{Kind: domain.RetryStrategyNone},
		suggestedActions: []string{
			"Upload source material to the knowledge base",
			"Delete this job and retry after adding content",
		},
		userMessage: "No source material was found to generate from. Add documents and retry.",
	},
	{
		category:   domain.CategoryKnowledgeBaseInsufficient,
		substrings: []string{"insufficient content", "not enough material", "minimal chunks"},
		severity:   domain.SeverityHigh,
		retryable:  false,
		strategy:   domain.RetryStrategy{Kind: domain.RetryStrategyNone},
		suggestedActions: []string{
			"Upload more source material",
			"Reduce the number of requested sections",
		},
		userMessage: "There is not enough source material to generate the requested content.",
	},
	{
		category:   domain.CategoryDatabaseConnection,
		substrings: []string{"connection refused", "econnrefused"},
		requireAll: [][]string{{"database", "connect"}},
		severity:   domain.SeverityCritical,
		retryable:  true,
		strategy: domain.RetryStrategy{
			Kind:          domain.RetryStrategyExponential,
			MaxRetries:    3,
			InitialDelay:  1000 * time.Millisecond,
			MaxDelay:      5000 * time.Millisecond,
			BackoffFactor: 2,
		},
		suggestedActions: []string{
			"Check database availability",
			"Verify connection settings",
		},
		userMessage: "A database connection problem interrupted generation. Retrying automatically.",
	},
	{
		category:   domain.CategoryDatabaseConstraint,
		substrings: []string{"unique constraint", "duplicate key", "foreign key violation"},
		severity:   domain.SeverityMedium,
		retryable:  false,
		strategy:   domain.RetryStrategy{Kind: domain.RetryStrategyNone},
		suggestedActions: []string{
			"Resolve the conflicting record",
			"Contact support if the conflict persists",
		},
		userMessage: "A data conflict prevented saving generated content. Operator action is required.",
	},
	{
		category:   domain.CategoryPermissionDenied,
		substrings: []string{"permission denied", "access denied", "eacces", "insufficient privileges", "forbidden"},
		severity:   domain.SeverityHigh,
		retryable:  false,
		strategy:   domain.RetryStrategy{Kind: domain.RetryStrategyNone},
		suggestedActions: []string{
			"Verify service credentials and roles",
			"Fix permissions, then retry the job",
		},
		userMessage: "The service lacks permission to complete this step. Fix access and retry.",
	},
	{
		category:   domain.CategoryMemoryExceeded,
		substrings: []string{"out of memory", "enomem", "memory limit exceeded"},
		severity:   domain.SeverityCritical,
		retryable:  true,
		strategy: domain.RetryStrategy{
			Kind:         domain.RetryStrategyImmediate,
			MaxRetries:   1,
			InitialDelay: 0,
			MaxDelay:     0,
		},
		suggestedActions: []string{
			"Retry once",
			"Reduce the size of the generation request",
		},
		userMessage: "The generation step ran out of memory. One immediate retry will be attempted.",
	},
}

// unknownRule is the fallback classification when no rule matches.
var unknownRule = rule{
	category:  domain.CategoryUnknown,
	severity:  domain.SeverityMedium,
	retryable: true,
	strategy: domain.RetryStrategy{
		Kind:          domain.RetryStrategyExponential,
		MaxRetries:    2,
		InitialDelay:  1000 * time.Millisecond,
		MaxDelay:      5000 * time.Millisecond,
		BackoffFactor: 2,
	},
	suggestedActions: []string{
		"Retry the job",
		"Check service logs for details",
	},
	userMessage: "An unexpected error interrupted generation. Retrying automatically.",
}
