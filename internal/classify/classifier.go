// Package classify maps raised failures to a fixed error taxonomy.
//
// Classification is driven by an ordered rule table evaluated top-down
// with first-match-wins semantics so the taxonomy stays auditable and
// independently testable. Classify is pure: it never returns an error
// and always falls back to the unknown classification.
package classify

import (
	"strings"

	"github.com/dbawebdesign/lailms/internal/domain"
)

// Classification is the structured verdict on a raised failure.
type Classification struct {
	Category         domain.ErrorCategory `json:"category"`
	Severity         domain.ErrorSeverity `json:"severity"`
	Retryable        bool                 `json:"is_retryable"`
	Strategy         domain.RetryStrategy `json:"retry_strategy"`
	SuggestedActions []string             `json:"suggested_actions"`
	UserMessage      string               `json:"user_message"`
	TechnicalDetails string               `json:"technical_details,omitempty"`
}

// Classify evaluates the rule table against the error's message and
// returns the first matching classification. Context keys are carried
// through untouched for the caller to persist alongside the record.
func Classify(err error, context map[string]any) Classification {
	if err == nil {
		return classificationFor(unknownRule, "")
	}

	message := err.Error()
	lowered := strings.ToLower(message)

	for _, rule := range rules {
		if rule.matches(lowered) {
			return classificationFor(rule, message)
		}
	}

	return classificationFor(unknownRule, message)
}

// ForCategory returns the canonical classification payload for a
// category, without any technical details. Used to re-derive user
// messages from persisted error records.
func ForCategory(category domain.ErrorCategory) Classification {
	for _, rule := range rules {
		if rule.category == category {
			return classificationFor(rule, "")
		}
	}
	return classificationFor(unknownRule, "")
}

func classificationFor(r rule, rawMessage string) Classification {
	actions := make([]string, len(r.suggestedActions))
	copy(actions, r.suggestedActions)

	return Classification{
		Category:         r.category,
		Severity:         r.severity,
		Retryable:        r.retryable,
		Strategy:         r.strategy,
		SuggestedActions: actions,
		UserMessage:      r.userMessage,
		TechnicalDetails: rawMessage,
	}
}
