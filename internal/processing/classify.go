package processing

import "strings"

// Outcome is the classification of a remote status string.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// Default vocabularies, matched as case-insensitive substrings.
var (
	DefaultSuccessStatuses = []string{"Concluido", "Concluído", "Concluded", "Success", "Completed"}
	DefaultErrorStatuses   = []string{"Erro", "Error", "Failed", "Rejected"}
)

// Classifier maps remote status strings to outcomes. Success terms are
// checked before error terms.
type Classifier struct {
	success []string
	failure []string
}

// NewClassifier builds a Classifier. Empty lists select the defaults.
func NewClassifier(success, failure []string) *Classifier {
	if len(success) == 0 {
		success = DefaultSuccessStatuses
	}
	if len(failure) == 0 {
		failure = DefaultErrorStatuses
	}
	return &Classifier{success: lowerAll(success), failure: lowerAll(failure)}
}

// Classify returns the outcome for status.
func (c *Classifier) Classify(status string) Outcome {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return OutcomePending
	}
	if containsAny(s, c.success) {
		return OutcomeSuccess
	}
	if containsAny(s, c.failure) {
		return OutcomeFailure
	}
	return OutcomePending
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
