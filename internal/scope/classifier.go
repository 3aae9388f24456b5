// Package scope decides whether a learner's question belongs to the active
// chapter, and produces canned redirect replies when it does not.
//
// Both functions here are pure and total: they make no external calls and
// never fail. Together they form the admission-control gate that runs before
// any paid backend call.
package scope

import (
	"fmt"
	"strings"

	"github.com/brightpath-ai/tutor/internal/curriculum"
)

// Threshold is the minimum confidence for a question to count as in scope.
// A tuned policy constant, not a derived value; changing it changes which
// questions reach the paid generation path.
const Threshold = 0.3

// Decision is the outcome of classifying one question against a chapter.
type Decision struct {
	// InScope reports whether the question should be answered by the
	// generation service.
	InScope bool

	// Confidence is in [0, 1]. Zero means no keyword matched at all.
	Confidence float64

	// Reason is a human-readable explanation, recorded on the session
	// message for later inspection.
	Reason string

	// Matched lists the chapter keywords found in the question, in keyword
	// list order.
	Matched []string
}

// Classify gates a question against the chapter's keyword list.
//
// Each keyword that appears as a case-insensitive substring of the question
// counts as a match. Confidence is matchCount scaled against a tenth of the
// keyword list size and clamped to 1, so a single match against a short list
// is already a strong signal. False negatives are accepted; the gate exists
// to keep obviously unrelated questions away from the paid model.
func Classify(question string, chapter *curriculum.Chapter) Decision {
	keywords := chapter.Content.Keywords
	lower := strings.ToLower(question)

	var matched []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}

	if len(matched) == 0 {
		return Decision{
			InScope:    false,
			Confidence: 0,
			Reason:     "no keyword match",
		}
	}

	denom := float64(len(keywords)) * 0.1
	if denom < 1 {
		denom = 1
	}
	confidence := float64(len(matched)) / denom
	if confidence > 1 {
		confidence = 1
	}

	if confidence < Threshold {
		return Decision{
			InScope:    false,
			Confidence: confidence,
			Reason:     fmt.Sprintf("low keyword match (%s)", strings.Join(matched, ", ")),
			Matched:    matched,
		}
	}

	return Decision{
		InScope:    true,
		Confidence: confidence,
		Reason:     fmt.Sprintf("matched keywords: %s", strings.Join(matched, ", ")),
		Matched:    matched,
	}
}
