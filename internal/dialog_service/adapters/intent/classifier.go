// Package intent adapts the external intent classification collaborator. The
// dialog engine consumes raw text plus an intent label and confidence; how the
// label is produced is this package's concern.
package intent

import (
	"context"
	"strings"
)

// Intent is a coarse label over a user utterance.
type Intent string

const (
	IntentBooking Intent = "booking"
	IntentConfirm Intent = "confirm"
	IntentChange  Intent = "change"
	IntentCancel  Intent = "cancel"
	IntentUnknown Intent = "unknown"
)

// Classifier maps free text to an intent label with a confidence in [0,1].
type Classifier interface {
	Classify(ctx context.Context, text string) (Intent, float64, error)
}

// KeywordClassifier is the default, dependency-free classifier. A hosted NLP
// model can replace it behind the same interface.
type KeywordClassifier struct{}

// NewKeywordClassifier creates a KeywordClassifier.
func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

var keywordIntents = []struct {
	intent   Intent
	keywords []string
}{
	{IntentCancel, []string{"cancel", "stop", "nevermind", "never mind", "forget it"}},
	{IntentConfirm, []string{"confirm", "yes", "yep", "yeah", "ok", "okay", "sure", "correct"}},
	{IntentChange, []string{"change", "no", "different", "another time", "reschedule"}},
	{IntentBooking, []string{"book", "booking", "appointment", "reserve", "reservation", "schedule"}},
}

// Classify matches normalized text against keyword lists. Whole-word confirm
// keywords avoid "yesterday" counting as an affirmation.
func (c *KeywordClassifier) Classify(ctx context.Context, text string) (Intent, float64, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(normalized)

	for _, entry := range keywordIntents {
		for _, kw := range entry.keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(normalized, kw) {
					return entry.intent, 0.9, nil
				}
				continue
			}
			for _, w := range words {
				if strings.Trim(w, ".,!?") == kw {
					return entry.intent, 0.9, nil
				}
			}
		}
	}
	return IntentUnknown, 0.0, nil
}
