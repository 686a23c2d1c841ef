package types

import (
	"fmt"
	"strings"
)

// Intent is the question category chosen by the router
type Intent int

const (
	IntentRAG Intent = iota
	IntentObjectives
	IntentEligibility
	IntentScheduleOfActivities
	IntentVisitDefinitions
	IntentKeyAssessments

	// NumIntents is the number of defined intents. Keep it last.
	NumIntents
)

// DefaultTopK is the result-size hint used when the router has none
const DefaultTopK = 5

var intentLabels = [NumIntents]string{
	IntentRAG:                  "rag",
	IntentObjectives:           "objectives",
	IntentEligibility:          "eligibility",
	IntentScheduleOfActivities: "soa",
	IntentVisitDefinitions:     "visit_definitions",
	IntentKeyAssessments:       "key_assessments",
}

// String returns the wire label of the intent
func (i Intent) String() string {
	if i < 0 || i >= NumIntents {
		return fmt.Sprintf("intent(%d)", int(i))
	}
	return intentLabels[i]
}

// Valid reports whether i is a defined intent
func (i Intent) Valid() bool {
	return i >= 0 && i < NumIntents
}

// IsExtraction reports whether the intent is served by a structured extractor
func (i Intent) IsExtraction() bool {
	return i.Valid() && i != IntentRAG
}

// ParseIntent maps a wire label to an Intent. Matching ignores case and
// surrounding whitespace.
func ParseIntent(label string) (Intent, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	for i, l := range intentLabels {
		if l == label {
			return Intent(i), nil
		}
	}
	return IntentRAG, fmt.Errorf("%w: %q", ErrUnknownIntent, label)
}

// Intents returns every defined intent in enum order
func Intents() []Intent {
	out := make([]Intent, NumIntents)
	for i := range out {
		out[i] = Intent(i)
	}
	return out
}

// RouteDecision is the router's choice for one question
type RouteDecision struct {
	Intent    Intent
	Reason    string
	TopK      int  // Positive result-size hint
	Defaulted bool // True when the safe default was substituted
}

// DefaultRoute returns the safe fallback decision
func DefaultRoute(reason string) RouteDecision {
	return RouteDecision{
		Intent:    IntentRAG,
		Reason:    reason,
		TopK:      DefaultTopK,
		Defaulted: true,
	}
}
