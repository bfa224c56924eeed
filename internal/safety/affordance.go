package safety

import (
	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/page"
)

// Affordance declares that an action type is available, optionally
// bound to one element, and under which preconditions it may run. When
// several affordances match the same action, the highest priority wins;
// ties keep registration order.
type Affordance struct {
	ActionType     action.Type    `json:"action_type" yaml:"action_type"`
	ElementID      string         `json:"element_id,omitempty" yaml:"element_id,omitempty"`
	Preconditions  []Predicate    `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	Postconditions []Predicate    `json:"postconditions,omitempty" yaml:"postconditions,omitempty"`
	Priority       int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Matches reports whether the affordance applies to the action. An
// affordance without an element id covers every element.
func (a Affordance) Matches(act action.Action) bool {
	if a.ActionType != act.Type {
		return false
	}
	return a.ElementID == "" || a.ElementID == act.ElementID
}

// CanExecute reports whether every precondition holds. No preconditions
// means always executable.
func (a Affordance) CanExecute(snap *page.Snapshot, currentURL string, customs map[string]CustomFunc) bool {
	for _, pred := range a.Preconditions {
		if !pred.Evaluate(snap, currentURL, customs) {
			return false
		}
	}
	return true
}

func (a Affordance) failureReason() string {
	if reason, ok := a.Metadata["failure_reason"].(string); ok && reason != "" {
		return reason
	}
	return "Affordance preconditions not met"
}
