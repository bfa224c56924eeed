package safety

import (
	"fmt"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/page"
)

// Guard blocks a set of action types while its predicates hold. A guard
// with no predicates is always active.
type Guard struct {
	Name       string        `json:"name" yaml:"name"`
	Predicates []Predicate   `json:"predicates,omitempty" yaml:"predicates,omitempty"`
	Blocked    []action.Type `json:"action_types_blocked,omitempty" yaml:"action_types_blocked,omitempty"`
	Message    string        `json:"message,omitempty" yaml:"message,omitempty"`
}

// Active reports whether every guard predicate holds.
func (g Guard) Active(snap *page.Snapshot, currentURL string, customs map[string]CustomFunc) bool {
	for _, pred := range g.Predicates {
		if !pred.Evaluate(snap, currentURL, customs) {
			return false
		}
	}
	return true
}

// Blocks reports whether the guard covers the given action type.
func (g Guard) Blocks(t action.Type) bool {
	for _, blocked := range g.Blocked {
		if t == blocked {
			return true
		}
	}
	return false
}

func (g Guard) reason() string {
	if g.Message != "" {
		return g.Message
	}
	return fmt.Sprintf("Guard '%s' blocked action", g.Name)
}
