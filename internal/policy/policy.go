// Package policy loads named safety policies from YAML files and
// applies them to a safety planner. A policy bundles the predicates,
// affordances, guards, fallback blueprints and loop window for one
// class of sessions.
package policy

import (
	"fmt"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/safety"
)

// Blueprint is a declarative action description used for fallback
// lists. Unlike a live action it carries checkbox state and wait
// duration in metadata so policy files stay uniform.
type Blueprint struct {
	ActionType action.Type    `yaml:"action_type" json:"action_type"`
	ElementID  string         `yaml:"element_id,omitempty" json:"element_id,omitempty"`
	Text       string         `yaml:"text,omitempty" json:"text,omitempty"`
	Option     *action.Option `yaml:"option,omitempty" json:"option,omitempty"`
	Reasoning  string         `yaml:"reasoning,omitempty" json:"reasoning,omitempty"`
	Metadata   map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Action converts the blueprint into a runnable action, enforcing the
// per-type required fields. Missing fields are configuration errors
// and surface to the caller instead of being skipped.
func (b Blueprint) Action() (action.Action, error) {
	act := action.Action{
		Type:      b.ActionType,
		ElementID: b.ElementID,
		Text:      b.Text,
		Option:    b.Option,
		Reasoning: b.Reasoning,
	}

	switch b.ActionType {
	case action.TypeCheckbox:
		v, ok := boolValue(b.Metadata["is_checked"])
		if !ok {
			return action.Action{}, fmt.Errorf("checkbox blueprint requires is_checked in metadata")
		}
		act.IsChecked = &v
	case action.TypeWait:
		if secs, ok := intValue(b.Metadata["seconds"]); ok {
			act.Seconds = secs
		}
	}

	if err := act.Validate(); err != nil {
		return action.Action{}, err
	}
	return act, nil
}

// Policy is one named symbolic plan configuration.
type Policy struct {
	Name            string              `yaml:"name" json:"name"`
	Description     string              `yaml:"description,omitempty" json:"description,omitempty"`
	Predicates      []safety.Predicate  `yaml:"predicates,omitempty" json:"predicates,omitempty"`
	Affordances     []safety.Affordance `yaml:"affordances,omitempty" json:"affordances,omitempty"`
	Guards          []safety.Guard      `yaml:"guards,omitempty" json:"guards,omitempty"`
	FallbackActions []Blueprint         `yaml:"fallback_actions,omitempty" json:"fallback_actions,omitempty"`
	LoopWindow      int                 `yaml:"loop_guard_window,omitempty" json:"loop_guard_window,omitempty"`
}

// Validate checks the whole policy for configuration errors: unknown
// predicate or action types, malformed guards, blueprints missing
// their required fields.
func (p *Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy requires a name")
	}

	for i, pred := range p.Predicates {
		if err := validatePredicate(pred); err != nil {
			return fmt.Errorf("predicate %d: %w", i, err)
		}
	}

	for i, aff := range p.Affordances {
		if !action.Known(aff.ActionType) {
			return fmt.Errorf("affordance %d: unknown action type %q", i, aff.ActionType)
		}
		for j, pred := range aff.Preconditions {
			if err := validatePredicate(pred); err != nil {
				return fmt.Errorf("affordance %d precondition %d: %w", i, j, err)
			}
		}
		for j, pred := range aff.Postconditions {
			if err := validatePredicate(pred); err != nil {
				return fmt.Errorf("affordance %d postcondition %d: %w", i, j, err)
			}
		}
	}

	for i, g := range p.Guards {
		if g.Name == "" {
			return fmt.Errorf("guard %d: requires a name", i)
		}
		for j, t := range g.Blocked {
			if !action.Known(t) {
				return fmt.Errorf("guard %q: blocked type %d: unknown action type %q", g.Name, j, t)
			}
		}
		for j, pred := range g.Predicates {
			if err := validatePredicate(pred); err != nil {
				return fmt.Errorf("guard %q predicate %d: %w", g.Name, j, err)
			}
		}
	}

	for i, b := range p.FallbackActions {
		if _, err := b.Action(); err != nil {
			return fmt.Errorf("fallback action %d: %w", i, err)
		}
	}

	if p.LoopWindow < 0 {
		return fmt.Errorf("loop_guard_window must not be negative")
	}
	return nil
}

// Fallback decodes the fallback blueprints into actions.
func (p *Policy) Fallback() ([]action.Action, error) {
	actions := make([]action.Action, 0, len(p.FallbackActions))
	for i, b := range p.FallbackActions {
		act, err := b.Action()
		if err != nil {
			return nil, fmt.Errorf("fallback action %d: %w", i, err)
		}
		actions = append(actions, act)
	}
	return actions, nil
}

// Apply clears the planner and registers everything the policy
// declares. The planner's custom callback table survives so policies
// can reference callbacks registered at startup.
func (p *Policy) Apply(pl *safety.Planner) error {
	fallback, err := p.Fallback()
	if err != nil {
		return err
	}

	pl.Clear()
	for _, pred := range p.Predicates {
		pl.RegisterPredicate(pred)
	}
	for _, aff := range p.Affordances {
		pl.RegisterAffordance(aff)
	}
	for _, g := range p.Guards {
		pl.RegisterGuard(g)
	}
	if p.LoopWindow > 0 {
		pl.SetLoopWindow(p.LoopWindow)
	}
	if len(fallback) > 0 {
		pl.SetFallback(fallback)
	}
	return nil
}

func validatePredicate(pred safety.Predicate) error {
	if !safety.KnownPredicateType(pred.Type) {
		return fmt.Errorf("unknown predicate type %q", pred.Type)
	}
	return nil
}

// boolValue accepts the bool representations YAML and JSON decoding
// produce for metadata values.
func boolValue(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch t {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
