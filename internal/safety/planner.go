package safety

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/page"
)

// Rejection pairs a rejected action with the reason it was blocked.
type Rejection struct {
	Action action.Action `json:"action"`
	Reason string        `json:"reason"`
}

// ValidationResult is the outcome of one validate-and-filter pass. A
// pass that rejects everything is not an error: Valid is false and the
// caller converges through ReconcileWithFallback.
type ValidationResult struct {
	Valid    bool            `json:"valid"`
	Filtered []action.Action `json:"filtered_actions"`
	Rejected []Rejection     `json:"rejected_actions"`
	Warnings []string        `json:"warnings"`
	Audit    map[string]any  `json:"audit_data"`
}

// Planner gates proposed actions through registered guards and
// affordances. It is not safe for concurrent use; callers serialize
// access per session.
type Planner struct {
	predicates  []Predicate
	affordances []Affordance
	guards      []Guard
	customs     map[string]CustomFunc
	fallback    []action.Action
	loops       loopDetector
}

// New returns an empty planner with the default loop detection window.
func New() *Planner {
	return &Planner{
		customs: make(map[string]CustomFunc),
		loops:   loopDetector{window: DefaultLoopWindow},
	}
}

// RegisterPredicate keeps a reusable predicate definition. Guards and
// affordances embed their own predicates; this registry only carries
// definitions loaded from configuration.
func (p *Planner) RegisterPredicate(pred Predicate) {
	p.predicates = append(p.predicates, pred)
}

// RegisterAffordance adds an affordance. Registration order breaks
// priority ties.
func (p *Planner) RegisterAffordance(a Affordance) {
	p.affordances = append(p.affordances, a)
	slog.Debug("registered affordance", "action_type", a.ActionType, "element_id", a.ElementID)
}

// RegisterGuard adds a guard.
func (p *Planner) RegisterGuard(g Guard) {
	p.guards = append(p.guards, g)
	slog.Debug("registered guard", "name", g.Name)
}

// RegisterCustomFunc binds a custom predicate callback to a name.
// Custom predicates reference it via Metadata["callback"] or Target.
func (p *Planner) RegisterCustomFunc(name string, fn CustomFunc) {
	p.customs[name] = fn
}

// SetLoopWindow overrides the loop detection window. Zero or negative
// disables detection.
func (p *Planner) SetLoopWindow(n int) {
	p.loops.window = n
}

// SetFallback configures the default fallback actions returned when
// validation leaves nothing to run.
func (p *Planner) SetFallback(actions []action.Action) {
	p.fallback = actions
}

// Clear drops registered predicates, affordances, guards, fallback
// actions and the loop history. The custom callback table and the loop
// window survive so a reloaded configuration can reuse them.
func (p *Planner) Clear() {
	p.predicates = nil
	p.affordances = nil
	p.guards = nil
	p.fallback = nil
	p.loops.reset()
}

// ValidateAndFilter runs every action through the guard and affordance
// registries and splits the list into accepted and rejected actions.
// taskID is optional and only recorded in the audit data.
func (p *Planner) ValidateAndFilter(actions []action.Action, snap *page.Snapshot, currentURL, taskID string) ValidationResult {
	filtered := make([]action.Action, 0, len(actions))
	rejected := make([]Rejection, 0)
	warnings := make([]string, 0)

	var taskRef any
	if taskID != "" {
		taskRef = taskID
	}
	audit := map[string]any{
		"total_actions":       len(actions),
		"affordances_checked": len(p.affordances),
		"guards_checked":      len(p.guards),
		"task_id":             taskRef,
	}

	slog.Info("plan validation started",
		"task", taskID,
		"actions", len(actions),
		"affordances", len(p.affordances),
		"guards", len(p.guards))

	for _, act := range actions {
		if reason, blocked := p.blockedByGuard(act, snap, currentURL); blocked {
			rejected = append(rejected, Rejection{Action: act, Reason: reason})
			continue
		}

		if len(p.affordances) == 0 {
			filtered = append(filtered, act)
			continue
		}

		matching := p.matchingAffordances(act)
		if len(matching) == 0 {
			warnings = append(warnings, fmt.Sprintf("No affordance registered for action %s", act.Type))
			filtered = append(filtered, act)
			continue
		}

		selected := matching[0]
		if selected.CanExecute(snap, currentURL, p.customs) {
			filtered = append(filtered, act)
		} else {
			rejected = append(rejected, Rejection{Action: act, Reason: selected.failureReason()})
			slog.Warn("affordance preconditions failed", "action_type", act.Type, "element_id", act.ElementID)
		}
	}

	if warning := p.loops.observe(filtered); warning != "" {
		warnings = append(warnings, warning)
	}

	audit["filtered_actions"] = len(filtered)
	audit["rejected_actions"] = len(rejected)
	audit["warnings"] = warnings

	valid := len(filtered) > 0
	slog.Info("plan validation completed",
		"valid", valid,
		"filtered", len(filtered),
		"rejected", len(rejected),
		"warnings", len(warnings))

	return ValidationResult{
		Valid:    valid,
		Filtered: filtered,
		Rejected: rejected,
		Warnings: warnings,
		Audit:    audit,
	}
}

func (p *Planner) blockedByGuard(act action.Action, snap *page.Snapshot, currentURL string) (string, bool) {
	for _, g := range p.guards {
		if g.Active(snap, currentURL, p.customs) && g.Blocks(act.Type) {
			slog.Warn("action blocked by guard", "guard", g.Name, "action_type", act.Type, "element_id", act.ElementID)
			return g.reason(), true
		}
	}
	return "", false
}

// matchingAffordances returns the affordances covering act, best
// priority first. The sort is stable so equal priorities keep
// registration order.
func (p *Planner) matchingAffordances(act action.Action) []Affordance {
	var matching []Affordance
	for _, a := range p.affordances {
		if a.Matches(act) {
			matching = append(matching, a)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Priority > matching[j].Priority
	})
	return matching
}

// ReconcileWithFallback is the single convergence point for "nothing is
// safe to do": validated actions pass through unchanged, otherwise the
// caller-supplied fallback wins over the configured one, and an empty
// result means stop.
func (p *Planner) ReconcileWithFallback(result ValidationResult, fallback []action.Action) []action.Action {
	if result.Valid && len(result.Filtered) > 0 {
		slog.Info("using validated actions", "count", len(result.Filtered))
		return result.Filtered
	}

	slog.Warn("plan validation failed", "rejected", len(result.Rejected), "warnings", len(result.Warnings))

	if len(fallback) > 0 {
		slog.Info("using provided fallback actions", "count", len(fallback))
		return fallback
	}
	if len(p.fallback) > 0 {
		slog.Info("using configured fallback actions", "count", len(p.fallback))
		return p.fallback
	}

	slog.Warn("no fallback actions available")
	return nil
}

var textInputTypes = map[string]bool{
	"text":     true,
	"email":    true,
	"password": true,
	"tel":      true,
	"search":   true,
	"url":      true,
}

// ExtractAffordances synthesizes affordances from the snapshot:
// clickable elements allow click, text-like inputs allow input_text and
// selects allow select_option, each gated on visible and enabled. This
// is a convenience default, not a substitute for configured affordances.
func (p *Planner) ExtractAffordances(snap *page.Snapshot) []Affordance {
	var affordances []Affordance
	if snap == nil || len(snap.Elements) == 0 {
		return affordances
	}

	for i := range snap.Elements {
		el := &snap.Elements[i]
		if el.ID == "" {
			continue
		}
		tag := strings.ToLower(el.Tag)

		onclick, _ := el.Attr("onclick")
		if tag == "button" || tag == "a" || attrPresent(onclick) {
			affordances = append(affordances, Affordance{
				ActionType:    action.TypeClick,
				ElementID:     el.ID,
				Preconditions: interactablePreconditions(el.ID),
			})
		}

		if tag == "input" || tag == "textarea" {
			inputType := strings.ToLower(el.StringAttr("type"))
			if inputType == "" {
				inputType = "text"
			}
			if textInputTypes[inputType] {
				affordances = append(affordances, Affordance{
					ActionType:    action.TypeInputText,
					ElementID:     el.ID,
					Preconditions: interactablePreconditions(el.ID),
				})
			}
		}

		if tag == "select" {
			affordances = append(affordances, Affordance{
				ActionType:    action.TypeSelectOption,
				ElementID:     el.ID,
				Preconditions: interactablePreconditions(el.ID),
			})
		}
	}

	slog.Debug("extracted affordances from page", "count", len(affordances))
	return affordances
}

func interactablePreconditions(elementID string) []Predicate {
	return []Predicate{
		{Type: PredicateElementVisible, Target: elementID},
		{Type: PredicateElementEnabled, Target: elementID},
	}
}

// attrPresent mirrors attribute truthiness for values decoded from
// JSON: empty strings and false do not count as set.
func attrPresent(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	default:
		return true
	}
}

// ExportAuditLog renders the validation result and the active registry
// as indented JSON for audit storage.
func (p *Planner) ExportAuditLog(result ValidationResult) (string, error) {
	rejected := make([]map[string]any, 0, len(result.Rejected))
	for _, r := range result.Rejected {
		var elementID any
		if r.Action.ElementID != "" {
			elementID = r.Action.ElementID
		}
		rejected = append(rejected, map[string]any{
			"action_type": string(r.Action.Type),
			"element_id":  elementID,
			"reason":      r.Reason,
		})
	}

	entry := map[string]any{
		"validation_result": map[string]any{
			"valid":                  result.Valid,
			"filtered_actions_count": len(result.Filtered),
			"rejected_actions_count": len(result.Rejected),
			"warnings":               result.Warnings,
		},
		"rejected_actions": rejected,
		"audit_data":       result.Audit,
		"affordances":      p.affordances,
		"guards":           p.guards,
	}

	out, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit log: %w", err)
	}
	return string(out), nil
}
