// Package safety implements the symbolic side of hybrid planning: a
// registry of predicates, affordances and guards evaluated against page
// snapshots to filter proposed actions before anything touches the page.
package safety

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mtzanidakis/epoptis/internal/page"
)

// PredicateType selects the evaluation rule for a predicate.
type PredicateType string

const (
	PredicateElementExists       PredicateType = "element_exists"
	PredicateElementVisible      PredicateType = "element_visible"
	PredicateElementEnabled      PredicateType = "element_enabled"
	PredicateURLPattern          PredicateType = "url_pattern"
	PredicateElementCount        PredicateType = "element_count"
	PredicateElementTextContains PredicateType = "element_text_contains"
	PredicateCustom              PredicateType = "custom"
)

var knownPredicateTypes = map[PredicateType]bool{
	PredicateElementExists:       true,
	PredicateElementVisible:      true,
	PredicateElementEnabled:      true,
	PredicateURLPattern:          true,
	PredicateElementCount:        true,
	PredicateElementTextContains: true,
	PredicateCustom:              true,
}

// KnownPredicateType reports whether t is a supported predicate type.
func KnownPredicateType(t PredicateType) bool {
	return knownPredicateTypes[t]
}

// Operator is carried for compound predicate expressions. Leaf
// evaluation ignores it.
type Operator string

const (
	OpAnd     Operator = "and"
	OpOr      Operator = "or"
	OpNot     Operator = "not"
	OpImplies Operator = "implies"
)

// CustomFunc evaluates a custom predicate against the current page
// state. Implementations must be pure and side-effect free.
type CustomFunc func(snap *page.Snapshot, currentURL string) bool

// Predicate is a single condition on the current page state. Evaluation
// fails closed: missing elements, nil snapshots and malformed patterns
// all evaluate to false, never to an error.
type Predicate struct {
	Type     PredicateType  `json:"predicate_type" yaml:"predicate_type"`
	Target   string         `json:"target,omitempty" yaml:"target,omitempty"`
	Expected any            `json:"expected_value,omitempty" yaml:"expected_value,omitempty"`
	Operator Operator       `json:"operator,omitempty" yaml:"operator,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Evaluate reports whether the predicate holds for the given snapshot
// and URL. Custom predicates resolve their callback from customs by the
// name in Metadata["callback"], falling back to Target.
func (p Predicate) Evaluate(snap *page.Snapshot, currentURL string, customs map[string]CustomFunc) bool {
	if p.Type == PredicateURLPattern {
		if currentURL == "" || p.Target == "" {
			return false
		}
		// Anchored at the start of the URL, not a full match.
		re, err := regexp.Compile("^(?:" + p.Target + ")")
		if err != nil {
			slog.Warn("invalid url pattern", "pattern", p.Target, "error", err)
			return false
		}
		return re.MatchString(currentURL)
	}

	if snap == nil || len(snap.Elements) == 0 {
		return false
	}

	switch p.Type {
	case PredicateElementExists:
		return snap.Find(p.Target) != nil

	case PredicateElementVisible:
		el := snap.Find(p.Target)
		if el == nil {
			return false
		}
		style := strings.ReplaceAll(el.StringAttr("style"), " ", "")
		return !strings.Contains(style, "display:none") && !strings.Contains(style, "visibility:hidden")

	case PredicateElementEnabled:
		el := snap.Find(p.Target)
		if el == nil {
			return false
		}
		disabled, _ := el.Attr("disabled")
		switch disabled {
		case true, "true", "disabled":
			return false
		}
		return true

	case PredicateElementCount:
		count := snap.Count(p.Target)
		if p.Expected != nil {
			want, ok := intValue(p.Expected)
			return ok && count == want
		}
		return count > 0

	case PredicateElementTextContains:
		el := snap.Find(p.Target)
		if el == nil {
			return false
		}
		return strings.Contains(el.Text, stringValue(p.Expected))

	case PredicateCustom:
		name, _ := p.Metadata["callback"].(string)
		if name == "" {
			name = p.Target
		}
		fn, ok := customs[name]
		if !ok || fn == nil {
			slog.Warn("custom predicate has no registered callback", "name", name)
			return false
		}
		return callCustom(fn, snap, currentURL)
	}

	slog.Debug("unknown predicate type", "type", p.Type)
	return false
}

// callCustom contains panics from registered callbacks so custom
// predicate evaluation fails closed.
func callCustom(fn CustomFunc, snap *page.Snapshot, currentURL string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("custom predicate panicked", "error", r)
			ok = false
		}
	}()
	return fn(snap, currentURL)
}

// intValue converts JSON and YAML number representations to int. A
// fractional float never equals an element count.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
