package action

import (
	"encoding/json"
	"fmt"
)

// Type identifies what an action does to the page.
type Type string

const (
	TypeClick        Type = "click"
	TypeInputText    Type = "input_text"
	TypeSelectOption Type = "select_option"
	TypeCheckbox     Type = "checkbox"
	TypeWait         Type = "wait"
	TypeNull         Type = "null_action"
	TypeTerminate    Type = "terminate"
	TypeComplete     Type = "complete"
	TypeReloadPage   Type = "reload_page"
)

var knownTypes = map[Type]bool{
	TypeClick:        true,
	TypeInputText:    true,
	TypeSelectOption: true,
	TypeCheckbox:     true,
	TypeWait:         true,
	TypeNull:         true,
	TypeTerminate:    true,
	TypeComplete:     true,
	TypeReloadPage:   true,
}

// Known reports whether t is a recognized action type.
func Known(t Type) bool {
	return knownTypes[t]
}

// Option is the target of a select_option action. Index is used when
// Label and Value are both empty.
type Option struct {
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	Index int    `json:"index,omitempty" yaml:"index,omitempty"`
}

// Action is one candidate operation against the page. ElementID is
// empty for actions that do not target a specific element
// (wait, terminate, complete, reload_page).
type Action struct {
	Type       Type           `json:"action_type" yaml:"action_type"`
	ElementID  string         `json:"element_id,omitempty" yaml:"element_id,omitempty"`
	Text       string         `json:"text,omitempty" yaml:"text,omitempty"`
	Option     *Option        `json:"option,omitempty" yaml:"option,omitempty"`
	IsChecked  *bool          `json:"is_checked,omitempty" yaml:"is_checked,omitempty"`
	Seconds    int            `json:"seconds,omitempty" yaml:"seconds,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Confidence float64        `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Data       map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// DefaultWaitSeconds is applied when a wait action omits its duration.
const DefaultWaitSeconds = 5

// Validate checks the per-type required fields. Actions decoded from
// policy blueprints or API payloads go through this before they reach
// the safety planner.
func (a *Action) Validate() error {
	if !Known(a.Type) {
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	switch a.Type {
	case TypeClick:
		if a.ElementID == "" {
			return fmt.Errorf("click action requires element_id")
		}
	case TypeInputText:
		if a.ElementID == "" {
			return fmt.Errorf("input_text action requires element_id")
		}
		if a.Text == "" {
			return fmt.Errorf("input_text action requires text")
		}
	case TypeSelectOption:
		if a.ElementID == "" {
			return fmt.Errorf("select_option action requires element_id")
		}
		if a.Option == nil {
			return fmt.Errorf("select_option action requires option")
		}
	case TypeCheckbox:
		if a.ElementID == "" {
			return fmt.Errorf("checkbox action requires element_id")
		}
		if a.IsChecked == nil {
			return fmt.Errorf("checkbox action requires is_checked")
		}
	case TypeWait:
		if a.Seconds <= 0 {
			a.Seconds = DefaultWaitSeconds
		}
	}
	return nil
}

// String renders the action for plan steps and log lines.
func (a Action) String() string {
	switch {
	case a.ElementID != "" && a.Text != "":
		return fmt.Sprintf("%s %q on element %s", a.Type, a.Text, a.ElementID)
	case a.ElementID != "":
		return fmt.Sprintf("%s on element %s", a.Type, a.ElementID)
	default:
		return string(a.Type)
	}
}

// Key returns the (element, type) pair used by loop detection.
// Element-less actions group under "global".
func (a *Action) Key() (string, Type) {
	if a.ElementID == "" {
		return "global", a.Type
	}
	return a.ElementID, a.Type
}

// MarshalData serializes the action for message payloads and audit
// records.
func (a *Action) MarshalData() map[string]any {
	raw, err := json.Marshal(a)
	if err != nil {
		return map[string]any{"action_type": string(a.Type)}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"action_type": string(a.Type)}
	}
	return m
}
