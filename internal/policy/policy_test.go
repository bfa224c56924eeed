package policy

import (
	"strings"
	"testing"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/page"
	"github.com/mtzanidakis/epoptis/internal/safety"
)

func TestBlueprintAction(t *testing.T) {
	tests := []struct {
		name      string
		blueprint Blueprint
		wantErr   string
	}{
		{
			name:      "click",
			blueprint: Blueprint{ActionType: action.TypeClick, ElementID: "btn-1"},
		},
		{
			name:      "click without element",
			blueprint: Blueprint{ActionType: action.TypeClick},
			wantErr:   "element_id",
		},
		{
			name:      "input text",
			blueprint: Blueprint{ActionType: action.TypeInputText, ElementID: "field-1", Text: "hello"},
		},
		{
			name:      "input text without text",
			blueprint: Blueprint{ActionType: action.TypeInputText, ElementID: "field-1"},
			wantErr:   "text",
		},
		{
			name:      "select option",
			blueprint: Blueprint{ActionType: action.TypeSelectOption, ElementID: "sel-1", Option: &action.Option{Label: "Greece"}},
		},
		{
			name:      "select option without option",
			blueprint: Blueprint{ActionType: action.TypeSelectOption, ElementID: "sel-1"},
			wantErr:   "option",
		},
		{
			name:      "checkbox",
			blueprint: Blueprint{ActionType: action.TypeCheckbox, ElementID: "cb-1", Metadata: map[string]any{"is_checked": true}},
		},
		{
			name:      "checkbox without is_checked",
			blueprint: Blueprint{ActionType: action.TypeCheckbox, ElementID: "cb-1"},
			wantErr:   "is_checked",
		},
		{
			name:      "terminate needs nothing",
			blueprint: Blueprint{ActionType: action.TypeTerminate},
		},
		{
			name:      "unknown type",
			blueprint: Blueprint{ActionType: "scroll"},
			wantErr:   "unknown action type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, err := tt.blueprint.Action()
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %q", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if act.Type != tt.blueprint.ActionType {
				t.Errorf("expected type %s, got %s", tt.blueprint.ActionType, act.Type)
			}
		})
	}
}

func TestBlueprintCheckboxState(t *testing.T) {
	b := Blueprint{ActionType: action.TypeCheckbox, ElementID: "cb-1", Metadata: map[string]any{"is_checked": false}}
	act, err := b.Action()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.IsChecked == nil || *act.IsChecked {
		t.Error("expected is_checked false to be preserved")
	}
}

func TestBlueprintWaitSeconds(t *testing.T) {
	b := Blueprint{ActionType: action.TypeWait, Metadata: map[string]any{"seconds": 10}}
	act, err := b.Action()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.Seconds != 10 {
		t.Errorf("expected 10 seconds, got %d", act.Seconds)
	}

	// Without metadata the default applies.
	b = Blueprint{ActionType: action.TypeWait}
	act, err = b.Action()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.Seconds != action.DefaultWaitSeconds {
		t.Errorf("expected default %d seconds, got %d", action.DefaultWaitSeconds, act.Seconds)
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr string
	}{
		{
			name:    "missing name",
			policy:  Policy{},
			wantErr: "requires a name",
		},
		{
			name: "unknown predicate type",
			policy: Policy{
				Name:       "p",
				Predicates: []safety.Predicate{{Type: "element_glows"}},
			},
			wantErr: "unknown predicate type",
		},
		{
			name: "affordance with unknown action type",
			policy: Policy{
				Name:        "p",
				Affordances: []safety.Affordance{{ActionType: "hover"}},
			},
			wantErr: "unknown action type",
		},
		{
			name: "affordance with bad precondition",
			policy: Policy{
				Name: "p",
				Affordances: []safety.Affordance{{
					ActionType:    action.TypeClick,
					Preconditions: []safety.Predicate{{Type: "nope"}},
				}},
			},
			wantErr: "precondition",
		},
		{
			name: "guard without name",
			policy: Policy{
				Name:   "p",
				Guards: []safety.Guard{{}},
			},
			wantErr: "guard 0",
		},
		{
			name: "guard blocking unknown type",
			policy: Policy{
				Name:   "p",
				Guards: []safety.Guard{{Name: "g", Blocked: []action.Type{"hover"}}},
			},
			wantErr: "unknown action type",
		},
		{
			name: "bad fallback blueprint",
			policy: Policy{
				Name:            "p",
				FallbackActions: []Blueprint{{ActionType: action.TypeClick}},
			},
			wantErr: "fallback action 0",
		},
		{
			name: "negative loop window",
			policy: Policy{
				Name:       "p",
				LoopWindow: -1,
			},
			wantErr: "loop_guard_window",
		},
		{
			name: "valid",
			policy: Policy{
				Name: "p",
				Guards: []safety.Guard{{
					Name:       "g",
					Predicates: []safety.Predicate{{Type: safety.PredicateURLPattern, Target: "https://example"}},
					Blocked:    []action.Type{action.TypeTerminate},
				}},
				FallbackActions: []Blueprint{{ActionType: action.TypeWait}},
				LoopWindow:      3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err)
			}
		})
	}
}

func TestApply(t *testing.T) {
	p := &Policy{
		Name: "checkout",
		Guards: []safety.Guard{{
			Name:    "payment-page",
			Message: "No terminating on the payment page",
			Predicates: []safety.Predicate{
				{Type: safety.PredicateURLPattern, Target: `https://shop\.example\.com/pay`},
			},
			Blocked: []action.Type{action.TypeTerminate},
		}},
		FallbackActions: []Blueprint{
			{ActionType: action.TypeWait, Metadata: map[string]any{"seconds": 10}},
		},
		LoopWindow: 3,
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	pl := safety.New()
	if err := p.Apply(pl); err != nil {
		t.Fatalf("apply: %v", err)
	}

	actions := []action.Action{{Type: action.TypeTerminate}}
	result := pl.ValidateAndFilter(actions, nil, "https://shop.example.com/pay/confirm", "task-1")
	if result.Valid {
		t.Fatal("expected terminate to be blocked by the applied guard")
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("expected 1 rejected action, got %d", len(result.Rejected))
	}
	if result.Rejected[0].Reason != "No terminating on the payment page" {
		t.Errorf("unexpected rejection reason: %q", result.Rejected[0].Reason)
	}

	// Exhaustion converges on the policy's fallback.
	final := pl.ReconcileWithFallback(result, nil)
	if len(final) != 1 {
		t.Fatalf("expected 1 fallback action, got %d", len(final))
	}
	if final[0].Type != action.TypeWait || final[0].Seconds != 10 {
		t.Errorf("expected 10s wait fallback, got %+v", final[0])
	}
}

func TestApplyKeepsCustomCallbacks(t *testing.T) {
	pl := safety.New()
	pl.RegisterCustomFunc("maintenance_banner", func(snap *page.Snapshot, currentURL string) bool {
		return snap != nil && snap.Find("banner-1") != nil
	})

	p := &Policy{
		Name: "maintenance",
		Guards: []safety.Guard{{
			Name: "maintenance-freeze",
			Predicates: []safety.Predicate{
				{Type: safety.PredicateCustom, Target: "maintenance_banner"},
			},
			Blocked: []action.Type{action.TypeClick},
		}},
	}
	if err := p.Apply(pl); err != nil {
		t.Fatalf("apply: %v", err)
	}

	snap := &page.Snapshot{Elements: []page.Element{{ID: "banner-1", Tag: "div"}}}
	actions := []action.Action{{Type: action.TypeClick, ElementID: "btn-1"}}
	result := pl.ValidateAndFilter(actions, snap, "https://example.com", "")
	if result.Valid {
		t.Fatal("expected click to be blocked while the custom predicate holds")
	}
}

func TestApplyRejectsBadFallback(t *testing.T) {
	pl := safety.New()
	pl.RegisterGuard(safety.Guard{Name: "keep-me", Blocked: []action.Type{action.TypeTerminate}})

	p := &Policy{
		Name:            "broken",
		FallbackActions: []Blueprint{{ActionType: action.TypeClick}},
	}
	if err := p.Apply(pl); err == nil {
		t.Fatal("expected apply to fail on an undecodable fallback")
	}

	// The failed apply must not have cleared the planner.
	result := pl.ValidateAndFilter([]action.Action{{Type: action.TypeTerminate}}, nil, "", "")
	if result.Valid {
		t.Fatal("expected existing guard to survive a failed apply")
	}
}
