package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mtzanidakis/epoptis/internal/action"
)

const checkoutPolicy = `name: checkout
description: Guard rails for checkout flows
affordances:
  - action_type: click
    element_id: submit-btn
    priority: 10
    preconditions:
      - predicate_type: element_visible
        target: submit-btn
      - predicate_type: element_enabled
        target: submit-btn
guards:
  - name: payment-page
    message: Terminating on the payment page is not allowed
    predicates:
      - predicate_type: url_pattern
        target: https://shop\.example\.com/pay
    action_types_blocked:
      - terminate
fallback_actions:
  - action_type: wait
    metadata:
      seconds: 10
loop_guard_window: 3
`

func writePolicyFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "checkout.yml", checkoutPolicy)
	writePolicyFile(t, dir, "permissive.yaml", "name: permissive\n")
	writePolicyFile(t, dir, "README.md", "not a policy")

	reg := NewRegistry("default")
	if err := reg.LoadDir(dir); err != nil {
		t.Fatalf("load dir: %v", err)
	}

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 policies, got %d: %v", len(names), names)
	}
	if names[0] != "checkout" || names[1] != "permissive" {
		t.Errorf("unexpected policy names: %v", names)
	}

	p := reg.Get("checkout")
	if p == nil {
		t.Fatal("expected checkout policy to be loaded")
	}
	if len(p.Affordances) != 1 || len(p.Guards) != 1 {
		t.Fatalf("expected 1 affordance and 1 guard, got %d and %d", len(p.Affordances), len(p.Guards))
	}
	if p.Affordances[0].Priority != 10 {
		t.Errorf("expected priority 10, got %d", p.Affordances[0].Priority)
	}
	if p.Guards[0].Blocked[0] != action.TypeTerminate {
		t.Errorf("expected terminate to be blocked, got %v", p.Guards[0].Blocked)
	}
	if p.LoopWindow != 3 {
		t.Errorf("expected loop window 3, got %d", p.LoopWindow)
	}

	fallback, err := p.Fallback()
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if len(fallback) != 1 || fallback[0].Seconds != 10 {
		t.Errorf("expected 10s wait fallback, got %+v", fallback)
	}
}

func TestLoadDirMissing(t *testing.T) {
	reg := NewRegistry("default")
	if err := reg.LoadDir(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("expected missing dir to be tolerated, got %v", err)
	}
	if len(reg.Names()) != 0 {
		t.Errorf("expected no policies, got %v", reg.Names())
	}
}

func TestLoadDirNameFromFilename(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "unnamed.yml", "description: no name field\n")

	reg := NewRegistry("default")
	if err := reg.LoadDir(dir); err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if reg.Get("unnamed") == nil {
		t.Error("expected policy name to default to the file name")
	}
}

func TestLoadDirInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "good.yml", "name: good\n")

	reg := NewRegistry("default")
	if err := reg.LoadDir(dir); err != nil {
		t.Fatalf("load dir: %v", err)
	}

	// A reload with a broken file fails and keeps the previous set.
	bad := t.TempDir()
	writePolicyFile(t, bad, "broken.yml", "name: broken\npredicates:\n  - predicate_type: element_glows\n")
	err := reg.LoadDir(bad)
	if err == nil {
		t.Fatal("expected error for unknown predicate type")
	}
	if !strings.Contains(err.Error(), "broken.yml") {
		t.Errorf("expected error to name the file, got %q", err)
	}
	if reg.Get("good") == nil {
		t.Error("expected previous policies to survive a failed reload")
	}
}

func TestLoadDirDuplicateName(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "a.yml", "name: same\n")
	writePolicyFile(t, dir, "b.yml", "name: same\n")

	reg := NewRegistry("default")
	if err := reg.LoadDir(dir); err == nil {
		t.Fatal("expected error for duplicate policy names")
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "checkout.yml", checkoutPolicy)
	writePolicyFile(t, dir, "default.yml", "name: default\ndescription: site default\n")

	reg := NewRegistry("default")
	if err := reg.LoadDir(dir); err != nil {
		t.Fatalf("load dir: %v", err)
	}

	if p := reg.Resolve("checkout"); p.Name != "checkout" {
		t.Errorf("expected checkout, got %q", p.Name)
	}
	if p := reg.Resolve(""); p.Description != "site default" {
		t.Errorf("expected loaded default policy, got %q", p.Description)
	}
	if p := reg.Resolve("no-such-policy"); p.Description != "site default" {
		t.Errorf("expected fallback to loaded default, got %q", p.Description)
	}
}

func TestResolveBuiltinDefault(t *testing.T) {
	reg := NewRegistry("default")

	p := reg.Resolve("anything")
	if p == nil {
		t.Fatal("resolve must never return nil")
	}
	if len(p.FallbackActions) != 1 || p.FallbackActions[0].ActionType != action.TypeWait {
		t.Errorf("expected built-in default with wait fallback, got %+v", p.FallbackActions)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("built-in default must validate: %v", err)
	}
}

func TestAddValidates(t *testing.T) {
	reg := NewRegistry("default")

	if err := reg.Add(&Policy{Name: "bad", LoopWindow: -2}); err == nil {
		t.Fatal("expected add to validate the policy")
	}
	if err := reg.Add(&Policy{Name: "ok"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if reg.Get("ok") == nil {
		t.Error("expected added policy to be retrievable")
	}
}
