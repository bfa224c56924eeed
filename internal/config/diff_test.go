package config

import (
	"testing"
	"time"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := &Config{
		LogLevel: "info",
		Swarm:    SwarmConfig{Enabled: true, HistorySize: 1000},
		Policy:   PolicyConfig{Dir: "policies", Default: "default"},
	}
	d := Diff(cfg, cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
	if len(d.NonReloadable) != 0 {
		t.Errorf("expected no non-reloadable warnings, got %v", d.NonReloadable)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	old := &Config{LogLevel: "info"}
	new := &Config{LogLevel: "debug"}
	d := Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected log level changed")
	}
	if d.NewLogLevel != "debug" {
		t.Errorf("expected debug, got %s", d.NewLogLevel)
	}
}

func TestDiff_SwarmChanged(t *testing.T) {
	old := &Config{Swarm: SwarmConfig{Enabled: true, HistorySize: 1000}}
	new := &Config{Swarm: SwarmConfig{Enabled: false, HistorySize: 1000}}
	d := Diff(old, new)
	if !d.SwarmChanged {
		t.Error("expected swarm changed")
	}
	if d.NewSwarm.Enabled {
		t.Error("expected new swarm disabled")
	}
}

func TestDiff_DebugFoldsIntoSwarm(t *testing.T) {
	old := &Config{Debug: false}
	new := &Config{Debug: true}
	d := Diff(old, new)
	if !d.SwarmChanged {
		t.Error("expected debug flip to mark swarm changed")
	}
}

func TestDiff_PolicyChanged(t *testing.T) {
	old := &Config{Policy: PolicyConfig{Dir: "policies", Default: "default"}}
	new := &Config{Policy: PolicyConfig{Dir: "policies", Default: "strict"}}
	d := Diff(old, new)
	if !d.PolicyChanged {
		t.Error("expected policy changed")
	}
	if d.NewPolicy.Default != "strict" {
		t.Errorf("expected strict, got %s", d.NewPolicy.Default)
	}
}

func TestDiff_SchedulerChanged(t *testing.T) {
	old := &Config{Scheduler: SchedulerConfig{PollInterval: 30 * time.Second}}
	new := &Config{Scheduler: SchedulerConfig{PollInterval: 60 * time.Second}}
	d := Diff(old, new)
	if !d.SchedulerChanged {
		t.Error("expected scheduler changed")
	}
	if d.NewScheduler.PollInterval != 60*time.Second {
		t.Errorf("expected new poll interval 60s, got %v", d.NewScheduler.PollInterval)
	}
}

func TestDiff_AuditRetentionChanged(t *testing.T) {
	old := &Config{Scheduler: SchedulerConfig{PollInterval: 30 * time.Second}}
	new := &Config{Scheduler: SchedulerConfig{PollInterval: 30 * time.Second, AuditRetention: 24 * time.Hour}}
	d := Diff(old, new)
	if !d.SchedulerChanged {
		t.Error("expected retention change to mark scheduler changed")
	}
	if d.NewScheduler.AuditRetention != 24*time.Hour {
		t.Errorf("expected new retention 24h, got %v", d.NewScheduler.AuditRetention)
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := &Config{
		Web:   WebConfig{ListenAddr: ":8080"},
		Store: StoreConfig{Path: "data/epoptis.db"},
	}
	new := &Config{
		Web:   WebConfig{ListenAddr: ":9090"},
		Store: StoreConfig{Path: "/elsewhere/epoptis.db"},
	}
	d := Diff(old, new)
	if len(d.NonReloadable) != 2 {
		t.Errorf("expected 2 non-reloadable warnings, got %v", d.NonReloadable)
	}
	if d.HasChanges() {
		t.Error("non-reloadable fields must not count as changes")
	}
}
