package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     string

	SwarmChanged bool
	NewSwarm     SwarmConfig

	PolicyChanged bool
	NewPolicy     PolicyConfig

	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged ||
		d.SwarmChanged ||
		d.PolicyChanged ||
		d.SchedulerChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	// Log level
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	// Swarm flags; debug folds in because it feeds SwarmAllowed
	if old.Debug != new.Debug || !reflect.DeepEqual(old.Swarm, new.Swarm) {
		d.SwarmChanged = true
		d.NewSwarm = new.Swarm
	}

	// Policy source
	if !reflect.DeepEqual(old.Policy, new.Policy) {
		d.PolicyChanged = true
		d.NewPolicy = new.Policy
	}

	// Scheduler
	if old.Scheduler != new.Scheduler {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	// Non-reloadable warnings
	if old.DataDir != new.DataDir {
		d.NonReloadable = append(d.NonReloadable, "data_dir")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Web.ListenAddr != new.Web.ListenAddr {
		d.NonReloadable = append(d.NonReloadable, "web.listen_addr")
	}
	if !reflect.DeepEqual(old.NATS, new.NATS) {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}
