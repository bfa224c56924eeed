package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/epoptis/internal/config"
	"github.com/mtzanidakis/epoptis/internal/messaging"
	"github.com/mtzanidakis/epoptis/internal/natsbridge"
	"github.com/mtzanidakis/epoptis/internal/policy"
	"github.com/mtzanidakis/epoptis/internal/runner"
	"github.com/mtzanidakis/epoptis/internal/scheduler"
	"github.com/mtzanidakis/epoptis/internal/store"
	"github.com/mtzanidakis/epoptis/internal/web"
)

var version = "dev"

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("daemon failed", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("epoptis %s\n", version)
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "watch":
		if err := runWatch(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: epoptis [command]

Commands:
  serve      Start the epoptis daemon (default)
  version    Print version
  backup     Archive the data and policy directories
  restore    Restore a backup archive
  vault      Manage encrypted secrets
  watch      Tail swarm traffic from the NATS mirror
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	slog.Info("starting epoptis daemon", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// In-process message bus
	bus := messaging.New(cfg.Swarm.HistorySize)

	// Safety policies
	policies := policy.NewRegistry(cfg.Policy.Default)
	if err := policies.LoadDir(cfg.Policy.Dir); err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	// Session runner
	run := runner.New(db, bus, policies, runner.Options{
		SwarmEnabled: cfg.Swarm.Enabled,
		SwarmAllowed: cfg.SwarmAllowed(),
	})
	defer run.Shutdown()

	// Scheduler
	sched := scheduler.New(db, run, cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// Optional NATS mirror for external observers
	if cfg.NATS.Enabled {
		natsSrv, err := natsbridge.NewServer(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer natsSrv.Close()

		natsClient, err := natsbridge.NewClient(natsSrv)
		if err != nil {
			return fmt.Errorf("init nats client: %w", err)
		}
		defer natsClient.Close()

		bridge := natsbridge.NewBridge(bus, natsClient)
		defer bridge.Close()
		slog.Info("nats mirror started", "port", natsSrv.Port())
	}

	// Monitor API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, run, bus, policies, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	// SIGHUP reloads policies and scheduler config; SIGINT/SIGTERM
	// shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			cfg = reload(cfg, policies, sched)
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}
	cancel()
	return nil
}

// reload re-reads the config, applies what can change at runtime, and
// re-reads the policy directory. Non-reloadable changes are logged.
func reload(prev *config.Config, policies *policy.Registry, sched *scheduler.Scheduler) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return prev
	}

	d := config.Diff(prev, cfg)
	for _, field := range d.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	if d.LogLevelChanged {
		setupLogging(cfg)
	}
	if d.SwarmChanged {
		slog.Warn("swarm flag changes apply to new sessions only")
	}
	if d.SchedulerChanged {
		sched.UpdateConfig(cfg.Scheduler)
	}

	// Policy files are re-read even when the config is unchanged; an
	// edited policy dir is the usual reason for a SIGHUP.
	if err := policies.LoadDir(cfg.Policy.Dir); err != nil {
		slog.Error("policy reload failed", "error", err)
	}

	slog.Info("configuration reloaded")
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
