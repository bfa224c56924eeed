// Package scheduler wakes scheduled sessions when they come due. It
// polls the store on a ticker, hands due sessions to the runner and
// computes the next occurrence, and enforces the audit retention
// window on the same cadence.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/epoptis/internal/config"
	"github.com/mtzanidakis/epoptis/internal/schedule"
	"github.com/mtzanidakis/epoptis/internal/store"
)

// SessionRunner runs one coordination round for a due session.
type SessionRunner interface {
	RunScheduled(sess store.Session) error
}

type Scheduler struct {
	store    *store.Store
	runner   SessionRunner
	reloadCh chan struct{}

	mu             sync.Mutex
	pollInterval   time.Duration
	auditRetention time.Duration
}

func New(s *store.Store, runner SessionRunner, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:          s,
		runner:         runner,
		pollInterval:   cfg.PollInterval,
		auditRetention: cfg.AuditRetention,
		reloadCh:       make(chan struct{}, 1),
	}
}

// UpdateConfig replaces the poll interval and retention window and
// signals the run loop to reset its ticker.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) {
	s.mu.Lock()
	s.pollInterval = cfg.PollInterval
	s.auditRetention = cfg.AuditRetention
	s.mu.Unlock()

	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) retention() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auditRetention
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Scheduler) poll() {
	now := time.Now().UTC()
	sessions, err := s.store.GetDueSessions(now)
	if err != nil {
		slog.Error("failed to get due sessions", "error", err)
	} else {
		for _, sess := range sessions {
			s.run(sess)
		}
	}

	s.sweepAudit(now)
}

// sweepAudit purges audit records older than the retention window.
// Zero retention keeps everything.
func (s *Scheduler) sweepAudit(now time.Time) {
	retention := s.retention()
	if retention <= 0 {
		return
	}
	purged, err := s.store.PurgeAuditRecords(now.Add(-retention))
	if err != nil {
		slog.Error("audit purge failed", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("purged expired audit records", "count", purged, "retention", retention)
	}
}

func (s *Scheduler) run(sess store.Session) {
	slog.Info("running scheduled session", "session", sess.ID, "task", sess.TaskID, "goal", sess.Goal)

	if err := s.runner.RunScheduled(sess); err != nil {
		slog.Error("scheduled run failed", "session", sess.ID, "error", err)
	}

	sched, err := schedule.Parse(sess.Schedule)
	if err != nil {
		// A row whose schedule no longer parses would fire on every
		// poll; retire it instead.
		slog.Error("unparseable schedule, retiring", "session", sess.ID, "error", err)
		if err := s.store.UpdateSessionRun(sess.ID, store.ScheduleCompleted, nil); err != nil {
			slog.Error("failed to retire session schedule", "session", sess.ID, "error", err)
		}
		return
	}

	next := sched.NextRun(time.Now().UTC())
	status := store.ScheduleActive
	if next == nil {
		status = store.ScheduleCompleted
		slog.Info("schedule exhausted, marking completed", "session", sess.ID)
	}

	if err := s.store.UpdateSessionRun(sess.ID, status, next); err != nil {
		slog.Error("failed to update session run", "session", sess.ID, "error", err)
	}
}
