// Package runner drives swarm sessions end to end: it owns the store,
// the message bus and the policy registry, builds one coordinator and
// one safety planner per session, and serializes coordination rounds
// per session while letting distinct sessions run in parallel.
package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/epoptis/internal/messaging"
	"github.com/mtzanidakis/epoptis/internal/policy"
	"github.com/mtzanidakis/epoptis/internal/safety"
	"github.com/mtzanidakis/epoptis/internal/schedule"
	"github.com/mtzanidakis/epoptis/internal/store"
	"github.com/mtzanidakis/epoptis/internal/swarm"
)

// Options carries the deployment-level swarm gates: SwarmEnabled is
// the default for new sessions, SwarmAllowed is the global override a
// session request cannot escape.
type Options struct {
	SwarmEnabled bool
	SwarmAllowed bool
}

// Event is emitted to registered listeners on session activity. The
// web layer feeds these to connected monitors.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventListener receives runner events. Listeners must not block.
type EventListener func(Event)

// liveSession is the in-memory state behind one session row. Its
// mutex serializes coordination rounds for the session.
type liveSession struct {
	mu      sync.Mutex
	id      string
	taskID  string
	url     string
	coord   *swarm.Coordinator
	planner *safety.Planner
}

// Runner ties the coordination and safety layers together for every
// session the daemon serves.
type Runner struct {
	store    *store.Store
	bus      *messaging.Bus
	policies *policy.Registry
	opts     Options

	mu       sync.Mutex
	sessions map[string]*liveSession
	checks   map[string]safety.CustomFunc

	listeners  []EventListener
	listenerMu sync.RWMutex
}

func New(s *store.Store, bus *messaging.Bus, policies *policy.Registry, opts Options) *Runner {
	return &Runner{
		store:    s,
		bus:      bus,
		policies: policies,
		opts:     opts,
		sessions: make(map[string]*liveSession),
		checks:   make(map[string]safety.CustomFunc),
	}
}

// RegisterCheck installs a custom predicate callback on every session
// planner built from now on. Callbacks are code, so they register here
// rather than in policy files.
func (r *Runner) RegisterCheck(name string, fn safety.CustomFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = fn
}

// OnEvent registers a listener for session activity.
func (r *Runner) OnEvent(l EventListener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Runner) emit(event Event) {
	event.Timestamp = time.Now().UTC()
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	for _, l := range r.listeners {
		l(event)
	}
}

// CreateSessionRequest is the caller-facing shape for opening a
// session. Swarm nil means "use the configured default".
type CreateSessionRequest struct {
	Goal     string          `json:"goal"`
	URL      string          `json:"url,omitempty"`
	TaskID   string          `json:"task_id,omitempty"`
	Policy   string          `json:"policy,omitempty"`
	Swarm    *bool           `json:"swarm,omitempty"`
	Schedule json.RawMessage `json:"schedule,omitempty"`
}

// CreateSession persists a new session and brings up its live state:
// a swarm coordinator and a safety planner with the resolved policy
// applied.
func (r *Runner) CreateSession(req CreateSessionRequest) (*store.Session, error) {
	if req.Goal == "" {
		return nil, fmt.Errorf("session requires a goal")
	}

	sess := &store.Session{
		ID:           uuid.NewString(),
		TaskID:       req.TaskID,
		Goal:         req.Goal,
		URL:          req.URL,
		Status:       store.SessionRunning,
		SwarmEnabled: r.opts.SwarmEnabled,
		Policy:       req.Policy,
	}
	if sess.TaskID == "" {
		sess.TaskID = sess.ID
	}
	if req.Swarm != nil {
		sess.SwarmEnabled = *req.Swarm
	}

	if len(req.Schedule) > 0 {
		sched, err := schedule.Parse(req.Schedule)
		if err != nil {
			return nil, err
		}
		next := sched.NextRun(time.Now().UTC())
		if next == nil {
			return nil, fmt.Errorf("schedule has no upcoming run")
		}
		sess.Schedule = req.Schedule
		sess.ScheduleStatus = store.ScheduleActive
		sess.NextRunAt = next
	}

	if err := r.store.SaveSession(sess); err != nil {
		return nil, err
	}

	if _, err := r.activate(sess); err != nil {
		return nil, err
	}

	slog.Info("session created", "session", sess.ID, "task", sess.TaskID, "swarm", sess.SwarmEnabled, "policy", sess.Policy)
	r.emit(Event{Type: "session_created", SessionID: sess.ID, TaskID: sess.TaskID, Data: map[string]any{
		"goal":  sess.Goal,
		"swarm": sess.SwarmEnabled,
	}})
	return sess, nil
}

// activate builds and caches the live state for a session row.
func (r *Runner) activate(sess *store.Session) (*liveSession, error) {
	planner := safety.New()

	r.mu.Lock()
	if existing, ok := r.sessions[sess.ID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	for name, fn := range r.checks {
		planner.RegisterCustomFunc(name, fn)
	}
	r.mu.Unlock()

	pol := r.policies.Resolve(sess.Policy)
	if err := pol.Apply(planner); err != nil {
		return nil, fmt.Errorf("apply policy %s: %w", pol.Name, err)
	}

	coord := swarm.NewCoordinator(r.bus, sess.TaskID, "", sess.Goal, sess.SwarmEnabled, r.opts.SwarmAllowed)
	coord.Start()

	live := &liveSession{
		id:      sess.ID,
		taskID:  sess.TaskID,
		url:     sess.URL,
		coord:   coord,
		planner: planner,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[sess.ID]; ok {
		// Lost the race; tear down the duplicate coordinator.
		coord.Stop()
		return existing, nil
	}
	r.sessions[sess.ID] = live
	return live, nil
}

// live returns the live state for a session, rebuilding it from the
// store after a daemon restart.
func (r *Runner) live(sessionID string) (*liveSession, error) {
	r.mu.Lock()
	if l, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		return l, nil
	}
	r.mu.Unlock()

	sess, err := r.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if sess.Status != store.SessionRunning {
		return nil, fmt.Errorf("session %s is %s", sessionID, sess.Status)
	}
	slog.Info("rebuilding session state", "session", sessionID)
	return r.activate(sess)
}

// GetSession returns the stored session row, or nil.
func (r *Runner) GetSession(id string) (*store.Session, error) {
	return r.store.GetSession(id)
}

// ListSessions returns stored sessions, newest first.
func (r *Runner) ListSessions(limit int) ([]store.Session, error) {
	return r.store.ListSessions(limit)
}

// CloseSession stops the session's agents and records the final
// status. result may be nil to keep whatever was recorded before.
func (r *Runner) CloseSession(sessionID, status string, result json.RawMessage) error {
	if status != store.SessionCompleted && status != store.SessionFailed {
		return fmt.Errorf("invalid final status: %s", status)
	}

	r.mu.Lock()
	live, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		live.coord.Stop()
	}

	if err := r.store.UpdateSessionStatus(sessionID, status, result); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	slog.Info("session closed", "session", sessionID, "status", status)
	taskID := sessionID
	if ok {
		taskID = live.taskID
	}
	r.emit(Event{Type: "session_closed", SessionID: sessionID, TaskID: taskID, Data: map[string]any{
		"status": status,
	}})
	return nil
}

// DeleteSession removes a session and its live state.
func (r *Runner) DeleteSession(sessionID string) error {
	r.mu.Lock()
	live, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		live.coord.Stop()
	}
	return r.store.DeleteSession(sessionID)
}

// SessionStatus describes one live session for the status API.
type SessionStatus struct {
	SessionID string           `json:"session_id"`
	TaskID    string           `json:"task_id"`
	Swarm     swarm.Statistics `json:"swarm"`
}

// Active returns the live sessions, sorted by session id.
func (r *Runner) Active() []SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]SessionStatus, 0, len(r.sessions))
	for _, live := range r.sessions {
		statuses = append(statuses, SessionStatus{
			SessionID: live.id,
			TaskID:    live.taskID,
			Swarm:     live.coord.Statistics(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].SessionID < statuses[j].SessionID })
	return statuses
}

// Shutdown stops every live session's agents. Session rows keep their
// status so a restart rebuilds them on demand.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, live := range r.sessions {
		live.coord.Stop()
		delete(r.sessions, id)
	}
	slog.Info("runner shut down")
}
