package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// Schedule statuses. Paused schedules keep their next_run_at but are
// skipped by the due query.
const (
	ScheduleActive    = "active"
	SchedulePaused    = "paused"
	ScheduleCompleted = "completed"
)

// Session is one swarm session: a task worked on through coordination
// rounds, optionally on a schedule.
type Session struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"task_id"`
	Goal           string          `json:"goal"`
	URL            string          `json:"url,omitempty"`
	Status         string          `json:"status"`
	SwarmEnabled   bool            `json:"swarm_enabled"`
	Policy         string          `json:"policy,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Schedule       json.RawMessage `json:"schedule,omitempty"`
	ScheduleStatus string          `json:"schedule_status,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func scanSession(scanner interface {
	Scan(dest ...any) error
}) (*Session, error) {
	sess := &Session{}
	var url, policy, scheduleStatus sql.NullString
	var result, schedule *string
	var enabled int
	err := scanner.Scan(&sess.ID, &sess.TaskID, &sess.Goal, &url, &sess.Status, &enabled,
		&policy, &result, &schedule, &scheduleStatus,
		&sess.NextRunAt, &sess.LastRunAt, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.URL = url.String
	sess.Policy = policy.String
	sess.ScheduleStatus = scheduleStatus.String
	sess.SwarmEnabled = enabled == 1
	if result != nil {
		sess.Result = json.RawMessage(*result)
	}
	if schedule != nil {
		sess.Schedule = json.RawMessage(*schedule)
	}
	return sess, nil
}

const sessionColumns = `id, task_id, goal, url, status, swarm_enabled,
	       policy, result, schedule, schedule_status,
	       next_run_at, last_run_at, created_at, updated_at`

func (s *Store) SaveSession(sess *Session) error {
	var schedule, result *string
	if len(sess.Schedule) > 0 {
		v := string(sess.Schedule)
		schedule = &v
	}
	if len(sess.Result) > 0 {
		v := string(sess.Result)
		result = &v
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, task_id, goal, url, status, swarm_enabled, policy, result, schedule, schedule_status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal = excluded.goal,
			url = excluded.url,
			status = excluded.status,
			swarm_enabled = excluded.swarm_enabled,
			policy = excluded.policy,
			result = excluded.result,
			schedule = excluded.schedule,
			schedule_status = excluded.schedule_status,
			next_run_at = excluded.next_run_at,
			updated_at = CURRENT_TIMESTAMP`,
		sess.ID, sess.TaskID, sess.Goal, sess.URL, sess.Status, boolToInt(sess.SwarmEnabled),
		sess.Policy, result, schedule, sess.ScheduleStatus, sess.NextRunAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT `+sessionColumns+`
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+`
		FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *Store) UpdateSessionStatus(id string, status string, result json.RawMessage) error {
	var res *string
	if len(result) > 0 {
		v := string(result)
		res = &v
	}
	_, err := s.db.Exec(`
		UPDATE sessions
		SET status = ?, result = COALESCE(?, result), updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, res, id)
	return err
}

func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// GetDueSessions returns scheduled sessions whose next run is due.
func (s *Store) GetDueSessions(now time.Time) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE schedule_status = ? AND next_run_at <= ?
		ORDER BY next_run_at`, ScheduleActive, now)
	if err != nil {
		return nil, fmt.Errorf("get due sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionRun records a schedule firing: last run now, next run
// computed by the scheduler, and the schedule's status (active again,
// or completed for one-shot schedules).
func (s *Store) UpdateSessionRun(id string, scheduleStatus string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sessions
		SET last_run_at = CURRENT_TIMESTAMP, schedule_status = ?, next_run_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, scheduleStatus, nextRunAt, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
