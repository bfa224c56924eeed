// Package schedule models when a scheduled swarm session runs: a JSON
// union of cron expressions, fixed intervals and one-shot times.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

type Schedule struct {
	Kind       string `json:"kind"`                  // "cron", "interval", "once"
	CronExpr   string `json:"cron_expr,omitempty"`   // Cron expression (if kind=cron)
	IntervalMs int64  `json:"interval_ms,omitempty"` // Interval in ms (if kind=interval)
	AtMs       int64  `json:"at_ms,omitempty"`       // Unix ms timestamp (if kind=once)
}

// Parse decodes and validates a schedule document. Invalid cron
// expressions, non-positive intervals or timestamps and unknown kinds
// are configuration errors.
func Parse(raw []byte) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}

	switch s.Kind {
	case "cron":
		if !gronx.New().IsValid(s.CronExpr) {
			return nil, fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case "interval":
		if s.IntervalMs <= 0 {
			return nil, fmt.Errorf("interval_ms must be positive")
		}
	case "once":
		if s.AtMs <= 0 {
			return nil, fmt.Errorf("at_ms must be positive")
		}
	default:
		return nil, fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}

	return &s, nil
}

// NextRun computes the next occurrence after now. Nil means the
// schedule has no further runs (a once schedule whose time passed).
func (s *Schedule) NextRun(now time.Time) *time.Time {
	var next time.Time

	switch s.Kind {
	case "cron":
		nextTime, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		next = nextTime
	case "interval":
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case "once":
		t := time.UnixMilli(s.AtMs)
		if !t.After(now) {
			return nil
		}
		next = t
	default:
		return nil
	}

	return &next
}

// Describe returns a human-readable rendering for session listings.
func (s *Schedule) Describe() string {
	switch s.Kind {
	case "cron":
		if strings.HasPrefix(s.CronExpr, "@") {
			return s.CronExpr
		}
		return "Cron: " + s.CronExpr
	case "interval":
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d%time.Hour == 0 && d >= time.Hour:
			h := int(d.Hours())
			if h == 1 {
				return "Every hour"
			}
			return fmt.Sprintf("Every %d hours", h)
		case d%time.Minute == 0:
			m := int(d.Minutes())
			if m == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", m)
		default:
			return fmt.Sprintf("Every %d seconds", int(d.Seconds()))
		}
	case "once":
		return "Once at " + time.UnixMilli(s.AtMs).Format("Jan 2 15:04")
	default:
		return s.Kind
	}
}

// Normalize accepts either a schedule document or a bare cron
// expression (wrapped into the JSON form) and returns the validated
// document for storage.
func Normalize(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)

	// Try the JSON document form first
	if strings.HasPrefix(raw, "{") {
		s, err := Parse([]byte(raw))
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		return data, nil
	}

	// Bare cron expression
	if !gronx.New().IsValid(raw) {
		return nil, fmt.Errorf("invalid schedule: not a schedule document or cron expression: %s", raw)
	}
	data, err := json.Marshal(Schedule{Kind: "cron", CronExpr: raw})
	if err != nil {
		return nil, err
	}
	return data, nil
}
