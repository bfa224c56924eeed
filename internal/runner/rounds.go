package runner

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/page"
	"github.com/mtzanidakis/epoptis/internal/safety"
	"github.com/mtzanidakis/epoptis/internal/store"
)

// PlanningResult is the outcome of one planning round: the swarm's
// verdict on the plan, the symbolic filter result, and the final
// action list after fallback reconciliation. Final is empty when the
// swarm rejected the plan; the caller replans instead of falling back.
type PlanningResult struct {
	SessionID    string                  `json:"session_id"`
	PlanApproved bool                    `json:"plan_approved"`
	Validation   safety.ValidationResult `json:"validation"`
	Final        []action.Action         `json:"final_actions"`
	AuditID      string                  `json:"audit_id,omitempty"`
}

// RunPlanning runs one full planning round: swarm coordination over
// the proposed actions, symbolic validation of the outcome, fallback
// reconciliation, and audit persistence.
func (r *Runner) RunPlanning(sessionID string, snap *page.Snapshot, actions []action.Action) (*PlanningResult, error) {
	live, err := r.live(sessionID)
	if err != nil {
		return nil, err
	}

	live.mu.Lock()
	defer live.mu.Unlock()

	coordinated, planApproved := live.coord.CoordinatePlanning(snap, actions)

	result := live.planner.ValidateAndFilter(coordinated, snap, r.roundURL(live, snap), live.taskID)

	var final []action.Action
	if planApproved {
		final = live.planner.ReconcileWithFallback(result, nil)
	} else {
		slog.Warn("plan rejected by swarm", "session", sessionID, "actions", len(actions))
	}

	auditID := r.persistAudit(live, result, len(actions))

	r.emit(Event{Type: "planning_round", SessionID: sessionID, TaskID: live.taskID, Data: map[string]any{
		"plan_approved": planApproved,
		"valid":         result.Valid,
		"proposed":      len(actions),
		"final":         len(final),
	}})

	return &PlanningResult{
		SessionID:    sessionID,
		PlanApproved: planApproved,
		Validation:   result,
		Final:        final,
		AuditID:      auditID,
	}, nil
}

// ActionVerdict is the swarm's decision on one action of a gated
// batch.
type ActionVerdict struct {
	Index    int            `json:"index"`
	Action   action.Action  `json:"action"`
	Approved bool           `json:"approved"`
	Details  map[string]any `json:"details,omitempty"`
}

// GateResult is the outcome of one action-gate round: the symbolic
// filter result plus the swarm verdict on every surviving action.
type GateResult struct {
	SessionID  string                  `json:"session_id"`
	Validation safety.ValidationResult `json:"validation"`
	Verdicts   []ActionVerdict         `json:"verdicts"`
	Final      []action.Action         `json:"final_actions"`
	AuditID    string                  `json:"audit_id,omitempty"`
}

// RunActionGate gates an action batch right before execution: the
// symbolic filter drops unsafe actions, then the swarm votes each
// survivor up or down.
func (r *Runner) RunActionGate(sessionID string, actions []action.Action, snap *page.Snapshot) (*GateResult, error) {
	live, err := r.live(sessionID)
	if err != nil {
		return nil, err
	}

	live.mu.Lock()
	defer live.mu.Unlock()

	result := live.planner.ValidateAndFilter(actions, snap, r.roundURL(live, snap), live.taskID)

	verdicts := make([]ActionVerdict, 0, len(result.Filtered))
	final := make([]action.Action, 0, len(result.Filtered))
	for i, act := range result.Filtered {
		approved, details := live.coord.CoordinateActionExecution(act, i)
		verdicts = append(verdicts, ActionVerdict{Index: i, Action: act, Approved: approved, Details: details})
		if approved {
			final = append(final, act)
		}
	}

	auditID := r.persistAudit(live, result, len(actions))

	r.emit(Event{Type: "action_gate", SessionID: sessionID, TaskID: live.taskID, Data: map[string]any{
		"valid":    result.Valid,
		"proposed": len(actions),
		"final":    len(final),
	}})

	return &GateResult{
		SessionID:  sessionID,
		Validation: result,
		Verdicts:   verdicts,
		Final:      final,
		AuditID:    auditID,
	}, nil
}

// RunScheduled wakes a scheduled session. Live state is rebuilt if the
// daemon restarted since the last run, and an empty planning round
// runs so the wake leaves an audit trail.
func (r *Runner) RunScheduled(sess store.Session) error {
	result, err := r.RunPlanning(sess.ID, nil, nil)
	if err != nil {
		return err
	}
	slog.Info("scheduled session ran", "session", sess.ID, "plan_approved", result.PlanApproved, "final", len(result.Final))
	return nil
}

// roundURL prefers the snapshot's URL, falling back to the URL the
// session was opened with.
func (r *Runner) roundURL(live *liveSession, snap *page.Snapshot) string {
	if snap != nil && snap.URL != "" {
		return snap.URL
	}
	return live.url
}

// persistAudit stores the validation audit for a round. A failed
// write is logged but never fails the round; the filter verdict
// matters more than its paper trail.
func (r *Runner) persistAudit(live *liveSession, result safety.ValidationResult, totalActions int) string {
	doc, err := live.planner.ExportAuditLog(result)
	if err != nil {
		slog.Error("export audit log failed", "session", live.id, "error", err)
		return ""
	}

	rec := &store.AuditRecord{
		ID:            uuid.NewString(),
		SessionID:     live.id,
		TaskID:        live.taskID,
		Valid:         result.Valid,
		TotalActions:  totalActions,
		FilteredCount: len(result.Filtered),
		RejectedCount: len(result.Rejected),
		Document:      json.RawMessage(doc),
	}
	if err := r.store.SaveAuditRecord(rec); err != nil {
		slog.Error("save audit record failed", "session", live.id, "error", err)
		return ""
	}
	return rec.ID
}
