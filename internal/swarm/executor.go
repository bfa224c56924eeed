package swarm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/messaging"
)

// Executor proposes actions for approval and reports execution
// outcomes back to the swarm.
type Executor struct {
	Agent
}

func NewExecutor(id string, bus *messaging.Bus, taskID, stepID string) *Executor {
	return &Executor{Agent: newAgent(id, messaging.RoleExecutor, bus, taskID, stepID)}
}

// ProposeAction asks the validator to approve one action and returns
// the proposal's message id.
func (e *Executor) ProposeAction(act action.Action, index int) string {
	proposal := messaging.ActionProposal{
		ActionType: string(act.Type),
		ActionData: map[string]any{
			"action_index": index,
			"action_str":   act.String(),
			"action_dict":  act.MarshalData(),
		},
		Rationale:      fmt.Sprintf("Executing action %d as part of the plan", index),
		RiskAssessment: messaging.RiskLow, // validator reassesses
		Confidence:     0.9,
	}

	id := e.Send(messaging.Envelope{
		Type:             messaging.TypeActionProposal,
		Payload:          proposal,
		RecipientRole:    messaging.RoleValidator,
		Priority:         8,
		RequiresResponse: true,
	})

	slog.Info("action proposed", "agent", e.ID, "index", index, "message", id)
	return id
}

// ReportResult broadcasts the outcome of an executed action.
func (e *Executor) ReportResult(act action.Action, success bool, result map[string]any, duration time.Duration) {
	res := messaging.ExecutionResult{
		Success:    success,
		ActionType: string(act.Type),
		ActionData: act.MarshalData(),
		Result:     result,
		DurationMS: float64(duration) / float64(time.Millisecond),
	}
	if !success {
		if msg, ok := result["error"].(string); ok {
			res.ErrorMessage = msg
		}
	}

	e.Send(messaging.Envelope{
		Type:     messaging.TypeExecutionResult,
		Payload:  res,
		Priority: 7,
	})

	slog.Info("execution result reported", "agent", e.ID, "success", success, "duration_ms", res.DurationMS)
}
