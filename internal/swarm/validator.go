package swarm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/messaging"
)

// autoApproveThreshold is the confidence below which proposals are
// rejected outright.
const autoApproveThreshold = 0.8

// Validator reviews plans and action proposals and answers with
// approvals, rejections and critiques.
type Validator struct {
	Agent
	Goal string
}

func NewValidator(id string, bus *messaging.Bus, taskID, stepID, goal string) *Validator {
	return &Validator{Agent: newAgent(id, messaging.RoleValidator, bus, taskID, stepID), Goal: goal}
}

// ValidatePlan reviews a plan envelope and reports whether it may
// proceed. The verdict is also published as a validation_result
// answering the plan message.
func (v *Validator) ValidatePlan(env messaging.Envelope) bool {
	plan, ok := env.Payload.(messaging.Plan)
	if !ok {
		slog.Warn("validator received non-plan payload", "agent", v.ID, "type", env.Type)
		return false
	}

	v.Send(messaging.Envelope{
		Type: messaging.TypeValidationRequest,
		Payload: messaging.ValidationRequest{
			ValidationType: "plan",
			Subject:        payloadMap(plan),
			Criteria:       []string{"risk_level", "feasibility", "completeness"},
			Context:        map[string]any{"task_goal": v.Goal},
		},
	})

	valid := plan.RiskLevel != messaging.RiskHigh || len(plan.Steps) <= 10

	result := messaging.ValidationResult{
		Valid:          valid,
		ValidationType: "plan",
		Findings: []string{
			fmt.Sprintf("Risk level: %s", plan.RiskLevel),
			fmt.Sprintf("Number of steps: %d", len(plan.Steps)),
		},
		Confidence: 0.85,
	}
	if plan.RiskLevel == messaging.RiskHigh {
		result.Recommendations = []string{"Proceed with caution"}
	}

	v.Send(messaging.Envelope{
		Type:         messaging.TypeValidationResult,
		Payload:      result,
		InResponseTo: env.ID,
	})

	slog.Info("plan validated", "agent", v.ID, "valid", valid, "risk", plan.RiskLevel)
	return valid
}

// ValidateAction reviews an action proposal, publishes the approval or
// rejection, and returns the verdict with any modifications.
func (v *Validator) ValidateAction(env messaging.Envelope) (bool, map[string]any) {
	proposal, ok := env.Payload.(messaging.ActionProposal)
	if !ok {
		slog.Warn("validator received non-proposal payload", "agent", v.ID, "type", env.Type)
		return false, map[string]any{}
	}

	highRisk := isHighRisk(proposal)
	approved := proposal.Confidence >= autoApproveThreshold && !highRisk

	verdict := "rejected"
	msgType := messaging.TypeActionRejection
	if approved {
		verdict = "approved"
		msgType = messaging.TypeActionApproval
	}

	approval := messaging.ActionApproval{
		Approved:          approved,
		ApproverReasoning: fmt.Sprintf("Action %s based on confidence %v and risk assessment", verdict, proposal.Confidence),
		Modifications:     map[string]any{},
	}
	if highRisk {
		approval.Conditions = []string{"Monitor for unexpected page changes"}
	}

	v.Send(messaging.Envelope{
		Type:         msgType,
		Payload:      approval,
		InResponseTo: env.ID,
		Priority:     9,
	})

	slog.Info("action validated", "agent", v.ID, "approved", approved, "action_type", proposal.ActionType)
	return approved, approval.Modifications
}

// isHighRisk flags terminal action types and proposals the sender
// already graded high.
func isHighRisk(p messaging.ActionProposal) bool {
	switch strings.ToLower(p.ActionType) {
	case string(action.TypeTerminate), string(action.TypeComplete):
		return true
	}
	return p.RiskAssessment == messaging.RiskHigh
}

// CritiqueExecution publishes a critique when an execution failed.
// Successful results pass without comment.
func (v *Validator) CritiqueExecution(env messaging.Envelope) {
	result, ok := env.Payload.(messaging.ExecutionResult)
	if !ok {
		slog.Warn("validator received non-result payload", "agent", v.ID, "type", env.Type)
		return
	}
	if result.Success {
		return
	}

	v.Send(messaging.Envelope{
		Type: messaging.TypeCritique,
		Payload: messaging.Critique{
			Target:      "execution",
			Text:        fmt.Sprintf("Action execution failed: %s", result.ErrorMessage),
			Severity:    "warning",
			Suggestions: []string{"Retry with modified parameters", "Try alternative action"},
			Evidence:    map[string]any{"result": payloadMap(result)},
		},
		InResponseTo: env.ID,
	})

	slog.Info("execution critiqued", "agent", v.ID)
}

// payloadMap renders a payload as a generic map for embedding inside
// other payloads.
func payloadMap(p messaging.Payload) map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
