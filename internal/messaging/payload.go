package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the typed content of an Envelope, one variant per
// message Type. Dispatching on the concrete type gives exhaustive
// handling at compile time; no payload is a free-form map.
type Payload interface {
	isPayload()
}

// Thought captures an agent's reasoning step.
type Thought struct {
	Thought        string         `json:"thought"`
	Confidence     float64        `json:"confidence"`
	ReasoningChain []string       `json:"reasoning_chain,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// PlanStep is one entry of a Plan.
type PlanStep struct {
	ActionType  string `json:"action_type"`
	ElementID   string `json:"element_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// Plan is a proposed course of action with a risk grade.
type Plan struct {
	Description     string     `json:"plan_description"`
	Steps           []PlanStep `json:"steps"`
	ExpectedOutcome string     `json:"expected_outcome"`
	RiskLevel       Risk       `json:"risk_level"`
	Alternatives    []string   `json:"alternatives,omitempty"`
}

// ActionProposal asks the validator to approve a single action.
type ActionProposal struct {
	ActionType      string           `json:"action_type"`
	ActionData      map[string]any   `json:"action_data,omitempty"`
	Rationale       string           `json:"rationale"`
	RiskAssessment  Risk             `json:"risk_assessment"`
	Confidence      float64          `json:"confidence"`
	FallbackActions []map[string]any `json:"fallback_actions,omitempty"`
}

// ActionApproval answers an ActionProposal; sent as either
// action_approval or action_rejection depending on Approved.
type ActionApproval struct {
	Approved          bool           `json:"approved"`
	ApproverReasoning string         `json:"approver_reasoning"`
	Modifications     map[string]any `json:"modifications,omitempty"`
	Conditions        []string       `json:"conditions,omitempty"`
}

// ExecutionResult reports how an approved action went.
type ExecutionResult struct {
	Success      bool           `json:"success"`
	ActionType   string         `json:"action_type"`
	ActionData   map[string]any `json:"action_data,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMS   float64        `json:"duration_ms"`
	SideEffects  []string       `json:"side_effects,omitempty"`
}

// ValidationRequest asks for a plan or action to be checked.
type ValidationRequest struct {
	ValidationType string         `json:"validation_type"`
	Subject        map[string]any `json:"subject,omitempty"`
	Criteria       []string       `json:"criteria,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// ValidationResult answers a ValidationRequest.
type ValidationResult struct {
	Valid           bool     `json:"valid"`
	ValidationType  string   `json:"validation_type"`
	Findings        []string `json:"findings,omitempty"`
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Critique is constructive feedback on another agent's output.
type Critique struct {
	Target      string         `json:"critique_target"`
	Text        string         `json:"critique_text"`
	Severity    string         `json:"severity"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

// ConsensusRequest puts a decision to the swarm.
type ConsensusRequest struct {
	Topic        string           `json:"decision_topic"`
	Options      []map[string]any `json:"options"`
	VotingAgents []string         `json:"voting_agents,omitempty"`
	Deadline     *time.Time       `json:"deadline,omitempty"`
	Context      map[string]any   `json:"context,omitempty"`
}

// ConsensusResponse is one agent's vote.
type ConsensusResponse struct {
	Topic          string         `json:"decision_topic"`
	SelectedOption map[string]any `json:"selected_option"`
	Reasoning      string         `json:"reasoning"`
	Confidence     float64        `json:"confidence"`
}

// ErrorReport signals a failure other agents may react to.
type ErrorReport struct {
	ErrorType        string         `json:"error_type"`
	ErrorMessage     string         `json:"error_message"`
	ErrorDetails     map[string]any `json:"error_details,omitempty"`
	Recoverable      bool           `json:"recoverable"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
}

// StatusUpdate carries lifecycle and progress information.
type StatusUpdate struct {
	Status   string         `json:"status"`
	Progress float64        `json:"progress"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (Thought) isPayload()           {}
func (Plan) isPayload()              {}
func (ActionProposal) isPayload()    {}
func (ActionApproval) isPayload()    {}
func (ExecutionResult) isPayload()   {}
func (ValidationRequest) isPayload() {}
func (ValidationResult) isPayload()  {}
func (Critique) isPayload()          {}
func (ConsensusRequest) isPayload()  {}
func (ConsensusResponse) isPayload() {}
func (ErrorReport) isPayload()       {}
func (StatusUpdate) isPayload()      {}

// decodePayload selects the payload variant for t and unmarshals raw
// into it. Empty content yields the variant's zero value.
func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	switch t {
	case TypeThought:
		v := Thought{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypePlan:
		v := Plan{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeActionProposal:
		v := ActionProposal{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeActionApproval, TypeActionRejection:
		v := ActionApproval{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeExecutionResult:
		v := ExecutionResult{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeValidationRequest:
		v := ValidationRequest{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeValidationResult:
		v := ValidationResult{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeCritique:
		v := Critique{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeConsensusRequest:
		v := ConsensusRequest{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeConsensusResponse:
		v := ConsensusResponse{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeError:
		v := ErrorReport{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeStatusUpdate:
		v := StatusUpdate{}
		if err := jsonInto(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
}

func jsonInto(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
