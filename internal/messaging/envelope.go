package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies an agent's function within a swarm.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleExecutor    Role = "executor"
	RoleValidator   Role = "validator"
	RoleCoordinator Role = "coordinator"
)

// Type discriminates envelope payloads. Every Type maps to exactly
// one Payload variant.
type Type string

const (
	TypeThought           Type = "thought"
	TypePlan              Type = "plan"
	TypeActionProposal    Type = "action_proposal"
	TypeActionApproval    Type = "action_approval"
	TypeActionRejection   Type = "action_rejection"
	TypeExecutionResult   Type = "execution_result"
	TypeValidationRequest Type = "validation_request"
	TypeValidationResult  Type = "validation_result"
	TypeCritique          Type = "critique"
	TypeConsensusRequest  Type = "consensus_request"
	TypeConsensusResponse Type = "consensus_response"
	TypeError             Type = "error"
	TypeStatusUpdate      Type = "status_update"
)

// Risk grades a plan or proposal.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Envelope is one agent-to-agent message. Envelopes are passed by
// value and never mutated after publish. RecipientRole and
// RecipientID are empty when the message is not individually
// addressed.
type Envelope struct {
	ID               string
	Timestamp        time.Time
	SenderRole       Role
	SenderID         string
	RecipientRole    Role
	RecipientID      string
	Type             Type
	Payload          Payload
	TaskID           string
	StepID           string
	Priority         int
	RequiresResponse bool
	InResponseTo     string
}

// envelopeJSON is the wire shape of an Envelope. Content is decoded
// into the payload variant selected by message_type.
type envelopeJSON struct {
	ID               string          `json:"message_id"`
	Timestamp        time.Time       `json:"timestamp"`
	SenderRole       Role            `json:"sender_role"`
	SenderID         string          `json:"sender_id"`
	RecipientRole    Role            `json:"recipient_role,omitempty"`
	RecipientID      string          `json:"recipient_id,omitempty"`
	Type             Type            `json:"message_type"`
	Content          json.RawMessage `json:"content"`
	TaskID           string          `json:"task_id,omitempty"`
	StepID           string          `json:"step_id,omitempty"`
	Priority         int             `json:"priority"`
	RequiresResponse bool            `json:"requires_response"`
	InResponseTo     string          `json:"in_response_to,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	content := json.RawMessage("{}")
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		content = raw
	}
	return json.Marshal(envelopeJSON{
		ID:               e.ID,
		Timestamp:        e.Timestamp,
		SenderRole:       e.SenderRole,
		SenderID:         e.SenderID,
		RecipientRole:    e.RecipientRole,
		RecipientID:      e.RecipientID,
		Type:             e.Type,
		Content:          content,
		TaskID:           e.TaskID,
		StepID:           e.StepID,
		Priority:         e.Priority,
		RequiresResponse: e.RequiresResponse,
		InResponseTo:     e.InResponseTo,
	})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var ej envelopeJSON
	if err := json.Unmarshal(data, &ej); err != nil {
		return err
	}
	payload, err := decodePayload(ej.Type, ej.Content)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", ej.Type, err)
	}
	*e = Envelope{
		ID:               ej.ID,
		Timestamp:        ej.Timestamp,
		SenderRole:       ej.SenderRole,
		SenderID:         ej.SenderID,
		RecipientRole:    ej.RecipientRole,
		RecipientID:      ej.RecipientID,
		Type:             ej.Type,
		Payload:          payload,
		TaskID:           ej.TaskID,
		StepID:           ej.StepID,
		Priority:         ej.Priority,
		RequiresResponse: ej.RequiresResponse,
		InResponseTo:     ej.InResponseTo,
	}
	return nil
}
