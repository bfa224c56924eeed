package swarm

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/messaging"
	"github.com/mtzanidakis/epoptis/internal/page"
)

// Coordinator wires one planner, executor and validator to a shared
// bus for a single task step and drives the coordination rounds. With
// the swarm disabled every operation degrades to an approving
// pass-through so the step loop runs identically either way.
type Coordinator struct {
	TaskID string
	StepID string

	bus       *messaging.Bus
	planner   *Planner
	executor  *Executor
	validator *Validator
	enabled   bool
}

// NewCoordinator builds the role agents for one task step. enable is
// the caller's request and allowed is the deployment-level feature
// flag (or debug mode); both must hold for the swarm to engage.
func NewCoordinator(bus *messaging.Bus, taskID, stepID, goal string, enable, allowed bool) *Coordinator {
	c := &Coordinator{
		TaskID:    taskID,
		StepID:    stepID,
		bus:       bus,
		enabled:   enable && allowed,
		planner:   NewPlanner(fmt.Sprintf("planner-%s", taskID), bus, taskID, stepID, goal),
		executor:  NewExecutor(fmt.Sprintf("executor-%s", taskID), bus, taskID, stepID),
		validator: NewValidator(fmt.Sprintf("validator-%s", taskID), bus, taskID, stepID, goal),
	}
	slog.Info("swarm coordinator initialized", "task", taskID, "step", stepID, "enabled", c.enabled)
	return c
}

// Enabled reports whether coordination is active for this step.
func (c *Coordinator) Enabled() bool { return c.enabled }

// Start brings all three agents online and announces the swarm.
func (c *Coordinator) Start() {
	if !c.enabled {
		slog.Info("swarm disabled, single-agent mode", "task", c.TaskID)
		return
	}

	c.planner.Start()
	c.executor.Start()
	c.validator.Start()

	c.planner.Send(messaging.Envelope{
		Type: messaging.TypeStatusUpdate,
		Payload: messaging.StatusUpdate{
			Status:  "swarm_started",
			Message: "Multi-agent swarm initialized and ready",
			Metadata: map[string]any{
				"task_id": c.TaskID,
				"step_id": c.StepID,
			},
		},
	})

	slog.Info("swarm started", "task", c.TaskID)
}

// Stop takes all agents offline.
func (c *Coordinator) Stop() {
	if !c.enabled {
		return
	}
	c.planner.Stop()
	c.executor.Stop()
	c.validator.Stop()
	slog.Info("swarm stopped", "task", c.TaskID)
}

// CoordinatePlanning runs the plan/validate round for the proposed
// actions and returns them with the validator's verdict. A disabled
// swarm approves the actions untouched.
func (c *Coordinator) CoordinatePlanning(snap *page.Snapshot, actions []action.Action) ([]action.Action, bool) {
	if !c.enabled {
		return actions, true
	}

	filtered, plan := c.planner.CreatePlan(snap, actions)

	// The plan is handed to the validator synchronously as its own
	// envelope; the published plan message stays in the history for
	// monitors.
	planEnv := messaging.Envelope{
		ID:            uuid.NewString(),
		SenderRole:    messaging.RolePlanner,
		SenderID:      c.planner.ID,
		RecipientRole: messaging.RoleValidator,
		Type:          messaging.TypePlan,
		Payload:       plan,
		TaskID:        c.TaskID,
		StepID:        c.StepID,
	}
	approved := c.validator.ValidatePlan(planEnv)

	slog.Info("planning coordinated", "task", c.TaskID, "approved", approved, "actions", len(filtered))
	return filtered, approved
}

// CoordinateActionExecution runs the propose/approve round for one
// action. A disabled swarm approves with no modifications.
func (c *Coordinator) CoordinateActionExecution(act action.Action, index int) (bool, map[string]any) {
	if !c.enabled {
		return true, map[string]any{}
	}

	id := c.executor.ProposeAction(act, index)

	proposalEnv := messaging.Envelope{
		ID:            id,
		SenderRole:    messaging.RoleExecutor,
		SenderID:      c.executor.ID,
		RecipientRole: messaging.RoleValidator,
		Type:          messaging.TypeActionProposal,
		Payload: messaging.ActionProposal{
			ActionType:     string(act.Type),
			ActionData:     map[string]any{"action_dict": act.MarshalData()},
			Rationale:      "Executing action",
			RiskAssessment: messaging.RiskLow,
			Confidence:     0.9,
		},
		TaskID: c.TaskID,
		StepID: c.StepID,
	}
	approved, modifications := c.validator.ValidateAction(proposalEnv)

	slog.Info("action execution coordinated", "task", c.TaskID, "index", index, "approved", approved)
	return approved, modifications
}

// RequestConsensus broadcasts a consensus request and resolves it
// deterministically to the first option. Vote tallying is an extension
// point; the request still reaches every subscriber so monitors see
// the decision being made.
func (c *Coordinator) RequestConsensus(topic string, options []map[string]any) map[string]any {
	if len(options) == 0 {
		return nil
	}
	if !c.enabled {
		return options[0]
	}

	c.planner.Send(messaging.Envelope{
		Type: messaging.TypeConsensusRequest,
		Payload: messaging.ConsensusRequest{
			Topic:        topic,
			Options:      options,
			VotingAgents: []string{c.planner.ID, c.executor.ID, c.validator.ID},
			Context:      map[string]any{"task_id": c.TaskID, "step_id": c.StepID},
		},
		Priority: 10,
	})

	slog.Info("consensus requested", "topic", topic, "options", len(options))
	return options[0]
}

// MessageHistory returns every bus message recorded for this task, in
// publish order.
func (c *Coordinator) MessageHistory() []messaging.Envelope {
	return c.bus.History(&messaging.Filter{TaskID: c.TaskID})
}

// AgentStatus is one agent's entry in Statistics.
type AgentStatus struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

// Statistics describes the swarm and its bus.
type Statistics struct {
	EnableSwarm bool                   `json:"enable_swarm"`
	Agents      map[string]AgentStatus `json:"agents"`
	MessageBus  messaging.Statistics   `json:"message_bus"`
}

// Statistics reports the swarm state and bus counters.
func (c *Coordinator) Statistics() Statistics {
	return Statistics{
		EnableSwarm: c.enabled,
		Agents: map[string]AgentStatus{
			"planner":   {ID: c.planner.ID, Active: c.planner.Active()},
			"executor":  {ID: c.executor.ID, Active: c.executor.Active()},
			"validator": {ID: c.validator.ID, Active: c.validator.Active()},
		},
		MessageBus: c.bus.Statistics(),
	}
}
