// Package swarm coordinates planner, executor and validator agents
// over a shared message bus for a single task step. Agents exchange
// typed envelopes; the coordinator drives the rounds and degrades to
// an approving pass-through when the swarm is disabled.
package swarm

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/epoptis/internal/messaging"
)

// Agent is the behavior shared by all swarm roles: a bus subscription
// scoped to the agent's id, role and task, plus send/receive helpers.
// Agents are not safe for concurrent use; the coordinator serializes
// all calls.
type Agent struct {
	ID     string
	Role   messaging.Role
	TaskID string
	StepID string

	bus    *messaging.Bus
	sub    *messaging.Subscriber
	active bool
}

func newAgent(id string, role messaging.Role, bus *messaging.Bus, taskID, stepID string) Agent {
	return Agent{ID: id, Role: role, TaskID: taskID, StepID: stepID, bus: bus}
}

// Start subscribes the agent to its id, role and task streams.
func (a *Agent) Start() {
	a.active = true
	a.sub = a.bus.Subscribe(messaging.Subscription{
		AgentID: a.ID,
		Role:    a.Role,
		TaskID:  a.TaskID,
	})
	slog.Info("agent started", "agent", a.ID, "role", a.Role)
}

// Stop unsubscribes the agent; queued messages are discarded.
func (a *Agent) Stop() {
	a.active = false
	if a.sub != nil {
		a.bus.Unsubscribe(a.sub)
		a.sub = nil
	}
	slog.Info("agent stopped", "agent", a.ID, "role", a.Role)
}

// Active reports whether the agent is started.
func (a *Agent) Active() bool { return a.active }

// Send stamps env with the agent's identity, task and step, publishes
// it and returns the message id.
func (a *Agent) Send(env messaging.Envelope) string {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	env.SenderRole = a.Role
	env.SenderID = a.ID
	env.TaskID = a.TaskID
	env.StepID = a.StepID
	a.bus.Publish(env)
	return env.ID
}

// Receive waits up to timeout for the next queued message. A timeout
// of zero or less blocks until a message arrives or the subscription
// closes. The second return is false when nothing was received.
func (a *Agent) Receive(timeout time.Duration) (messaging.Envelope, bool) {
	if a.sub == nil {
		return messaging.Envelope{}, false
	}
	if timeout <= 0 {
		env, ok := <-a.sub.C()
		return env, ok
	}
	select {
	case env, ok := <-a.sub.C():
		return env, ok
	case <-time.After(timeout):
		return messaging.Envelope{}, false
	}
}
