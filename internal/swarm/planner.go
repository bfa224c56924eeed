package swarm

import (
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/epoptis/internal/action"
	"github.com/mtzanidakis/epoptis/internal/messaging"
	"github.com/mtzanidakis/epoptis/internal/page"
)

// Planner analyzes proposed actions and emits a risk-graded plan
// addressed to the validator.
type Planner struct {
	Agent
	Goal string
}

func NewPlanner(id string, bus *messaging.Bus, taskID, stepID, goal string) *Planner {
	return &Planner{Agent: newAgent(id, messaging.RolePlanner, bus, taskID, stepID), Goal: goal}
}

// CreatePlan reviews the proposed actions against the snapshot,
// publishing a thought followed by the plan. It returns the actions
// unchanged together with the plan; filtering is the safety planner's
// job, not the swarm's.
func (p *Planner) CreatePlan(snap *page.Snapshot, actions []action.Action) ([]action.Action, messaging.Plan) {
	slog.Info("planner creating plan", "agent", p.ID, "actions", len(actions))

	var pageURL string
	var numElements int
	if snap != nil {
		pageURL = snap.URL
		numElements = len(snap.Elements)
	}

	p.Send(messaging.Envelope{
		Type: messaging.TypeThought,
		Payload: messaging.Thought{
			Thought:    fmt.Sprintf("Analyzing %d proposed actions for task: %s", len(actions), p.Goal),
			Confidence: 0.8,
			ReasoningChain: []string{
				"Examining current page state",
				"Evaluating proposed actions",
				"Assessing risks and alternatives",
			},
			Context: map[string]any{"page_url": pageURL, "num_elements": numElements},
		},
	})

	risk := assessRisk(actions)

	steps := make([]messaging.PlanStep, 0, len(actions))
	for i := range actions {
		steps = append(steps, messaging.PlanStep{
			ActionType:  string(actions[i].Type),
			ElementID:   actions[i].ElementID,
			Description: actions[i].String(),
		})
	}

	outcome := p.Goal
	if outcome == "" {
		outcome = "Complete task successfully"
	}

	plan := messaging.Plan{
		Description:     fmt.Sprintf("Execute %d actions to achieve goal", len(actions)),
		Steps:           steps,
		ExpectedOutcome: outcome,
		RiskLevel:       risk,
	}
	if risk == messaging.RiskHigh {
		plan.Alternatives = []string{"Skip high-risk actions", "Request human intervention"}
	}

	p.Send(messaging.Envelope{
		Type:          messaging.TypePlan,
		Payload:       plan,
		RecipientRole: messaging.RoleValidator,
		Priority:      5,
	})

	return actions, plan
}

// assessRisk grades a plan by size: more actions, more ways to fail.
func assessRisk(actions []action.Action) messaging.Risk {
	switch {
	case len(actions) > 10:
		return messaging.RiskHigh
	case len(actions) > 5:
		return messaging.RiskMedium
	default:
		return messaging.RiskLow
	}
}
