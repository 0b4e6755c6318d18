package domain

import (
	"encoding/json"
	"fmt"
)

// EscalationAction is what a step does when it opens (NOTIFY, REASSIGN) or
// when the sequence exhausts (OPERATOR_ALERT, MANAGER_ALERT).
type EscalationAction string

const (
	ActionNotify        EscalationAction = "NOTIFY"
	ActionReassign      EscalationAction = "REASSIGN"
	ActionOperatorAlert EscalationAction = "OPERATOR_ALERT"
	ActionManagerAlert  EscalationAction = "MANAGER_ALERT"
)

// IsAlert reports whether the action pages a human role.
func (a EscalationAction) IsAlert() bool {
	return a == ActionOperatorAlert || a == ActionManagerAlert
}

// EscalationStep is one ordered entry of the dispatch escalation sequence.
// BatchSize is how many candidates the step offers. AfterMinutes, when > 0,
// overrides the step's acceptance window; otherwise the resolved
// SLA_ACCEPT_MINUTES window applies. Both observed policy shapes (counts per
// step and minutes per step) are expressible with this one model.
type EscalationStep struct {
	BatchSize    int              `json:"batchSize"`
	AfterMinutes int              `json:"afterMinutes,omitempty"`
	Action       EscalationAction `json:"action"`
	NotifyRoles  []string         `json:"notifyRoles,omitempty"`
}

// ParseSteps decodes the DISPATCH_ESCALATION_STEPS policy value, a JSON array
// of step objects. Steps with a non-positive batch size and no alert action
// are rejected: they would open and immediately exhaust.
func ParseSteps(raw string) ([]EscalationStep, error) {
	var steps []EscalationStep
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, fmt.Errorf("parse escalation steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("parse escalation steps: empty sequence")
	}

	for i, step := range steps {
		if step.Action == "" {
			steps[i].Action = ActionNotify
			step.Action = ActionNotify
		}
		switch step.Action {
		case ActionNotify, ActionReassign, ActionOperatorAlert, ActionManagerAlert:
		default:
			return nil, fmt.Errorf("parse escalation steps: unknown action %q at index %d", step.Action, i)
		}
		if step.BatchSize <= 0 && !step.Action.IsAlert() {
			return nil, fmt.Errorf("parse escalation steps: step %d has no batch size and no alert action", i)
		}
	}

	return steps, nil
}
