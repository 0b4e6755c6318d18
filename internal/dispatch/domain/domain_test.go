package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusDraft, StatusDispatched, true},
		{StatusDraft, StatusAccepted, false},
		{StatusDispatched, StatusAccepted, true},
		{StatusDispatched, StatusCancelled, true},
		{StatusDispatched, StatusScheduled, false},
		{StatusAccepted, StatusScheduled, true},
		{StatusAccepted, StatusDispatched, false},
		{StatusScheduled, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusDispatched, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCancelReachableFromEveryNonTerminalStatus(t *testing.T) {
	for _, status := range []JobStatus{StatusDraft, StatusDispatched, StatusAccepted, StatusScheduled, StatusInProgress} {
		if !CanTransition(status, StatusCancelled) {
			t.Errorf("CANCELLED should be reachable from %s", status)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(StatusCompleted) || !IsTerminal(StatusCancelled) {
		t.Fatal("COMPLETED and CANCELLED must be terminal")
	}
	if IsTerminal(StatusDispatched) {
		t.Fatal("DISPATCHED must not be terminal")
	}
}

func TestParseStepsValid(t *testing.T) {
	raw := `[{"batchSize":3,"action":"NOTIFY"},{"batchSize":2,"afterMinutes":10,"action":"REASSIGN"},{"batchSize":0,"action":"OPERATOR_ALERT","notifyRoles":["operator"]}]`
	steps, err := ParseSteps(raw)
	if err != nil {
		t.Fatalf("ParseSteps returned error: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if steps[1].AfterMinutes != 10 {
		t.Fatalf("expected afterMinutes 10, got %d", steps[1].AfterMinutes)
	}
	if steps[2].Action != ActionOperatorAlert {
		t.Fatalf("expected OPERATOR_ALERT, got %s", steps[2].Action)
	}
}

func TestParseStepsDefaultsActionToNotify(t *testing.T) {
	steps, err := ParseSteps(`[{"batchSize":3}]`)
	if err != nil {
		t.Fatalf("ParseSteps returned error: %v", err)
	}
	if steps[0].Action != ActionNotify {
		t.Fatalf("expected default NOTIFY action, got %s", steps[0].Action)
	}
}

func TestParseStepsRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty array":           `[]`,
		"bad json":              `{`,
		"unknown action":        `[{"batchSize":3,"action":"PAGE_EVERYONE"}]`,
		"no batch and no alert": `[{"batchSize":0,"action":"NOTIFY"}]`,
	}

	for name, raw := range cases {
		if _, err := ParseSteps(raw); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

func TestStepWindowPerStepOverride(t *testing.T) {
	ctx := &DispatchContext{
		AcceptWindowMins: 5,
		Steps: []EscalationStep{
			{BatchSize: 3, Action: ActionNotify},
			{BatchSize: 2, AfterMinutes: 12, Action: ActionNotify},
		},
	}

	if got := ctx.StepWindow(0); got != 5*time.Minute {
		t.Fatalf("step 0 window = %v, want 5m", got)
	}
	if got := ctx.StepWindow(1); got != 12*time.Minute {
		t.Fatalf("step 1 window = %v, want 12m", got)
	}
	// Out-of-range step index falls back to the resolved default.
	if got := ctx.StepWindow(7); got != 5*time.Minute {
		t.Fatalf("out-of-range step window = %v, want 5m", got)
	}
}
