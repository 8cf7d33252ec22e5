package models

import "testing"

func TestExecutionStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{"pending to running", ExecutionPending, ExecutionRunning, true},
		{"pending to cancelled", ExecutionPending, ExecutionCancelled, true},
		{"pending to failed", ExecutionPending, ExecutionFailed, true},
		{"pending to succeeded", ExecutionPending, ExecutionSucceeded, false},
		{"running to succeeded", ExecutionRunning, ExecutionSucceeded, true},
		{"running to failed", ExecutionRunning, ExecutionFailed, true},
		{"running to partially failed", ExecutionRunning, ExecutionPartiallyFailed, true},
		{"running to cancelled", ExecutionRunning, ExecutionCancelled, true},
		{"running to pending", ExecutionRunning, ExecutionPending, false},
		{"succeeded is terminal", ExecutionSucceeded, ExecutionRunning, false},
		{"failed is terminal", ExecutionFailed, ExecutionSucceeded, false},
		{"cancelled is terminal", ExecutionCancelled, ExecutionFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s -> %s) = %t, want %t", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestExecutionStatusIsTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionSucceeded, ExecutionFailed, ExecutionPartiallyFailed, ExecutionCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []ExecutionStatus{ExecutionPending, ExecutionRunning} {
		if s.IsTerminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestAggregateStatus(t *testing.T) {
	t.Run("all succeeded", func(t *testing.T) {
		outcomes := []ActionOutcome{
			{Status: ActionSucceeded},
			{Status: ActionSucceeded},
		}
		if got := AggregateStatus(outcomes, false); got != ExecutionSucceeded {
			t.Errorf("got %s, want %s", got, ExecutionSucceeded)
		}
	})

	t.Run("empty action list succeeds", func(t *testing.T) {
		if got := AggregateStatus(nil, false); got != ExecutionSucceeded {
			t.Errorf("got %s, want %s", got, ExecutionSucceeded)
		}
	})

	t.Run("all failed", func(t *testing.T) {
		outcomes := []ActionOutcome{
			{Status: ActionFailed},
			{Status: ActionFailed},
		}
		if got := AggregateStatus(outcomes, false); got != ExecutionFailed {
			t.Errorf("got %s, want %s", got, ExecutionFailed)
		}
	})

	t.Run("mix yields partially failed", func(t *testing.T) {
		outcomes := []ActionOutcome{
			{Status: ActionSucceeded},
			{Status: ActionFailed},
			{Status: ActionSucceeded},
		}
		if got := AggregateStatus(outcomes, false); got != ExecutionPartiallyFailed {
			t.Errorf("got %s, want %s", got, ExecutionPartiallyFailed)
		}
	})

	t.Run("abort policy downgrades mix to failed", func(t *testing.T) {
		outcomes := []ActionOutcome{
			{Status: ActionSucceeded},
			{Status: ActionFailed},
			{Status: ActionSkipped},
		}
		if got := AggregateStatus(outcomes, true); got != ExecutionFailed {
			t.Errorf("got %s, want %s", got, ExecutionFailed)
		}
	})

	t.Run("skipped actions do not count as failures", func(t *testing.T) {
		outcomes := []ActionOutcome{
			{Status: ActionSucceeded},
			{Status: ActionSkipped},
		}
		if got := AggregateStatus(outcomes, false); got != ExecutionSucceeded {
			t.Errorf("got %s, want %s", got, ExecutionSucceeded)
		}
	})
}

func TestActionTypeIsValid(t *testing.T) {
	for _, at := range []ActionType{ActionNotify, ActionAckAlert, ActionRunScript} {
		if !at.IsValid() {
			t.Errorf("expected %s to be valid", at)
		}
	}
	if ActionType("reboot_planet").IsValid() {
		t.Error("expected unknown action type to be invalid")
	}
}
