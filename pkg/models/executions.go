package models

import (
	"fmt"
	"time"
)

// ExecutionStatus captures the lifecycle state of a remediation execution.
// Executions begin in pending and progress until reaching a terminal state,
// after which no further transitions are possible.
type ExecutionStatus string

const (
	ExecutionPending         ExecutionStatus = "pending"
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionSucceeded       ExecutionStatus = "succeeded"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionPartiallyFailed ExecutionStatus = "partially_failed"
	ExecutionCancelled       ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is one of the recognized values.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionSucceeded,
		ExecutionFailed, ExecutionPartiallyFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionPartiallyFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal state change.
// The transition table is fixed: pending→running, running→any terminal, and
// pending→failed/cancelled for executions torn down before their first action.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionRunning || next == ExecutionCancelled || next == ExecutionFailed
	case ExecutionRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// ErrInvalidTransition reports an attempted illegal status change.
type ErrInvalidTransition struct {
	From ExecutionStatus
	To   ExecutionStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid execution transition %s -> %s", e.From, e.To)
}

// ActionStatus is the outcome of a single action within an execution.
type ActionStatus string

const (
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
	// ActionSkipped marks actions never attempted, either because the rule's
	// abort policy fired or the execution was cancelled mid-sequence.
	ActionSkipped ActionStatus = "skipped"
)

// ActionOutcome records the audit detail for one action attempt.
type ActionOutcome struct {
	Index      int               `json:"index"`
	Type       ActionType        `json:"type"`
	Params     map[string]string `json:"params,omitempty"`
	Status     ActionStatus      `json:"status"`
	Output     string            `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// TriggerData is the signal evidence captured at the instant a rule matched.
type TriggerData struct {
	Expression string            `json:"expression"`
	Fields     map[string]string `json:"fields,omitempty"`
	ObservedAt time.Time         `json:"observed_at"`
}

// Execution is one attempt to run a rule's action sequence in response to a
// match. It is created pending, mutated only by the executor, and becomes
// immutable once terminal.
type Execution struct {
	ID        string          `json:"id"`
	RuleID    RuleID          `json:"rule_id"`
	Status    ExecutionStatus `json:"status"`
	Trigger   TriggerData     `json:"trigger"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Actions   []ActionOutcome `json:"actions,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AggregateStatus derives the terminal status from per-action outcomes.
// Succeeded iff every attempted action succeeded; Failed when nothing
// succeeded or the abort policy stopped the sequence after a failure;
// PartiallyFailed on a mix. An empty action list is a successful no-op.
func AggregateStatus(outcomes []ActionOutcome, abortOnFailure bool) ExecutionStatus {
	var succeeded, failed int
	for _, o := range outcomes {
		switch o.Status {
		case ActionSucceeded:
			succeeded++
		case ActionFailed:
			failed++
		}
	}
	switch {
	case failed == 0:
		return ExecutionSucceeded
	case succeeded == 0:
		return ExecutionFailed
	case abortOnFailure:
		return ExecutionFailed
	default:
		return ExecutionPartiallyFailed
	}
}

// DefaultExecutionHistoryLimit controls how many history entries are returned
// when the caller does not specify a limit.
const DefaultExecutionHistoryLimit = 50
