package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"remedyd/internal/actions"
	"remedyd/pkg/models"
)

// Executor runs the action sequence for a fired rule and finalizes the
// execution record. It performs no I/O itself beyond invoking the registered
// action runners and timing them.
type Executor struct {
	registry      *actions.Registry
	ledger        *Ledger
	actionTimeout time.Duration
	log           *slog.Logger
	onCompleted   func(*models.Execution)
}

// NewExecutor constructs an executor using the given action registry.
func NewExecutor(registry *actions.Registry, ledger *Ledger, actionTimeout time.Duration, log *slog.Logger) *Executor {
	if actionTimeout <= 0 {
		actionTimeout = 30 * time.Second
	}
	return &Executor{
		registry:      registry,
		ledger:        ledger,
		actionTimeout: actionTimeout,
		log:           log.With("component", "action_executor"),
	}
}

// OnCompleted registers a hook invoked after every execution reaches a
// terminal status, for downstream consumers such as dashboards. The hook runs
// on the execution's goroutine and must not block. Set before Start.
func (e *Executor) OnCompleted(fn func(*models.Execution)) {
	e.onCompleted = fn
}

func (e *Executor) completed(exec *models.Execution) {
	if e.onCompleted != nil {
		e.onCompleted(exec)
	}
}

// Run executes the rule's actions strictly in declared order and writes the
// terminal record. ctx is the execution lifetime context: it stays open
// through graceful shutdown until the grace period lapses, at which point the
// execution is finalized cancelled with whatever audit exists so far.
func (e *Executor) Run(ctx context.Context, rule CompiledRule, exec *models.Execution) {
	log := e.log.With("rule_id", rule.ID, "rule", rule.Name, "execution_id", exec.ID)

	// Finalization must survive context cancellation or the record would be
	// stuck non-terminal until the watchdog sweeps it.
	finalizeCtx := context.WithoutCancel(ctx)

	if err := e.ledger.MarkRunning(ctx, exec); err != nil {
		log.Error("failed to mark execution running", "error", err)
		exec.Error = fmt.Sprintf("failed to start: %v", err)
		if ferr := e.ledger.Finalize(finalizeCtx, exec, models.ExecutionFailed); ferr != nil {
			log.Error("failed to finalize execution", "error", ferr)
		}
		e.completed(exec)
		return
	}

	outcomes := make([]models.ActionOutcome, 0, len(rule.Actions))
	var aborted, cancelled bool
	for i, spec := range rule.Actions {
		if cancelled || aborted || ctx.Err() != nil {
			if ctx.Err() != nil {
				cancelled = true
			}
			outcomes = append(outcomes, models.ActionOutcome{
				Index:  i,
				Type:   spec.Type,
				Params: spec.Params,
				Status: models.ActionSkipped,
			})
			continue
		}

		outcome := e.runAction(ctx, i, spec, exec.Trigger)
		outcomes = append(outcomes, outcome)

		if outcome.Status == models.ActionFailed {
			if ctx.Err() != nil {
				cancelled = true
			} else if rule.AbortOnFailure {
				aborted = true
			}
		}
	}
	exec.Actions = outcomes

	var status models.ExecutionStatus
	if cancelled {
		status = models.ExecutionCancelled
		exec.Error = "shutdown grace period elapsed before completion"
	} else {
		status = models.AggregateStatus(outcomes, rule.AbortOnFailure)
	}

	if err := e.ledger.Finalize(finalizeCtx, exec, status); err != nil {
		log.Error("failed to finalize execution", "status", status, "error", err)
	} else {
		log.Info("execution finished", "status", status, "actions", len(outcomes))
	}
	e.completed(exec)
}

// runAction invokes one action with its own bounded timeout and captures the
// audit outcome. Runner panics are contained as action failures.
func (e *Executor) runAction(ctx context.Context, index int, spec models.ActionSpec, trigger models.TriggerData) (outcome models.ActionOutcome) {
	outcome = models.ActionOutcome{
		Index:  index,
		Type:   spec.Type,
		Params: spec.Params,
	}

	runner, err := e.registry.Lookup(spec.Type)
	if err != nil {
		outcome.Status = models.ActionFailed
		outcome.Error = err.Error()
		return outcome
	}

	timeout := e.actionTimeout
	if raw := spec.Params["timeout"]; raw != "" {
		if d, perr := time.ParseDuration(raw); perr == nil && d > 0 {
			timeout = d
		}
	}
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		outcome.DurationMS = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			outcome.Status = models.ActionFailed
			outcome.Error = fmt.Sprintf("action panicked: %v", r)
		}
	}()

	result, err := runner.Run(actionCtx, spec, trigger)
	outcome.Output = result.Output
	if err != nil {
		outcome.Status = models.ActionFailed
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Status = models.ActionSucceeded
	return outcome
}
