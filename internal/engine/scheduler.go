// Package engine implements the remediation rule engine: a periodic control
// loop that evaluates trigger conditions against collected signals and runs
// each matching rule's action sequence exactly once per qualifying trigger,
// with single-flight and cooldown enforcement and a durable audit ledger.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"remedyd/internal/config"
	"remedyd/internal/sqlite"
	"remedyd/pkg/models"
)

// SignalHistory provides the snapshot window the evaluator consumes.
type SignalHistory interface {
	History() []models.SignalSnapshot
}

// Options encapsulates the dependencies required to run the engine.
type Options struct {
	Config   config.EngineConfig
	Catalog  *Catalog
	Signals  SignalHistory
	Ledger   *Ledger
	Executor *Executor
	Logger   *slog.Logger
}

// Engine drives rule evaluation on a fixed tick. Evaluation of one rule never
// blocks or aborts another; action execution for fired rules runs on a
// bounded concurrent pool so a slow remediation never delays evaluation.
type Engine struct {
	cfg      config.EngineConfig
	catalog  *Catalog
	signals  SignalHistory
	ledger   *Ledger
	executor *Executor
	log      *slog.Logger

	tickBusy atomic.Bool
	sem      chan struct{}

	execCtx    context.Context
	execCancel context.CancelFunc

	stop   chan struct{}
	loopWG sync.WaitGroup
	execWG sync.WaitGroup
}

// New constructs the engine.
func New(opts Options) *Engine {
	maxConcurrent := opts.Config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	execCtx, execCancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        opts.Config,
		catalog:    opts.Catalog,
		signals:    opts.Signals,
		ledger:     opts.Ledger,
		executor:   opts.Executor,
		log:        opts.Logger.With("component", "scheduler"),
		sem:        make(chan struct{}, maxConcurrent),
		execCtx:    execCtx,
		execCancel: execCancel,
		stop:       make(chan struct{}),
	}
}

// Start launches the control loop. Before the first tick, stale executions
// left behind by a previous process are reconciled so single-flight checks
// are not wedged by dead records.
func (e *Engine) Start(ctx context.Context) {
	interval := e.cfg.TickInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	e.log.Info("starting remediation engine", "tick_interval", interval, "max_concurrent", cap(e.sem))

	e.ledger.ReconcileStale(ctx)

	e.loopWG.Add(1)
	go func() {
		defer e.loopWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		watchdog := time.NewTicker(time.Minute)
		defer watchdog.Stop()

		for {
			select {
			case <-ticker.C:
				// Ticks join loopWG so Stop sees every dispatch land in
				// execWG before it starts waiting on it.
				e.loopWG.Add(1)
				go func() {
					defer e.loopWG.Done()
					e.tick(ctx)
				}()
			case <-watchdog.C:
				e.ledger.ReconcileStale(ctx)
			case <-e.stop:
				e.log.Info("scheduler stopping")
				return
			case <-ctx.Done():
				e.log.Info("scheduler context cancelled")
				return
			}
		}
	}()
}

// Stop halts the control loop and any tick still in progress, then gives
// in-flight executions the shutdown grace period to finish. Executions still
// running past the grace deadline are cancelled and finalized with partial
// audit.
func (e *Engine) Stop() {
	close(e.stop)
	e.loopWG.Wait()

	grace := e.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		e.execWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		e.log.Warn("shutdown grace elapsed, cancelling in-flight executions", "grace", grace)
		e.execCancel()
		<-done
	}
	e.execCancel()
}

// tick runs one evaluation cycle. If the previous tick is still running the
// cycle is skipped, never queued: timeliness is traded for bounded work.
func (e *Engine) tick(ctx context.Context) {
	if !e.tickBusy.CompareAndSwap(false, true) {
		ticksSkippedTotal.Inc()
		e.log.Warn("previous tick still running, skipping")
		return
	}
	defer e.tickBusy.Store(false)
	ticksTotal.Inc()

	history := e.signals.History()
	if len(history) == 0 {
		e.log.Debug("no signal snapshots yet, skipping evaluation")
		return
	}

	for _, rule := range e.catalog.Rules() {
		select {
		case <-e.stop:
			// Shutdown began mid-cycle; no new executions are dispatched.
			return
		default:
		}
		e.evaluateRule(ctx, rule, history)
	}
}

// evaluateRule applies the per-rule gate sequence: enabled → single-flight →
// cooldown → condition. Failures are contained; one broken rule never affects
// the others or the loop.
func (e *Engine) evaluateRule(ctx context.Context, rule CompiledRule, history []models.SignalSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("rule evaluation panicked", "rule_id", rule.ID, "rule", rule.Name, "panic", r)
		}
	}()

	if !rule.Enabled || rule.Err != nil {
		return
	}
	rulesEvaluated.Inc()

	// Cheap read-side single-flight check; the conditional insert below is
	// the authoritative one.
	inflight, err := e.ledger.InFlight(ctx, rule.ID)
	if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
		e.log.Error("single-flight check failed", "rule_id", rule.ID, "error", err)
		return
	}
	if inflight != nil {
		e.log.Debug("execution already in flight, skipping rule", "rule_id", rule.ID, "execution_id", inflight.ID)
		return
	}

	if cooldown := rule.Cooldown(); cooldown > 0 {
		lastEnd, err := e.ledger.LastTerminalEnd(ctx, rule.ID)
		if err != nil {
			e.log.Error("cooldown check failed", "rule_id", rule.ID, "error", err)
			return
		}
		if lastEnd != nil && time.Since(*lastEnd) < cooldown {
			e.log.Debug("rule within cooldown, skipping", "rule_id", rule.ID, "cooldown", cooldown)
			return
		}
	}

	matched, trigger := Evaluate(rule.Program, history)
	if !matched {
		return
	}
	ruleMatches.Inc()

	exec, created, err := e.ledger.Begin(ctx, &rule.Rule, trigger)
	if err != nil {
		e.log.Error("failed to create execution", "rule_id", rule.ID, "error", err)
		return
	}
	if !created {
		// Another tick won the race since the read check. Suppressed, not queued.
		triggersSuppressed.Inc()
		e.log.Info("trigger suppressed, execution already in flight", "rule_id", rule.ID, "rule", rule.Name)
		return
	}

	e.log.Info("rule matched, dispatching execution",
		"rule_id", rule.ID, "rule", rule.Name, "execution_id", exec.ID, "trigger", trigger.Expression)

	e.execWG.Add(1)
	go func() {
		defer e.execWG.Done()
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		e.executor.Run(e.execCtx, rule, exec)
	}()
}
