package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"remedyd/internal/config"
	"remedyd/internal/sqlite"
	"remedyd/pkg/models"

	"github.com/google/uuid"
)

// ExecutionStore is the persistence contract for the execution ledger.
type ExecutionStore interface {
	CreateExecutionIfIdle(ctx context.Context, exec *models.Execution) (bool, error)
	MarkExecutionRunning(ctx context.Context, executionID string) error
	FinalizeExecution(ctx context.Context, exec *models.Execution) error
	LatestNonTerminalExecution(ctx context.Context, ruleID models.RuleID) (*models.Execution, error)
	LastTerminalEnd(ctx context.Context, ruleID models.RuleID) (*time.Time, error)
	ReconcileStaleExecutions(ctx context.Context, olderThan time.Time, reason string) (int64, error)
}

// Ledger wraps the execution store with the durability policy: terminal
// writes are retried with backoff, and on exhaustion the record is parked in
// process and re-flushed before the next successful write. A terminal
// execution is never silently dropped; the one deliberate drop is a write the
// store permanently rejects because it already holds a terminal record for
// that execution, and that drop is logged.
type Ledger struct {
	store   ExecutionStore
	log     *slog.Logger
	retries int
	backoff time.Duration
	maxAge  time.Duration

	mu     sync.Mutex
	parked []*models.Execution
}

// NewLedger constructs the ledger from the engine configuration.
func NewLedger(store ExecutionStore, cfg config.EngineConfig, log *slog.Logger) *Ledger {
	retries := cfg.PersistRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.PersistBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxAge := cfg.MaxExecutionAge
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	return &Ledger{
		store:   store,
		log:     log.With("component", "execution_ledger"),
		retries: retries,
		backoff: backoff,
		maxAge:  maxAge,
	}
}

// Begin creates a pending execution for the rule unless one is already in
// flight. The conditional insert is the atomic single-flight check; created
// is false when the trigger was suppressed.
func (l *Ledger) Begin(ctx context.Context, rule *models.Rule, trigger models.TriggerData) (*models.Execution, bool, error) {
	exec := &models.Execution{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		Status:    models.ExecutionPending,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	created, err := l.store.CreateExecutionIfIdle(ctx, exec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create execution for rule %d: %w", rule.ID, err)
	}
	return exec, created, nil
}

// MarkRunning transitions the execution to running, in memory and in the store.
func (l *Ledger) MarkRunning(ctx context.Context, exec *models.Execution) error {
	if !exec.Status.CanTransition(models.ExecutionRunning) {
		return &models.ErrInvalidTransition{From: exec.Status, To: models.ExecutionRunning}
	}
	if err := l.store.MarkExecutionRunning(ctx, exec.ID); err != nil {
		return err
	}
	exec.Status = models.ExecutionRunning
	return nil
}

// Finalize validates the transition, stamps the end time exactly once, and
// persists the terminal record with the retry/park policy. A nil return means
// the record is durable or parked; it is never lost.
func (l *Ledger) Finalize(ctx context.Context, exec *models.Execution, status models.ExecutionStatus) error {
	if !exec.Status.CanTransition(status) {
		return &models.ErrInvalidTransition{From: exec.Status, To: status}
	}
	exec.Status = status
	if exec.EndedAt == nil {
		now := time.Now().UTC()
		exec.EndedAt = &now
	}
	executionsCounter(string(status)).Inc()

	l.flushParked(ctx)

	if err := l.persist(ctx, exec); err != nil {
		// A permanent rejection means the store already holds a terminal
		// record, typically because an operator cancel landed first. The
		// loser of that race is dropped, not parked: re-flushing it could
		// never succeed.
		if errors.Is(err, sqlite.ErrAlreadyTerminal) {
			l.log.Warn("terminal write superseded by an existing terminal record, dropping",
				"execution_id", exec.ID, "rule_id", exec.RuleID, "status", status)
			return nil
		}
		persistParked.Inc()
		l.log.Error("terminal write failed after retries, parking execution for re-flush",
			"execution_id", exec.ID, "rule_id", exec.RuleID, "error", err)
		l.mu.Lock()
		l.parked = append(l.parked, exec)
		l.mu.Unlock()
	}
	return nil
}

func (l *Ledger) persist(ctx context.Context, exec *models.Execution) error {
	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			persistRetries.Inc()
			select {
			case <-time.After(l.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = l.store.FinalizeExecution(ctx, exec); lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, sqlite.ErrAlreadyTerminal) {
			return lastErr
		}
	}
	return lastErr
}

// flushParked retries previously parked terminal records. Records that still
// fail stay parked for the next attempt.
func (l *Ledger) flushParked(ctx context.Context) {
	l.mu.Lock()
	pending := l.parked
	l.parked = nil
	l.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	var remaining []*models.Execution
	for _, exec := range pending {
		if err := l.store.FinalizeExecution(ctx, exec); err != nil {
			if errors.Is(err, sqlite.ErrAlreadyTerminal) {
				l.log.Warn("dropping parked execution, store already holds a terminal record",
					"execution_id", exec.ID, "rule_id", exec.RuleID)
				continue
			}
			remaining = append(remaining, exec)
		} else {
			l.log.Info("re-flushed parked execution", "execution_id", exec.ID, "rule_id", exec.RuleID)
		}
	}
	if len(remaining) > 0 {
		l.mu.Lock()
		l.parked = append(remaining, l.parked...)
		l.mu.Unlock()
	}
}

// Parked reports how many terminal records are waiting for a re-flush.
func (l *Ledger) Parked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.parked)
}

// InFlight returns the rule's current non-terminal execution, if any.
func (l *Ledger) InFlight(ctx context.Context, ruleID models.RuleID) (*models.Execution, error) {
	return l.store.LatestNonTerminalExecution(ctx, ruleID)
}

// LastTerminalEnd reports when the rule last finished an execution.
func (l *Ledger) LastTerminalEnd(ctx context.Context, ruleID models.RuleID) (*time.Time, error) {
	return l.store.LastTerminalEnd(ctx, ruleID)
}

// ReconcileStale is the watchdog: executions running past the maximum
// lifetime are forced to failed so nothing stays "running" forever.
func (l *Ledger) ReconcileStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-l.maxAge)
	n, err := l.store.ReconcileStaleExecutions(ctx, cutoff, fmt.Sprintf("exceeded maximum execution lifetime of %s", l.maxAge))
	if err != nil {
		l.log.Warn("stale execution reconciliation failed", "error", err)
		return
	}
	if n > 0 {
		staleReconciled.Add(int(n))
		l.log.Warn("reconciled stale executions to failed", "count", n, "older_than", cutoff)
	}
}
