package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"remedyd/pkg/models"
)

const (
	// The conditional insert is the single-flight primitive: the write
	// connection serializes it, so two ticks can never both observe "no
	// running execution" and both fire.
	insertExecutionIfIdleQuery = `INSERT INTO executions (
    id, rule_id, status, trigger_expr, trigger_fields, observed_at, started_at, actions
)
SELECT ?, ?, ?, ?, ?, ?, ?, '[]'
WHERE NOT EXISTS (
    SELECT 1 FROM executions
    WHERE rule_id = ? AND status IN ('pending', 'running')
)`

	selectExecutionBase = `SELECT
    id,
    rule_id,
    status,
    trigger_expr,
    trigger_fields,
    observed_at,
    started_at,
    ended_at,
    actions,
    error,
    created_at
FROM executions`

	markExecutionRunningQuery = `UPDATE executions
SET status = 'running'
WHERE id = ? AND status = 'pending'`

	finalizeExecutionQuery = `UPDATE executions
SET status = ?,
    ended_at = ?,
    actions = ?,
    error = ?
WHERE id = ? AND status IN ('pending', 'running')`

	lastTerminalEndQuery = `SELECT ended_at FROM executions
WHERE rule_id = ? AND ended_at IS NOT NULL
ORDER BY ended_at DESC LIMIT 1`

	reconcileStaleQuery = `UPDATE executions
SET status = 'failed',
    ended_at = ?,
    error = ?
WHERE status IN ('pending', 'running') AND started_at < ?`
)

// CreateExecutionIfIdle atomically inserts a pending execution unless the rule
// already has a non-terminal one. Returns false (and no error) when the insert
// was suppressed by the single-flight check.
func (db *DB) CreateExecutionIfIdle(ctx context.Context, exec *models.Execution) (bool, error) {
	if exec == nil {
		return false, fmt.Errorf("execution payload is required")
	}
	fieldsJSON, err := json.Marshal(exec.Trigger.Fields)
	if err != nil {
		return false, fmt.Errorf("failed to marshal trigger fields: %w", err)
	}

	res, err := db.writeDB.ExecContext(ctx, insertExecutionIfIdleQuery,
		exec.ID,
		int64(exec.RuleID),
		string(models.ExecutionPending),
		exec.Trigger.Expression,
		string(fieldsJSON),
		exec.Trigger.ObservedAt,
		exec.StartedAt,
		int64(exec.RuleID),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert execution: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	exec.Status = models.ExecutionPending
	return true, nil
}

// MarkExecutionRunning transitions a pending execution to running.
func (db *DB) MarkExecutionRunning(ctx context.Context, executionID string) error {
	res, err := db.writeDB.ExecContext(ctx, markExecutionRunningQuery, executionID)
	if err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("execution %s is not pending", executionID)
	}
	return nil
}

// FinalizeExecution writes the terminal status, end time, and per-action audit
// for an execution. The status guard enforces that end time is set exactly
// once; finalizing an already-terminal execution is an invalid transition.
func (db *DB) FinalizeExecution(ctx context.Context, exec *models.Execution) error {
	if exec == nil {
		return fmt.Errorf("execution payload is required")
	}
	if !exec.Status.IsTerminal() {
		return fmt.Errorf("cannot finalize execution %s with non-terminal status %s", exec.ID, exec.Status)
	}
	if exec.EndedAt == nil {
		return fmt.Errorf("cannot finalize execution %s without end time", exec.ID)
	}
	actionsJSON, err := json.Marshal(exec.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal action outcomes: %w", err)
	}

	res, err := db.writeDB.ExecContext(ctx, finalizeExecutionQuery,
		string(exec.Status),
		*exec.EndedAt,
		string(actionsJSON),
		nullableString(exec.Error),
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, ErrAlreadyTerminal)
	}
	return nil
}

// GetExecution retrieves a single execution by ID.
func (db *DB) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	row := db.readDB.QueryRowContext(ctx, selectExecutionBase+" WHERE id = ?", executionID)
	return scanExecution(row)
}

// LatestNonTerminalExecution returns the rule's in-flight execution, or
// ErrNotFound when the rule is idle.
func (db *DB) LatestNonTerminalExecution(ctx context.Context, ruleID models.RuleID) (*models.Execution, error) {
	query := selectExecutionBase + ` WHERE rule_id = ? AND status IN ('pending', 'running')
ORDER BY started_at DESC LIMIT 1`
	row := db.readDB.QueryRowContext(ctx, query, int64(ruleID))
	return scanExecution(row)
}

// LastTerminalEnd returns when the rule's most recent execution finished, or
// nil when the rule has never completed one. Used for cooldown checks.
func (db *DB) LastTerminalEnd(ctx context.Context, ruleID models.RuleID) (*time.Time, error) {
	var ended sql.NullTime
	err := db.readDB.QueryRowContext(ctx, lastTerminalEndQuery, int64(ruleID)).Scan(&ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last terminal end: %w", err)
	}
	if !ended.Valid {
		return nil, nil
	}
	return &ended.Time, nil
}

// ListExecutions returns the most recent executions for a rule.
func (db *DB) ListExecutions(ctx context.Context, ruleID models.RuleID, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = models.DefaultExecutionHistoryLimit
	}
	query := selectExecutionBase + " WHERE rule_id = ? ORDER BY started_at DESC LIMIT ?"
	return db.listExecutions(ctx, query, int64(ruleID), limit)
}

// ListRecentExecutions returns the most recent executions across all rules.
func (db *DB) ListRecentExecutions(ctx context.Context, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = models.DefaultExecutionHistoryLimit
	}
	query := selectExecutionBase + " ORDER BY started_at DESC LIMIT ?"
	return db.listExecutions(ctx, query, limit)
}

func (db *DB) listExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := db.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return execs, nil
}

// ReconcileStaleExecutions fails every non-terminal execution older than the
// cutoff. The watchdog calls this so no execution is left permanently running.
func (db *DB) ReconcileStaleExecutions(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	res, err := db.writeDB.ExecContext(ctx, reconcileStaleQuery, time.Now().UTC(), reason, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile stale executions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reconcile result: %w", err)
	}
	return rows, nil
}

func scanExecution(scanner interface{ Scan(dest ...any) error }) (*models.Execution, error) {
	var (
		id          string
		ruleID      int64
		status      string
		triggerExpr string
		fieldsJSON  string
		observedAt  sql.NullTime
		startedAt   time.Time
		endedAt     sql.NullTime
		actionsJSON string
		errText     sql.NullString
		createdAt   time.Time
	)
	if err := scanner.Scan(&id, &ruleID, &status, &triggerExpr, &fieldsJSON, &observedAt, &startedAt, &endedAt, &actionsJSON, &errText, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	var fields map[string]string
	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger fields: %w", err)
		}
	}
	var actions []models.ActionOutcome
	if actionsJSON != "" {
		if err := json.Unmarshal([]byte(actionsJSON), &actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action outcomes: %w", err)
		}
	}

	exec := &models.Execution{
		ID:     id,
		RuleID: models.RuleID(ruleID),
		Status: models.ExecutionStatus(status),
		Trigger: models.TriggerData{
			Expression: triggerExpr,
			Fields:     fields,
		},
		StartedAt: startedAt,
		Actions:   actions,
		Error:     errText.String,
		CreatedAt: createdAt,
	}
	if observedAt.Valid {
		exec.Trigger.ObservedAt = observedAt.Time
	}
	if endedAt.Valid {
		exec.EndedAt = &endedAt.Time
	}
	return exec, nil
}
