package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"remedyd/internal/sqlite"
	"remedyd/pkg/models"
)

// ErrExecutionNotFound is returned when an execution record cannot be located.
var ErrExecutionNotFound = errors.New("execution not found")

// GetExecution retrieves a single execution record by ID.
func GetExecution(ctx context.Context, db *sqlite.DB, log *slog.Logger, executionID string) (*models.Execution, error) {
	exec, err := db.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		log.Error("failed to get execution", "execution_id", executionID, "error", err)
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// ListRuleExecutions returns a rule's execution history, newest first.
func ListRuleExecutions(ctx context.Context, db *sqlite.DB, log *slog.Logger, ruleID models.RuleID, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = models.DefaultExecutionHistoryLimit
	}
	if _, err := GetRule(ctx, db, log, ruleID); err != nil {
		return nil, err
	}
	execs, err := db.ListExecutions(ctx, ruleID, limit)
	if err != nil {
		log.Error("failed to list executions", "rule_id", ruleID, "error", err)
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return execs, nil
}

// CancelExecution manually finalizes a stuck non-terminal execution as
// cancelled. The executor's own finalize will then lose the write race and be
// rejected by the terminal-status guard, so the operator's verdict sticks.
func CancelExecution(ctx context.Context, db *sqlite.DB, log *slog.Logger, executionID, reason string) (*models.Execution, error) {
	exec, err := GetExecution(ctx, db, log, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return nil, &models.ErrInvalidTransition{From: exec.Status, To: models.ExecutionCancelled}
	}

	now := time.Now().UTC()
	exec.Status = models.ExecutionCancelled
	exec.EndedAt = &now
	if reason == "" {
		reason = "cancelled by operator"
	}
	exec.Error = reason

	if err := db.FinalizeExecution(ctx, exec); err != nil {
		log.Error("failed to cancel execution", "execution_id", executionID, "error", err)
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	log.Info("execution cancelled by operator", "execution_id", executionID, "rule_id", exec.RuleID)
	return exec, nil
}

// ListRecentExecutions returns the newest executions across all rules.
func ListRecentExecutions(ctx context.Context, db *sqlite.DB, log *slog.Logger, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = models.DefaultExecutionHistoryLimit
	}
	execs, err := db.ListRecentExecutions(ctx, limit)
	if err != nil {
		log.Error("failed to list recent executions", "error", err)
		return nil, fmt.Errorf("failed to list recent executions: %w", err)
	}
	return execs, nil
}
