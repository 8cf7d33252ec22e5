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
	insertRuleQuery = `INSERT INTO rules (
    name,
    description,
    enabled,
    trigger_expr,
    actions,
    cooldown_seconds,
    abort_on_failure
) VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id, created_at, updated_at`

	selectRuleBase = `SELECT
    id,
    name,
    description,
    enabled,
    trigger_expr,
    actions,
    cooldown_seconds,
    abort_on_failure,
    created_at,
    updated_at
FROM rules`

	updateRuleQuery = `UPDATE rules
SET name = ?,
    description = ?,
    enabled = ?,
    trigger_expr = ?,
    actions = ?,
    cooldown_seconds = ?,
    abort_on_failure = ?,
    updated_at = datetime('now')
WHERE id = ?`

	setRuleEnabledQuery = `UPDATE rules
SET enabled = ?,
    updated_at = datetime('now')
WHERE id = ?`

	deleteRuleQuery = `DELETE FROM rules WHERE id = ?`
)

// CreateRule inserts a new rule definition.
func (db *DB) CreateRule(ctx context.Context, rule *models.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule payload is required")
	}
	actionsJSON, err := marshalActions(rule.Actions)
	if err != nil {
		return err
	}

	row := db.writeDB.QueryRowContext(ctx, insertRuleQuery,
		rule.Name,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		rule.TriggerExpr,
		actionsJSON,
		rule.CooldownSeconds,
		boolToInt(rule.AbortOnFailure),
	)

	var (
		id        int64
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&id, &createdAt, &updatedAt); err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	rule.ID = models.RuleID(id)
	rule.CreatedAt = createdAt
	rule.UpdatedAt = updatedAt
	return nil
}

// UpdateRule persists changes to an existing rule definition.
func (db *DB) UpdateRule(ctx context.Context, rule *models.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule payload is required")
	}
	actionsJSON, err := marshalActions(rule.Actions)
	if err != nil {
		return err
	}

	res, err := db.writeDB.ExecContext(ctx, updateRuleQuery,
		rule.Name,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		rule.TriggerExpr,
		actionsJSON,
		rule.CooldownSeconds,
		boolToInt(rule.AbortOnFailure),
		int64(rule.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRuleEnabled flips the enabled flag without touching the rest of the rule.
func (db *DB) SetRuleEnabled(ctx context.Context, ruleID models.RuleID, enabled bool) error {
	res, err := db.writeDB.ExecContext(ctx, setRuleEnabledQuery, boolToInt(enabled), int64(ruleID))
	if err != nil {
		return fmt.Errorf("failed to set rule enabled: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRule retrieves a rule by its identifier.
func (db *DB) GetRule(ctx context.Context, ruleID models.RuleID) (*models.Rule, error) {
	row := db.readDB.QueryRowContext(ctx, selectRuleBase+" WHERE id = ?", int64(ruleID))
	return scanRule(row)
}

// GetRuleByName retrieves a rule by its unique name.
func (db *DB) GetRuleByName(ctx context.Context, name string) (*models.Rule, error) {
	row := db.readDB.QueryRowContext(ctx, selectRuleBase+" WHERE name = ?", name)
	return scanRule(row)
}

// ListRules returns every rule in catalog order.
func (db *DB) ListRules(ctx context.Context) ([]*models.Rule, error) {
	return db.listRules(ctx, selectRuleBase+" ORDER BY name ASC")
}

// ListEnabledRules returns the rules the engine should evaluate, in catalog order.
func (db *DB) ListEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	return db.listRules(ctx, selectRuleBase+" WHERE enabled = 1 ORDER BY name ASC")
}

func (db *DB) listRules(ctx context.Context, query string) ([]*models.Rule, error) {
	rows, err := db.readDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

// DeleteRule removes a rule definition and its execution history.
func (db *DB) DeleteRule(ctx context.Context, ruleID models.RuleID) error {
	res, err := db.writeDB.ExecContext(ctx, deleteRuleQuery, int64(ruleID))
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRule(scanner interface{ Scan(dest ...any) error }) (*models.Rule, error) {
	var (
		id              int64
		name            string
		description     sql.NullString
		enabled         int64
		triggerExpr     string
		actionsJSON     string
		cooldownSeconds int
		abortOnFailure  int64
		createdAt       time.Time
		updatedAt       time.Time
	)
	if err := scanner.Scan(&id, &name, &description, &enabled, &triggerExpr, &actionsJSON, &cooldownSeconds, &abortOnFailure, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	var actions []models.ActionSpec
	if actionsJSON != "" {
		if err := json.Unmarshal([]byte(actionsJSON), &actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule actions: %w", err)
		}
	}

	return &models.Rule{
		ID:              models.RuleID(id),
		Name:            name,
		Description:     description.String,
		Enabled:         enabled == 1,
		TriggerExpr:     triggerExpr,
		Actions:         actions,
		CooldownSeconds: cooldownSeconds,
		AbortOnFailure:  abortOnFailure == 1,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

func marshalActions(actions []models.ActionSpec) (string, error) {
	if actions == nil {
		actions = []models.ActionSpec{}
	}
	buf, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal actions: %w", err)
	}
	return string(buf), nil
}

func nullableString(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
