// Package core contains business logic for managing the remediation rule
// catalog and querying the execution ledger. Handlers and CLI commands call
// into core rather than hitting the storage layer directly.
package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"remedyd/internal/ruleexpr"
	"remedyd/internal/sqlite"
	"remedyd/pkg/models"
)

var (
	// ErrRuleNotFound is returned when a rule cannot be located.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrInvalidRuleConfiguration indicates the request payload failed validation.
	ErrInvalidRuleConfiguration = errors.New("invalid rule configuration")
)

// validateActions checks each declared action. An empty list is valid: the
// rule still fires and records a no-op execution, which is useful for
// audit-only rules.
func validateActions(actions []models.ActionSpec) error {
	for i, action := range actions {
		if !action.Type.IsValid() {
			return fmt.Errorf("action %d has unknown type %q", i, action.Type)
		}
		if action.Type == models.ActionRunScript && strings.TrimSpace(action.Params["command"]) == "" {
			return fmt.Errorf("action %d (run_script) requires a command param", i)
		}
	}
	return nil
}

func validateRule(name, triggerExpr string, actions []models.ActionSpec, cooldownSeconds int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := ruleexpr.Parse(triggerExpr); err != nil {
		return fmt.Errorf("invalid trigger expression: %w", err)
	}
	if err := validateActions(actions); err != nil {
		return err
	}
	if cooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds must not be negative")
	}
	return nil
}

// CreateRule validates and persists a new remediation rule. The trigger
// expression must parse; a rule that cannot compile is rejected here rather
// than surfacing as a catalog refresh error later.
func CreateRule(ctx context.Context, db *sqlite.DB, log *slog.Logger, req *models.CreateRuleRequest) (*models.Rule, error) {
	if req == nil {
		return nil, ErrInvalidRuleConfiguration
	}
	if err := validateRule(req.Name, req.TriggerExpr, req.Actions, req.CooldownSeconds); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRuleConfiguration, err)
	}

	rule := &models.Rule{
		Name:            strings.TrimSpace(req.Name),
		Description:     strings.TrimSpace(req.Description),
		Enabled:         req.Enabled,
		TriggerExpr:     strings.TrimSpace(req.TriggerExpr),
		Actions:         req.Actions,
		CooldownSeconds: req.CooldownSeconds,
		AbortOnFailure:  req.AbortOnFailure,
	}

	if err := db.CreateRule(ctx, rule); err != nil {
		log.Error("failed to create rule", "name", rule.Name, "error", err)
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	log.Info("rule created", "rule_id", rule.ID, "name", rule.Name, "enabled", rule.Enabled)
	return rule, nil
}

// GetRule retrieves a single rule by ID.
func GetRule(ctx context.Context, db *sqlite.DB, log *slog.Logger, ruleID models.RuleID) (*models.Rule, error) {
	rule, err := db.GetRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		log.Error("failed to get rule", "rule_id", ruleID, "error", err)
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListRules returns all rules in catalog order.
func ListRules(ctx context.Context, db *sqlite.DB, log *slog.Logger) ([]*models.Rule, error) {
	rules, err := db.ListRules(ctx)
	if err != nil {
		log.Error("failed to list rules", "error", err)
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// UpdateRule applies a partial update to an existing rule. Only fields present
// in the request change; the merged result must still validate as a whole.
func UpdateRule(ctx context.Context, db *sqlite.DB, log *slog.Logger, ruleID models.RuleID, req *models.UpdateRuleRequest) (*models.Rule, error) {
	if req == nil {
		return nil, ErrInvalidRuleConfiguration
	}

	rule, err := GetRule(ctx, db, log, ruleID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = strings.TrimSpace(*req.Description)
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.TriggerExpr != nil {
		rule.TriggerExpr = strings.TrimSpace(*req.TriggerExpr)
	}
	if req.Actions != nil {
		rule.Actions = *req.Actions
	}
	if req.CooldownSeconds != nil {
		rule.CooldownSeconds = *req.CooldownSeconds
	}
	if req.AbortOnFailure != nil {
		rule.AbortOnFailure = *req.AbortOnFailure
	}

	if err := validateRule(rule.Name, rule.TriggerExpr, rule.Actions, rule.CooldownSeconds); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRuleConfiguration, err)
	}

	if err := db.UpdateRule(ctx, rule); err != nil {
		log.Error("failed to update rule", "rule_id", ruleID, "error", err)
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	log.Info("rule updated", "rule_id", rule.ID, "name", rule.Name)
	return rule, nil
}

// SetRuleEnabled flips a rule's enabled flag. Disabling a rule stops future
// evaluations; an execution already in flight runs to completion.
func SetRuleEnabled(ctx context.Context, db *sqlite.DB, log *slog.Logger, ruleID models.RuleID, enabled bool) (*models.Rule, error) {
	if _, err := GetRule(ctx, db, log, ruleID); err != nil {
		return nil, err
	}
	if err := db.SetRuleEnabled(ctx, ruleID, enabled); err != nil {
		log.Error("failed to set rule enabled flag", "rule_id", ruleID, "enabled", enabled, "error", err)
		return nil, fmt.Errorf("failed to set rule enabled flag: %w", err)
	}
	log.Info("rule enabled flag changed", "rule_id", ruleID, "enabled", enabled)
	return GetRule(ctx, db, log, ruleID)
}

// DeleteRule removes a rule. Its execution history is removed with it.
func DeleteRule(ctx context.Context, db *sqlite.DB, log *slog.Logger, ruleID models.RuleID) error {
	if _, err := GetRule(ctx, db, log, ruleID); err != nil {
		return err
	}
	if err := db.DeleteRule(ctx, ruleID); err != nil {
		log.Error("failed to delete rule", "rule_id", ruleID, "error", err)
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	log.Info("rule deleted", "rule_id", ruleID)
	return nil
}
