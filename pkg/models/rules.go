package models

import "time"

// RuleID identifies a persisted remediation rule.
type RuleID int64

// ActionType enumerates the supported remediation action kinds.
type ActionType string

const (
	// ActionNotify posts the trigger payload to a configured webhook.
	ActionNotify ActionType = "notify"
	// ActionAckAlert acknowledges a monitored alert on the signal source.
	ActionAckAlert ActionType = "ack_alert"
	// ActionRunScript invokes an external remediation command.
	ActionRunScript ActionType = "run_script"
)

func (t ActionType) String() string {
	return string(t)
}

// IsValid reports whether the action type is one of the recognized values.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionNotify, ActionAckAlert, ActionRunScript:
		return true
	default:
		return false
	}
}

// ActionSpec describes a single step in a rule's remediation sequence.
type ActionSpec struct {
	Type   ActionType        `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

// Rule is a persisted condition→action policy. The engine treats loaded rules
// as immutable value snapshots; edits only take effect on the next catalog refresh.
type Rule struct {
	ID              RuleID       `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description,omitempty"`
	Enabled         bool         `json:"enabled"`
	TriggerExpr     string       `json:"trigger_expr"`
	Actions         []ActionSpec `json:"actions"`
	CooldownSeconds int          `json:"cooldown_seconds"`
	AbortOnFailure  bool         `json:"abort_on_failure"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Cooldown returns the configured cooldown as a duration. Zero means no cooldown.
func (r *Rule) Cooldown() time.Duration {
	if r.CooldownSeconds <= 0 {
		return 0
	}
	return time.Duration(r.CooldownSeconds) * time.Second
}

// CreateRuleRequest defines the payload required to create a new rule.
type CreateRuleRequest struct {
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	Enabled         bool         `json:"enabled"`
	TriggerExpr     string       `json:"trigger_expr"`
	Actions         []ActionSpec `json:"actions"`
	CooldownSeconds int          `json:"cooldown_seconds"`
	AbortOnFailure  bool         `json:"abort_on_failure"`
}

// UpdateRuleRequest defines updatable fields for an existing rule.
type UpdateRuleRequest struct {
	Name            *string       `json:"name"`
	Description     *string       `json:"description"`
	Enabled         *bool         `json:"enabled"`
	TriggerExpr     *string       `json:"trigger_expr"`
	Actions         *[]ActionSpec `json:"actions"`
	CooldownSeconds *int          `json:"cooldown_seconds"`
	AbortOnFailure  *bool         `json:"abort_on_failure"`
}
