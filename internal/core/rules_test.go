package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"remedyd/internal/config"
	"remedyd/internal/sqlite"
	"remedyd/pkg/models"
)

func testDB(t *testing.T) (*sqlite.DB, *slog.Logger) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := sqlite.New(sqlite.Options{
		Config: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "remedyd.db")},
		Logger: log,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, log
}

func validCreateRequest(name string) *models.CreateRuleRequest {
	return &models.CreateRuleRequest{
		Name:        name,
		Enabled:     true,
		TriggerExpr: "cpu_percent > 90 for 60s",
		Actions: []models.ActionSpec{
			{Type: models.ActionNotify, Params: map[string]string{"url": "https://hooks.example.com/oncall"}},
		},
		CooldownSeconds: 300,
	}
}

func TestCreateRule(t *testing.T) {
	db, log := testDB(t)
	ctx := context.Background()

	t.Run("valid rule persists", func(t *testing.T) {
		rule, err := CreateRule(ctx, db, log, validCreateRequest("high-cpu"))
		if err != nil {
			t.Fatalf("CreateRule: %v", err)
		}
		if rule.ID == 0 {
			t.Error("expected assigned rule ID")
		}
		if rule.CreatedAt.IsZero() || rule.UpdatedAt.IsZero() {
			t.Error("expected timestamps to be set")
		}

		got, err := GetRule(ctx, db, log, rule.ID)
		if err != nil {
			t.Fatalf("GetRule: %v", err)
		}
		if got.TriggerExpr != "cpu_percent > 90 for 60s" {
			t.Errorf("trigger = %q", got.TriggerExpr)
		}
		if len(got.Actions) != 1 || got.Actions[0].Type != models.ActionNotify {
			t.Errorf("actions = %+v", got.Actions)
		}
	})

	t.Run("invalid trigger expression rejected", func(t *testing.T) {
		req := validCreateRequest("broken")
		req.TriggerExpr = "cpu_percent >"
		if _, err := CreateRule(ctx, db, log, req); !errors.Is(err, ErrInvalidRuleConfiguration) {
			t.Fatalf("expected ErrInvalidRuleConfiguration, got %v", err)
		}
	})

	t.Run("empty action list is a valid no-op rule", func(t *testing.T) {
		req := validCreateRequest("audit-only")
		req.Actions = nil
		rule, err := CreateRule(ctx, db, log, req)
		if err != nil {
			t.Fatalf("CreateRule: %v", err)
		}
		got, err := GetRule(ctx, db, log, rule.ID)
		if err != nil {
			t.Fatalf("GetRule: %v", err)
		}
		if len(got.Actions) != 0 {
			t.Errorf("actions = %+v, want none", got.Actions)
		}
	})

	t.Run("unknown action type rejected", func(t *testing.T) {
		req := validCreateRequest("bad-action")
		req.Actions = []models.ActionSpec{{Type: models.ActionType("teleport")}}
		if _, err := CreateRule(ctx, db, log, req); !errors.Is(err, ErrInvalidRuleConfiguration) {
			t.Fatalf("expected ErrInvalidRuleConfiguration, got %v", err)
		}
	})

	t.Run("run_script requires command", func(t *testing.T) {
		req := validCreateRequest("no-command")
		req.Actions = []models.ActionSpec{{Type: models.ActionRunScript}}
		if _, err := CreateRule(ctx, db, log, req); !errors.Is(err, ErrInvalidRuleConfiguration) {
			t.Fatalf("expected ErrInvalidRuleConfiguration, got %v", err)
		}
	})

	t.Run("duplicate name rejected by storage", func(t *testing.T) {
		if _, err := CreateRule(ctx, db, log, validCreateRequest("dup")); err != nil {
			t.Fatalf("first create: %v", err)
		}
		if _, err := CreateRule(ctx, db, log, validCreateRequest("dup")); err == nil {
			t.Fatal("expected unique name violation")
		}
	})
}

func TestUpdateRule(t *testing.T) {
	db, log := testDB(t)
	ctx := context.Background()

	rule, err := CreateRule(ctx, db, log, validCreateRequest("tune-me"))
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	t.Run("partial update", func(t *testing.T) {
		expr := "session_count > 200"
		cooldown := 60
		updated, err := UpdateRule(ctx, db, log, rule.ID, &models.UpdateRuleRequest{
			TriggerExpr:     &expr,
			CooldownSeconds: &cooldown,
		})
		if err != nil {
			t.Fatalf("UpdateRule: %v", err)
		}
		if updated.TriggerExpr != expr || updated.CooldownSeconds != 60 {
			t.Errorf("updated = %+v", updated)
		}
		// Untouched fields survive.
		if updated.Name != "tune-me" || len(updated.Actions) != 1 {
			t.Errorf("unexpected change to untouched fields: %+v", updated)
		}
	})

	t.Run("merged result must validate", func(t *testing.T) {
		bad := "not a trigger (("
		_, err := UpdateRule(ctx, db, log, rule.ID, &models.UpdateRuleRequest{TriggerExpr: &bad})
		if !errors.Is(err, ErrInvalidRuleConfiguration) {
			t.Fatalf("expected ErrInvalidRuleConfiguration, got %v", err)
		}
	})

	t.Run("missing rule", func(t *testing.T) {
		name := "ghost"
		_, err := UpdateRule(ctx, db, log, models.RuleID(9999), &models.UpdateRuleRequest{Name: &name})
		if !errors.Is(err, ErrRuleNotFound) {
			t.Fatalf("expected ErrRuleNotFound, got %v", err)
		}
	})
}

func TestSetRuleEnabledAndDelete(t *testing.T) {
	db, log := testDB(t)
	ctx := context.Background()

	rule, err := CreateRule(ctx, db, log, validCreateRequest("toggle"))
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	disabled, err := SetRuleEnabled(ctx, db, log, rule.ID, false)
	if err != nil {
		t.Fatalf("SetRuleEnabled: %v", err)
	}
	if disabled.Enabled {
		t.Error("expected rule to be disabled")
	}

	enabledRules, err := db.ListEnabledRules(ctx)
	if err != nil {
		t.Fatalf("ListEnabledRules: %v", err)
	}
	for _, r := range enabledRules {
		if r.ID == rule.ID {
			t.Error("disabled rule still listed as enabled")
		}
	}

	if err := DeleteRule(ctx, db, log, rule.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if _, err := GetRule(ctx, db, log, rule.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound after delete, got %v", err)
	}
}

func TestListRulesCatalogOrder(t *testing.T) {
	db, log := testDB(t)
	ctx := context.Background()

	for _, name := range []string{"zebra", "alpha", "mango"} {
		if _, err := CreateRule(ctx, db, log, validCreateRequest(name)); err != nil {
			t.Fatalf("CreateRule(%s): %v", name, err)
		}
	}

	rules, err := ListRules(ctx, db, log)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	want := []string{"alpha", "mango", "zebra"}
	if len(rules) != len(want) {
		t.Fatalf("rules = %d, want %d", len(rules), len(want))
	}
	for i, name := range want {
		if rules[i].Name != name {
			t.Errorf("rules[%d] = %s, want %s", i, rules[i].Name, name)
		}
	}
}

func TestExecutionLedgerRoundTrip(t *testing.T) {
	db, log := testDB(t)
	ctx := context.Background()

	rule, err := CreateRule(ctx, db, log, validCreateRequest("ledger"))
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	exec := &models.Execution{
		ID:     "exec-1",
		RuleID: rule.ID,
		Status: models.ExecutionPending,
		Trigger: models.TriggerData{
			Expression: rule.TriggerExpr,
			Fields:     map[string]string{"cpu_percent": "95"},
			ObservedAt: time.Now().UTC(),
		},
		StartedAt: time.Now().UTC(),
	}

	created, err := db.CreateExecutionIfIdle(ctx, exec)
	if err != nil || !created {
		t.Fatalf("CreateExecutionIfIdle: created=%t err=%v", created, err)
	}

	// Single flight: a second insert for the same rule is suppressed.
	dup := *exec
	dup.ID = "exec-2"
	created, err = db.CreateExecutionIfIdle(ctx, &dup)
	if err != nil {
		t.Fatalf("CreateExecutionIfIdle: %v", err)
	}
	if created {
		t.Fatal("expected second insert to be suppressed while first is non-terminal")
	}

	if err := db.MarkExecutionRunning(ctx, exec.ID); err != nil {
		t.Fatalf("MarkExecutionRunning: %v", err)
	}

	ended := time.Now().UTC()
	exec.Status = models.ExecutionSucceeded
	exec.EndedAt = &ended
	exec.Actions = []models.ActionOutcome{
		{Index: 0, Type: models.ActionNotify, Status: models.ActionSucceeded, DurationMS: 12},
	}
	if err := db.FinalizeExecution(ctx, exec); err != nil {
		t.Fatalf("FinalizeExecution: %v", err)
	}

	// Terminal records are immutable.
	if err := db.FinalizeExecution(ctx, exec); err == nil {
		t.Fatal("expected second finalize to be rejected")
	}

	got, err := GetExecution(ctx, db, log, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != models.ExecutionSucceeded {
		t.Errorf("status = %s", got.Status)
	}
	if got.Trigger.Fields["cpu_percent"] != "95" {
		t.Errorf("trigger fields = %v", got.Trigger.Fields)
	}
	if len(got.Actions) != 1 || got.Actions[0].Status != models.ActionSucceeded {
		t.Errorf("actions = %+v", got.Actions)
	}
	if got.EndedAt == nil {
		t.Error("expected ended_at to round-trip")
	}

	last, err := db.LastTerminalEnd(ctx, rule.ID)
	if err != nil {
		t.Fatalf("LastTerminalEnd: %v", err)
	}
	if last == nil {
		t.Fatal("expected last terminal end after finalize")
	}

	history, err := ListRuleExecutions(ctx, db, log, rule.ID, 10)
	if err != nil {
		t.Fatalf("ListRuleExecutions: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history = %d, want 1", len(history))
	}
}

func TestCancelExecution(t *testing.T) {
	db, log := testDB(t)
	ctx := context.Background()

	rule, err := CreateRule(ctx, db, log, validCreateRequest("cancel"))
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	exec := &models.Execution{
		ID:        "exec-cancel",
		RuleID:    rule.ID,
		Status:    models.ExecutionPending,
		Trigger:   models.TriggerData{Expression: rule.TriggerExpr, ObservedAt: time.Now().UTC()},
		StartedAt: time.Now().UTC(),
	}
	if created, err := db.CreateExecutionIfIdle(ctx, exec); err != nil || !created {
		t.Fatalf("CreateExecutionIfIdle: created=%t err=%v", created, err)
	}
	if err := db.MarkExecutionRunning(ctx, exec.ID); err != nil {
		t.Fatalf("MarkExecutionRunning: %v", err)
	}

	got, err := CancelExecution(ctx, db, log, exec.ID, "operator intervention")
	if err != nil {
		t.Fatalf("CancelExecution: %v", err)
	}
	if got.Status != models.ExecutionCancelled {
		t.Errorf("status = %s, want %s", got.Status, models.ExecutionCancelled)
	}
	if got.EndedAt == nil {
		t.Error("expected ended_at to be stamped")
	}
	if got.Error != "operator intervention" {
		t.Errorf("error = %q", got.Error)
	}

	// A second cancel hits the terminal guard.
	var invalid *models.ErrInvalidTransition
	if _, err := CancelExecution(ctx, db, log, exec.ID, ""); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition error, got %v", err)
	}

	// The ledger slot frees up for the next trigger.
	next := &models.Execution{
		ID:        "exec-after-cancel",
		RuleID:    rule.ID,
		Status:    models.ExecutionPending,
		Trigger:   models.TriggerData{Expression: rule.TriggerExpr, ObservedAt: time.Now().UTC()},
		StartedAt: time.Now().UTC(),
	}
	if created, err := db.CreateExecutionIfIdle(ctx, next); err != nil || !created {
		t.Fatalf("expected new execution after cancel, created=%t err=%v", created, err)
	}

	if _, err := CancelExecution(ctx, db, log, "no-such-exec", ""); !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}
}
