package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"remedyd/pkg/models"
)

func TestCatalogRefreshCompilesRules(t *testing.T) {
	store := &fakeRuleStore{rules: []*models.Rule{testRule(1)}}
	catalog := NewCatalog(store, time.Minute, testLogger())

	if err := catalog.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rules := catalog.Rules()
	if len(rules) != 1 {
		t.Fatalf("rules = %d, want 1", len(rules))
	}
	if rules[0].Err != nil {
		t.Errorf("unexpected compile error: %v", rules[0].Err)
	}
	if rules[0].Program == nil {
		t.Error("expected compiled program")
	}
}

func TestCatalogCarriesCompileErrors(t *testing.T) {
	broken := testRule(1)
	broken.TriggerExpr = "cpu_percent >"
	store := &fakeRuleStore{rules: []*models.Rule{broken, testRule(2)}}
	catalog := NewCatalog(store, time.Minute, testLogger())

	if err := catalog.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rules := catalog.Rules()
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2; broken rules stay visible, just unevaluated", len(rules))
	}
	if rules[0].Err == nil {
		t.Error("expected compile error on broken rule")
	}
	if rules[1].Err != nil {
		t.Errorf("healthy rule carries error: %v", rules[1].Err)
	}
}

func TestCatalogServesLastKnownGoodOnRefreshFailure(t *testing.T) {
	store := &fakeRuleStore{rules: []*models.Rule{testRule(1)}}
	catalog := NewCatalog(store, time.Minute, testLogger())

	if err := catalog.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	store.err = errors.New("database is locked")
	if err := catalog.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	if rules := catalog.Rules(); len(rules) != 1 {
		t.Errorf("rules = %d, want last-known-good snapshot of 1", len(rules))
	}
}

func TestCatalogProgramCacheByRevision(t *testing.T) {
	rule := testRule(1)
	store := &fakeRuleStore{rules: []*models.Rule{rule}}
	catalog := NewCatalog(store, time.Minute, testLogger())

	ctx := context.Background()
	if err := catalog.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	first := catalog.Rules()[0].Program

	// Unchanged revision reuses the parsed program.
	if err := catalog.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if catalog.Rules()[0].Program != first {
		t.Error("expected cached program for unchanged rule revision")
	}

	// A new revision forces a re-parse.
	rule.TriggerExpr = "cpu_percent > 50"
	rule.UpdatedAt = rule.UpdatedAt.Add(time.Second)
	if err := catalog.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if catalog.Rules()[0].Program == first {
		t.Error("expected re-parsed program for updated rule")
	}
}
