package engine

import (
	"context"
	"testing"
	"time"

	"remedyd/internal/actions"
	"remedyd/pkg/models"
)

type fakeRuleStore struct {
	rules []*models.Rule
	err   error
}

func (s *fakeRuleStore) ListEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	return s.rules, s.err
}

type staticHistory []models.SignalSnapshot

func (h staticHistory) History() []models.SignalSnapshot {
	return h
}

func matchingHistory() staticHistory {
	return staticHistory{
		{At: time.Now().UTC(), Metrics: map[string]float64{"cpu_percent": 95}},
	}
}

func engineFixture(t *testing.T, rules []*models.Rule, history SignalHistory) (*Engine, *fakeExecutionStore) {
	t.Helper()
	store := newFakeExecutionStore()
	cfg := testEngineConfig()
	ledger := NewLedger(store, cfg, testLogger())

	catalog := NewCatalog(&fakeRuleStore{rules: rules}, time.Minute, testLogger())
	if err := catalog.Refresh(context.Background()); err != nil {
		t.Fatalf("catalog refresh: %v", err)
	}

	registry := actions.NewRegistry()
	registry.Register(models.ActionNotify, &recordingRunner{})
	executor := NewExecutor(registry, ledger, 0, testLogger())

	eng := New(Options{
		Config:   cfg,
		Catalog:  catalog,
		Signals:  history,
		Ledger:   ledger,
		Executor: executor,
		Logger:   testLogger(),
	})
	return eng, store
}

func waitForExecutions(eng *Engine) {
	eng.execWG.Wait()
}

func TestEngineTickDispatchesMatchingRule(t *testing.T) {
	eng, store := engineFixture(t, []*models.Rule{testRule(1)}, matchingHistory())

	eng.tick(context.Background())
	waitForExecutions(eng)

	if store.count() != 1 {
		t.Fatalf("executions = %d, want 1", store.count())
	}
	for id := range store.executions {
		exec := store.get(id)
		if exec.Status != models.ExecutionSucceeded {
			t.Errorf("status = %s, want succeeded", exec.Status)
		}
		if exec.Trigger.Expression != "cpu_percent > 90" {
			t.Errorf("trigger = %q", exec.Trigger.Expression)
		}
	}
}

func TestEngineTickNonMatchingRule(t *testing.T) {
	history := staticHistory{
		{At: time.Now().UTC(), Metrics: map[string]float64{"cpu_percent": 10}},
	}
	eng, store := engineFixture(t, []*models.Rule{testRule(1)}, history)

	eng.tick(context.Background())
	waitForExecutions(eng)

	if store.count() != 0 {
		t.Errorf("executions = %d, want 0", store.count())
	}
}

func TestEngineSingleFlightSuppressesTrigger(t *testing.T) {
	eng, store := engineFixture(t, []*models.Rule{testRule(1)}, matchingHistory())

	inflight := &models.Execution{
		ID:        "busy",
		RuleID:    1,
		Status:    models.ExecutionRunning,
		StartedAt: time.Now().UTC(),
	}
	store.mu.Lock()
	store.executions[inflight.ID] = inflight
	store.mu.Unlock()

	eng.tick(context.Background())
	waitForExecutions(eng)

	if store.count() != 1 {
		t.Errorf("executions = %d, want 1 (trigger suppressed)", store.count())
	}
}

func TestEngineCooldownSkipsRule(t *testing.T) {
	rule := testRule(1)
	rule.CooldownSeconds = 300
	eng, store := engineFixture(t, []*models.Rule{rule}, matchingHistory())

	recent := time.Now().UTC().Add(-time.Minute)
	done := &models.Execution{
		ID:        "prev",
		RuleID:    1,
		Status:    models.ExecutionSucceeded,
		StartedAt: recent.Add(-time.Minute),
		EndedAt:   &recent,
	}
	store.mu.Lock()
	store.executions[done.ID] = done
	store.mu.Unlock()

	eng.tick(context.Background())
	waitForExecutions(eng)

	if store.count() != 1 {
		t.Errorf("executions = %d, want 1 (cooldown active)", store.count())
	}
}

func TestEngineCooldownExpired(t *testing.T) {
	rule := testRule(1)
	rule.CooldownSeconds = 60
	eng, store := engineFixture(t, []*models.Rule{rule}, matchingHistory())

	old := time.Now().UTC().Add(-10 * time.Minute)
	done := &models.Execution{
		ID:        "prev",
		RuleID:    1,
		Status:    models.ExecutionSucceeded,
		StartedAt: old.Add(-time.Minute),
		EndedAt:   &old,
	}
	store.mu.Lock()
	store.executions[done.ID] = done
	store.mu.Unlock()

	eng.tick(context.Background())
	waitForExecutions(eng)

	if store.count() != 2 {
		t.Errorf("executions = %d, want 2 (cooldown expired)", store.count())
	}
}

func TestEngineSkipsDisabledAndBrokenRules(t *testing.T) {
	disabled := testRule(1)
	disabled.Enabled = false

	broken := testRule(2)
	broken.TriggerExpr = "cpu_percent >>> oops"

	eng, store := engineFixture(t, []*models.Rule{disabled, broken}, matchingHistory())

	eng.tick(context.Background())
	waitForExecutions(eng)

	if store.count() != 0 {
		t.Errorf("executions = %d, want 0", store.count())
	}
}

func TestEngineTickOverlapSkipped(t *testing.T) {
	eng, store := engineFixture(t, []*models.Rule{testRule(1)}, matchingHistory())

	eng.tickBusy.Store(true)
	eng.tick(context.Background())
	waitForExecutions(eng)

	if store.count() != 0 {
		t.Errorf("executions = %d, want 0 when previous tick still running", store.count())
	}
	if !eng.tickBusy.Load() {
		t.Error("skipped tick must not clear the busy flag")
	}
}

func TestEngineTickAfterStopDispatchesNothing(t *testing.T) {
	eng, store := engineFixture(t, []*models.Rule{testRule(1)}, matchingHistory())

	close(eng.stop)
	eng.tick(context.Background())
	waitForExecutions(eng)

	if store.count() != 0 {
		t.Errorf("executions = %d, want 0 once shutdown has begun", store.count())
	}
}

func TestEngineStopDrainsTicksBeforeExecutions(t *testing.T) {
	eng, store := engineFixture(t, []*models.Rule{testRule(1)}, matchingHistory())
	eng.cfg.TickInterval = time.Millisecond
	eng.cfg.ShutdownGrace = time.Second

	eng.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	eng.Stop()

	// After Stop returns, the tick goroutines have been joined and every
	// dispatched execution has drained: nothing may be left non-terminal.
	store.mu.Lock()
	defer store.mu.Unlock()
	for id, exec := range store.executions {
		if !exec.Status.IsTerminal() {
			t.Errorf("execution %s left non-terminal after Stop: %s", id, exec.Status)
		}
	}
	if len(store.executions) == 0 {
		t.Error("expected at least one execution to have been dispatched")
	}
}

func TestEngineRuleIsolation(t *testing.T) {
	good := testRule(2)

	eng, store := engineFixture(t, []*models.Rule{good}, matchingHistory())

	// Inject a compiled rule with no program ahead of the good one; it must
	// be passed over without affecting the rest of the cycle.
	degenerate := CompiledRule{Rule: *testRule(1)}
	degenerate.Program = nil
	eng.catalog.mu.Lock()
	eng.catalog.rules = append([]CompiledRule{degenerate}, eng.catalog.rules...)
	eng.catalog.mu.Unlock()

	eng.tick(context.Background())
	waitForExecutions(eng)

	found := false
	store.mu.Lock()
	for _, exec := range store.executions {
		if exec.RuleID == 2 {
			found = true
		}
	}
	store.mu.Unlock()
	if !found {
		t.Error("expected the healthy rule to execute despite the poisoned one")
	}
}
