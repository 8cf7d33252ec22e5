package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"remedyd/internal/ruleexpr"
	"remedyd/pkg/models"
)

// RuleStore is the persistence contract the catalog reads rule definitions from.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]*models.Rule, error)
}

// CompiledRule pairs a rule definition with its parsed trigger program.
// Rules whose expression failed to parse carry the error instead; the
// scheduler never evaluates them.
type CompiledRule struct {
	models.Rule
	Program *ruleexpr.Program
	Err     error
}

type cachedProgram struct {
	revision time.Time
	program  *ruleexpr.Program
	err      error
}

// Catalog holds the engine's view of the enabled rules. Snapshots are
// immutable copies swapped atomically on refresh, so evaluation never sees a
// rule change mid-cycle. Refresh failures keep serving the last-known-good
// snapshot.
type Catalog struct {
	store    RuleStore
	interval time.Duration
	log      *slog.Logger

	mu       sync.RWMutex
	rules    []CompiledRule
	programs map[models.RuleID]cachedProgram

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCatalog constructs a catalog refreshing on the given interval.
func NewCatalog(store RuleStore, interval time.Duration, log *slog.Logger) *Catalog {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Catalog{
		store:    store,
		interval: interval,
		log:      log.With("component", "rule_catalog"),
		programs: make(map[models.RuleID]cachedProgram),
		stop:     make(chan struct{}),
	}
}

// Start performs an initial refresh and launches the periodic refresh loop.
// The initial refresh error is returned so startup can surface a broken store
// immediately; later failures only log.
func (c *Catalog) Start(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					catalogRefreshFail.Inc()
					c.log.Warn("catalog refresh failed, serving last-known-good rules", "error", err)
				}
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop halts the refresh loop.
func (c *Catalog) Stop() {
	close(c.stop)
	c.wg.Wait()
}

// Refresh loads the enabled rules and compiles their trigger expressions.
// Parsed programs are cached per rule revision, so unchanged rules are not
// re-parsed every cycle. Configuration errors are reported once per refresh.
func (c *Catalog) Refresh(ctx context.Context) error {
	rules, err := c.store.ListEnabledRules(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	compiled := make([]CompiledRule, 0, len(rules))
	programs := make(map[models.RuleID]cachedProgram, len(rules))
	for _, rule := range rules {
		cached, ok := c.programs[rule.ID]
		if !ok || !cached.revision.Equal(rule.UpdatedAt) {
			prog, perr := ruleexpr.Parse(rule.TriggerExpr)
			cached = cachedProgram{revision: rule.UpdatedAt, program: prog, err: perr}
		}
		programs[rule.ID] = cached

		if cached.err != nil {
			ruleConfigErrors.Inc()
			c.log.Error("rule has invalid trigger expression, skipping until fixed",
				"rule_id", rule.ID, "rule", rule.Name, "error", cached.err)
		}
		compiled = append(compiled, CompiledRule{Rule: *rule, Program: cached.program, Err: cached.err})
	}

	c.rules = compiled
	c.programs = programs
	return nil
}

// Rules returns the current snapshot in catalog order. The returned slice is
// a copy safe to iterate without holding any lock.
func (c *Catalog) Rules() []CompiledRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CompiledRule, len(c.rules))
	copy(out, c.rules)
	return out
}
