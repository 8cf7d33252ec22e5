package engine

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	ticksTotal         = metrics.NewCounter("remedyd_scheduler_ticks_total")
	ticksSkippedTotal  = metrics.NewCounter("remedyd_scheduler_ticks_skipped_total")
	rulesEvaluated     = metrics.NewCounter("remedyd_rules_evaluated_total")
	ruleMatches        = metrics.NewCounter("remedyd_rule_matches_total")
	triggersSuppressed = metrics.NewCounter("remedyd_triggers_suppressed_total")
	ruleConfigErrors   = metrics.NewCounter("remedyd_rule_config_errors_total")
	catalogRefreshFail = metrics.NewCounter("remedyd_catalog_refresh_failures_total")
	persistRetries     = metrics.NewCounter("remedyd_ledger_persist_retries_total")
	persistParked      = metrics.NewCounter("remedyd_ledger_parked_total")
	staleReconciled    = metrics.NewCounter("remedyd_executions_reconciled_total")
)

func executionsCounter(status string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`remedyd_executions_total{status=%q}`, status))
}
