package actions

import (
	"context"
	"fmt"
	"log/slog"

	"remedyd/internal/signals"
	"remedyd/pkg/models"
)

// AckRunner implements the ack_alert action by acknowledging an alert through
// the signal source. The alert to acknowledge is taken from the action's
// "alert_id" parameter, or from the trigger payload's alert_id field when the
// rule matched on alert data.
type AckRunner struct {
	source signals.Source
	log    *slog.Logger
}

// NewAckRunner constructs the ack_alert runner.
func NewAckRunner(source signals.Source, log *slog.Logger) *AckRunner {
	return &AckRunner{source: source, log: log.With("component", "ack_runner")}
}

// Run acknowledges the targeted alert.
func (r *AckRunner) Run(ctx context.Context, spec models.ActionSpec, trigger models.TriggerData) (Result, error) {
	alertID := spec.Params["alert_id"]
	if alertID == "" {
		alertID = trigger.Fields["alert_id"]
	}
	if alertID == "" {
		return Result{}, fmt.Errorf("ack_alert action requires an alert_id parameter")
	}
	if err := r.source.AckAlert(ctx, alertID); err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("acknowledged alert %s", alertID)}, nil
}
