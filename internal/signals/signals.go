// Package signals gathers monitoring telemetry and maintains the rolling
// snapshot history the evaluator consumes for sustained conditions.
package signals

import (
	"context"
	"time"

	"remedyd/pkg/models"
)

// Source supplies the current telemetry state of the monitored estate.
// Implementations must return immutable snapshots; the engine never mutates
// them.
type Source interface {
	// Latest produces a snapshot of the current KPI, alert, and blocking state.
	Latest(ctx context.Context) (*models.SignalSnapshot, error)
	// AckAlert acknowledges an active alert on the monitoring side. Used by
	// the ack_alert remediation action.
	AckAlert(ctx context.Context, alertID string) error
	Close() error
}

// NopSource serves empty snapshots. Used when no telemetry backend is
// configured so the engine loops stay runnable.
type NopSource struct{}

func (NopSource) Latest(ctx context.Context) (*models.SignalSnapshot, error) {
	return &models.SignalSnapshot{At: time.Now().UTC()}, nil
}

func (NopSource) AckAlert(ctx context.Context, alertID string) error { return nil }

func (NopSource) Close() error { return nil }
