package signals

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"remedyd/internal/config"
	"remedyd/pkg/models"
)

type scriptedSource struct {
	snapshots []*models.SignalSnapshot
	errs      []error
	calls     int
}

func (s *scriptedSource) Latest(ctx context.Context) (*models.SignalSnapshot, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.snapshots) {
		return s.snapshots[i], nil
	}
	return &models.SignalSnapshot{At: time.Now().UTC()}, nil
}

func (s *scriptedSource) AckAlert(ctx context.Context, alertID string) error { return nil }
func (s *scriptedSource) Close() error                                       { return nil }

func testCollector(source Source, window time.Duration) *Collector {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCollector(config.SignalsConfig{PollInterval: time.Second, HistoryWindow: window}, source, log)
}

func TestCollectorAccumulatesHistory(t *testing.T) {
	base := time.Now().UTC()
	source := &scriptedSource{
		snapshots: []*models.SignalSnapshot{
			{At: base, Metrics: map[string]float64{"cpu_percent": 10}},
			{At: base.Add(time.Second), Metrics: map[string]float64{"cpu_percent": 20}},
		},
	}
	c := testCollector(source, 10*time.Minute)

	ctx := context.Background()
	c.poll(ctx)
	c.poll(ctx)

	history := c.History()
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
	if !history[0].At.Before(history[1].At) {
		t.Error("history must be ordered oldest to newest")
	}
	if latest := c.Latest(); latest == nil || latest.Metrics["cpu_percent"] != 20 {
		t.Errorf("latest = %+v", latest)
	}
}

func TestCollectorKeepsHistoryOnPollFailure(t *testing.T) {
	base := time.Now().UTC()
	source := &scriptedSource{
		snapshots: []*models.SignalSnapshot{
			{At: base, Metrics: map[string]float64{"cpu_percent": 10}},
		},
		errs: []error{nil, errors.New("connection refused")},
	}
	c := testCollector(source, 10*time.Minute)

	ctx := context.Background()
	c.poll(ctx)
	c.poll(ctx) // fails

	history := c.History()
	if len(history) != 1 {
		t.Fatalf("history = %d, want last-known snapshot retained", len(history))
	}
	if history[0].Metrics["cpu_percent"] != 10 {
		t.Errorf("unexpected snapshot %+v", history[0])
	}
}

func TestCollectorTrimsOutsideWindow(t *testing.T) {
	base := time.Now().UTC()
	source := &scriptedSource{
		snapshots: []*models.SignalSnapshot{
			{At: base},
			{At: base.Add(30 * time.Second)},
			{At: base.Add(2 * time.Minute)},
		},
	}
	c := testCollector(source, time.Minute)

	ctx := context.Background()
	c.poll(ctx)
	c.poll(ctx)
	c.poll(ctx)

	history := c.History()
	if len(history) != 1 {
		t.Fatalf("history = %d, want snapshots older than the window trimmed", len(history))
	}
	if history[0].At.Before(base.Add(time.Minute)) {
		t.Errorf("oldest retained snapshot %v is outside the window", history[0].At)
	}
}

func TestCollectorCopyOnRead(t *testing.T) {
	source := &scriptedSource{}
	c := testCollector(source, time.Minute)
	c.poll(context.Background())

	first := c.History()
	first[0].Metrics = map[string]float64{"tampered": 1}

	second := c.History()
	if _, ok := second[0].Metrics["tampered"]; ok {
		t.Error("History must return an independent copy")
	}
}
