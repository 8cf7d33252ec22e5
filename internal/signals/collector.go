package signals

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"remedyd/internal/config"
	"remedyd/pkg/models"
)

// Collector polls a Source on a fixed interval and retains snapshots inside a
// rolling window so duration-sustained conditions can look back in time.
// The history is copy-on-read; callers receive slices they own.
type Collector struct {
	source   Source
	interval time.Duration
	window   time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	history []models.SignalSnapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCollector builds a collector from the signals configuration.
func NewCollector(cfg config.SignalsConfig, source Source, log *slog.Logger) *Collector {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Collector{
		source:   source,
		interval: interval,
		window:   window,
		log:      log.With("component", "signal_collector"),
		stop:     make(chan struct{}),
	}
}

// Start launches the polling loop. An initial poll runs immediately so the
// engine has a snapshot soon after startup.
func (c *Collector) Start(ctx context.Context) {
	c.log.Info("starting signal collector", "interval", c.interval, "window", c.window)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.poll(ctx)
		for {
			select {
			case <-ticker.C:
				c.poll(ctx)
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the collector to stop polling and waits for it to finish.
func (c *Collector) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Collector) poll(ctx context.Context) {
	snap, err := c.source.Latest(ctx)
	if err != nil {
		// Keep serving the last-known history; the engine evaluates against
		// stale-but-valid data rather than stalling.
		c.log.Warn("signal poll failed, keeping last snapshot", "error", err)
		return
	}
	if snap == nil {
		return
	}
	if snap.At.IsZero() {
		snap.At = time.Now().UTC()
	}

	c.mu.Lock()
	c.history = append(c.history, *snap)
	cutoff := snap.At.Add(-c.window)
	trim := 0
	for trim < len(c.history)-1 && c.history[trim].At.Before(cutoff) {
		trim++
	}
	c.history = c.history[trim:]
	c.mu.Unlock()
}

// History returns the retained snapshots ordered oldest to newest.
func (c *Collector) History() []models.SignalSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.SignalSnapshot, len(c.history))
	copy(out, c.history)
	return out
}

// Latest returns the most recent snapshot, or nil before the first poll.
func (c *Collector) Latest() *models.SignalSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return nil
	}
	snap := c.history[len(c.history)-1]
	return &snap
}
