// Package app wires configuration, storage, signal collection, the
// remediation engine, and the HTTP API into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"remedyd/internal/actions"
	"remedyd/internal/config"
	"remedyd/internal/engine"
	"remedyd/internal/server"
	"remedyd/internal/signals"
	"remedyd/internal/signals/mssql"
	"remedyd/internal/sqlite"
	"remedyd/pkg/logger"
	"remedyd/pkg/models"
)

// App holds the daemon's components and drives their lifecycle.
type App struct {
	Config  *config.Config
	SQLite  *sqlite.DB
	Logger  *slog.Logger
	Version string

	source    signals.Source
	collector *signals.Collector
	catalog   *engine.Catalog
	ledger    *engine.Ledger
	engine    *engine.Engine
	server    *server.Server
}

// Options contains configuration needed when creating a new App instance.
type Options struct {
	ConfigPath string
	Version    string
}

// New creates and configures a new App instance.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger.New(cfg.Logging.Level == "debug"),
		Version: opts.Version,
	}, nil
}

// Initialize sets up storage, the signal source, the engine, and the HTTP
// server. Nothing starts running until Start.
func (a *App) Initialize(ctx context.Context) error {
	var err error

	a.SQLite, err = sqlite.New(sqlite.Options{
		Config: a.Config.SQLite,
		Logger: a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sqlite: %w", err)
	}

	// Signal source: SQL Server estate when a DSN is configured, otherwise a
	// no-op source so the daemon still serves the catalog API.
	if a.Config.Signals.MSSQL.DSN != "" {
		src, err := mssql.New(ctx, a.Config.Signals.MSSQL, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect signal source: %w", err)
		}
		a.source = src
	} else {
		a.Logger.Warn("no signal source configured, rules will not trigger")
		a.source = signals.NopSource{}
	}

	a.collector = signals.NewCollector(a.Config.Signals, a.source, a.Logger)
	a.catalog = engine.NewCatalog(a.SQLite, a.Config.Engine.RefreshInterval, a.Logger)
	a.ledger = engine.NewLedger(a.SQLite, a.Config.Engine, a.Logger)

	registry := actions.NewRegistry()
	registry.Register(models.ActionNotify, actions.NewWebhookRunner(a.Config.Notify, a.Logger))
	registry.Register(models.ActionAckAlert, actions.NewAckRunner(a.source, a.Logger))
	registry.Register(models.ActionRunScript, actions.NewScriptRunner(a.Logger))

	executor := engine.NewExecutor(registry, a.ledger, a.Config.Engine.ActionTimeout, a.Logger)

	// Completion hook for downstream consumers. Dashboards read the ledger
	// via the API; here the terminal verdict is surfaced in the daemon log.
	executor.OnCompleted(func(exec *models.Execution) {
		a.Logger.Info("execution completed",
			"execution_id", exec.ID,
			"rule_id", exec.RuleID,
			"status", exec.Status,
		)
	})

	a.engine = engine.New(engine.Options{
		Config:   a.Config.Engine,
		Catalog:  a.catalog,
		Signals:  a.collector,
		Ledger:   a.ledger,
		Executor: executor,
		Logger:   a.Logger,
	})

	a.server = server.New(server.Options{
		Config:  a.Config,
		SQLite:  a.SQLite,
		Catalog: a.catalog,
		Version: a.Version,
		Logger:  a.Logger,
	})

	return nil
}

// Start launches the background loops and serves HTTP. It blocks until the
// HTTP listener closes.
func (a *App) Start(ctx context.Context) error {
	if a.server == nil {
		return fmt.Errorf("app not initialized")
	}

	if err := a.catalog.Start(ctx); err != nil {
		return fmt.Errorf("failed to start rule catalog: %w", err)
	}
	a.collector.Start(ctx)
	a.engine.Start(ctx)

	return a.server.Start()
}

// Shutdown stops components in dependency order: HTTP first so no new rules
// arrive, then the engine (which drains in-flight executions within the grace
// period), then the collectors and storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}

	if a.server != nil {
		serverCtx, serverCancel := context.WithTimeout(ctx, 5*time.Second)
		defer serverCancel()

		done := make(chan error, 1)
		go func() { done <- a.server.Shutdown() }()
		select {
		case err := <-done:
			if err != nil {
				a.Logger.Error("error shutting down HTTP server", "error", err)
			}
		case <-serverCtx.Done():
			a.Logger.Warn("timeout shutting down HTTP server, continuing")
		}
	}

	if a.engine != nil {
		a.engine.Stop()
	}
	if a.catalog != nil {
		a.catalog.Stop()
	}
	if a.collector != nil {
		a.collector.Stop()
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			a.Logger.Error("error closing signal source", "error", err)
		}
	}

	if a.ledger != nil {
		if parked := a.ledger.Parked(); parked > 0 {
			a.Logger.Error("shutdown with unpersisted execution records", "count", parked)
		}
	}

	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Logger.Error("error closing sqlite", "error", err)
		}
	}

	a.Logger.Info("shutdown complete")
	return nil
}
