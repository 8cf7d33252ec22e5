// Package commands provides the CLI command definitions for remedyd.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"remedyd/internal/config"
	"remedyd/internal/sqlite"
	"remedyd/pkg/logger"
)

// App holds shared state for CLI commands.
type App struct {
	Version string
	Commit  string
	Date    string
}

// New creates the root CLI command with all subcommands.
func New(version, commit, date string) *cli.Command {
	app := &App{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	return &cli.Command{
		Name:    "remedyd",
		Usage:   "Remediation rule engine for SQL Server estates",
		Version: version,
		Description: `remedyd watches collected telemetry signals and runs operator-defined
   remediation rules: when a rule's trigger condition holds, its action
   sequence executes exactly once and the outcome is recorded in a durable
   execution ledger.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Value:   "config.toml",
				Sources: cli.EnvVars("REMEDYD_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			app.serveCommand(),
			app.rulesCommand(),
			app.executionsCommand(),
		},
	}
}

// openStore loads configuration and opens the metadata database for commands
// that operate on the catalog directly.
func openStore(cmd *cli.Command) (*sqlite.DB, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cmd.Bool("debug") || cfg.Logging.Level == "debug")

	db, err := sqlite.New(sqlite.Options{Config: cfg.SQLite, Logger: log})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, log, nil
}
