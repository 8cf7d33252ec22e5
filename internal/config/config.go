// Package config provides configuration management for the remedyd daemon.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration for the daemon.
type Config struct {
	Logging LoggingConfig `koanf:"logging"`
	Server  ServerConfig  `koanf:"server"`
	SQLite  SQLiteConfig  `koanf:"sqlite"`
	Engine  EngineConfig  `koanf:"engine"`
	Signals SignalsConfig `koanf:"signals"`
	Notify  NotifyConfig  `koanf:"notify"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

// SQLiteConfig holds the path to the metadata database.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// EngineConfig tunes the remediation engine loops.
type EngineConfig struct {
	TickInterval    time.Duration `koanf:"tick_interval"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	MaxConcurrent   int           `koanf:"max_concurrent"`
	ActionTimeout   time.Duration `koanf:"action_timeout"`
	ShutdownGrace   time.Duration `koanf:"shutdown_grace"`
	MaxExecutionAge time.Duration `koanf:"max_execution_age"`
	PersistRetries  int           `koanf:"persist_retries"`
	PersistBackoff  time.Duration `koanf:"persist_backoff"`
}

// SignalsConfig configures the telemetry collector.
type SignalsConfig struct {
	PollInterval  time.Duration `koanf:"poll_interval"`
	HistoryWindow time.Duration `koanf:"history_window"`
	MSSQL         MSSQLConfig   `koanf:"mssql"`
}

// MSSQLConfig points the collector at a SQL Server estate. An empty DSN
// disables the collector's database source.
type MSSQLConfig struct {
	DSN          string        `koanf:"dsn"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// NotifyConfig carries defaults for the notify action.
type NotifyConfig struct {
	WebhookURL    string        `koanf:"webhook_url"`
	Timeout       time.Duration `koanf:"timeout"`
	SkipTLSVerify bool          `koanf:"skip_tls_verify"`
}

// Default returns the baseline configuration applied before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{ListenAddr: ":8989"},
		SQLite:  SQLiteConfig{Path: "remedyd.db"},
		Engine: EngineConfig{
			TickInterval:    15 * time.Second,
			RefreshInterval: 30 * time.Second,
			MaxConcurrent:   4,
			ActionTimeout:   30 * time.Second,
			ShutdownGrace:   10 * time.Second,
			MaxExecutionAge: 15 * time.Minute,
			PersistRetries:  3,
			PersistBackoff:  500 * time.Millisecond,
		},
		Signals: SignalsConfig{
			PollInterval:  10 * time.Second,
			HistoryWindow: 10 * time.Minute,
			MSSQL:         MSSQLConfig{QueryTimeout: 10 * time.Second},
		},
		Notify: NotifyConfig{Timeout: 5 * time.Second},
	}
}

// Load reads configuration from the given TOML file (if it exists) and
// REMEDYD_* environment variables, layered over the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// REMEDYD_ENGINE_TICK_INTERVAL -> engine.tick_interval
	if err := k.Load(env.Provider("REMEDYD_", ".", func(s string) string {
		return envToKey(strings.TrimPrefix(s, "REMEDYD_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.RefreshInterval <= 0 {
		return fmt.Errorf("engine.refresh_interval must be positive")
	}
	if c.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("engine.max_concurrent must be positive")
	}
	if c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	return nil
}

// envToKey maps ENGINE_TICK_INTERVAL to engine.tick_interval. The first
// underscore separates the section from the key; later underscores belong to
// the key itself, except for the nested mssql section.
func envToKey(s string) string {
	s = strings.ToLower(s)
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	section, key := parts[0], parts[1]
	if section == "signals" && strings.HasPrefix(key, "mssql_") {
		return "signals.mssql." + strings.TrimPrefix(key, "mssql_")
	}
	return section + "." + key
}
