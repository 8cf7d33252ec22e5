// Package server exposes the HTTP API: rule catalog management, execution
// history, health, and Prometheus metrics.
package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"remedyd/internal/config"
	"remedyd/internal/engine"
	"remedyd/internal/sqlite"
)

// Options contains the dependencies required by the HTTP server.
type Options struct {
	Config  *config.Config
	SQLite  *sqlite.DB
	Catalog *engine.Catalog
	Version string
	Logger  *slog.Logger
}

// Server wraps the fiber application and its dependencies.
type Server struct {
	app     *fiber.App
	config  *config.Config
	sqlite  *sqlite.DB
	catalog *engine.Catalog
	version string
	log     *slog.Logger
}

// New creates the HTTP server and registers all routes.
func New(opts Options) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "remedyd",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())

	s := &Server{
		app:     app,
		config:  opts.Config,
		sqlite:  opts.SQLite,
		catalog: opts.Catalog,
		version: opts.Version,
		log:     opts.Logger.With("component", "server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", s.handleMetrics)

	api := s.app.Group("/api/v1")
	api.Get("/meta", s.handleGetMeta)

	rules := api.Group("/rules")
	rules.Get("/", s.handleListRules)
	rules.Post("/", s.handleCreateRule)
	rules.Get("/:ruleID", s.handleGetRule)
	rules.Put("/:ruleID", s.handleUpdateRule)
	rules.Delete("/:ruleID", s.handleDeleteRule)
	rules.Post("/:ruleID/enable", s.handleEnableRule)
	rules.Post("/:ruleID/disable", s.handleDisableRule)
	rules.Get("/:ruleID/executions", s.handleListRuleExecutions)

	executions := api.Group("/executions")
	executions.Get("/", s.handleListRecentExecutions)
	executions.Get("/:executionID", s.handleGetExecution)
	executions.Post("/:executionID/cancel", s.handleCancelExecution)
}

// Start begins serving HTTP requests. It blocks until the listener closes.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.config.Server.ListenAddr)
	if err := s.app.Listen(s.config.Server.ListenAddr); err != nil {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	s.log.Info("shutting down HTTP server")
	return s.app.Shutdown()
}
