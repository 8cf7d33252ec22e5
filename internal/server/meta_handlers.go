package server

import (
	"bytes"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gofiber/fiber/v2"
)

// MetaResponse represents the server metadata response.
type MetaResponse struct {
	Version      string `json:"version"`
	TickInterval string `json:"tick_interval"`
	ListenAddr   string `json:"listen_addr"`
}

func (s *Server) handleGetMeta(c *fiber.Ctx) error {
	return SendSuccess(c, fiber.StatusOK, MetaResponse{
		Version:      s.version,
		TickInterval: s.config.Engine.TickInterval.String(),
		ListenAddr:   s.config.Server.ListenAddr,
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"status": "ok"})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	var buf bytes.Buffer
	metrics.WritePrometheus(&buf, true)
	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}
