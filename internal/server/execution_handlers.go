package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"remedyd/internal/core"
	"remedyd/pkg/models"
)

func (s *Server) handleListRuleExecutions(c *fiber.Ctx) error {
	ruleID, err := s.parseRuleID(c)
	if err != nil {
		return err
	}

	execs, err := core.ListRuleExecutions(c.Context(), s.sqlite, s.log, ruleID, s.parseLimit(c))
	if err != nil {
		if errors.Is(err, core.ErrRuleNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Rule not found", models.NotFoundErrorType)
		}
		return SendError(c, fiber.StatusInternalServerError, "Failed to list executions")
	}
	return SendSuccess(c, fiber.StatusOK, execs)
}

func (s *Server) handleListRecentExecutions(c *fiber.Ctx) error {
	execs, err := core.ListRecentExecutions(c.Context(), s.sqlite, s.log, s.parseLimit(c))
	if err != nil {
		return SendError(c, fiber.StatusInternalServerError, "Failed to list executions")
	}
	return SendSuccess(c, fiber.StatusOK, execs)
}

func (s *Server) handleGetExecution(c *fiber.Ctx) error {
	executionID := c.Params("executionID")
	if executionID == "" {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Execution ID is required", models.ValidationErrorType)
	}

	exec, err := core.GetExecution(c.Context(), s.sqlite, s.log, executionID)
	if err != nil {
		if errors.Is(err, core.ErrExecutionNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Execution not found", models.NotFoundErrorType)
		}
		return SendError(c, fiber.StatusInternalServerError, "Failed to retrieve execution")
	}
	return SendSuccess(c, fiber.StatusOK, exec)
}

func (s *Server) handleCancelExecution(c *fiber.Ctx) error {
	executionID := c.Params("executionID")
	if executionID == "" {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Execution ID is required", models.ValidationErrorType)
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional; a bare POST cancels with the default reason.
	_ = c.BodyParser(&req)

	exec, err := core.CancelExecution(c.Context(), s.sqlite, s.log, executionID, req.Reason)
	if err != nil {
		if errors.Is(err, core.ErrExecutionNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Execution not found", models.NotFoundErrorType)
		}
		var invalid *models.ErrInvalidTransition
		if errors.As(err, &invalid) {
			return SendErrorWithType(c, fiber.StatusConflict, "Execution is already terminal", models.ConflictErrorType)
		}
		return SendError(c, fiber.StatusInternalServerError, "Failed to cancel execution")
	}
	return SendSuccess(c, fiber.StatusOK, exec)
}

func (s *Server) parseLimit(c *fiber.Ctx) int {
	limit := models.DefaultExecutionHistoryLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}
