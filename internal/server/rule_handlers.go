package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"remedyd/internal/core"
	"remedyd/pkg/models"
)

func (s *Server) handleListRules(c *fiber.Ctx) error {
	rules, err := core.ListRules(c.Context(), s.sqlite, s.log)
	if err != nil {
		return SendError(c, fiber.StatusInternalServerError, "Failed to list rules")
	}
	return SendSuccess(c, fiber.StatusOK, rules)
}

func (s *Server) handleCreateRule(c *fiber.Ctx) error {
	var req models.CreateRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}

	rule, err := core.CreateRule(c.Context(), s.sqlite, s.log, &req)
	if err != nil {
		if errors.Is(err, core.ErrInvalidRuleConfiguration) {
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		}
		return SendError(c, fiber.StatusInternalServerError, "Failed to create rule")
	}

	s.refreshCatalog(c)
	return SendSuccess(c, fiber.StatusCreated, rule)
}

func (s *Server) handleGetRule(c *fiber.Ctx) error {
	ruleID, err := s.parseRuleID(c)
	if err != nil {
		return err
	}

	rule, err := core.GetRule(c.Context(), s.sqlite, s.log, ruleID)
	if err != nil {
		if errors.Is(err, core.ErrRuleNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Rule not found", models.NotFoundErrorType)
		}
		return SendError(c, fiber.StatusInternalServerError, "Failed to retrieve rule")
	}
	return SendSuccess(c, fiber.StatusOK, rule)
}

func (s *Server) handleUpdateRule(c *fiber.Ctx) error {
	ruleID, err := s.parseRuleID(c)
	if err != nil {
		return err
	}

	var req models.UpdateRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}

	rule, err := core.UpdateRule(c.Context(), s.sqlite, s.log, ruleID, &req)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidRuleConfiguration):
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		case errors.Is(err, core.ErrRuleNotFound):
			return SendErrorWithType(c, fiber.StatusNotFound, "Rule not found", models.NotFoundErrorType)
		default:
			return SendError(c, fiber.StatusInternalServerError, "Failed to update rule")
		}
	}

	s.refreshCatalog(c)
	return SendSuccess(c, fiber.StatusOK, rule)
}

func (s *Server) handleDeleteRule(c *fiber.Ctx) error {
	ruleID, err := s.parseRuleID(c)
	if err != nil {
		return err
	}

	if err := core.DeleteRule(c.Context(), s.sqlite, s.log, ruleID); err != nil {
		if errors.Is(err, core.ErrRuleNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Rule not found", models.NotFoundErrorType)
		}
		return SendError(c, fiber.StatusInternalServerError, "Failed to delete rule")
	}

	s.refreshCatalog(c)
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"message": "Rule deleted"})
}

func (s *Server) handleEnableRule(c *fiber.Ctx) error {
	return s.setRuleEnabled(c, true)
}

func (s *Server) handleDisableRule(c *fiber.Ctx) error {
	return s.setRuleEnabled(c, false)
}

func (s *Server) setRuleEnabled(c *fiber.Ctx, enabled bool) error {
	ruleID, err := s.parseRuleID(c)
	if err != nil {
		return err
	}

	rule, err := core.SetRuleEnabled(c.Context(), s.sqlite, s.log, ruleID, enabled)
	if err != nil {
		if errors.Is(err, core.ErrRuleNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Rule not found", models.NotFoundErrorType)
		}
		return SendError(c, fiber.StatusInternalServerError, "Failed to change rule state")
	}

	s.refreshCatalog(c)
	return SendSuccess(c, fiber.StatusOK, rule)
}

func (s *Server) parseRuleID(c *fiber.Ctx) (models.RuleID, error) {
	idStr := c.Params("ruleID")
	parsed, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, SendErrorWithType(c, fiber.StatusBadRequest, "Invalid rule ID", models.ValidationErrorType)
	}
	return models.RuleID(parsed), nil
}

// refreshCatalog makes catalog changes visible to the engine without waiting
// for the next periodic refresh. Failures are logged, not surfaced; the
// periodic refresh will catch up.
func (s *Server) refreshCatalog(c *fiber.Ctx) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Refresh(c.Context()); err != nil {
		s.log.Warn("catalog refresh after mutation failed", "error", err)
	}
}
