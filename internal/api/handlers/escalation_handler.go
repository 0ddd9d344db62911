package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/procx/backend/internal/escalation"
	"github.com/procx/backend/pkg/logger"
)

type EscalationHandler struct {
	tracker *escalation.Tracker
}

func NewEscalationHandler(tracker *escalation.Tracker) *EscalationHandler {
	return &EscalationHandler{
		tracker: tracker,
	}
}

func (h *EscalationHandler) ListActive(c *fiber.Ctx) error {
	records := h.tracker.Active()
	return c.JSON(fiber.Map{
		"escalations": records,
		"count":       len(records),
	})
}

func (h *EscalationHandler) GetByCustomer(c *fiber.Ctx) error {
	record, ok := h.tracker.Get(c.Params("customerId"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No active escalation for customer",
		})
	}
	return c.JSON(record)
}

func (h *EscalationHandler) UpdateStatus(c *fiber.Ctx) error {
	var req struct {
		Status     string `json:"status"`
		Notes      string `json:"notes"`
		AssignedTo string `json:"assigned_to"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	customerID := c.Params("customerId")
	err := h.tracker.UpdateStatus(c.Context(), customerID, escalation.Status(req.Status), req.Notes, req.AssignedTo)
	switch {
	case errors.Is(err, escalation.ErrNoActiveEscalation):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No active escalation for customer",
		})
	case errors.Is(err, escalation.ErrInvalidStatus), errors.Is(err, escalation.ErrInvalidTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		logger.Error("Failed to update escalation status",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update escalation status",
		})
	}

	return c.JSON(fiber.Map{
		"customer_id": customerID,
		"status":      req.Status,
	})
}

func (h *EscalationHandler) LogInteraction(c *fiber.Ctx) error {
	var req struct {
		ActionType  string            `json:"action_type"`
		Details     map[string]string `json:"details"`
		PerformedBy string            `json:"performed_by"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ActionType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "action_type is required",
		})
	}

	customerID := c.Params("customerId")
	err := h.tracker.LogInteraction(c.Context(), customerID, req.ActionType, req.Details, req.PerformedBy)
	switch {
	case errors.Is(err, escalation.ErrNoActiveEscalation):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No active escalation for customer",
		})
	case err != nil:
		logger.Error("Failed to log interaction",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to log interaction",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *EscalationHandler) GetHistory(c *fiber.Ctx) error {
	customerID := c.Params("customerId")
	limit := c.QueryInt("limit", 20)

	records, err := h.tracker.History(c.Context(), customerID, limit)
	if err != nil {
		logger.Error("Failed to get escalation history",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get escalation history",
		})
	}

	return c.JSON(fiber.Map{
		"history": records,
		"count":   len(records),
	})
}

func (h *EscalationHandler) GetStatistics(c *fiber.Ctx) error {
	stats, err := h.tracker.Statistics(c.Context())
	if err != nil {
		logger.Error("Failed to get escalation statistics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get escalation statistics",
		})
	}
	return c.JSON(stats)
}
