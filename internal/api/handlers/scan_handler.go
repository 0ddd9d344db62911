package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/pipeline"
	"github.com/procx/backend/pkg/logger"
)

type ScanHandler struct {
	orchestrator *pipeline.Orchestrator
}

func NewScanHandler(orchestrator *pipeline.Orchestrator) *ScanHandler {
	return &ScanHandler{
		orchestrator: orchestrator,
	}
}

func (h *ScanHandler) HandleScan(c *fiber.Ctx) error {
	var req struct {
		MinRisk          float64  `json:"min_risk"`
		MinLifetimeValue float64  `json:"min_lifetime_value"`
		Segments         []string `json:"segments"`
		MaxInterventions int      `json:"max_interventions"`
	}

	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			logger.Error("Failed to parse scan request", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	opts := pipeline.ScanOptions{
		MinRisk:          req.MinRisk,
		MinLifetimeValue: req.MinLifetimeValue,
		MaxInterventions: req.MaxInterventions,
	}
	for _, s := range req.Segments {
		opts.Segments = append(opts.Segments, customer.Segment(s))
	}

	summary, err := h.orchestrator.RunScan(c.Context(), opts)
	if err != nil {
		logger.Error("Scan failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Scan failed",
		})
	}

	return c.JSON(summary)
}

func (h *ScanHandler) HandleProcessCustomer(c *fiber.Ctx) error {
	customerID := c.Params("id")
	if customerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Customer id is required",
		})
	}

	result, err := h.orchestrator.Process(c.Context(), customerID, nil)
	if err != nil {
		logger.Error("Failed to process customer",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process customer",
		})
	}

	return c.JSON(result)
}
