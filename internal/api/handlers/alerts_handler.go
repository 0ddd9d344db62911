package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/detector"
	"github.com/procx/backend/pkg/logger"
)

type AlertsHandler struct {
	detector *detector.Detector
}

func NewAlertsHandler(det *detector.Detector) *AlertsHandler {
	return &AlertsHandler{
		detector: det,
	}
}

func (h *AlertsHandler) GetAlerts(c *fiber.Ctx) error {
	opts := detector.Options{
		MinRisk:          c.QueryFloat("min_risk", 0.6),
		MinLifetimeValue: c.QueryFloat("min_lifetime_value", 0),
		SamplePerSegment: c.QueryInt("sample_per_segment", 30),
	}
	if segment := c.Query("segment"); segment != "" {
		opts.Segments = []customer.Segment{customer.Segment(segment)}
	}

	alerts, err := h.detector.Detect(c.Context(), opts)
	if err != nil {
		logger.Error("Failed to detect at-risk customers", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to detect at-risk customers",
		})
	}

	return c.JSON(fiber.Map{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *AlertsHandler) GetMonitoringReport(c *fiber.Ctx) error {
	report, err := h.detector.MonitoringReport(c.Context(), detector.Options{
		MinRisk:          c.QueryFloat("min_risk", 0.6),
		SamplePerSegment: c.QueryInt("sample_per_segment", 30),
	})
	if err != nil {
		logger.Error("Failed to build monitoring report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build monitoring report",
		})
	}

	return c.JSON(report)
}

func (h *AlertsHandler) GetInactiveHighValue(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", "90"))
	if err != nil || days < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "days must be a positive integer",
		})
	}

	alerts, err := h.detector.DetectInactiveHighValue(c.Context(), days)
	if err != nil {
		logger.Error("Failed to detect inactive high-value customers", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to detect inactive high-value customers",
		})
	}

	return c.JSON(fiber.Map{
		"alerts": alerts,
		"count":  len(alerts),
	})
}
