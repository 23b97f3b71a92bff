package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/event"
	"github.com/vortex-ai/feedback-engine/internal/faults"
	"github.com/vortex-ai/feedback-engine/internal/ingestion"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

type IngestHandler struct {
	service *ingestion.Service
}

func NewIngestHandler(service *ingestion.Service) *IngestHandler {
	return &IngestHandler{
		service: service,
	}
}

func (h *IngestHandler) HandleFeedback(c *fiber.Ctx) error {
	var evt event.FeedbackEvent
	if err := c.BodyParser(&evt); err != nil {
		logger.Error("Failed to parse feedback body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	messageID, err := h.service.SubmitFeedback(c.Context(), &evt)
	if err != nil {
		if faults.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to submit feedback", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to queue feedback",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message_id": messageID,
		"status":     "queued",
	})
}

func (h *IngestHandler) HandleMetric(c *fiber.Ctx) error {
	var evt event.MetricEvent
	if err := c.BodyParser(&evt); err != nil {
		logger.Error("Failed to parse metric body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	messageID, err := h.service.SubmitMetric(c.Context(), &evt)
	if err != nil {
		if faults.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to submit metric", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to queue metric",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message_id": messageID,
		"status":     "queued",
	})
}
