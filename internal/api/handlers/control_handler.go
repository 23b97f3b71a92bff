package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/audit"
	"github.com/vortex-ai/feedback-engine/internal/faults"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
	"github.com/vortex-ai/feedback-engine/internal/training"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// ReportStore reads persisted audit reports for the API surface.
type ReportStore interface {
	GetAuditReports(limit int) ([]models.AuditReport, error)
}

// ControlHandler exposes the manual triggers and the training completion
// webhook.
type ControlHandler struct {
	auditRunner *audit.Runner
	retrainer   *training.Retrainer
	completions *training.CompletionHandler
	reports     ReportStore
}

func NewControlHandler(auditRunner *audit.Runner, retrainer *training.Retrainer, completions *training.CompletionHandler, reports ReportStore) *ControlHandler {
	return &ControlHandler{
		auditRunner: auditRunner,
		retrainer:   retrainer,
		completions: completions,
		reports:     reports,
	}
}

func (h *ControlHandler) TriggerAudit(c *fiber.Ctx) error {
	report, err := h.auditRunner.RunAudit(c.Context())
	if err != nil {
		if errors.Is(err, audit.ErrAuditInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Audit already in progress",
			})
		}
		logger.Error("Manual audit failed", zap.Error(err))
		if report != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"report_id": report.ID,
				"status":    report.Status,
				"error":     report.Error,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Audit failed",
		})
	}

	return c.JSON(fiber.Map{
		"report_id": report.ID,
		"status":    report.Status,
		"severity":  report.Severity,
		"findings":  report.Findings,
	})
}

func (h *ControlHandler) GetAuditReports(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	reports, err := h.reports.GetAuditReports(limit)
	if err != nil {
		logger.Error("Failed to load audit reports", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load reports",
		})
	}

	return c.JSON(fiber.Map{
		"reports": reports,
	})
}

func (h *ControlHandler) TriggerTraining(c *fiber.Ctx) error {
	job, err := h.retrainer.Run(c.Context())
	if err != nil {
		if errors.Is(err, training.ErrTrainingInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Training job already in progress",
			})
		}
		logger.Error("Manual training run failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Training run failed",
		})
	}

	if job == nil {
		return c.JSON(fiber.Map{
			"status": "no_new_feedback",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  job.ID,
		"status":  job.Status,
		"samples": job.SampleCount,
	})
}

func (h *ControlHandler) HandleTrainingCompletion(c *fiber.Ctx) error {
	var completion training.Completion
	if err := c.BodyParser(&completion); err != nil {
		logger.Error("Failed to parse completion body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.completions.HandleCompletion(c.Context(), completion); err != nil {
		if faults.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to process training completion", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process completion",
		})
	}

	return c.JSON(fiber.Map{
		"status": "processed",
	})
}
