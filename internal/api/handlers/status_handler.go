package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/alerting"
	"github.com/vortex-ai/feedback-engine/internal/audit"
	"github.com/vortex-ai/feedback-engine/internal/promotion"
	"github.com/vortex-ai/feedback-engine/internal/queue"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
	"github.com/vortex-ai/feedback-engine/internal/stream"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// RoutingStore reads the current traffic table.
type RoutingStore interface {
	GetRouting() (*models.Routing, error)
}

// StatusHandler surfaces the control loop's health: queue depths, cycle
// recency, audit state, and the active traffic split.
type StatusHandler struct {
	queue       queue.Queue
	processor   *stream.Processor
	auditRunner *audit.Runner
	routing     RoutingStore
	hub         *alerting.Hub
	queueNames  []string
}

func NewStatusHandler(q queue.Queue, processor *stream.Processor, auditRunner *audit.Runner, routing RoutingStore, hub *alerting.Hub, queueNames []string) *StatusHandler {
	return &StatusHandler{
		queue:       q,
		processor:   processor,
		auditRunner: auditRunner,
		routing:     routing,
		hub:         hub,
		queueNames:  queueNames,
	}
}

func (h *StatusHandler) GetStatus(c *fiber.Ctx) error {
	depths := make(map[string]int64)
	for _, name := range h.queueNames {
		depth, err := h.queue.Depth(c.Context(), name)
		if err != nil {
			logger.Warn("Failed to read queue depth", zap.String("queue", name), zap.Error(err))
			depth = -1
		}
		depths[name] = depth
	}

	lastAudit, auditStatus := h.auditRunner.LastRun()

	status := fiber.Map{
		"time":         time.Now().Unix(),
		"queue_depths": depths,
		"cycles": fiber.Map{
			"last_feedback": unixOrZero(h.processor.LastFeedbackCycle()),
			"last_metrics":  unixOrZero(h.processor.LastMetricsCycle()),
		},
		"audit": fiber.Map{
			"last_run": unixOrZero(lastAudit),
			"status":   auditStatus,
		},
		"alert_subscribers": h.hub.SubscriberCount(),
	}

	routing, err := h.routing.GetRouting()
	if err != nil {
		logger.Warn("Failed to read routing", zap.Error(err))
	} else {
		status["routing"] = fiber.Map{
			"production_version": routing.ProductionVersion,
			"candidate_version":  routing.CandidateVersion,
			"traffic_fraction":   routing.TrafficFraction,
			"candidate_since":    unixPtr(routing.CandidateSince),
		}
	}

	return c.JSON(status)
}

// GetRoute answers which model version a session should use under the
// current traffic split. The inference router calls this per session.
func (h *StatusHandler) GetRoute(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	routing, err := h.routing.GetRouting()
	if err != nil {
		logger.Error("Failed to read routing", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read routing",
		})
	}

	versionID := promotion.Route(routing, sessionID)
	if versionID == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No version in service",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"version_id": versionID,
	})
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixPtr(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}
