package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/event"
	"github.com/vortex-ai/feedback-engine/internal/metrics"
	"github.com/vortex-ai/feedback-engine/internal/queue"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// Service validates submitted events and enqueues them durably. It keeps no
// local state and never buffers: a queue failure surfaces to the caller as a
// transient dependency error.
type Service struct {
	queue         queue.Queue
	feedbackQueue string
	metricsQueue  string
}

func NewService(q queue.Queue, feedbackQueue, metricsQueue string) *Service {
	return &Service{
		queue:         q,
		feedbackQueue: feedbackQueue,
		metricsQueue:  metricsQueue,
	}
}

func (s *Service) SubmitFeedback(ctx context.Context, evt *event.FeedbackEvent) (string, error) {
	evt.Normalize(time.Now())
	if err := evt.Validate(); err != nil {
		metrics.IngestionRejected.WithLabelValues(s.feedbackQueue).Inc()
		return "", err
	}

	msgID, err := s.enqueue(ctx, s.feedbackQueue, evt)
	if err != nil {
		return "", err
	}

	logger.Debug("Feedback event enqueued",
		zap.String("message_id", msgID),
		zap.String("agent", evt.AgentName),
		zap.Int("rating", evt.Rating),
	)
	return msgID, nil
}

func (s *Service) SubmitMetric(ctx context.Context, evt *event.MetricEvent) (string, error) {
	evt.Normalize(time.Now())
	if err := evt.Validate(); err != nil {
		metrics.IngestionRejected.WithLabelValues(s.metricsQueue).Inc()
		return "", err
	}

	msgID, err := s.enqueue(ctx, s.metricsQueue, evt)
	if err != nil {
		return "", err
	}

	logger.Debug("Metric event enqueued",
		zap.String("message_id", msgID),
		zap.String("type", evt.Type),
		zap.String("agent", evt.AgentName),
	)
	return msgID, nil
}

func (s *Service) enqueue(ctx context.Context, queueName string, evt interface{}) (string, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	msgID, err := s.queue.Enqueue(ctx, queueName, payload)
	if err != nil {
		return "", err
	}

	metrics.EventsIngested.WithLabelValues(queueName).Inc()
	return msgID, nil
}
