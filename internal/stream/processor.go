package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/event"
	"github.com/vortex-ai/feedback-engine/internal/metrics"
	"github.com/vortex-ai/feedback-engine/internal/queue"
	"github.com/vortex-ai/feedback-engine/internal/store"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// Store partitions for raw event records.
const (
	PartitionFeedback = "feedback"
	PartitionMetrics  = "metrics"
)

// Aggregate metric types maintained by the processor.
const (
	MetricSatisfaction      = "satisfaction"
	MetricFeedbackVolume    = "feedback_volume"
	MetricLatency           = "latency"
	MetricTokens            = "tokens"
	MetricRequests          = "requests"
	MetricErrors            = "errors"
	MetricModelSwaps        = "model_swaps"
	MetricModelSatisfaction = "model_satisfaction"
)

// AlertSink is where hot-path alerts go. Dispatch must never block the
// processing cycle.
type AlertSink interface {
	Alert(ctx context.Context, subject, body, severity string)
}

type Config struct {
	FeedbackQueue         string
	MetricsQueue          string
	BatchSize             int
	ReceiveWait           time.Duration
	ErrorRateAlert        float64
	SatisfactionDropAlert float64
}

// Processor drains the durable queues in batches, persists each event as an
// immutable record, and folds it into the hourly aggregates.
//
// Delivery is at-least-once and aggregation is sum/count based, so a
// redelivered message inflates the aggregates it touches. That is a known,
// accepted property of this design; deduplication by message ID would be an
// enhancement, not a fix.
type Processor struct {
	queue  queue.Queue
	store  store.Store
	alerts AlertSink
	cfg    Config

	// Invoked after a feedback batch lands, so the retraining controller can
	// check its sample-count trigger inline.
	onFeedbackProcessed func(ctx context.Context)

	mu                sync.Mutex
	lastFeedbackCycle time.Time
	lastMetricsCycle  time.Time
}

func NewProcessor(q queue.Queue, s store.Store, alerts AlertSink, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ReceiveWait == 0 {
		cfg.ReceiveWait = 5 * time.Second
	}

	return &Processor{
		queue:  q,
		store:  s,
		alerts: alerts,
		cfg:    cfg,
	}
}

// OnFeedbackProcessed registers the inline retraining trigger check.
func (p *Processor) OnFeedbackProcessed(fn func(ctx context.Context)) {
	p.onFeedbackProcessed = fn
}

// RunFeedbackCycle processes one batch from the feedback queue.
func (p *Processor) RunFeedbackCycle(ctx context.Context) error {
	processed, err := p.runBatch(ctx, p.cfg.FeedbackQueue, p.handleFeedback)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.lastFeedbackCycle = time.Now()
	p.mu.Unlock()

	if processed > 0 && p.onFeedbackProcessed != nil {
		p.onFeedbackProcessed(ctx)
	}
	return nil
}

// RunMetricsCycle processes one batch from the metrics queue and then checks
// the hot-alert thresholds for the current hour.
func (p *Processor) RunMetricsCycle(ctx context.Context) error {
	if _, err := p.runBatch(ctx, p.cfg.MetricsQueue, p.handleMetric); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastMetricsCycle = time.Now()
	p.mu.Unlock()

	p.checkAlertConditions(ctx)
	return nil
}

func (p *Processor) runBatch(ctx context.Context, queueName string, handle func(ctx context.Context, msg queue.Message) error) (int, error) {
	messages, err := p.queue.Receive(ctx, queueName, p.cfg.BatchSize, p.cfg.ReceiveWait)
	if err != nil {
		logger.Error("Failed to receive batch", zap.String("queue", queueName), zap.Error(err))
		return 0, err
	}

	if depth, err := p.queue.Depth(ctx, queueName); err == nil {
		metrics.QueueDepth.WithLabelValues(queueName).Set(float64(depth))
	}

	if len(messages) == 0 {
		return 0, nil
	}

	processed := 0
	for _, msg := range messages {
		if err := handle(ctx, msg); err != nil {
			// Return the message to the pending queue so the next cycle is
			// the retry; leaving it in flight would strand it until restart.
			if relErr := p.queue.Release(ctx, queueName, msg.ReceiptHandle); relErr != nil {
				logger.Warn("Failed to release message for redelivery",
					zap.String("queue", queueName),
					zap.String("message_id", msg.ID),
					zap.Error(relErr),
				)
			}
			logger.Error("Failed to process message",
				zap.String("queue", queueName),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			metrics.MessagesProcessed.WithLabelValues(queueName, "failed").Inc()
			continue
		}

		if err := p.queue.Delete(ctx, queueName, msg.ReceiptHandle); err != nil {
			logger.Warn("Failed to delete processed message",
				zap.String("queue", queueName),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}

		metrics.MessagesProcessed.WithLabelValues(queueName, "ok").Inc()
		processed++
	}

	metrics.BatchesProcessed.WithLabelValues(queueName).Inc()
	logger.Debug("Batch processed",
		zap.String("queue", queueName),
		zap.Int("received", len(messages)),
		zap.Int("processed", processed),
	)
	return processed, nil
}

func (p *Processor) handleFeedback(ctx context.Context, msg queue.Message) error {
	var evt event.FeedbackEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		p.dropPoison(ctx, p.cfg.FeedbackQueue, msg, err)
		return nil
	}

	sort := fmt.Sprintf("%010d#%s", evt.Timestamp, msg.ID)
	if err := p.store.PutEvent(ctx, PartitionFeedback, sort, evt.Timestamp, msg.Body); err != nil {
		return err
	}

	bucket := event.HourBucket(evt.Timestamp)
	satisfaction := evt.SatisfactionScore()

	if _, err := p.store.IncrementAggregate(ctx, MetricSatisfaction, store.DimensionGlobal, bucket, satisfaction); err != nil {
		return err
	}
	if _, err := p.store.IncrementAggregate(ctx, MetricSatisfaction, store.AgentDimension(evt.AgentName), bucket, satisfaction); err != nil {
		return err
	}
	if _, err := p.store.IncrementAggregate(ctx, MetricFeedbackVolume, store.AgentDimension(evt.AgentName), bucket, 1); err != nil {
		return err
	}

	return nil
}

func (p *Processor) handleMetric(ctx context.Context, msg queue.Message) error {
	var evt event.MetricEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		p.dropPoison(ctx, p.cfg.MetricsQueue, msg, err)
		return nil
	}

	sort := fmt.Sprintf("%010d#%s", evt.Timestamp, msg.ID)
	if err := p.store.PutEvent(ctx, PartitionMetrics, sort, evt.Timestamp, msg.Body); err != nil {
		return err
	}

	bucket := event.HourBucket(evt.Timestamp)

	switch evt.Type {
	case event.TypeAgentMetrics:
		return p.foldAgentMetrics(ctx, &evt, bucket)

	case event.TypeModelSwap:
		if _, err := p.store.IncrementAggregate(ctx, MetricModelSwaps, store.DimensionGlobal, bucket, 1); err != nil {
			return err
		}
		_, err := p.store.IncrementAggregate(ctx, MetricModelSwaps, store.AgentDimension(evt.AgentName), bucket, 1)
		return err

	case event.TypeError:
		if _, err := p.store.IncrementAggregate(ctx, MetricErrors, store.DimensionGlobal, bucket, 1); err != nil {
			return err
		}
		if evt.AgentName != "" {
			_, err := p.store.IncrementAggregate(ctx, MetricErrors, store.AgentDimension(evt.AgentName), bucket, 1)
			return err
		}
		return nil

	case event.TypeAuditResults:
		// Raw record only; the audit runner owns its own comparisons.
		return nil

	case event.TypeModelPerformance:
		if evt.ModelName == "" {
			return nil
		}
		_, err := p.store.IncrementAggregate(ctx, MetricModelSatisfaction, store.ModelDimension(evt.ModelName), bucket, evt.UserSatisfaction)
		return err
	}

	logger.Warn("Unknown metric event type", zap.String("type", evt.Type), zap.String("message_id", msg.ID))
	return nil
}

func (p *Processor) foldAgentMetrics(ctx context.Context, evt *event.MetricEvent, bucket string) error {
	dims := []string{store.DimensionGlobal, store.AgentDimension(evt.AgentName)}
	if evt.ModelUsed != "" {
		dims = append(dims, store.ModelDimension(evt.ModelUsed))
	}

	for _, dim := range dims {
		if _, err := p.store.IncrementAggregate(ctx, MetricLatency, dim, bucket, float64(evt.ProcessingTimeMs)); err != nil {
			return err
		}
		if _, err := p.store.IncrementAggregate(ctx, MetricRequests, dim, bucket, 1); err != nil {
			return err
		}
		if !evt.Success {
			if _, err := p.store.IncrementAggregate(ctx, MetricErrors, dim, bucket, 1); err != nil {
				return err
			}
		}
	}

	if evt.TokensUsed > 0 {
		if _, err := p.store.IncrementAggregate(ctx, MetricTokens, store.DimensionGlobal, bucket, float64(evt.TokensUsed)); err != nil {
			return err
		}
		if _, err := p.store.IncrementAggregate(ctx, MetricTokens, store.AgentDimension(evt.AgentName), bucket, float64(evt.TokensUsed)); err != nil {
			return err
		}
	}

	return nil
}

// dropPoison discards a message that cannot be parsed. It is deleted from the
// queue so it cannot cycle through redelivery forever.
func (p *Processor) dropPoison(ctx context.Context, queueName string, msg queue.Message, parseErr error) {
	logger.Warn("Dropping unparseable message",
		zap.String("queue", queueName),
		zap.String("message_id", msg.ID),
		zap.Error(parseErr),
	)
	metrics.PoisonMessages.WithLabelValues(queueName).Inc()

	if err := p.queue.Delete(ctx, queueName, msg.ReceiptHandle); err != nil {
		logger.Warn("Failed to delete poison message", zap.String("queue", queueName), zap.Error(err))
	}
}

// checkAlertConditions inspects the current hour's rollups and raises
// warnings for an elevated error rate or an hour-over-hour satisfaction drop.
func (p *Processor) checkAlertConditions(ctx context.Context) {
	if p.alerts == nil {
		return
	}

	now := time.Now()
	currentBucket := event.HourBucket(now.Unix())
	previousBucket := event.HourBucket(now.Add(-time.Hour).Unix())

	requests, err := p.store.GetAggregate(ctx, MetricRequests, store.DimensionGlobal, currentBucket)
	if err == nil && requests.Count > 0 {
		errorsAgg, err := p.store.GetAggregate(ctx, MetricErrors, store.DimensionGlobal, currentBucket)
		if err == nil {
			errorRate := float64(errorsAgg.Count) / float64(requests.Count)
			if errorRate > p.cfg.ErrorRateAlert {
				p.alerts.Alert(ctx,
					"Elevated error rate",
					fmt.Sprintf("error rate %.3f exceeds threshold %.3f for hour %s (%d errors / %d requests)",
						errorRate, p.cfg.ErrorRateAlert, currentBucket, errorsAgg.Count, requests.Count),
					"warning",
				)
			}
		}
	}

	current, errCur := p.store.GetAggregate(ctx, MetricSatisfaction, store.DimensionGlobal, currentBucket)
	previous, errPrev := p.store.GetAggregate(ctx, MetricSatisfaction, store.DimensionGlobal, previousBucket)
	if errCur == nil && errPrev == nil && current.Count > 0 && previous.Count > 0 {
		drop := previous.Average - current.Average
		if drop > p.cfg.SatisfactionDropAlert {
			p.alerts.Alert(ctx,
				"Satisfaction drop",
				fmt.Sprintf("satisfaction fell from %.3f to %.3f (drop %.3f, threshold %.3f)",
					previous.Average, current.Average, drop, p.cfg.SatisfactionDropAlert),
				"warning",
			)
		}
	}
}

// SatisfactionScore returns the global average satisfaction for the current
// hour, used as the external satisfaction feed for audit snapshots.
func (p *Processor) SatisfactionScore(ctx context.Context) float64 {
	agg, err := p.store.GetAggregate(ctx, MetricSatisfaction, store.DimensionGlobal, event.HourBucket(time.Now().Unix()))
	if err != nil || agg.Count == 0 {
		return 0
	}
	return agg.Average
}

// LastFeedbackCycle reports when a feedback batch last completed.
func (p *Processor) LastFeedbackCycle() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFeedbackCycle
}

// LastMetricsCycle reports when a metrics batch last completed.
func (p *Processor) LastMetricsCycle() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMetricsCycle
}
