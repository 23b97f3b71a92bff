package promotion

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/metrics"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
	"github.com/vortex-ai/feedback-engine/internal/store"
	"github.com/vortex-ai/feedback-engine/internal/stream"
	"github.com/vortex-ai/feedback-engine/pkg/config"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// Decision actions.
const (
	ActionPromoted   = "promoted"
	ActionRolledBack = "rolled_back"
	ActionBootstrap  = "bootstrap"
)

// Decision records one evaluation outcome for the status surface.
type Decision struct {
	VersionID       string             `json:"version_id"`
	ModelName       string             `json:"model_name"`
	Action          string             `json:"action"`
	MeanImprovement float64            `json:"mean_improvement"`
	Improvements    map[string]float64 `json:"improvements,omitempty"`
	DecidedAt       time.Time          `json:"decided_at"`
}

// ControlStore is the slice of the control plane the evaluator drives.
type ControlStore interface {
	GetRouting() (*models.Routing, error)
	GetModelVersion(id string) (*models.ModelVersion, error)
	NextTestingVersion() (*models.ModelVersion, error)
	PromoteCandidate(versionID string) error
	RejectCandidate(versionID string) error
	SetCandidate(versionID string, trafficFraction float64) error
}

// Evaluator periodically compares the candidate's observed metrics against
// production and either promotes or rolls back. A candidate with no
// production counterpart promotes immediately, which bootstraps the first
// version into service.
type Evaluator struct {
	control ControlStore
	events  store.Store
	cfg     config.PromotionConfig
}

func NewEvaluator(control ControlStore, events store.Store, cfg config.PromotionConfig) *Evaluator {
	return &Evaluator{
		control: control,
		events:  events,
		cfg:     cfg,
	}
}

// Evaluate runs one evaluation pass. It returns nil without error when there
// is no candidate or the candidate has not finished its observation window.
func (e *Evaluator) Evaluate(ctx context.Context) (*Decision, error) {
	routing, err := e.control.GetRouting()
	if err != nil {
		return nil, fmt.Errorf("failed to read routing: %w", err)
	}

	if routing.CandidateVersion == "" {
		metrics.ActiveABTests.Set(0)
		return nil, nil
	}
	metrics.ActiveABTests.Set(1)

	if routing.CandidateSince != nil && time.Since(*routing.CandidateSince) < e.cfg.ObservationWindow {
		logger.Debug("Candidate still in observation window",
			zap.String("version_id", routing.CandidateVersion),
			zap.Duration("elapsed", time.Since(*routing.CandidateSince)),
		)
		return nil, nil
	}

	candidate, err := e.control.GetModelVersion(routing.CandidateVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate version: %w", err)
	}
	if candidate == nil {
		return nil, fmt.Errorf("candidate version %s not found", routing.CandidateVersion)
	}

	if routing.ProductionVersion == "" {
		if err := e.control.PromoteCandidate(candidate.ID); err != nil {
			return nil, fmt.Errorf("failed to bootstrap promote: %w", err)
		}

		decision := &Decision{
			VersionID: candidate.ID,
			ModelName: candidate.ModelName,
			Action:    ActionBootstrap,
			DecidedAt: time.Now(),
		}
		metrics.PromotionDecisions.WithLabelValues(ActionBootstrap).Inc()
		metrics.ActiveABTests.Set(0)

		logger.Info("First version promoted without comparison", zap.String("version_id", candidate.ID))
		e.installNextCandidate()
		return decision, nil
	}

	production, err := e.control.GetModelVersion(routing.ProductionVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load production version: %w", err)
	}
	if production == nil {
		return nil, fmt.Errorf("production version %s not found", routing.ProductionVersion)
	}

	candStats, err := e.windowStats(ctx, candidate.ModelName)
	if err != nil {
		return nil, err
	}
	prodStats, err := e.windowStats(ctx, production.ModelName)
	if err != nil {
		return nil, err
	}

	improvements := compareStats(prodStats, candStats)

	var mean float64
	if len(improvements) > 0 {
		var sum float64
		for _, v := range improvements {
			sum += v
		}
		mean = sum / float64(len(improvements))
	}

	decision := &Decision{
		VersionID:       candidate.ID,
		ModelName:       candidate.ModelName,
		MeanImprovement: mean,
		Improvements:    improvements,
		DecidedAt:       time.Now(),
	}

	if mean > e.cfg.PerformanceThreshold {
		if err := e.control.PromoteCandidate(candidate.ID); err != nil {
			return nil, fmt.Errorf("failed to promote candidate: %w", err)
		}
		decision.Action = ActionPromoted
	} else {
		if err := e.control.RejectCandidate(candidate.ID); err != nil {
			return nil, fmt.Errorf("failed to roll back candidate: %w", err)
		}
		decision.Action = ActionRolledBack
	}

	metrics.PromotionDecisions.WithLabelValues(decision.Action).Inc()
	metrics.ActiveABTests.Set(0)

	logger.Info("Candidate evaluated",
		zap.String("version_id", candidate.ID),
		zap.String("action", decision.Action),
		zap.Float64("mean_improvement", mean),
		zap.Any("improvements", improvements),
	)

	e.installNextCandidate()
	return decision, nil
}

// installNextCandidate routes the oldest version left waiting in testing
// status now that the candidate slot is free. Versions from training jobs
// that completed during another candidate's evaluation queue up here.
func (e *Evaluator) installNextCandidate() {
	next, err := e.control.NextTestingVersion()
	if err != nil {
		logger.Error("Failed to look up waiting versions", zap.Error(err))
		return
	}
	if next == nil {
		return
	}

	if err := e.control.SetCandidate(next.ID, e.cfg.TrafficFraction); err != nil {
		logger.Error("Failed to route waiting version",
			zap.String("version_id", next.ID),
			zap.Error(err),
		)
		return
	}

	metrics.ActiveABTests.Set(1)
	logger.Info("Waiting version routed as candidate",
		zap.String("version_id", next.ID),
		zap.String("model", next.ModelName),
	)
}

// modelStats summarizes one model's observed metrics over the evaluation
// window.
type modelStats struct {
	latencyCount      int64
	latencySum        float64
	requestCount      int64
	errorCount        int64
	satisfactionCount int64
	satisfactionSum   float64
}

func (s modelStats) latencyAvg() (float64, bool) {
	if s.latencyCount == 0 {
		return 0, false
	}
	return s.latencySum / float64(s.latencyCount), true
}

func (s modelStats) errorRate() (float64, bool) {
	if s.requestCount == 0 {
		return 0, false
	}
	return float64(s.errorCount) / float64(s.requestCount), true
}

func (s modelStats) satisfaction() (float64, bool) {
	if s.satisfactionCount == 0 {
		return 0, false
	}
	return s.satisfactionSum / float64(s.satisfactionCount), true
}

// windowStats folds the hourly rollups covering the observation window.
func (e *Evaluator) windowStats(ctx context.Context, modelName string) (modelStats, error) {
	var stats modelStats
	dim := store.ModelDimension(modelName)

	hours := int(e.cfg.ObservationWindow/time.Hour) + 1
	now := time.Now()

	for i := 0; i < hours; i++ {
		bucket := now.Add(-time.Duration(i) * time.Hour).UTC().Format("2006-01-02-15")

		latency, err := e.events.GetAggregate(ctx, stream.MetricLatency, dim, bucket)
		if err != nil {
			return stats, fmt.Errorf("failed to read latency rollup: %w", err)
		}
		stats.latencyCount += latency.Count
		stats.latencySum += latency.Sum

		requests, err := e.events.GetAggregate(ctx, stream.MetricRequests, dim, bucket)
		if err != nil {
			return stats, fmt.Errorf("failed to read request rollup: %w", err)
		}
		stats.requestCount += requests.Count

		errs, err := e.events.GetAggregate(ctx, stream.MetricErrors, dim, bucket)
		if err != nil {
			return stats, fmt.Errorf("failed to read error rollup: %w", err)
		}
		stats.errorCount += errs.Count

		sat, err := e.events.GetAggregate(ctx, stream.MetricModelSatisfaction, dim, bucket)
		if err != nil {
			return stats, fmt.Errorf("failed to read satisfaction rollup: %w", err)
		}
		stats.satisfactionCount += sat.Count
		stats.satisfactionSum += sat.Sum
	}

	return stats, nil
}

// compareStats computes the candidate's relative improvement per dimension.
// Lower is better for latency and error rate, higher for satisfaction. A
// dimension with a zero or absent production baseline is skipped rather than
// divided by.
func compareStats(production, candidate modelStats) map[string]float64 {
	improvements := make(map[string]float64)

	if prodLatency, ok := production.latencyAvg(); ok && prodLatency > 0 {
		if candLatency, ok := candidate.latencyAvg(); ok {
			improvements["latency"] = (prodLatency - candLatency) / prodLatency
		}
	}

	if prodRate, ok := production.errorRate(); ok && prodRate > 0 {
		if candRate, ok := candidate.errorRate(); ok {
			improvements["error_rate"] = (prodRate - candRate) / prodRate
		}
	}

	if prodSat, ok := production.satisfaction(); ok && prodSat != 0 {
		if candSat, ok := candidate.satisfaction(); ok {
			improvements["satisfaction"] = (candSat - prodSat) / math.Abs(prodSat)
		}
	}

	return improvements
}
