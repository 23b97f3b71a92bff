package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/metrics"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
	"github.com/vortex-ai/feedback-engine/pkg/config"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// ErrAuditInProgress is returned when a run is requested while another run
// holds the single-writer guard.
var ErrAuditInProgress = errors.New("audit already in progress")

// Finding kinds.
const (
	FindingErrorCount   = "error_count"
	FindingPerformance  = "performance"
	FindingMissingFiles = "missing_files"
	FindingSatisfaction = "satisfaction"
)

// Severity levels, critical outranking warning.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ControlStore is the slice of the control-plane database the runner needs.
type ControlStore interface {
	GetBaseline() (*models.AuditSnapshot, error)
	SaveBaseline(snapshot *models.AuditSnapshot) error
	InsertAuditReport(report *models.AuditReport) error
}

// Alerter receives reports whose regressions warrant operator attention.
type Alerter interface {
	AlertReport(ctx context.Context, report *models.AuditReport)
}

// SatisfactionSource supplies the current user-satisfaction reading folded
// into each snapshot.
type SatisfactionSource func(ctx context.Context) float64

// Runner executes scheduled audits: snapshot the system, compare against the
// stored baseline, record a report, and either rotate the baseline forward
// (no critical regressions, warnings allowed) or keep it and raise alerts.
// Only one run is active at a time; overlapping triggers are rejected, not
// queued.
type Runner struct {
	control      ControlStore
	executor     Executor
	alerts       Alerter
	satisfaction SatisfactionSource
	cfg          config.AuditConfig

	running atomic.Bool

	mu         sync.Mutex
	lastRun    time.Time
	lastStatus string
}

func NewRunner(control ControlStore, executor Executor, alerts Alerter, satisfaction SatisfactionSource, cfg config.AuditConfig) *Runner {
	return &Runner{
		control:      control,
		executor:     executor,
		alerts:       alerts,
		satisfaction: satisfaction,
		cfg:          cfg,
	}
}

// RunAudit performs one complete audit cycle.
func (r *Runner) RunAudit(ctx context.Context) (*models.AuditReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		logger.Warn("Audit trigger ignored, run already in progress")
		return nil, ErrAuditInProgress
	}
	defer r.running.Store(false)

	started := time.Now()
	report := &models.AuditReport{
		ID:        uuid.New().String(),
		StartedAt: started,
	}

	snapshot, err := r.executor.Run(ctx)
	if err != nil {
		report.Status = models.AuditStatusFailed
		report.Error = err.Error()
		report.FinishedAt = time.Now()
		r.finish(ctx, report)

		logger.Error("Audit run failed", zap.String("report_id", report.ID), zap.Error(err))
		return report, fmt.Errorf("audit run failed: %w", err)
	}

	if r.satisfaction != nil {
		snapshot.Satisfaction = r.satisfaction(ctx)
	}
	report.Snapshot = snapshot

	baseline, err := r.control.GetBaseline()
	if err != nil {
		report.Status = models.AuditStatusFailed
		report.Error = err.Error()
		report.FinishedAt = time.Now()
		r.finish(ctx, report)
		return report, fmt.Errorf("failed to load baseline: %w", err)
	}

	if baseline == nil {
		// First ever run: this snapshot becomes the baseline and there is
		// nothing to compare against.
		if err := r.control.SaveBaseline(snapshot); err != nil {
			return report, fmt.Errorf("failed to establish baseline: %w", err)
		}
		report.Status = models.AuditStatusClean
		report.FinishedAt = time.Now()
		r.finish(ctx, report)

		logger.Info("Audit baseline established", zap.String("report_id", report.ID))
		return report, nil
	}

	report.Findings = detectRegressions(baseline, snapshot, r.cfg)
	report.FinishedAt = time.Now()

	if len(report.Findings) == 0 {
		report.Status = models.AuditStatusClean
		// A clean snapshot is the new reference point.
		if err := r.control.SaveBaseline(snapshot); err != nil {
			logger.Error("Failed to rotate baseline", zap.Error(err))
		}
		r.finish(ctx, report)

		logger.Info("Audit clean, baseline rotated", zap.String("report_id", report.ID))
		return report, nil
	}

	report.Status = models.AuditStatusRegressions
	report.Severity = maxSeverity(report.Findings)

	for _, f := range report.Findings {
		metrics.RegressionsDetected.WithLabelValues(f.Kind, f.Severity).Inc()
	}

	// Warnings alone do not block the baseline; only a critical regression
	// holds the previous reference point in place.
	if report.Severity != SeverityCritical {
		if err := r.control.SaveBaseline(snapshot); err != nil {
			logger.Error("Failed to rotate baseline", zap.Error(err))
		}
	}

	r.finish(ctx, report)

	logger.Warn("Audit detected regressions",
		zap.String("report_id", report.ID),
		zap.Int("findings", len(report.Findings)),
		zap.String("severity", report.Severity),
	)

	if report.Severity == SeverityCritical && r.alerts != nil {
		r.alerts.AlertReport(ctx, report)
	}

	return report, nil
}

// finish persists the report and records the run outcome.
func (r *Runner) finish(ctx context.Context, report *models.AuditReport) {
	if err := r.control.InsertAuditReport(report); err != nil {
		logger.Error("Failed to persist audit report", zap.String("report_id", report.ID), zap.Error(err))
	}

	outcome := report.Status
	metrics.AuditRuns.WithLabelValues(outcome).Inc()

	r.mu.Lock()
	r.lastRun = report.FinishedAt
	r.lastStatus = report.Status
	r.mu.Unlock()
}

// LastRun reports when and how the most recent audit finished.
func (r *Runner) LastRun() (time.Time, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.lastStatus
}

func detectRegressions(baseline, current *models.AuditSnapshot, cfg config.AuditConfig) []models.Finding {
	var findings []models.Finding

	if delta := current.ErrorCount - baseline.ErrorCount; delta > cfg.NewErrors {
		findings = append(findings, models.Finding{
			Kind:     FindingErrorCount,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("%d new errors since baseline", delta),
			Baseline: float64(baseline.ErrorCount),
			Current:  float64(current.ErrorCount),
		})
	}

	if baseline.AvgDurationMs > 0 {
		degradation := (current.AvgDurationMs - baseline.AvgDurationMs) / baseline.AvgDurationMs
		if degradation > cfg.PerformanceDegradation {
			findings = append(findings, models.Finding{
				Kind:     FindingPerformance,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("average duration degraded %.0f%%", degradation*100),
				Baseline: baseline.AvgDurationMs,
				Current:  current.AvgDurationMs,
			})
		}
	}

	if missing := baseline.FilesChecked - current.FilesChecked; missing >= cfg.MissingFiles && cfg.MissingFiles > 0 {
		findings = append(findings, models.Finding{
			Kind:     FindingMissingFiles,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("%d file(s) checked at baseline are missing", missing),
			Baseline: float64(baseline.FilesChecked),
			Current:  float64(current.FilesChecked),
		})
	}

	// Satisfaction is only comparable when both runs observed traffic; a
	// quiet hour reads as 0 and must not be mistaken for a collapse.
	if baseline.Satisfaction > 0 && current.Satisfaction > 0 {
		if drop := baseline.Satisfaction - current.Satisfaction; drop > cfg.SatisfactionDrop {
			findings = append(findings, models.Finding{
				Kind:     FindingSatisfaction,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("satisfaction dropped %.3f since baseline", drop),
				Baseline: baseline.Satisfaction,
				Current:  current.Satisfaction,
			})
		}
	}

	return findings
}

func maxSeverity(findings []models.Finding) string {
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return SeverityCritical
		}
	}
	return SeverityWarning
}
