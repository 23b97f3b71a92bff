package event

import (
	"time"

	"github.com/vortex-ai/feedback-engine/internal/faults"
)

// Metric event types carried on the metrics queue.
const (
	TypeUserFeedback     = "user_feedback"
	TypeAgentMetrics     = "agent_metrics"
	TypeModelSwap        = "model_swap"
	TypeError            = "error"
	TypeAuditResults     = "audit_results"
	TypeModelPerformance = "model_performance"
)

// User tiers recognized for sample weighting.
const (
	TierPremium   = "premium"
	TierPro       = "pro"
	TierBasic     = "basic"
	TierFree      = "free"
	TierAnonymous = "anonymous"
)

// FeedbackEvent is a user's reaction to an agent response. Immutable once
// ingested.
type FeedbackEvent struct {
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	UserID     string `json:"user_id"`
	UserTier   string `json:"user_tier"`
	AgentName  string `json:"agent_name"`
	Prompt     string `json:"prompt,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	Rating     int    `json:"rating"`
	ThumbsUp   bool   `json:"thumbs_up"`
	ThumbsDown bool   `json:"thumbs_down"`
	Comment    string `json:"comment,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// MetricEvent is an operational telemetry record: agent timings, model swaps,
// errors, audit completions, model performance updates. Immutable once
// ingested.
type MetricEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	AgentName string `json:"agent_name"`

	// agent_metrics
	PromptLength     int    `json:"prompt_length,omitempty"`
	ResponseLength   int    `json:"response_length,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms,omitempty"`
	TokensUsed       int64  `json:"tokens_used,omitempty"`
	ModelUsed        string `json:"model_used,omitempty"`
	Success          bool   `json:"success"`
	ErrorMessage     string `json:"error_message,omitempty"`

	// model_swap
	FromModel        string  `json:"from_model,omitempty"`
	ToModel          string  `json:"to_model,omitempty"`
	SwapReason       string  `json:"swap_reason,omitempty"`
	PerformanceDelta float64 `json:"performance_delta,omitempty"`

	// error
	ErrorType string `json:"error_type,omitempty"`
	Severity  string `json:"severity,omitempty"`

	// audit_results
	TotalChecks  int   `json:"total_checks,omitempty"`
	PassedChecks int   `json:"passed_checks,omitempty"`
	Warnings     int   `json:"warnings,omitempty"`
	Errors       int   `json:"errors,omitempty"`
	FilesChecked int   `json:"files_checked,omitempty"`
	DurationMs   int64 `json:"duration_ms,omitempty"`

	// model_performance
	ModelName         string  `json:"model_name,omitempty"`
	Accuracy          float64 `json:"accuracy,omitempty"`
	LatencyAvgMs      float64 `json:"latency_avg_ms,omitempty"`
	ThroughputRps     float64 `json:"throughput_rps,omitempty"`
	ErrorRate         float64 `json:"error_rate,omitempty"`
	UserSatisfaction  float64 `json:"user_satisfaction,omitempty"`
	SatisfactionScore float64 `json:"satisfaction_score,omitempty"`

	UserTier  string `json:"user_tier,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Normalize fills defaults on a freshly submitted feedback event.
func (e *FeedbackEvent) Normalize(now time.Time) {
	e.Type = TypeUserFeedback
	if e.Timestamp == 0 {
		e.Timestamp = now.Unix()
	}
	if e.UserTier == "" {
		e.UserTier = TierAnonymous
	}
}

func (e *FeedbackEvent) Validate() error {
	if e.AgentName == "" {
		return faults.Validationf("feedback event missing agent_name")
	}
	if e.Rating < 0 || e.Rating > 5 {
		return faults.Validationf("feedback rating %d out of range [0,5]", e.Rating)
	}
	return nil
}

func (e *MetricEvent) Normalize(now time.Time) {
	if e.Type == "" {
		e.Type = TypeAgentMetrics
	}
	if e.Timestamp == 0 {
		e.Timestamp = now.Unix()
	}
}

func (e *MetricEvent) Validate() error {
	if e.AgentName == "" && e.Type != TypeAuditResults && e.Type != TypeModelPerformance {
		return faults.Validationf("metric event missing agent_name")
	}
	switch e.Type {
	case TypeAgentMetrics, TypeModelSwap, TypeError, TypeAuditResults, TypeModelPerformance:
		return nil
	}
	return faults.Validationf("unknown metric event type %q", e.Type)
}

// SatisfactionScore maps a feedback event onto [-1,1]. Thumbs take priority
// over the star rating; an unrated event without thumbs scores 0.
func (e *FeedbackEvent) SatisfactionScore() float64 {
	switch {
	case e.ThumbsUp:
		return 1
	case e.ThumbsDown:
		return -1
	case e.Rating > 0:
		return float64(e.Rating-3) / 2
	}
	return 0
}

// HourBucket formats a unix timestamp as the hourly aggregation key.
func HourBucket(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02-15")
}
