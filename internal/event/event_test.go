package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackNormalize(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	evt := FeedbackEvent{AgentName: "artist-advisor"}
	evt.Normalize(now)

	assert.Equal(t, TypeUserFeedback, evt.Type)
	assert.Equal(t, now.Unix(), evt.Timestamp)
	assert.Equal(t, TierAnonymous, evt.UserTier)

	// Explicit values survive normalization.
	evt2 := FeedbackEvent{AgentName: "artist-advisor", Timestamp: 100, UserTier: TierPro}
	evt2.Normalize(now)
	assert.Equal(t, int64(100), evt2.Timestamp)
	assert.Equal(t, TierPro, evt2.UserTier)
}

func TestFeedbackValidate(t *testing.T) {
	valid := FeedbackEvent{AgentName: "artist-advisor", Rating: 4}
	require.NoError(t, valid.Validate())

	missing := FeedbackEvent{Rating: 4}
	assert.Error(t, missing.Validate())

	outOfRange := FeedbackEvent{AgentName: "artist-advisor", Rating: 6}
	assert.Error(t, outOfRange.Validate())

	negative := FeedbackEvent{AgentName: "artist-advisor", Rating: -1}
	assert.Error(t, negative.Validate())
}

func TestMetricValidate(t *testing.T) {
	valid := MetricEvent{Type: TypeAgentMetrics, AgentName: "artist-advisor"}
	require.NoError(t, valid.Validate())

	unknown := MetricEvent{Type: "telemetry", AgentName: "artist-advisor"}
	assert.Error(t, unknown.Validate())

	missingAgent := MetricEvent{Type: TypeAgentMetrics}
	assert.Error(t, missingAgent.Validate())

	// System-wide event types carry no agent.
	auditResults := MetricEvent{Type: TypeAuditResults}
	assert.NoError(t, auditResults.Validate())

	modelPerf := MetricEvent{Type: TypeModelPerformance, ModelName: "v2"}
	assert.NoError(t, modelPerf.Validate())
}

func TestSatisfactionScore(t *testing.T) {
	tests := []struct {
		name string
		evt  FeedbackEvent
		want float64
	}{
		{"thumbs up", FeedbackEvent{ThumbsUp: true}, 1},
		{"thumbs down", FeedbackEvent{ThumbsDown: true}, -1},
		{"thumbs up beats rating", FeedbackEvent{ThumbsUp: true, Rating: 1}, 1},
		{"thumbs down beats rating", FeedbackEvent{ThumbsDown: true, Rating: 5}, -1},
		{"five stars", FeedbackEvent{Rating: 5}, 1},
		{"three stars", FeedbackEvent{Rating: 3}, 0},
		{"one star", FeedbackEvent{Rating: 1}, -1},
		{"no signal", FeedbackEvent{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.evt.SatisfactionScore(), 1e-9)
		})
	}
}

func TestHourBucket(t *testing.T) {
	ts := time.Date(2025, 6, 1, 14, 59, 59, 0, time.UTC).Unix()
	assert.Equal(t, "2025-06-01-14", HourBucket(ts))

	// Buckets are UTC regardless of the producer's zone.
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2025, 6, 1, 19, 30, 0, 0, loc)
	assert.Equal(t, "2025-06-01-14", HourBucket(local.Unix()))
}
