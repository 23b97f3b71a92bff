package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortex-ai/feedback-engine/internal/event"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
	"github.com/vortex-ai/feedback-engine/internal/store"
	"github.com/vortex-ai/feedback-engine/internal/stream"
	"github.com/vortex-ai/feedback-engine/pkg/config"
)

func testPromotionConfig() config.PromotionConfig {
	return config.PromotionConfig{
		TrafficFraction:      0.1,
		ObservationWindow:    time.Hour,
		PerformanceThreshold: 0.05,
	}
}

type fakePromotionControl struct {
	routing  models.Routing
	versions map[string]*models.ModelVersion
	waiting  []string
	promoted []string
	rejected []string
}

func newFakePromotionControl() *fakePromotionControl {
	return &fakePromotionControl{versions: make(map[string]*models.ModelVersion)}
}

func (c *fakePromotionControl) addVersion(id, modelName, status string) {
	c.versions[id] = &models.ModelVersion{ID: id, ModelName: modelName, Status: status}
	c.waiting = append(c.waiting, id)
}

func (c *fakePromotionControl) GetRouting() (*models.Routing, error) {
	routing := c.routing
	return &routing, nil
}

func (c *fakePromotionControl) GetModelVersion(id string) (*models.ModelVersion, error) {
	v, ok := c.versions[id]
	if !ok {
		return nil, nil
	}
	copied := *v
	return &copied, nil
}

func (c *fakePromotionControl) PromoteCandidate(versionID string) error {
	c.promoted = append(c.promoted, versionID)
	if v, ok := c.versions[versionID]; ok {
		v.Status = models.VersionStatusProduction
	}
	c.routing.ProductionVersion = versionID
	c.routing.CandidateVersion = ""
	c.routing.CandidateSince = nil
	return nil
}

func (c *fakePromotionControl) RejectCandidate(versionID string) error {
	c.rejected = append(c.rejected, versionID)
	if v, ok := c.versions[versionID]; ok {
		v.Status = models.VersionStatusRejected
	}
	c.routing.CandidateVersion = ""
	c.routing.CandidateSince = nil
	return nil
}

func (c *fakePromotionControl) NextTestingVersion() (*models.ModelVersion, error) {
	for _, id := range c.waiting {
		v, ok := c.versions[id]
		if !ok || v.Status != models.VersionStatusTesting || id == c.routing.CandidateVersion {
			continue
		}
		copied := *v
		return &copied, nil
	}
	return nil, nil
}

func (c *fakePromotionControl) SetCandidate(versionID string, trafficFraction float64) error {
	if c.routing.CandidateVersion != "" {
		return assert.AnError
	}
	now := time.Now()
	c.routing.CandidateVersion = versionID
	c.routing.TrafficFraction = trafficFraction
	c.routing.CandidateSince = &now
	return nil
}

func seedAggregate(t *testing.T, s store.Store, metricType, modelName string, values []float64) {
	t.Helper()
	bucket := event.HourBucket(time.Now().Unix())
	for _, v := range values {
		_, err := s.IncrementAggregate(context.Background(), metricType, store.ModelDimension(modelName), bucket, v)
		require.NoError(t, err)
	}
}

func repeat(value float64, n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = value
	}
	return values
}

func elapsedWindow() *time.Time {
	t := time.Now().Add(-2 * time.Hour)
	return &t
}

func TestEvaluateNoCandidate(t *testing.T) {
	control := newFakePromotionControl()
	control.routing = models.Routing{ProductionVersion: "v1"}

	e := NewEvaluator(control, store.NewMemoryStore(), testPromotionConfig())

	decision, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, decision)
}

func TestEvaluateWaitsForObservationWindow(t *testing.T) {
	control := newFakePromotionControl()
	now := time.Now()
	control.routing = models.Routing{
		ProductionVersion: "v1",
		CandidateVersion:  "v2",
		CandidateSince:    &now,
	}
	control.addVersion("v2", "model-b", models.VersionStatusTesting)

	e := NewEvaluator(control, store.NewMemoryStore(), testPromotionConfig())

	decision, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, decision)
	assert.Empty(t, control.promoted)
	assert.Empty(t, control.rejected)
}

func TestEvaluateBootstrapsFirstVersion(t *testing.T) {
	control := newFakePromotionControl()
	control.routing = models.Routing{
		CandidateVersion: "v1",
		CandidateSince:   elapsedWindow(),
	}
	control.addVersion("v1", "model-a", models.VersionStatusTesting)

	e := NewEvaluator(control, store.NewMemoryStore(), testPromotionConfig())

	decision, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, ActionBootstrap, decision.Action)
	assert.Equal(t, []string{"v1"}, control.promoted)
	assert.Equal(t, "v1", control.routing.ProductionVersion)
}

func TestEvaluatePromotesBetterCandidate(t *testing.T) {
	control := newFakePromotionControl()
	control.routing = models.Routing{
		ProductionVersion: "v1",
		CandidateVersion:  "v2",
		CandidateSince:    elapsedWindow(),
	}
	control.addVersion("v1", "model-a", models.VersionStatusProduction)
	control.addVersion("v2", "model-b", models.VersionStatusTesting)

	events := store.NewMemoryStore()
	// Production: 200ms latency, 20% errors, 0.5 satisfaction.
	seedAggregate(t, events, stream.MetricLatency, "model-a", repeat(200, 10))
	seedAggregate(t, events, stream.MetricRequests, "model-a", repeat(1, 10))
	seedAggregate(t, events, stream.MetricErrors, "model-a", repeat(1, 2))
	seedAggregate(t, events, stream.MetricModelSatisfaction, "model-a", repeat(0.5, 5))
	// Candidate: 100ms latency, 10% errors, 0.6 satisfaction.
	seedAggregate(t, events, stream.MetricLatency, "model-b", repeat(100, 10))
	seedAggregate(t, events, stream.MetricRequests, "model-b", repeat(1, 10))
	seedAggregate(t, events, stream.MetricErrors, "model-b", repeat(1, 1))
	seedAggregate(t, events, stream.MetricModelSatisfaction, "model-b", repeat(0.6, 5))

	e := NewEvaluator(control, events, testPromotionConfig())

	decision, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, ActionPromoted, decision.Action)
	assert.Equal(t, []string{"v2"}, control.promoted)

	assert.InDelta(t, 0.5, decision.Improvements["latency"], 1e-9)
	assert.InDelta(t, 0.5, decision.Improvements["error_rate"], 1e-9)
	assert.InDelta(t, 0.2, decision.Improvements["satisfaction"], 1e-9)
	assert.Greater(t, decision.MeanImprovement, 0.05)
}

func TestEvaluateRollsBackWorseCandidate(t *testing.T) {
	control := newFakePromotionControl()
	control.routing = models.Routing{
		ProductionVersion: "v1",
		CandidateVersion:  "v2",
		CandidateSince:    elapsedWindow(),
	}
	control.addVersion("v1", "model-a", models.VersionStatusProduction)
	control.addVersion("v2", "model-b", models.VersionStatusTesting)

	events := store.NewMemoryStore()
	seedAggregate(t, events, stream.MetricLatency, "model-a", repeat(100, 10))
	seedAggregate(t, events, stream.MetricLatency, "model-b", repeat(300, 10))

	e := NewEvaluator(control, events, testPromotionConfig())

	decision, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, ActionRolledBack, decision.Action)
	assert.Equal(t, []string{"v2"}, control.rejected)
	assert.Empty(t, control.promoted)
	assert.Equal(t, "v1", control.routing.ProductionVersion)
}

func TestEvaluateSkipsZeroBaselines(t *testing.T) {
	control := newFakePromotionControl()
	control.routing = models.Routing{
		ProductionVersion: "v1",
		CandidateVersion:  "v2",
		CandidateSince:    elapsedWindow(),
	}
	control.addVersion("v1", "model-a", models.VersionStatusProduction)
	control.addVersion("v2", "model-b", models.VersionStatusTesting)

	events := store.NewMemoryStore()
	// Production has no latency data and a zero error rate; only
	// satisfaction is comparable.
	seedAggregate(t, events, stream.MetricRequests, "model-a", repeat(1, 10))
	seedAggregate(t, events, stream.MetricModelSatisfaction, "model-a", repeat(0.5, 5))
	seedAggregate(t, events, stream.MetricLatency, "model-b", repeat(100, 10))
	seedAggregate(t, events, stream.MetricRequests, "model-b", repeat(1, 10))
	seedAggregate(t, events, stream.MetricModelSatisfaction, "model-b", repeat(0.7, 5))

	e := NewEvaluator(control, events, testPromotionConfig())

	decision, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)

	assert.Len(t, decision.Improvements, 1)
	assert.Contains(t, decision.Improvements, "satisfaction")
	assert.Equal(t, ActionPromoted, decision.Action)
}

func TestEvaluateRollsBackWithoutEvidence(t *testing.T) {
	control := newFakePromotionControl()
	control.routing = models.Routing{
		ProductionVersion: "v1",
		CandidateVersion:  "v2",
		CandidateSince:    elapsedWindow(),
	}
	control.addVersion("v1", "model-a", models.VersionStatusProduction)
	control.addVersion("v2", "model-b", models.VersionStatusTesting)

	e := NewEvaluator(control, store.NewMemoryStore(), testPromotionConfig())

	decision, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, ActionRolledBack, decision.Action)
	assert.InDelta(t, 0.0, decision.MeanImprovement, 1e-9)
}

func TestWaitingVersionRoutedAfterDecision(t *testing.T) {
	control := newFakePromotionControl()
	control.routing = models.Routing{
		ProductionVersion: "v1",
		CandidateVersion:  "v2",
		CandidateSince:    elapsedWindow(),
	}
	control.addVersion("v1", "model-a", models.VersionStatusProduction)
	control.addVersion("v2", "model-b", models.VersionStatusTesting)
	// v3 finished training while v2 held the candidate slot.
	control.addVersion("v3", "model-c", models.VersionStatusTesting)

	e := NewEvaluator(control, store.NewMemoryStore(), testPromotionConfig())

	decision, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, ActionRolledBack, decision.Action)

	// The freed slot goes to the oldest waiting testing version.
	assert.Equal(t, "v3", control.routing.CandidateVersion)
	assert.InDelta(t, 0.1, control.routing.TrafficFraction, 1e-9)
	require.NotNil(t, control.routing.CandidateSince)

	// Its observation window starts now, so it is not judged immediately.
	decision, err = e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, decision)
	assert.Equal(t, "v3", control.routing.CandidateVersion)
}

func TestRouteStickiness(t *testing.T) {
	routing := &models.Routing{
		ProductionVersion: "v1",
		CandidateVersion:  "v2",
		TrafficFraction:   0.5,
	}

	first := Route(routing, "session-abc")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Route(routing, "session-abc"))
	}
}

func TestRouteFractionExtremes(t *testing.T) {
	all := &models.Routing{ProductionVersion: "v1", CandidateVersion: "v2", TrafficFraction: 1.0}
	none := &models.Routing{ProductionVersion: "v1", CandidateVersion: "v2", TrafficFraction: 0}

	for _, session := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, "v2", Route(all, session))
		assert.Equal(t, "v1", Route(none, session))
	}
}

func TestRouteWithoutCandidate(t *testing.T) {
	routing := &models.Routing{ProductionVersion: "v1"}
	assert.Equal(t, "v1", Route(routing, "any"))

	bootstrap := &models.Routing{CandidateVersion: "v2", TrafficFraction: 0.1}
	assert.Equal(t, "v2", Route(bootstrap, "any"))
}

func TestRouteApproximatesFraction(t *testing.T) {
	routing := &models.Routing{
		ProductionVersion: "v1",
		CandidateVersion:  "v2",
		TrafficFraction:   0.1,
	}

	candidate := 0
	for i := 0; i < 1000; i++ {
		if Route(routing, "session-"+string(rune('a'+i%26))+time.Duration(i).String()) == "v2" {
			candidate++
		}
	}
	// FNV spreads evenly enough that ~10% land on the candidate.
	assert.Greater(t, candidate, 30)
	assert.Less(t, candidate, 250)
}
