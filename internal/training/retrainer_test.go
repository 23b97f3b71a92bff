package training

import (
	"context"
	"encoding/json"
	"sync"
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

func testTrainingConfig() config.TrainingConfig {
	return config.TrainingConfig{
		MinFeedbackSamples: 2,
		JobPrefix:          "retrain-",
		BaseModel:          "base-v1",
		FineTuningMethod:   "lora",
		LearningRate:       0.0001,
		Epochs:             3,
		BatchSize:          8,
	}
}

type fakeTrainingControl struct {
	mu    sync.Mutex
	jobs  map[string]*models.TrainingJob
	state map[string]string
}

func newFakeTrainingControl() *fakeTrainingControl {
	return &fakeTrainingControl{
		jobs:  make(map[string]*models.TrainingJob),
		state: make(map[string]string),
	}
}

func (c *fakeTrainingControl) InsertTrainingJob(job *models.TrainingJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *job
	c.jobs[job.ID] = &copied
	return nil
}

func (c *fakeTrainingControl) UpdateTrainingJob(id, status, resultModel, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	job := c.jobs[id]
	if job == nil {
		return assert.AnError
	}
	job.Status = status
	job.ResultModel = resultModel
	job.Error = errMsg
	return nil
}

func (c *fakeTrainingControl) CountActiveTrainingJobs() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, job := range c.jobs {
		if job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning {
			n++
		}
	}
	return n, nil
}

func (c *fakeTrainingControl) GetState(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state[key], nil
}

func (c *fakeTrainingControl) SetState(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
	return nil
}

type fakeBlob struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{blobs: make(map[string][]byte)}
}

func (b *fakeBlob) Put(ctx context.Context, key string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = data
	return "/blobs/" + key, nil
}

func (b *fakeBlob) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blobs[key], nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	datasets []*Dataset
	err      error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, job *models.TrainingJob, dataset *Dataset) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.datasets = append(d.datasets, dataset)
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.datasets)
}

func seedFeedback(t *testing.T, s store.Store, ts time.Time, evt event.FeedbackEvent) {
	t.Helper()
	evt.Type = event.TypeUserFeedback
	evt.Timestamp = ts.Unix()
	if evt.UserTier == "" {
		evt.UserTier = event.TierAnonymous
	}
	body, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, s.PutEvent(context.Background(), stream.PartitionFeedback, evt.AgentName+ts.String(), ts.Unix(), body))
}

func TestTierWeight(t *testing.T) {
	assert.InDelta(t, 1.5, TierWeight(event.TierPremium), 1e-9)
	assert.InDelta(t, 1.2, TierWeight(event.TierPro), 1e-9)
	assert.InDelta(t, 1.0, TierWeight(event.TierBasic), 1e-9)
	assert.InDelta(t, 0.8, TierWeight(event.TierFree), 1e-9)
	assert.InDelta(t, 0.5, TierWeight(event.TierAnonymous), 1e-9)
	assert.InDelta(t, 0.5, TierWeight("vip"), 1e-9)
}

func TestSampleScore(t *testing.T) {
	// Rating and thumbs stack, then the tier scales the total.
	both := event.FeedbackEvent{UserTier: event.TierPremium, Rating: 5, ThumbsUp: true}
	assert.InDelta(t, 3.0, SampleScore(&both), 1e-9) // 1.5 * (1 + 1)

	down := event.FeedbackEvent{UserTier: event.TierAnonymous, ThumbsDown: true}
	assert.InDelta(t, -0.5, SampleScore(&down), 1e-9)

	ratingOnly := event.FeedbackEvent{UserTier: event.TierBasic, Rating: 1}
	assert.InDelta(t, -1.0, SampleScore(&ratingOnly), 1e-9)

	conflicted := event.FeedbackEvent{UserTier: event.TierBasic, Rating: 5, ThumbsDown: true}
	assert.InDelta(t, 0.0, SampleScore(&conflicted), 1e-9) // 1 - 1

	empty := event.FeedbackEvent{UserTier: event.TierFree}
	assert.InDelta(t, 0.0, SampleScore(&empty), 1e-9)
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, BucketPositive, BucketFor(0.51))
	assert.Equal(t, BucketNeutral, BucketFor(0.5))
	assert.Equal(t, BucketNeutral, BucketFor(0))
	assert.Equal(t, BucketNeutral, BucketFor(-0.5))
	assert.Equal(t, BucketNegative, BucketFor(-0.51))
}

func TestRunBuildsDatasetAndDispatches(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	control := newFakeTrainingControl()
	blobs := newFakeBlob()
	dispatcher := &fakeDispatcher{}

	now := time.Now()
	seedFeedback(t, events, now, event.FeedbackEvent{AgentName: "artist-advisor", UserTier: event.TierPremium, ThumbsUp: true})
	seedFeedback(t, events, now.Add(time.Second), event.FeedbackEvent{AgentName: "artist-advisor", UserTier: event.TierBasic, Rating: 1})
	seedFeedback(t, events, now.Add(2*time.Second), event.FeedbackEvent{AgentName: "market-analyst", UserTier: event.TierFree, Rating: 3})

	r := NewRetrainer(events, control, blobs, dispatcher, testTrainingConfig())

	job, err := r.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 3, job.SampleCount)
	assert.Contains(t, job.ID, "retrain-")

	require.Equal(t, 1, dispatcher.count())
	dataset := dispatcher.datasets[0]
	assert.Equal(t, "base-v1", dataset.BaseModel)
	assert.Equal(t, 1, dataset.BucketCounts[BucketPositive]) // premium thumbs up: 1.5
	assert.Equal(t, 1, dataset.BucketCounts[BucketNegative]) // basic one star: -1.0
	assert.Equal(t, 1, dataset.BucketCounts[BucketNeutral])  // free three stars: 0

	// Dataset artifact persisted, job running, cutoff advanced.
	assert.NotEmpty(t, blobs.blobs["datasets/"+job.ID+".json"])
	assert.Equal(t, models.JobStatusRunning, control.jobs[job.ID].Status)
	assert.NotEmpty(t, control.state[stateLastTraining])
}

func TestRunWithoutFeedbackIsNoop(t *testing.T) {
	r := NewRetrainer(store.NewMemoryStore(), newFakeTrainingControl(), newFakeBlob(), &fakeDispatcher{}, testTrainingConfig())

	job, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRunRejectedWhileJobActive(t *testing.T) {
	control := newFakeTrainingControl()
	require.NoError(t, control.InsertTrainingJob(&models.TrainingJob{
		ID:     "retrain-busy",
		Status: models.JobStatusRunning,
	}))

	r := NewRetrainer(store.NewMemoryStore(), control, newFakeBlob(), &fakeDispatcher{}, testTrainingConfig())

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrTrainingInProgress)
}

func TestDispatchFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	control := newFakeTrainingControl()
	dispatcher := &fakeDispatcher{err: assert.AnError}

	seedFeedback(t, events, time.Now(), event.FeedbackEvent{AgentName: "artist-advisor", Rating: 5})

	r := NewRetrainer(events, control, newFakeBlob(), dispatcher, testTrainingConfig())

	job, err := r.Run(ctx)
	assert.Error(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusFailed, control.jobs[job.ID].Status)

	// Cutoff did not advance, so the same feedback is retried next run.
	assert.Empty(t, control.state[stateLastTraining])
}

func TestCutoffExcludesTrainedFeedback(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	control := newFakeTrainingControl()
	dispatcher := &fakeDispatcher{}

	old := time.Now().Add(-2 * time.Hour)
	seedFeedback(t, events, old, event.FeedbackEvent{AgentName: "artist-advisor", Rating: 5})
	require.NoError(t, control.SetState(stateLastTraining, "9999999999"))

	r := NewRetrainer(events, control, newFakeBlob(), dispatcher, testTrainingConfig())

	job, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, 0, dispatcher.count())
}

func TestMaybeTriggerHonorsThreshold(t *testing.T) {
	ctx := context.Background()
	events := store.NewMemoryStore()
	control := newFakeTrainingControl()
	dispatcher := &fakeDispatcher{}

	r := NewRetrainer(events, control, newFakeBlob(), dispatcher, testTrainingConfig())

	seedFeedback(t, events, time.Now(), event.FeedbackEvent{AgentName: "artist-advisor", Rating: 5})
	r.MaybeTrigger(ctx)
	assert.Equal(t, 0, dispatcher.count())

	seedFeedback(t, events, time.Now().Add(time.Second), event.FeedbackEvent{AgentName: "artist-advisor", Rating: 4})
	r.MaybeTrigger(ctx)
	assert.Equal(t, 1, dispatcher.count())
}

func TestLabelCommentEmpty(t *testing.T) {
	labels := LabelComment("   ")
	assert.Empty(t, labels.Keywords)
	assert.Empty(t, labels.Entities)
}
