package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/blob"
	"github.com/vortex-ai/feedback-engine/internal/event"
	"github.com/vortex-ai/feedback-engine/internal/metrics"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
	"github.com/vortex-ai/feedback-engine/internal/store"
	"github.com/vortex-ai/feedback-engine/internal/stream"
	"github.com/vortex-ai/feedback-engine/pkg/config"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

// ErrTrainingInProgress is returned when a retraining run is requested while
// a dispatched job has not finished yet.
var ErrTrainingInProgress = errors.New("training job already in progress")

// Sample buckets.
const (
	BucketPositive = "positive"
	BucketNeutral  = "neutral"
	BucketNegative = "negative"
)

const stateLastTraining = "last_training_at"

// Tier weights applied to sample scores. Paying tiers count for more because
// their feedback correlates better with real usage.
var tierWeights = map[string]float64{
	event.TierPremium:   1.5,
	event.TierPro:       1.2,
	event.TierBasic:     1.0,
	event.TierFree:      0.8,
	event.TierAnonymous: 0.5,
}

// TierWeight returns the sample weight for a user tier. Unknown tiers weigh
// the same as anonymous users.
func TierWeight(tier string) float64 {
	if w, ok := tierWeights[tier]; ok {
		return w
	}
	return tierWeights[event.TierAnonymous]
}

// SampleScore combines the star rating and thumbs signals, scaled by the
// user's tier weight. Unlike the live satisfaction rollup, rating and thumbs
// are additive here: a five-star rating with a thumbs up scores higher than
// either alone.
func SampleScore(evt *event.FeedbackEvent) float64 {
	var score float64
	if evt.Rating > 0 {
		score += float64(evt.Rating-3) / 2
	}
	if evt.ThumbsUp {
		score += 1
	}
	if evt.ThumbsDown {
		score -= 1
	}
	return TierWeight(evt.UserTier) * score
}

// BucketFor places a weighted score into its training bucket. The thresholds
// are strict, so a score of exactly 0.5 is neutral.
func BucketFor(score float64) string {
	switch {
	case score > 0.5:
		return BucketPositive
	case score < -0.5:
		return BucketNegative
	}
	return BucketNeutral
}

// Sample is one feedback event prepared for fine-tuning.
type Sample struct {
	AgentName  string  `json:"agent_name"`
	Prompt     string  `json:"prompt,omitempty"`
	ResponseID string  `json:"response_id,omitempty"`
	UserTier   string  `json:"user_tier"`
	Rating     int     `json:"rating"`
	ThumbsUp   bool    `json:"thumbs_up"`
	ThumbsDown bool    `json:"thumbs_down"`
	Comment    string  `json:"comment,omitempty"`
	Labels     Labels  `json:"labels,omitempty"`
	Score      float64 `json:"score"`
	Bucket     string  `json:"bucket"`
	Timestamp  int64   `json:"timestamp"`
}

// Dataset is the artifact handed to the training executor.
type Dataset struct {
	JobID            string         `json:"job_id"`
	CreatedAt        time.Time      `json:"created_at"`
	BaseModel        string         `json:"base_model"`
	FineTuningMethod string         `json:"fine_tuning_method"`
	LearningRate     float64        `json:"learning_rate"`
	Epochs           int            `json:"epochs"`
	BatchSize        int            `json:"batch_size"`
	BucketCounts     map[string]int `json:"bucket_counts"`
	Samples          []Sample       `json:"samples"`
}

// ControlStore is the slice of the control-plane database the retrainer needs.
type ControlStore interface {
	InsertTrainingJob(job *models.TrainingJob) error
	UpdateTrainingJob(id, status, resultModel, errMsg string) error
	CountActiveTrainingJobs() (int, error)
	GetState(key string) (string, error)
	SetState(key, value string) error
}

// Dispatcher hands an assembled dataset to the external training executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.TrainingJob, dataset *Dataset) error
}

// Retrainer assembles fine-tuning datasets from accumulated feedback and
// dispatches training jobs. At most one job is in flight; the feedback
// cutoff only advances when a dispatch succeeds, so no sample is ever
// skipped by a failed run.
type Retrainer struct {
	events     store.Store
	control    ControlStore
	blobs      blob.Store
	dispatcher Dispatcher
	cfg        config.TrainingConfig

	mu sync.Mutex
}

func NewRetrainer(events store.Store, control ControlStore, blobs blob.Store, dispatcher Dispatcher, cfg config.TrainingConfig) *Retrainer {
	return &Retrainer{
		events:     events,
		control:    control,
		blobs:      blobs,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// MaybeTrigger starts a run only when enough feedback has accumulated since
// the last training cutoff. Called inline after feedback batches and from
// the interval scheduler.
func (r *Retrainer) MaybeTrigger(ctx context.Context) {
	cutoff := r.lastTrainingAt()

	count, err := r.events.CountEvents(ctx, stream.PartitionFeedback, cutoff)
	if err != nil {
		logger.Error("Failed to count feedback since cutoff", zap.Error(err))
		return
	}
	if count < int64(r.cfg.MinFeedbackSamples) {
		logger.Debug("Retraining trigger below threshold",
			zap.Int64("samples", count),
			zap.Int("required", r.cfg.MinFeedbackSamples),
		)
		return
	}

	if _, err := r.Run(ctx); err != nil && !errors.Is(err, ErrTrainingInProgress) {
		logger.Error("Triggered retraining run failed", zap.Error(err))
	}
}

// Run assembles a dataset from all feedback since the last cutoff and
// dispatches a training job. Returns nil without error when there is no new
// feedback to train on.
func (r *Retrainer) Run(ctx context.Context) (*models.TrainingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.control.CountActiveTrainingJobs()
	if err != nil {
		return nil, fmt.Errorf("failed to check active jobs: %w", err)
	}
	if active > 0 {
		return nil, ErrTrainingInProgress
	}

	cutoff := r.lastTrainingAt()
	bodies, err := r.events.QueryEvents(ctx, stream.PartitionFeedback, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}

	samples := r.buildSamples(bodies)
	if len(samples) == 0 {
		logger.Info("No new feedback since last training, skipping run", zap.Time("cutoff", cutoff))
		return nil, nil
	}

	now := time.Now().UTC()
	jobID := r.cfg.JobPrefix + now.Format("20060102-150405")

	dataset := &Dataset{
		JobID:            jobID,
		CreatedAt:        now,
		BaseModel:        r.cfg.BaseModel,
		FineTuningMethod: r.cfg.FineTuningMethod,
		LearningRate:     r.cfg.LearningRate,
		Epochs:           r.cfg.Epochs,
		BatchSize:        r.cfg.BatchSize,
		BucketCounts:     make(map[string]int),
		Samples:          samples,
	}
	for _, s := range samples {
		dataset.BucketCounts[s.Bucket]++
	}

	payload, err := json.Marshal(dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dataset: %w", err)
	}

	datasetPath, err := r.blobs.Put(ctx, "datasets/"+jobID+".json", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to store dataset: %w", err)
	}

	job := &models.TrainingJob{
		ID:          jobID,
		Status:      models.JobStatusPending,
		SampleCount: len(samples),
		DatasetPath: datasetPath,
		BaseModel:   r.cfg.BaseModel,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.control.InsertTrainingJob(job); err != nil {
		return nil, fmt.Errorf("failed to record training job: %w", err)
	}

	if err := r.dispatcher.Dispatch(ctx, job, dataset); err != nil {
		if uerr := r.control.UpdateTrainingJob(jobID, models.JobStatusFailed, "", err.Error()); uerr != nil {
			logger.Error("Failed to mark job failed", zap.String("job_id", jobID), zap.Error(uerr))
		}
		return job, fmt.Errorf("failed to dispatch training job: %w", err)
	}

	job.Status = models.JobStatusRunning
	if err := r.control.UpdateTrainingJob(jobID, models.JobStatusRunning, "", ""); err != nil {
		logger.Error("Failed to mark job running", zap.String("job_id", jobID), zap.Error(err))
	}

	// Dispatch succeeded, so everything up to now is covered by this job.
	if err := r.control.SetState(stateLastTraining, strconv.FormatInt(now.Unix(), 10)); err != nil {
		logger.Error("Failed to advance training cutoff", zap.Error(err))
	}

	metrics.TrainingJobsStarted.Inc()
	for bucket, count := range dataset.BucketCounts {
		metrics.TrainingSamples.WithLabelValues(bucket).Add(float64(count))
	}

	logger.Info("Training job dispatched",
		zap.String("job_id", jobID),
		zap.Int("samples", len(samples)),
		zap.Int("positive", dataset.BucketCounts[BucketPositive]),
		zap.Int("neutral", dataset.BucketCounts[BucketNeutral]),
		zap.Int("negative", dataset.BucketCounts[BucketNegative]),
	)
	return job, nil
}

func (r *Retrainer) buildSamples(bodies [][]byte) []Sample {
	samples := make([]Sample, 0, len(bodies))
	for _, body := range bodies {
		var evt event.FeedbackEvent
		if err := json.Unmarshal(body, &evt); err != nil || evt.Type != event.TypeUserFeedback {
			continue
		}

		score := SampleScore(&evt)
		samples = append(samples, Sample{
			AgentName:  evt.AgentName,
			Prompt:     evt.Prompt,
			ResponseID: evt.ResponseID,
			UserTier:   evt.UserTier,
			Rating:     evt.Rating,
			ThumbsUp:   evt.ThumbsUp,
			ThumbsDown: evt.ThumbsDown,
			Comment:    evt.Comment,
			Labels:     LabelComment(evt.Comment),
			Score:      score,
			Bucket:     BucketFor(score),
			Timestamp:  evt.Timestamp,
		})
	}
	return samples
}

func (r *Retrainer) lastTrainingAt() time.Time {
	raw, err := r.control.GetState(stateLastTraining)
	if err != nil || raw == "" {
		return time.Time{}
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn("Invalid training cutoff state, using zero", zap.String("value", raw))
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
