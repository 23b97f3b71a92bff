package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/faults"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
	"github.com/vortex-ai/feedback-engine/pkg/retry"
)

// HTTPDispatcher submits training jobs to the external training executor
// service. The executor runs the fine-tune and reports back through the
// completion webhook.
type HTTPDispatcher struct {
	url      string
	client   *http.Client
	retryCfg retry.Config
}

func NewHTTPDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.RetryableErrors = []error{faults.ErrTransientDependency}
	retryCfg.Logger = logger.Named("training-dispatcher")

	return &HTTPDispatcher{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		retryCfg: retryCfg,
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, job *models.TrainingJob, dataset *Dataset) error {
	body := struct {
		JobID       string   `json:"job_id"`
		DatasetPath string   `json:"dataset_path"`
		Dataset     *Dataset `json:"dataset"`
	}{
		JobID:       job.ID,
		DatasetPath: job.DatasetPath,
		Dataset:     dataset,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch request: %w", err)
	}

	return retry.Do(ctx, d.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build dispatch request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return faults.Transientf("training executor unreachable: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return faults.Transientf("training executor returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("training executor rejected job with status %d", resp.StatusCode)
		}
		return nil
	})
}

// VersionRegistry is the slice of the control plane the completion handler
// writes to.
type VersionRegistry interface {
	InsertModelVersion(version *models.ModelVersion) error
	SetCandidate(versionID string, trafficFraction float64) error
}

// Completion is what the training executor reports when a job finishes.
type Completion struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	ResultModel string `json:"result_model,omitempty"`
	Error       string `json:"error,omitempty"`
}

// CompletionHandler closes the loop on dispatched jobs: a successful job
// yields a new model version in testing status, routed a slice of traffic as
// the A/B candidate.
type CompletionHandler struct {
	jobs            ControlStore
	versions        VersionRegistry
	trafficFraction float64
}

func NewCompletionHandler(jobs ControlStore, versions VersionRegistry, trafficFraction float64) *CompletionHandler {
	return &CompletionHandler{
		jobs:            jobs,
		versions:        versions,
		trafficFraction: trafficFraction,
	}
}

func (h *CompletionHandler) HandleCompletion(ctx context.Context, completion Completion) error {
	if completion.JobID == "" {
		return faults.Validationf("completion missing job_id")
	}

	switch completion.Status {
	case models.JobStatusCompleted:
		if completion.ResultModel == "" {
			return faults.Validationf("completed job %s missing result_model", completion.JobID)
		}
	case models.JobStatusFailed:
	default:
		return faults.Validationf("unknown completion status %q", completion.Status)
	}

	if err := h.jobs.UpdateTrainingJob(completion.JobID, completion.Status, completion.ResultModel, completion.Error); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	if completion.Status == models.JobStatusFailed {
		logger.Warn("Training job failed",
			zap.String("job_id", completion.JobID),
			zap.String("error", completion.Error),
		)
		return nil
	}

	version := &models.ModelVersion{
		ID:            uuid.New().String(),
		ModelName:     completion.ResultModel,
		Status:        models.VersionStatusTesting,
		TrainingJobID: completion.JobID,
		CreatedAt:     time.Now(),
	}
	if err := h.versions.InsertModelVersion(version); err != nil {
		return fmt.Errorf("failed to register model version: %w", err)
	}

	// Route a slice of traffic to the new version. If another candidate is
	// still under evaluation, this version waits in testing status; the
	// promotion evaluator routes it once the slot frees.
	if err := h.versions.SetCandidate(version.ID, h.trafficFraction); err != nil {
		logger.Warn("New version left unrouted",
			zap.String("version_id", version.ID),
			zap.Error(err),
		)
		return nil
	}

	logger.Info("Training job completed, candidate routed",
		zap.String("job_id", completion.JobID),
		zap.String("version_id", version.ID),
		zap.String("model", completion.ResultModel),
	)
	return nil
}
