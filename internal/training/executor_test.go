package training

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortex-ai/feedback-engine/internal/faults"
	"github.com/vortex-ai/feedback-engine/internal/storage/models"
)

type fakeVersionRegistry struct {
	mu         sync.Mutex
	versions   []*models.ModelVersion
	candidates []string
	fractions  []float64
	setErr     error
}

func (r *fakeVersionRegistry) InsertModelVersion(version *models.ModelVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *version
	r.versions = append(r.versions, &copied)
	return nil
}

func (r *fakeVersionRegistry) SetCandidate(versionID string, trafficFraction float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setErr != nil {
		return r.setErr
	}
	r.candidates = append(r.candidates, versionID)
	r.fractions = append(r.fractions, trafficFraction)
	return nil
}

func TestCompletionRegistersCandidate(t *testing.T) {
	control := newFakeTrainingControl()
	require.NoError(t, control.InsertTrainingJob(&models.TrainingJob{
		ID:     "retrain-1",
		Status: models.JobStatusRunning,
	}))

	registry := &fakeVersionRegistry{}
	h := NewCompletionHandler(control, registry, 0.1)

	err := h.HandleCompletion(context.Background(), Completion{
		JobID:       "retrain-1",
		Status:      models.JobStatusCompleted,
		ResultModel: "fine-tuned-v2",
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, control.jobs["retrain-1"].Status)
	assert.Equal(t, "fine-tuned-v2", control.jobs["retrain-1"].ResultModel)

	require.Len(t, registry.versions, 1)
	version := registry.versions[0]
	assert.Equal(t, "fine-tuned-v2", version.ModelName)
	assert.Equal(t, models.VersionStatusTesting, version.Status)
	assert.Equal(t, "retrain-1", version.TrainingJobID)

	require.Len(t, registry.candidates, 1)
	assert.Equal(t, version.ID, registry.candidates[0])
	assert.InDelta(t, 0.1, registry.fractions[0], 1e-9)
}

func TestCompletionFailedJob(t *testing.T) {
	control := newFakeTrainingControl()
	require.NoError(t, control.InsertTrainingJob(&models.TrainingJob{
		ID:     "retrain-2",
		Status: models.JobStatusRunning,
	}))

	registry := &fakeVersionRegistry{}
	h := NewCompletionHandler(control, registry, 0.1)

	err := h.HandleCompletion(context.Background(), Completion{
		JobID:  "retrain-2",
		Status: models.JobStatusFailed,
		Error:  "out of GPU memory",
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, control.jobs["retrain-2"].Status)
	assert.Empty(t, registry.versions)
	assert.Empty(t, registry.candidates)
}

func TestCompletionValidation(t *testing.T) {
	h := NewCompletionHandler(newFakeTrainingControl(), &fakeVersionRegistry{}, 0.1)

	err := h.HandleCompletion(context.Background(), Completion{Status: models.JobStatusCompleted})
	assert.True(t, faults.IsValidation(err))

	err = h.HandleCompletion(context.Background(), Completion{JobID: "x", Status: "paused"})
	assert.True(t, faults.IsValidation(err))

	// Completed without a result model is malformed.
	err = h.HandleCompletion(context.Background(), Completion{JobID: "x", Status: models.JobStatusCompleted})
	assert.True(t, faults.IsValidation(err))
}

func TestCompletionWithBusyCandidateSlot(t *testing.T) {
	control := newFakeTrainingControl()
	require.NoError(t, control.InsertTrainingJob(&models.TrainingJob{
		ID:     "retrain-3",
		Status: models.JobStatusRunning,
	}))

	registry := &fakeVersionRegistry{setErr: assert.AnError}
	h := NewCompletionHandler(control, registry, 0.1)

	// Another candidate occupies the traffic slot; the new version still
	// registers but stays unrouted.
	err := h.HandleCompletion(context.Background(), Completion{
		JobID:       "retrain-3",
		Status:      models.JobStatusCompleted,
		ResultModel: "fine-tuned-v3",
	})
	require.NoError(t, err)

	require.Len(t, registry.versions, 1)
	assert.Empty(t, registry.candidates)
}
