package models

import "time"

// Training job lifecycle states.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Model version lifecycle states.
const (
	VersionStatusTesting    = "testing"
	VersionStatusProduction = "production"
	VersionStatusSuperseded = "superseded"
	VersionStatusRejected   = "rejected"
)

// Audit report outcomes.
const (
	AuditStatusClean       = "clean"
	AuditStatusRegressions = "regressions"
	AuditStatusFailed      = "failed"
)

// AuditSnapshot is one observation of system health, either the stored
// baseline or the result of a fresh audit run.
type AuditSnapshot struct {
	TakenAt       time.Time `json:"taken_at"`
	ErrorCount    int       `json:"error_count"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	FilesChecked  int       `json:"files_checked"`
	TotalChecks   int       `json:"total_checks"`
	PassedChecks  int       `json:"passed_checks"`
	Warnings      int       `json:"warnings"`
	Satisfaction  float64   `json:"satisfaction"`
}

// Finding is a single regression detected by comparing a snapshot against
// the baseline.
type Finding struct {
	Kind     string  `json:"kind"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Baseline float64 `json:"baseline"`
	Current  float64 `json:"current"`
}

// AuditReport is the persisted record of one audit run.
type AuditReport struct {
	ID         string
	Status     string
	Severity   string
	Findings   []Finding
	Snapshot   *AuditSnapshot
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// TrainingJob tracks one retraining dispatch from creation through the
// executor's completion callback.
type TrainingJob struct {
	ID          string
	Status      string
	SampleCount int
	DatasetPath string
	BaseModel   string
	ResultModel string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ModelVersion is an entry in the model registry.
type ModelVersion struct {
	ID            string
	ModelName     string
	Status        string
	TrainingJobID string
	CreatedAt     time.Time
	PromotedAt    *time.Time
}

// Routing is the single-row traffic table consulted by the inference router.
type Routing struct {
	ProductionVersion string
	CandidateVersion  string
	TrafficFraction   float64
	CandidateSince    *time.Time
	UpdatedAt         time.Time
}
