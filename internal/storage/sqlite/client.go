package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/vortex-ai/feedback-engine/internal/storage/models"
	"github.com/vortex-ai/feedback-engine/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_baseline (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		snapshot TEXT NOT NULL,
		taken_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_reports (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		severity TEXT,
		findings TEXT,
		snapshot TEXT,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_started ON audit_reports(started_at);

	CREATE TABLE IF NOT EXISTS training_jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		sample_count INTEGER NOT NULL,
		dataset_path TEXT,
		base_model TEXT,
		result_model TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON training_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON training_jobs(created_at);

	CREATE TABLE IF NOT EXISTS model_versions (
		id TEXT PRIMARY KEY,
		model_name TEXT NOT NULL,
		status TEXT NOT NULL,
		training_job_id TEXT,
		created_at INTEGER NOT NULL,
		promoted_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_versions_status ON model_versions(status);

	CREATE TABLE IF NOT EXISTS routing (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		production_version TEXT,
		candidate_version TEXT,
		traffic_fraction REAL NOT NULL DEFAULT 0,
		candidate_since INTEGER,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS control_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err = c.db.Exec(`INSERT OR IGNORE INTO routing (id, traffic_fraction, updated_at) VALUES (1, 0, ?)`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to seed routing row: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// --- Audit baseline and reports ---

func (c *Client) GetBaseline() (*models.AuditSnapshot, error) {
	var raw string
	err := c.db.QueryRow(`SELECT snapshot FROM audit_baseline WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}

	var snapshot models.AuditSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode baseline: %w", err)
	}
	return &snapshot, nil
}

func (c *Client) SaveBaseline(snapshot *models.AuditSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}

	query := `
		INSERT INTO audit_baseline (id, snapshot, taken_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, taken_at = excluded.taken_at
	`
	_, err = c.db.Exec(query, string(raw), snapshot.TakenAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}

	logger.Debug("Audit baseline saved", zap.Time("taken_at", snapshot.TakenAt))
	return nil
}

func (c *Client) InsertAuditReport(report *models.AuditReport) error {
	findingsJSON, _ := json.Marshal(report.Findings)
	snapshotJSON, _ := json.Marshal(report.Snapshot)

	query := `
		INSERT INTO audit_reports (id, status, severity, findings, snapshot, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.db.Exec(
		query,
		report.ID,
		report.Status,
		report.Severity,
		string(findingsJSON),
		string(snapshotJSON),
		report.Error,
		report.StartedAt.Unix(),
		report.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit report: %w", err)
	}

	logger.Info("Audit report recorded",
		zap.String("report_id", report.ID),
		zap.String("status", report.Status),
		zap.Int("findings", len(report.Findings)),
	)
	return nil
}

func (c *Client) GetAuditReports(limit int) ([]models.AuditReport, error) {
	query := `
		SELECT id, status, severity, findings, snapshot, error, started_at, finished_at
		FROM audit_reports
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit reports: %w", err)
	}
	defer rows.Close()

	var reports []models.AuditReport
	for rows.Next() {
		var r models.AuditReport
		var findingsJSON, snapshotJSON string
		var startedAt, finishedAt int64

		err := rows.Scan(&r.ID, &r.Status, &r.Severity, &findingsJSON, &snapshotJSON, &r.Error, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		json.Unmarshal([]byte(findingsJSON), &r.Findings)
		json.Unmarshal([]byte(snapshotJSON), &r.Snapshot)
		r.StartedAt = time.Unix(startedAt, 0)
		r.FinishedAt = time.Unix(finishedAt, 0)
		reports = append(reports, r)
	}

	return reports, nil
}

// --- Training jobs ---

func (c *Client) InsertTrainingJob(job *models.TrainingJob) error {
	query := `
		INSERT INTO training_jobs (id, status, sample_count, dataset_path, base_model, result_model, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.db.Exec(
		query,
		job.ID,
		job.Status,
		job.SampleCount,
		job.DatasetPath,
		job.BaseModel,
		job.ResultModel,
		job.Error,
		job.CreatedAt.Unix(),
		job.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert training job: %w", err)
	}

	logger.Info("Training job recorded",
		zap.String("job_id", job.ID),
		zap.String("status", job.Status),
		zap.Int("samples", job.SampleCount),
	)
	return nil
}

func (c *Client) UpdateTrainingJob(id, status, resultModel, errMsg string) error {
	query := `UPDATE training_jobs SET status = ?, result_model = ?, error = ?, updated_at = ? WHERE id = ?`

	res, err := c.db.Exec(query, status, resultModel, errMsg, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update training job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("training job %s not found", id)
	}

	return nil
}

func (c *Client) GetTrainingJob(id string) (*models.TrainingJob, error) {
	query := `
		SELECT id, status, sample_count, dataset_path, base_model, result_model, error, created_at, updated_at
		FROM training_jobs WHERE id = ?
	`

	var job models.TrainingJob
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&job.ID,
		&job.Status,
		&job.SampleCount,
		&job.DatasetPath,
		&job.BaseModel,
		&job.ResultModel,
		&job.Error,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get training job: %w", err)
	}

	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	return &job, nil
}

func (c *Client) CountActiveTrainingJobs() (int, error) {
	var count int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM training_jobs WHERE status IN (?, ?)`,
		models.JobStatusPending, models.JobStatusRunning,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

// --- Model versions and routing ---

func (c *Client) InsertModelVersion(version *models.ModelVersion) error {
	query := `
		INSERT INTO model_versions (id, model_name, status, training_job_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := c.db.Exec(query, version.ID, version.ModelName, version.Status, version.TrainingJobID, version.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert model version: %w", err)
	}

	logger.Info("Model version registered",
		zap.String("version_id", version.ID),
		zap.String("model", version.ModelName),
		zap.String("status", version.Status),
	)
	return nil
}

func (c *Client) GetModelVersion(id string) (*models.ModelVersion, error) {
	query := `SELECT id, model_name, status, training_job_id, created_at, promoted_at FROM model_versions WHERE id = ?`

	var v models.ModelVersion
	var createdAt int64
	var promotedAt sql.NullInt64

	err := c.db.QueryRow(query, id).Scan(&v.ID, &v.ModelName, &v.Status, &v.TrainingJobID, &createdAt, &promotedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model version: %w", err)
	}

	v.CreatedAt = time.Unix(createdAt, 0)
	if promotedAt.Valid {
		t := time.Unix(promotedAt.Int64, 0)
		v.PromotedAt = &t
	}
	return &v, nil
}

// NextTestingVersion returns the oldest version still waiting in testing
// status outside the candidate slot, or nil when none is waiting.
func (c *Client) NextTestingVersion() (*models.ModelVersion, error) {
	query := `
		SELECT id, model_name, status, training_job_id, created_at, promoted_at
		FROM model_versions
		WHERE status = ? AND id NOT IN (SELECT COALESCE(candidate_version, '') FROM routing)
		ORDER BY created_at ASC
		LIMIT 1
	`

	var v models.ModelVersion
	var createdAt int64
	var promotedAt sql.NullInt64

	err := c.db.QueryRow(query, models.VersionStatusTesting).Scan(&v.ID, &v.ModelName, &v.Status, &v.TrainingJobID, &createdAt, &promotedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next testing version: %w", err)
	}

	v.CreatedAt = time.Unix(createdAt, 0)
	if promotedAt.Valid {
		t := time.Unix(promotedAt.Int64, 0)
		v.PromotedAt = &t
	}
	return &v, nil
}

func (c *Client) GetRouting() (*models.Routing, error) {
	query := `SELECT production_version, candidate_version, traffic_fraction, candidate_since, updated_at FROM routing WHERE id = 1`

	var r models.Routing
	var production, candidate sql.NullString
	var candidateSince sql.NullInt64
	var updatedAt int64

	err := c.db.QueryRow(query).Scan(&production, &candidate, &r.TrafficFraction, &candidateSince, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get routing: %w", err)
	}

	r.ProductionVersion = production.String
	r.CandidateVersion = candidate.String
	if candidateSince.Valid {
		t := time.Unix(candidateSince.Int64, 0)
		r.CandidateSince = &t
	}
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

// SetCandidate points the traffic split at a new testing version. Fails if
// another candidate is already under evaluation.
func (c *Client) SetCandidate(versionID string, trafficFraction float64) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing sql.NullString
	if err := tx.QueryRow(`SELECT candidate_version FROM routing WHERE id = 1`).Scan(&existing); err != nil {
		return fmt.Errorf("failed to read routing: %w", err)
	}
	if existing.Valid && existing.String != "" {
		return fmt.Errorf("candidate %s already under evaluation", existing.String)
	}

	now := time.Now().Unix()
	_, err = tx.Exec(
		`UPDATE routing SET candidate_version = ?, traffic_fraction = ?, candidate_since = ?, updated_at = ? WHERE id = 1`,
		versionID, trafficFraction, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to set candidate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logger.Info("Candidate routed",
		zap.String("version_id", versionID),
		zap.Float64("traffic_fraction", trafficFraction),
	)
	return nil
}

// PromoteCandidate atomically makes the candidate the production version.
// The previous production version is marked superseded in the same
// transaction, so readers never observe two production versions.
func (c *Client) PromoteCandidate(versionID string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var production, candidate sql.NullString
	if err := tx.QueryRow(`SELECT production_version, candidate_version FROM routing WHERE id = 1`).Scan(&production, &candidate); err != nil {
		return fmt.Errorf("failed to read routing: %w", err)
	}
	if candidate.String != versionID {
		return fmt.Errorf("version %s is not the current candidate", versionID)
	}

	now := time.Now().Unix()

	if production.Valid && production.String != "" {
		_, err = tx.Exec(`UPDATE model_versions SET status = ? WHERE id = ?`, models.VersionStatusSuperseded, production.String)
		if err != nil {
			return fmt.Errorf("failed to supersede production version: %w", err)
		}
	}

	_, err = tx.Exec(`UPDATE model_versions SET status = ?, promoted_at = ? WHERE id = ?`, models.VersionStatusProduction, now, versionID)
	if err != nil {
		return fmt.Errorf("failed to promote version: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE routing SET production_version = ?, candidate_version = NULL, candidate_since = NULL, updated_at = ? WHERE id = 1`,
		versionID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update routing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logger.Info("Candidate promoted to production",
		zap.String("version_id", versionID),
		zap.String("superseded", production.String),
	)
	return nil
}

// RejectCandidate removes the candidate from the traffic split and marks it
// rejected. Production routing is untouched.
func (c *Client) RejectCandidate(versionID string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var candidate sql.NullString
	if err := tx.QueryRow(`SELECT candidate_version FROM routing WHERE id = 1`).Scan(&candidate); err != nil {
		return fmt.Errorf("failed to read routing: %w", err)
	}
	if candidate.String != versionID {
		return fmt.Errorf("version %s is not the current candidate", versionID)
	}

	now := time.Now().Unix()

	_, err = tx.Exec(`UPDATE model_versions SET status = ? WHERE id = ?`, models.VersionStatusRejected, versionID)
	if err != nil {
		return fmt.Errorf("failed to reject version: %w", err)
	}

	_, err = tx.Exec(`UPDATE routing SET candidate_version = NULL, candidate_since = NULL, updated_at = ? WHERE id = 1`, now)
	if err != nil {
		return fmt.Errorf("failed to update routing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logger.Info("Candidate rejected", zap.String("version_id", versionID))
	return nil
}

// --- Control state ---

func (c *Client) GetState(key string) (string, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM control_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

func (c *Client) SetState(key, value string) error {
	query := `
		INSERT INTO control_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := c.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}
