package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// JobStore persists collect jobs in the collect_jobs table. Parameters
// and counters live in JSONB columns so job shapes can evolve without
// migrations.
type JobStore struct {
	conn Conn
}

// NewJobStore constructs a JobStore over an existing connection.
func NewJobStore(conn Conn) (*JobStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	return &JobStore{conn: conn}, nil
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job offer.CollectJob) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal job parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal job counters: %w", err)
	}
	query := `
INSERT INTO collect_jobs (id, status, submitted_at, error_text, parameters, counters)
VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := s.conn.Exec(ctx, query,
		job.ID, string(job.Status), job.Submitted, job.ErrorText, params, counters,
	); err != nil {
		return fmt.Errorf("insert collect job: %w", err)
	}
	return nil
}

// UpdateJobStatus updates status, counters and lifecycle timestamps.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status offer.JobStatus,
	errText string,
	counters offer.JobCounters,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal job counters: %w", err)
	}
	query := `
UPDATE collect_jobs SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('succeeded','failed','canceled') THEN NOW() ELSE finished_at END
WHERE id = $1`
	tag, err := s.conn.Exec(ctx, query, jobID, string(status), errText, countersJSON)
	if err != nil {
		return fmt.Errorf("update collect job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrNotFound
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (offer.CollectJob, error) {
	row := s.conn.QueryRow(ctx, `
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, counters
FROM collect_jobs WHERE id = $1`, jobID)

	var (
		job          offer.CollectJob
		status       string
		paramsJSON   []byte
		countersJSON []byte
	)
	err := row.Scan(&job.ID, &status, &job.Submitted, &job.Started, &job.Finished, &job.ErrorText, &paramsJSON, &countersJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return offer.CollectJob{}, offer.ErrNotFound
	}
	if err != nil {
		return offer.CollectJob{}, fmt.Errorf("scan collect job: %w", err)
	}
	job.Status = offer.JobStatus(status)
	if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
		return offer.CollectJob{}, fmt.Errorf("unmarshal job parameters: %w", err)
	}
	if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
		return offer.CollectJob{}, fmt.Errorf("unmarshal job counters: %w", err)
	}
	return job, nil
}
