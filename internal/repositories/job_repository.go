package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"docintake-api/internal/models"
	"docintake-api/pkg/postgres"
)

// JobRepository handles processing job database operations
type JobRepository struct {
	db *postgres.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *postgres.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateSchema creates the processing_jobs table if it doesn't exist
func (r *JobRepository) CreateSchema(ctx context.Context) error {
	query := `
		DO $$ BEGIN
			CREATE TYPE job_status AS ENUM ('pending', 'processing', 'completed', 'failed');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;

		CREATE TABLE IF NOT EXISTS processing_jobs (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			agency_id UUID NOT NULL,

			status job_status NOT NULL DEFAULT 'pending',
			stage VARCHAR(32) NOT NULL DEFAULT 'queued',
			progress_percent INT NOT NULL DEFAULT 0,
			retry_count INT NOT NULL DEFAULT 0,

			error_type VARCHAR(32),
			error_message TEXT,

			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_agency_status ON processing_jobs(agency_id, status);
		CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON processing_jobs(status, created_at ASC);
		CREATE INDEX IF NOT EXISTS idx_jobs_document_id ON processing_jobs(document_id);
		CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON processing_jobs(started_at) WHERE status = 'processing';

		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active_per_agency
			ON processing_jobs(agency_id) WHERE status = 'processing';
	`

	_, err := r.db.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create processing_jobs schema: %w", err)
	}

	return nil
}

const jobColumns = `id, document_id, agency_id, status, stage, progress_percent, retry_count,
	error_type, error_message, created_at, started_at, completed_at, updated_at`

func scanJob(row pgx.Row) (*models.ProcessingJob, error) {
	job := &models.ProcessingJob{}
	err := row.Scan(
		&job.ID,
		&job.DocumentID,
		&job.AgencyID,
		&job.Status,
		&job.Stage,
		&job.ProgressPercent,
		&job.RetryCount,
		&job.ErrorType,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Create inserts a new pending job
func (r *JobRepository) Create(ctx context.Context, job *models.ProcessingJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.Stage == "" {
		job.Stage = models.StageQueued
	}

	query := `
		INSERT INTO processing_jobs (id, document_id, agency_id, status, stage, progress_percent, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		job.ID,
		job.DocumentID,
		job.AgencyID,
		job.Status,
		job.Stage,
		job.ProgressPercent,
		job.RetryCount,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its ID
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// GetActiveByDocument returns the most recent non-terminal job for a
// document, or nil if the document has no pending or processing job.
func (r *JobRepository) GetActiveByDocument(ctx context.Context, documentID uuid.UUID) (*models.ProcessingJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE document_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1
	`

	job, err := scanJob(r.db.QueryRow(ctx, query, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active job for document: %w", err)
	}

	return job, nil
}

// GetLatestByDocument returns the most recent job for a document regardless
// of status, or nil if none exists.
func (r *JobRepository) GetLatestByDocument(ctx context.Context, documentID uuid.UUID) (*models.ProcessingJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	job, err := scanJob(r.db.QueryRow(ctx, query, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest job for document: %w", err)
	}

	return job, nil
}

// ListByAgency retrieves jobs for an agency, newest first
func (r *JobRepository) ListByAgency(ctx context.Context, agencyID uuid.UUID, limit, offset int) ([]*models.ProcessingJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE agency_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, agencyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.ProcessingJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// ClaimNext atomically claims the oldest pending job belonging to an agency
// that has no job currently processing. Concurrent workers skip rows locked
// by each other, so a job is handed to exactly one worker. The NOT EXISTS
// check reads each statement's own snapshot, so two workers racing on two
// pending jobs for the same agency can both pass it before either claim
// commits; the partial unique index on (agency_id) WHERE processing is the
// real guarantee, turning the losing claim into a unique violation that we
// report as nothing claimable. Returns nil when nothing is claimable.
func (r *JobRepository) ClaimNext(ctx context.Context) (*models.ProcessingJob, error) {
	query := `
		UPDATE processing_jobs
		SET status = 'processing',
		    stage = 'downloading',
		    progress_percent = 10,
		    started_at = NOW(),
		    completed_at = NULL,
		    error_type = NULL,
		    error_message = NULL,
		    updated_at = NOW()
		WHERE id = (
			SELECT j.id
			FROM processing_jobs j
			WHERE j.status = 'pending'
			  AND NOT EXISTS (
				SELECT 1 FROM processing_jobs a
				WHERE a.agency_id = j.agency_id AND a.status = 'processing'
			  )
			ORDER BY j.created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// lost the per-agency slot to a concurrent claim
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// UpdateStage advances a processing job to a new stage and progress percent
func (r *JobRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage models.JobStage) error {
	query := `
		UPDATE processing_jobs
		SET stage = $2, progress_percent = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	tag, err := r.db.Exec(ctx, query, id, stage, stage.Percent())
	if err != nil {
		return fmt.Errorf("failed to update job stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not processing", id)
	}

	return nil
}

// MarkCompleted transitions a job to its successful terminal state
func (r *JobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE processing_jobs
		SET status = 'completed', stage = 'completed', progress_percent = 100,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	return nil
}

// MarkFailed records a terminal failure with its classified type and the
// message shown to the user
func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorType, errorMessage string) error {
	query := `
		UPDATE processing_jobs
		SET status = 'failed', error_type = $2, error_message = $3,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, errorType, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return nil
}

// RequeueTransient returns a processing job to the queue after a transient
// failure, incrementing its retry counter. The retry keeps its original
// created_at so it does not lose its place behind older work.
func (r *JobRepository) RequeueTransient(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE processing_jobs
		SET status = 'pending', stage = 'queued', progress_percent = 0,
		    retry_count = retry_count + 1,
		    started_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	return nil
}

// ResetForRetry reopens a failed job for a user-initiated retry, mutating
// the existing row back to pending so the document keeps a single job
// history entry per attempt chain. The retry counter carries over from the
// failed run; only the error fields and queue position are fresh.
func (r *JobRepository) ResetForRetry(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	query := `
		UPDATE processing_jobs
		SET status = 'pending', stage = 'queued', progress_percent = 0,
		    error_type = NULL, error_message = NULL,
		    started_at = NULL, completed_at = NULL,
		    created_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to reset job for retry: %w", err)
	}

	return job, nil
}

// SweepStale requeues or fails processing jobs whose started_at is older
// than the threshold. Jobs with retries left go back to pending; exhausted
// jobs fail with a transient error type. Returns the affected jobs.
func (r *JobRepository) SweepStale(ctx context.Context, threshold time.Duration, maxRetries int, failMessage string) ([]*models.ProcessingJob, error) {
	query := `
		UPDATE processing_jobs
		SET status = CASE WHEN retry_count < $2 THEN 'pending'::job_status ELSE 'failed'::job_status END,
		    stage = CASE WHEN retry_count < $2 THEN 'queued' ELSE stage END,
		    progress_percent = CASE WHEN retry_count < $2 THEN 0 ELSE progress_percent END,
		    retry_count = retry_count + 1,
		    error_type = CASE WHEN retry_count < $2 THEN NULL ELSE 'transient' END,
		    error_message = CASE WHEN retry_count < $2 THEN NULL ELSE $3 END,
		    started_at = NULL,
		    completed_at = CASE WHEN retry_count < $2 THEN NULL ELSE NOW() END,
		    updated_at = NOW()
		WHERE status = 'processing' AND started_at < NOW() - make_interval(secs => $1)
		RETURNING ` + jobColumns

	rows, err := r.db.Query(ctx, query, threshold.Seconds(), maxRetries, failMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.ProcessingJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swept job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// CountCreatedSince counts jobs an agency created inside the window
func (r *JobRepository) CountCreatedSince(ctx context.Context, agencyID uuid.UUID, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM processing_jobs WHERE agency_id = $1 AND created_at >= $2`

	var count int
	err := r.db.QueryRow(ctx, query, agencyID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return count, nil
}

// OldestCreatedSince returns the created_at of the oldest job inside the
// window, or nil when the agency created none.
func (r *JobRepository) OldestCreatedSince(ctx context.Context, agencyID uuid.UUID, since time.Time) (*time.Time, error) {
	query := `
		SELECT created_at FROM processing_jobs
		WHERE agency_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
		LIMIT 1
	`

	var oldest time.Time
	err := r.db.QueryRow(ctx, query, agencyID, since).Scan(&oldest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get oldest job: %w", err)
	}

	return &oldest, nil
}
