package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"docintake-api/internal/models"
	"docintake-api/pkg/errors"
	"docintake-api/pkg/logger"
)

// reaperJobStore is the slice of the job repository the reaper sweeps
type reaperJobStore interface {
	SweepStale(ctx context.Context, threshold time.Duration, maxRetries int, failMessage string) ([]*models.ProcessingJob, error)
}

type reaperDocumentStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, pageCount *int) error
}

// ReaperConfig holds tuning for the stale job reaper
type ReaperConfig struct {
	Interval       time.Duration
	StaleThreshold time.Duration
	MaxRetries     int
}

// Reaper recovers jobs orphaned by crashed or partitioned workers. A job
// stuck in processing past the stale threshold goes back to the queue, or
// fails once its retries are spent. The sweep is a single UPDATE, so any
// number of instances can run reapers without double-requeueing.
type Reaper struct {
	jobs      reaperJobStore
	documents reaperDocumentStore
	progress  *ProgressPublisher
	config    *ReaperConfig

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a stale job reaper
func NewReaper(jobs reaperJobStore, documents reaperDocumentStore, progress *ProgressPublisher, config *ReaperConfig) *Reaper {
	ctx, cancel := context.WithCancel(context.Background())

	return &Reaper{
		jobs:      jobs,
		documents: documents,
		progress:  progress,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start launches the periodic sweep loop
func (r *Reaper) Start() {
	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(r.ctx)
			}
		}
	}()
	logger.Get().Info().
		Dur("interval", r.config.Interval).
		Dur("threshold", r.config.StaleThreshold).
		Msg("started stale job reaper")
}

// Stop shuts the reaper down and waits for an in-flight sweep
func (r *Reaper) Stop() {
	r.cancel()
	<-r.done
}

// Sweep runs one pass and returns how many jobs it touched
func (r *Reaper) Sweep(ctx context.Context) int {
	swept, err := r.jobs.SweepStale(ctx, r.config.StaleThreshold, r.config.MaxRetries, errors.MsgTimeout)
	if err != nil {
		logger.Get().Error().Err(err).Msg("stale job sweep failed")
		return 0
	}

	for _, job := range swept {
		if job.Status == models.JobStatusFailed {
			logger.Get().Warn().
				Str("job_id", job.ID.String()).
				Int("retries", job.RetryCount).
				Msg("stale job failed after exhausting retries")
			if err := r.documents.UpdateStatus(ctx, job.DocumentID, models.DocumentStatusFailed, nil); err != nil {
				logger.Get().Error().Err(err).Str("document_id", job.DocumentID.String()).Msg("failed to mark document failed")
			}
		} else {
			logger.Get().Info().
				Str("job_id", job.ID.String()).
				Int("retries", job.RetryCount).
				Msg("requeued stale job")
		}
		r.progress.publishJob(ctx, job)
	}

	return len(swept)
}
