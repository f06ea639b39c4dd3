package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"docintake-api/internal/models"
	"docintake-api/pkg/chunker"
	"docintake-api/pkg/errors"
	"docintake-api/pkg/logger"
	"docintake-api/pkg/parser"
	"docintake-api/pkg/storage"
)

// pipelineJobStore is the slice of the job repository the workers drive
type pipelineJobStore interface {
	ClaimNext(ctx context.Context) (*models.ProcessingJob, error)
	UpdateStage(ctx context.Context, id uuid.UUID, stage models.JobStage) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorType, errorMessage string) error
	RequeueTransient(ctx context.Context, id uuid.UUID) error
}

type pipelineDocumentStore interface {
	GetByID(ctx context.Context, id, agencyID uuid.UUID) (*models.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, pageCount *int) error
}

type chunkWriter interface {
	ReplaceForDocument(ctx context.Context, documentID uuid.UUID, chunks []*models.Chunk) error
}

type documentParser interface {
	Parse(ctx context.Context, filename string, data []byte) (*parser.ParseResult, error)
}

type textEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// WorkerPoolConfig holds tuning for the pipeline workers
type WorkerPoolConfig struct {
	WorkerCount  int
	PollInterval time.Duration
	MaxRetries   int
	JobTimeout   time.Duration
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() *WorkerPoolConfig {
	return &WorkerPoolConfig{
		WorkerCount:  3,
		PollInterval: 2 * time.Second,
		MaxRetries:   3,
		JobTimeout:   5 * time.Minute,
	}
}

// JobWorkerPool runs the ingestion pipeline. Each worker polls the durable
// queue, claims one job at a time, and walks it through download, parse,
// chunk, embed and persist. Claims enforce per-agency serialization at the
// database, so workers here stay coordination-free.
type JobWorkerPool struct {
	jobs      pipelineJobStore
	documents pipelineDocumentStore
	chunks    chunkWriter
	store     storage.ByteStore
	parser    documentParser
	embedder  textEmbedder
	chunker   *chunker.Chunker
	progress  *ProgressPublisher
	config    *WorkerPoolConfig

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewJobWorkerPool creates a worker pool
func NewJobWorkerPool(
	jobs pipelineJobStore,
	documents pipelineDocumentStore,
	chunks chunkWriter,
	store storage.ByteStore,
	docParser documentParser,
	embedder textEmbedder,
	ck *chunker.Chunker,
	progress *ProgressPublisher,
	config *WorkerPoolConfig,
) *JobWorkerPool {
	if config == nil {
		config = DefaultWorkerPoolConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &JobWorkerPool{
		jobs:      jobs,
		documents: documents,
		chunks:    chunks,
		store:     store,
		parser:    docParser,
		embedder:  embedder,
		chunker:   ck,
		progress:  progress,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers
func (p *JobWorkerPool) Start() {
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Get().Info().Int("workers", p.config.WorkerCount).Msg("started pipeline workers")
}

// Stop signals the workers and waits for in-flight jobs to finish
func (p *JobWorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	logger.Get().Info().Msg("pipeline worker pool stopped")
}

// worker polls for claimable jobs. After an empty poll or a claim error it
// sleeps one interval; after finishing a job it polls again immediately so
// a backlog drains at full speed.
func (p *JobWorkerPool) worker(id int) {
	defer p.wg.Done()

	log := logger.Get().With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-p.ctx.Done():
			log.Debug().Msg("worker shutting down")
			return
		default:
		}

		job, err := p.jobs.ClaimNext(p.ctx)
		if err != nil {
			if p.ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to claim job")
			}
			p.sleep()
			continue
		}
		if job == nil {
			p.sleep()
			continue
		}

		p.runJob(job, &log)
	}
}

func (p *JobWorkerPool) sleep() {
	select {
	case <-p.ctx.Done():
	case <-time.After(p.config.PollInterval):
	}
}

// runJob executes one claimed job under the total job budget and records
// the outcome. Transient failures requeue until retries run out; anything
// else fails the job with its classified user message. Blowing the total
// budget is terminal, not transient: a rerun of the same document would
// spend the budget the same way, so the job fails immediately as too
// large to process.
func (p *JobWorkerPool) runJob(job *models.ProcessingJob, log *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.JobTimeout)
	defer cancel()

	log.Info().
		Str("job_id", job.ID.String()).
		Str("document_id", job.DocumentID.String()).
		Int("retry", job.RetryCount).
		Msg("processing job")

	p.progress.publishJob(ctx, job)

	err := p.process(ctx, job)
	if err == nil {
		p.finishJob(job, log)
		return
	}

	perr := errors.Classify(err)
	if ctx.Err() == context.DeadlineExceeded && p.ctx.Err() == nil {
		perr = errors.Recoverable("job_budget_exceeded", errors.MsgTooLarge, err)
	}
	log.Warn().
		Str("job_id", job.ID.String()).
		Str("error_type", string(perr.Type)).
		Str("error_code", perr.Code).
		Err(perr.Err).
		Msg("job attempt failed")

	// outcome writes use the pool context: the job budget may already be
	// spent, but the result still has to land
	if perr.ShouldAutoRetry() && job.RetryCount < p.config.MaxRetries {
		if err := p.jobs.RequeueTransient(p.ctx, job.ID); err != nil {
			log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to requeue job")
		}
		job.Status = models.JobStatusPending
		job.Stage = models.StageQueued
		job.ProgressPercent = 0
		job.RetryCount++
		p.progress.publishJob(p.ctx, job)
		return
	}

	if err := p.jobs.MarkFailed(p.ctx, job.ID, string(perr.Type), perr.UserMessage); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark job failed")
	}
	if err := p.documents.UpdateStatus(p.ctx, job.DocumentID, models.DocumentStatusFailed, nil); err != nil {
		log.Error().Err(err).Str("document_id", job.DocumentID.String()).Msg("failed to mark document failed")
	}

	job.Status = models.JobStatusFailed
	msg := perr.UserMessage
	job.ErrorMessage = &msg
	p.progress.publishJob(p.ctx, job)
}

func (p *JobWorkerPool) finishJob(job *models.ProcessingJob, log *zerolog.Logger) {
	if err := p.jobs.MarkCompleted(p.ctx, job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark job completed")
	}

	job.Status = models.JobStatusCompleted
	job.Stage = models.StageCompleted
	job.ProgressPercent = 100
	p.progress.publishJob(p.ctx, job)

	log.Info().Str("job_id", job.ID.String()).Msg("job completed")
}

// process walks the job through the pipeline stages. The claim already put
// the job in the downloading stage.
func (p *JobWorkerPool) process(ctx context.Context, job *models.ProcessingJob) error {
	doc, err := p.documents.GetByID(ctx, job.DocumentID, job.AgencyID)
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.Permanent("document_missing", fmt.Errorf("document %s not found", job.DocumentID))
	}

	// downloading
	data, err := p.download(ctx, doc.StoragePath)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Transient("timeout", errors.MsgTimeout, err)
		}
		return errors.Recoverable("download_failed", errors.MsgCorrupted, err)
	}

	// parsing
	if err := p.advance(ctx, job, models.StageParsing); err != nil {
		return err
	}
	parsed, err := p.parser.Parse(ctx, doc.Name, data)
	if err != nil {
		return err
	}

	// chunking
	if err := p.advance(ctx, job, models.StageChunking); err != nil {
		return err
	}
	segments, err := p.chunker.Chunk(parsed.Markdown)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return errors.Recoverable("empty_document", errors.MsgCorrupted,
			fmt.Errorf("document %s produced no chunks", job.DocumentID))
	}

	// embedding
	if err := p.advance(ctx, job, models.StageEmbedding); err != nil {
		return err
	}
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Content
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}

	// persisting
	if err := p.advance(ctx, job, models.StagePersisting); err != nil {
		return err
	}
	chunks := make([]*models.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = &models.Chunk{
			DocumentID: job.DocumentID,
			AgencyID:   job.AgencyID,
			Content:    seg.Content,
			PageNumber: seg.PageNumber,
			ChunkIndex: seg.ChunkIndex,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}
	if err := p.chunks.ReplaceForDocument(ctx, job.DocumentID, chunks); err != nil {
		return err
	}

	pageCount := parsed.PageCount
	if err := p.documents.UpdateStatus(ctx, job.DocumentID, models.DocumentStatusReady, &pageCount); err != nil {
		return err
	}

	return nil
}

func (p *JobWorkerPool) advance(ctx context.Context, job *models.ProcessingJob, stage models.JobStage) error {
	if err := p.jobs.UpdateStage(ctx, job.ID, stage); err != nil {
		return err
	}
	job.Stage = stage
	job.ProgressPercent = stage.Percent()
	p.progress.publishJob(ctx, job)
	return nil
}

func (p *JobWorkerPool) download(ctx context.Context, storagePath string) ([]byte, error) {
	rc, err := p.store.Open(ctx, storagePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}
