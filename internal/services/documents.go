package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"

	"docintake-api/internal/models"
	"docintake-api/pkg/storage"
)

// documentStore is the slice of the document repository the service uses
type documentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id, agencyID uuid.UUID) (*models.Document, error)
	List(ctx context.Context, agencyID uuid.UUID, limit, offset int) ([]*models.Document, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, pageCount *int) error
	Delete(ctx context.Context, id, agencyID uuid.UUID) error
}

type jobStore interface {
	Create(ctx context.Context, job *models.ProcessingJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
	GetActiveByDocument(ctx context.Context, documentID uuid.UUID) (*models.ProcessingJob, error)
	GetLatestByDocument(ctx context.Context, documentID uuid.UUID) (*models.ProcessingJob, error)
	ListByAgency(ctx context.Context, agencyID uuid.UUID, limit, offset int) ([]*models.ProcessingJob, error)
	ResetForRetry(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
}

type chunkStore interface {
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}

type admissionChecker interface {
	Check(ctx context.Context, agencyID uuid.UUID) (*RateLimitDecision, error)
}

// RateLimitedError reports a denied submission and when to try again
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("submission quota exhausted, retry in %s", e.RetryAfter.Round(time.Second))
}

// NotFoundError marks lookups that matched nothing in the agency's scope
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// ConflictError marks operations rejected by the resource's current state
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// DocumentService handles document intake and lifecycle operations
type DocumentService struct {
	documents documentStore
	jobs      jobStore
	chunks    chunkStore
	store     storage.ByteStore
	limiter   admissionChecker
	progress  *ProgressPublisher
}

// NewDocumentService creates a new document service
func NewDocumentService(
	documents documentStore,
	jobs jobStore,
	chunks chunkStore,
	store storage.ByteStore,
	limiter admissionChecker,
	progress *ProgressPublisher,
) *DocumentService {
	return &DocumentService{
		documents: documents,
		jobs:      jobs,
		chunks:    chunks,
		store:     store,
		limiter:   limiter,
		progress:  progress,
	}
}

// Submit accepts an upload, persists the raw bytes and enqueues a
// processing job. The rate limit is checked before anything durable is
// written, so denied submissions leave no trace.
func (s *DocumentService) Submit(ctx context.Context, agencyID uuid.UUID, filename string, r io.Reader) (*models.Document, *models.ProcessingJob, error) {
	decision, err := s.limiter.Check(ctx, agencyID)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Allowed {
		return nil, nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	doc := &models.Document{
		ID:       uuid.New(),
		AgencyID: agencyID,
		Name:     filename,
		Status:   models.DocumentStatusProcessing,
	}
	doc.StoragePath = path.Join(agencyID.String(), doc.ID.String(), filename)

	if err := s.store.Save(ctx, doc.StoragePath, r); err != nil {
		return nil, nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, nil, err
	}

	job := &models.ProcessingJob{
		DocumentID: doc.ID,
		AgencyID:   agencyID,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, nil, err
	}

	s.progress.publishJob(ctx, job)

	return doc, job, nil
}

// Retry reopens a failed document's job. The existing job row goes back to
// pending with a fresh queue position; a document that never failed is a
// conflict. Retries count against the submission quota like new uploads.
func (s *DocumentService) Retry(ctx context.Context, agencyID, documentID uuid.UUID) (*models.ProcessingJob, error) {
	doc, err := s.documents.GetByID(ctx, documentID, agencyID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &NotFoundError{Resource: "document"}
	}

	latest, err := s.jobs.GetLatestByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.Status != models.JobStatusFailed {
		return nil, &ConflictError{Reason: "document has no failed job to retry"}
	}

	decision, err := s.limiter.Check(ctx, agencyID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	job, err := s.jobs.ResetForRetry(ctx, latest.ID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// the job left the failed state between our read and the reset
		return nil, &ConflictError{Reason: "document has no failed job to retry"}
	}

	if err := s.documents.UpdateStatus(ctx, documentID, models.DocumentStatusProcessing, nil); err != nil {
		return nil, err
	}

	s.progress.publishJob(ctx, job)

	return job, nil
}

// Get returns a document with its most recent job
func (s *DocumentService) Get(ctx context.Context, agencyID, documentID uuid.UUID) (*models.Document, *models.ProcessingJob, error) {
	doc, err := s.documents.GetByID(ctx, documentID, agencyID)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, &NotFoundError{Resource: "document"}
	}

	job, err := s.jobs.GetLatestByDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}

	return doc, job, nil
}

// List returns an agency's documents with a total for pagination
func (s *DocumentService) List(ctx context.Context, agencyID uuid.UUID, limit, offset int) ([]*models.Document, int, error) {
	return s.documents.List(ctx, agencyID, limit, offset)
}

// Download opens the stored original for streaming
func (s *DocumentService) Download(ctx context.Context, agencyID, documentID uuid.UUID) (*models.Document, io.ReadCloser, error) {
	doc, err := s.documents.GetByID(ctx, documentID, agencyID)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, &NotFoundError{Resource: "document"}
	}

	rc, err := s.store.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stored document: %w", err)
	}

	return doc, rc, nil
}

// Delete removes a document, its chunks, its jobs and the stored bytes.
// A document whose job is still pending or processing cannot be deleted.
func (s *DocumentService) Delete(ctx context.Context, agencyID, documentID uuid.UUID) error {
	doc, err := s.documents.GetByID(ctx, documentID, agencyID)
	if err != nil {
		return err
	}
	if doc == nil {
		return &NotFoundError{Resource: "document"}
	}

	active, err := s.jobs.GetActiveByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if active != nil {
		return &ConflictError{Reason: "document is being processed"}
	}

	if err := s.chunks.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}

	// jobs cascade with the document row
	if err := s.documents.Delete(ctx, documentID, agencyID); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, doc.StoragePath); err != nil {
		return fmt.Errorf("failed to delete stored document: %w", err)
	}

	return nil
}

// GetJob returns a job scoped to the caller's agency
func (s *DocumentService) GetJob(ctx context.Context, agencyID, jobID uuid.UUID) (*models.ProcessingJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.AgencyID != agencyID {
		return nil, &NotFoundError{Resource: "job"}
	}

	return job, nil
}

// ListJobs returns an agency's jobs, newest first
func (s *DocumentService) ListJobs(ctx context.Context, agencyID uuid.UUID, limit, offset int) ([]*models.ProcessingJob, error) {
	return s.jobs.ListByAgency(ctx, agencyID, limit, offset)
}
