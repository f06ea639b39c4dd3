package services

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintake-api/internal/models"
)

type fakeDocumentLifecycle struct {
	docs    map[uuid.UUID]*models.Document
	deleted []uuid.UUID
}

func newFakeDocumentLifecycle(docs ...*models.Document) *fakeDocumentLifecycle {
	f := &fakeDocumentLifecycle{docs: make(map[uuid.UUID]*models.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocumentLifecycle) Create(ctx context.Context, doc *models.Document) error {
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocumentLifecycle) GetByID(ctx context.Context, id, agencyID uuid.UUID) (*models.Document, error) {
	doc, ok := f.docs[id]
	if !ok || doc.AgencyID != agencyID {
		return nil, nil
	}
	return doc, nil
}

func (f *fakeDocumentLifecycle) List(ctx context.Context, agencyID uuid.UUID, limit, offset int) ([]*models.Document, int, error) {
	var docs []*models.Document
	for _, d := range f.docs {
		if d.AgencyID == agencyID {
			docs = append(docs, d)
		}
	}
	return docs, len(docs), nil
}

func (f *fakeDocumentLifecycle) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, pageCount *int) error {
	if doc, ok := f.docs[id]; ok {
		doc.Status = status
		if pageCount != nil {
			doc.PageCount = pageCount
		}
	}
	return nil
}

func (f *fakeDocumentLifecycle) Delete(ctx context.Context, id, agencyID uuid.UUID) error {
	delete(f.docs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeJobLifecycle struct {
	jobs map[uuid.UUID]*models.ProcessingJob
}

func newFakeJobLifecycle(jobs ...*models.ProcessingJob) *fakeJobLifecycle {
	f := &fakeJobLifecycle{jobs: make(map[uuid.UUID]*models.ProcessingJob)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobLifecycle) Create(ctx context.Context, job *models.ProcessingJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.JobStatusPending
	job.Stage = models.StageQueued
	job.CreatedAt = time.Now()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobLifecycle) GetByID(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	return f.jobs[id], nil
}

func (f *fakeJobLifecycle) GetActiveByDocument(ctx context.Context, documentID uuid.UUID) (*models.ProcessingJob, error) {
	for _, j := range f.jobs {
		if j.DocumentID == documentID && (j.Status == models.JobStatusPending || j.Status == models.JobStatusProcessing) {
			return j, nil
		}
	}
	return nil, nil
}

func (f *fakeJobLifecycle) GetLatestByDocument(ctx context.Context, documentID uuid.UUID) (*models.ProcessingJob, error) {
	var latest *models.ProcessingJob
	for _, j := range f.jobs {
		if j.DocumentID == documentID && (latest == nil || j.CreatedAt.After(latest.CreatedAt)) {
			latest = j
		}
	}
	return latest, nil
}

func (f *fakeJobLifecycle) ListByAgency(ctx context.Context, agencyID uuid.UUID, limit, offset int) ([]*models.ProcessingJob, error) {
	var jobs []*models.ProcessingJob
	for _, j := range f.jobs {
		if j.AgencyID == agencyID {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (f *fakeJobLifecycle) ResetForRetry(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	job, ok := f.jobs[id]
	if !ok || job.Status != models.JobStatusFailed {
		return nil, nil
	}
	job.Status = models.JobStatusPending
	job.Stage = models.StageQueued
	job.ProgressPercent = 0
	job.ErrorType = nil
	job.ErrorMessage = nil
	job.CreatedAt = time.Now()
	return job, nil
}

type fakeChunkStore struct {
	deleted []uuid.UUID
}

func (f *fakeChunkStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fakeLimiter struct {
	decision RateLimitDecision
}

func (f *fakeLimiter) Check(ctx context.Context, agencyID uuid.UUID) (*RateLimitDecision, error) {
	return &f.decision, nil
}

func newDocumentService(docs *fakeDocumentLifecycle, jobs *fakeJobLifecycle, chunks *fakeChunkStore, limiter *fakeLimiter) (*DocumentService, *fakeByteStore) {
	store := &fakeByteStore{files: make(map[string][]byte)}
	svc := NewDocumentService(docs, jobs, chunks, store, limiter, NewProgressPublisher(nil))
	return svc, store
}

func TestSubmitCreatesDocumentAndJob(t *testing.T) {
	docs := newFakeDocumentLifecycle()
	jobs := newFakeJobLifecycle()
	svc, store := newDocumentService(docs, jobs, &fakeChunkStore{}, &fakeLimiter{decision: RateLimitDecision{Allowed: true}})

	agencyID := uuid.New()
	doc, job, err := svc.Submit(context.Background(), agencyID, "policy.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)

	assert.Equal(t, models.DocumentStatusProcessing, doc.Status)
	assert.Equal(t, agencyID, doc.AgencyID)
	assert.Equal(t, doc.ID, job.DocumentID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.StageQueued, job.Stage)

	assert.Contains(t, store.files, doc.StoragePath)
	assert.Equal(t, "%PDF-1.7", string(store.files[doc.StoragePath]))
}

func TestSubmitDeniedLeavesNoTrace(t *testing.T) {
	docs := newFakeDocumentLifecycle()
	jobs := newFakeJobLifecycle()
	svc, store := newDocumentService(docs, jobs, &fakeChunkStore{},
		&fakeLimiter{decision: RateLimitDecision{Allowed: false, RetryAfter: 7 * time.Minute}})

	_, _, err := svc.Submit(context.Background(), uuid.New(), "policy.pdf", strings.NewReader("x"))

	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 7*time.Minute, rle.RetryAfter)

	assert.Empty(t, docs.docs)
	assert.Empty(t, jobs.jobs)
	assert.Empty(t, store.files)
}

func TestRetryReopensFailedJob(t *testing.T) {
	agencyID := uuid.New()
	doc := &models.Document{ID: uuid.New(), AgencyID: agencyID, Status: models.DocumentStatusFailed}
	errType := "recoverable"
	failed := &models.ProcessingJob{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		AgencyID:   agencyID,
		Status:     models.JobStatusFailed,
		ErrorType:  &errType,
		RetryCount: 2,
	}

	docs := newFakeDocumentLifecycle(doc)
	jobs := newFakeJobLifecycle(failed)
	svc, _ := newDocumentService(docs, jobs, &fakeChunkStore{}, &fakeLimiter{decision: RateLimitDecision{Allowed: true}})

	job, err := svc.Retry(context.Background(), agencyID, doc.ID)
	require.NoError(t, err)

	assert.Equal(t, failed.ID, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	assert.Nil(t, job.ErrorType)
	assert.Equal(t, models.DocumentStatusProcessing, doc.Status)
}

func TestRetryWithoutFailedJobConflicts(t *testing.T) {
	agencyID := uuid.New()
	doc := &models.Document{ID: uuid.New(), AgencyID: agencyID, Status: models.DocumentStatusReady}
	completed := &models.ProcessingJob{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		AgencyID:   agencyID,
		Status:     models.JobStatusCompleted,
	}

	svc, _ := newDocumentService(newFakeDocumentLifecycle(doc), newFakeJobLifecycle(completed),
		&fakeChunkStore{}, &fakeLimiter{decision: RateLimitDecision{Allowed: true}})

	_, err := svc.Retry(context.Background(), agencyID, doc.ID)

	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestRetryCountsAgainstQuota(t *testing.T) {
	agencyID := uuid.New()
	doc := &models.Document{ID: uuid.New(), AgencyID: agencyID, Status: models.DocumentStatusFailed}
	failed := &models.ProcessingJob{ID: uuid.New(), DocumentID: doc.ID, AgencyID: agencyID, Status: models.JobStatusFailed}

	svc, _ := newDocumentService(newFakeDocumentLifecycle(doc), newFakeJobLifecycle(failed),
		&fakeChunkStore{}, &fakeLimiter{decision: RateLimitDecision{Allowed: false, RetryAfter: time.Minute}})

	_, err := svc.Retry(context.Background(), agencyID, doc.ID)

	var rle *RateLimitedError
	assert.ErrorAs(t, err, &rle)
}

func TestDeleteRemovesEverything(t *testing.T) {
	agencyID := uuid.New()
	doc := &models.Document{ID: uuid.New(), AgencyID: agencyID, StoragePath: "a/b/policy.pdf", Status: models.DocumentStatusReady}

	docs := newFakeDocumentLifecycle(doc)
	chunks := &fakeChunkStore{}
	svc, store := newDocumentService(docs, newFakeJobLifecycle(), chunks, &fakeLimiter{decision: RateLimitDecision{Allowed: true}})
	store.files["a/b/policy.pdf"] = []byte("x")

	require.NoError(t, svc.Delete(context.Background(), agencyID, doc.ID))

	assert.Contains(t, chunks.deleted, doc.ID)
	assert.Contains(t, docs.deleted, doc.ID)
	assert.Empty(t, store.files)
}

func TestDeleteRejectsActiveDocument(t *testing.T) {
	agencyID := uuid.New()
	doc := &models.Document{ID: uuid.New(), AgencyID: agencyID, Status: models.DocumentStatusProcessing}
	active := &models.ProcessingJob{ID: uuid.New(), DocumentID: doc.ID, AgencyID: agencyID, Status: models.JobStatusProcessing}

	svc, _ := newDocumentService(newFakeDocumentLifecycle(doc), newFakeJobLifecycle(active),
		&fakeChunkStore{}, &fakeLimiter{decision: RateLimitDecision{Allowed: true}})

	err := svc.Delete(context.Background(), agencyID, doc.ID)

	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestGetJobScopedToAgency(t *testing.T) {
	job := &models.ProcessingJob{ID: uuid.New(), DocumentID: uuid.New(), AgencyID: uuid.New()}

	svc, _ := newDocumentService(newFakeDocumentLifecycle(), newFakeJobLifecycle(job),
		&fakeChunkStore{}, &fakeLimiter{decision: RateLimitDecision{Allowed: true}})

	got, err := svc.GetJob(context.Background(), job.AgencyID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = svc.GetJob(context.Background(), uuid.New(), job.ID)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDownloadStreamsStoredBytes(t *testing.T) {
	agencyID := uuid.New()
	doc := &models.Document{ID: uuid.New(), AgencyID: agencyID, Name: "policy.pdf", StoragePath: "a/policy.pdf", Status: models.DocumentStatusReady}

	svc, store := newDocumentService(newFakeDocumentLifecycle(doc), newFakeJobLifecycle(),
		&fakeChunkStore{}, &fakeLimiter{decision: RateLimitDecision{Allowed: true}})
	store.files["a/policy.pdf"] = []byte("%PDF-1.7")

	got, rc, err := svc.Download(context.Background(), agencyID, doc.ID)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
	assert.Equal(t, "policy.pdf", got.Name)
}
