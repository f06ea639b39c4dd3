package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// JobStatus represents the lifecycle state of a processing job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobStage is the named phase a job is currently executing
type JobStage string

const (
	StageQueued      JobStage = "queued"
	StageDownloading JobStage = "downloading"
	StageParsing     JobStage = "parsing"
	StageChunking    JobStage = "chunking"
	StageEmbedding   JobStage = "embedding"
	StagePersisting  JobStage = "persisting"
	StageCompleted   JobStage = "completed"
)

// Percent maps a stage to the progress percent reported when it begins
func (s JobStage) Percent() int {
	switch s {
	case StageQueued:
		return 0
	case StageDownloading:
		return 10
	case StageParsing:
		return 25
	case StageChunking:
		return 55
	case StageEmbedding:
		return 70
	case StagePersisting:
		return 90
	case StageCompleted:
		return 100
	default:
		return 0
	}
}

// ProcessingJob is the durable record the queue, workers and reaper
// coordinate through. For a given agency at most one row has
// status=processing at any instant.
type ProcessingJob struct {
	ID              uuid.UUID  `json:"id"`
	DocumentID      uuid.UUID  `json:"document_id"`
	AgencyID        uuid.UUID  `json:"agency_id"`
	Status          JobStatus  `json:"status"`
	Stage           JobStage   `json:"stage"`
	ProgressPercent int        `json:"progress_percent"`
	RetryCount      int        `json:"retry_count"`
	ErrorType       *string    `json:"error_type,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DocumentStatus mirrors the job's terminal state on the document itself
type DocumentStatus string

const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded file owned by one agency
type Document struct {
	ID          uuid.UUID      `json:"id"`
	AgencyID    uuid.UUID      `json:"agency_id"`
	Name        string         `json:"name"`
	StoragePath string         `json:"storage_path"`
	Status      DocumentStatus `json:"status"`
	PageCount   *int           `json:"page_count,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BoundingBox is optional layout geometry for a chunk. The parsing service
// does not always supply geometry; a nil box is a valid, expected state.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Chunk is a persisted retrieval segment. (DocumentID, ChunkIndex) is
// unique and the indexes for a document form a gapless sequence from 0.
type Chunk struct {
	ID          int64           `json:"id"`
	DocumentID  uuid.UUID       `json:"document_id"`
	AgencyID    uuid.UUID       `json:"agency_id"`
	Content     string          `json:"content"`
	PageNumber  int             `json:"page_number"`
	ChunkIndex  int             `json:"chunk_index"`
	BoundingBox *BoundingBox    `json:"bounding_box,omitempty"`
	Embedding   pgvector.Vector `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ProgressEvent is published on every job state transition. Consumers must
// tolerate duplicate or out-of-order delivery.
type ProgressEvent struct {
	JobID           uuid.UUID `json:"job_id"`
	DocumentID      uuid.UUID `json:"document_id"`
	AgencyID        uuid.UUID `json:"agency_id"`
	Status          JobStatus `json:"status"`
	Stage           JobStage  `json:"stage"`
	ProgressPercent int       `json:"progress_percent"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	At              time.Time `json:"at"`
}
