package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"docintake-api/internal/models"
	"docintake-api/pkg/postgres"
)

// ChunkRepository handles chunk database operations
type ChunkRepository struct {
	db         *postgres.DB
	dimensions int
	batchSize  int
}

// NewChunkRepository creates a new chunk repository. dimensions fixes the
// width of the embedding column; batchSize caps rows per insert batch.
func NewChunkRepository(db *postgres.DB) *ChunkRepository {
	return &ChunkRepository{
		db:         db,
		dimensions: 1536,
		batchSize:  100,
	}
}

// WithDimensions overrides the embedding column width
func (r *ChunkRepository) WithDimensions(dimensions int) *ChunkRepository {
	r.dimensions = dimensions
	return r
}

// WithBatchSize overrides the insert batch size
func (r *ChunkRepository) WithBatchSize(batchSize int) *ChunkRepository {
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	return r
}

// CreateSchema creates the chunks table if it doesn't exist
func (r *ChunkRepository) CreateSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS chunks (
			id BIGSERIAL PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			agency_id UUID NOT NULL,
			content TEXT NOT NULL,
			page_number INT NOT NULL,
			chunk_index INT NOT NULL,
			bounding_box JSONB,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

			UNIQUE (document_id, chunk_index)
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_agency_id ON chunks(agency_id);
	`, r.dimensions)

	_, err := r.db.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create chunks schema: %w", err)
	}

	return nil
}

// ReplaceForDocument atomically swaps a document's chunks: existing rows are
// deleted and the new set inserted in one transaction, so readers never see
// a partial mix of old and new attempts.
func (r *ChunkRepository) ReplaceForDocument(ctx context.Context, documentID uuid.UUID, chunks []*models.Chunk) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin chunk transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	insertQuery := `
		INSERT INTO chunks (document_id, agency_id, content, page_number, chunk_index, bounding_box, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for start := 0; start < len(chunks); start += r.batchSize {
		end := start + r.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		batch := &pgx.Batch{}
		for _, chunk := range chunks[start:end] {
			var boxJSON []byte
			if chunk.BoundingBox != nil {
				boxJSON, err = json.Marshal(chunk.BoundingBox)
				if err != nil {
					return fmt.Errorf("failed to marshal bounding box: %w", err)
				}
			}

			batch.Queue(insertQuery,
				documentID,
				chunk.AgencyID,
				chunk.Content,
				chunk.PageNumber,
				chunk.ChunkIndex,
				boxJSON,
				chunk.Embedding,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to insert chunk: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to close chunk batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunk transaction: %w", err)
	}

	return nil
}

// CountByDocument returns how many chunks a document has persisted
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}

	return count, nil
}

// DeleteByDocument removes all chunks for a document
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	return nil
}
