package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"docintake-api/internal/models"
	"docintake-api/pkg/postgres"
)

// DocumentRepository handles document database operations
type DocumentRepository struct {
	db *postgres.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *postgres.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateSchema creates the documents table if it doesn't exist
func (r *DocumentRepository) CreateSchema(ctx context.Context) error {
	query := `
		DO $$ BEGIN
			CREATE TYPE document_status AS ENUM ('processing', 'ready', 'failed');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;

		CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			agency_id UUID NOT NULL,
			name VARCHAR(512) NOT NULL,
			storage_path VARCHAR(1024) NOT NULL,
			status document_status NOT NULL DEFAULT 'processing',
			page_count INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_documents_agency_id ON documents(agency_id);
		CREATE INDEX IF NOT EXISTS idx_documents_agency_created ON documents(agency_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	`

	_, err := r.db.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create documents schema: %w", err)
	}

	return nil
}

const documentColumns = `id, agency_id, name, storage_path, status, page_count, created_at, updated_at`

func scanDocument(row pgx.Row) (*models.Document, error) {
	doc := &models.Document{}
	err := row.Scan(
		&doc.ID,
		&doc.AgencyID,
		&doc.Name,
		&doc.StoragePath,
		&doc.Status,
		&doc.PageCount,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Create inserts a new document
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusProcessing
	}

	query := `
		INSERT INTO documents (id, agency_id, name, storage_path, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		doc.ID,
		doc.AgencyID,
		doc.Name,
		doc.StoragePath,
		doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// GetByID retrieves a document scoped to its owning agency, returning nil
// when no row matches
func (r *DocumentRepository) GetByID(ctx context.Context, id, agencyID uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND agency_id = $2`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id, agencyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

// List retrieves an agency's documents, newest first, with a total count
// for pagination
func (r *DocumentRepository) List(ctx context.Context, agencyID uuid.UUID, limit, offset int) ([]*models.Document, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM documents WHERE agency_id = $1`
	if err := r.db.QueryRow(ctx, countQuery, agencyID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE agency_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, agencyID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, total, rows.Err()
}

// UpdateStatus sets a document's status and optionally its page count
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus, pageCount *int) error {
	query := `
		UPDATE documents
		SET status = $2, page_count = COALESCE($3, page_count), updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, status, pageCount)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	return nil
}

// Delete removes a document row. Jobs cascade; chunks are removed by the
// caller in the same flow.
func (r *DocumentRepository) Delete(ctx context.Context, id, agencyID uuid.UUID) error {
	query := `DELETE FROM documents WHERE id = $1 AND agency_id = $2`

	tag, err := r.db.Exec(ctx, query, id, agencyID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return nil
}
