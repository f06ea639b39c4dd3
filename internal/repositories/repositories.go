package repositories

import (
	"context"
	"fmt"

	"docintake-api/pkg/postgres"
)

// Repositories holds all repository instances
type Repositories struct {
	Job      *JobRepository
	Document *DocumentRepository
	Chunk    *ChunkRepository
}

// NewRepositories creates and returns all repository instances
func NewRepositories(db *postgres.DB) *Repositories {
	return &Repositories{
		Job:      NewJobRepository(db),
		Document: NewDocumentRepository(db),
		Chunk:    NewChunkRepository(db),
	}
}

// CreateSchemas creates all tables in dependency order
func (r *Repositories) CreateSchemas(ctx context.Context) error {
	if err := r.Document.CreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to create document schema: %w", err)
	}
	if err := r.Job.CreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to create job schema: %w", err)
	}
	if err := r.Chunk.CreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to create chunk schema: %w", err)
	}
	return nil
}
