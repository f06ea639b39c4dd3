package services

import (
	"docintake-api/config"
	"docintake-api/internal/repositories"
	"docintake-api/pkg/chunker"
	"docintake-api/pkg/embedder"
	"docintake-api/pkg/memorydb"
	"docintake-api/pkg/parser"
	"docintake-api/pkg/postgres"
	"docintake-api/pkg/storage"
	"time"
)

// Services holds all service instances
type Services struct {
	Health    *HealthService
	Document  *DocumentService
	RateLimit *RateLimitService
	Progress  *ProgressPublisher
	Workers   *JobWorkerPool
	Reaper    *Reaper
}

// NewServices wires the repositories, clients and pipeline together
func NewServices(
	cfg *config.Config,
	db *postgres.DB,
	redis *memorydb.RedisClient,
	repos *repositories.Repositories,
	store storage.ByteStore,
	parserClient *parser.Client,
	embedderClient *embedder.Client,
	ck *chunker.Chunker,
) *Services {
	progress := NewProgressPublisher(redis)
	limiter := NewRateLimitService(repos.Job, cfg.Pipeline.RateLimitQuota, cfg.Pipeline.RateLimitWindow)

	workers := NewJobWorkerPool(
		repos.Job,
		repos.Document,
		repos.Chunk,
		store,
		parserClient,
		embedderClient,
		ck,
		progress,
		&WorkerPoolConfig{
			WorkerCount:  cfg.Pipeline.WorkerCount,
			PollInterval: cfg.Pipeline.PollInterval,
			MaxRetries:   cfg.Pipeline.MaxRetries,
			JobTimeout:   cfg.Pipeline.JobTimeout,
		},
	)

	reaper := NewReaper(repos.Job, repos.Document, progress, &ReaperConfig{
		Interval:       cfg.Pipeline.ReapInterval,
		StaleThreshold: cfg.Pipeline.StaleThreshold,
		MaxRetries:     cfg.Pipeline.MaxRetries,
	})

	return &Services{
		Health:    NewHealthService(db, redis),
		Document:  NewDocumentService(repos.Document, repos.Job, repos.Chunk, store, limiter, progress),
		RateLimit: limiter,
		Progress:  progress,
		Workers:   workers,
		Reaper:    reaper,
	}
}

// Start launches the background pipeline components
func (s *Services) Start() {
	s.Workers.Start()
	s.Reaper.Start()
}

// Stop shuts the background components down, waiting for in-flight work
func (s *Services) Stop(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.Workers.Stop()
		s.Reaper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}
