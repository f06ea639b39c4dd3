package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docintake-api/config"
	"docintake-api/internal/auth"
	"docintake-api/internal/handlers"
	"docintake-api/internal/middleware"
	"docintake-api/internal/repositories"
	"docintake-api/internal/services"
	"docintake-api/pkg/chunker"
	"docintake-api/pkg/embedder"
	"docintake-api/pkg/logger"
	"docintake-api/pkg/memorydb"
	"docintake-api/pkg/parser"
	"docintake-api/pkg/postgres"
	"docintake-api/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	for _, path := range []string{"../../.env", ".env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.Get()

	ctx := context.Background()

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	redisClient, err := memorydb.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	repos := repositories.NewRepositories(db)
	repos.Chunk.WithDimensions(cfg.Embedder.Dimensions).WithBatchSize(cfg.Pipeline.ChunkInsertBatch)
	if err := repos.CreateSchemas(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create database schema")
	}

	store := storage.NewLocalStore(cfg.App.StoragePath)

	tokenizer, err := chunker.NewTokenizer()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load tokenizer")
	}
	ck := chunker.New(tokenizer, chunker.Options{
		TargetTokens:  cfg.Pipeline.TargetChunkTokens,
		OverlapTokens: cfg.Pipeline.OverlapTokens,
	})

	parserClient := parser.NewClient(cfg.Parser.BaseURL, cfg.Parser.Timeout)
	embedderClient := embedder.NewClient(
		cfg.Embedder.BaseURL,
		cfg.Embedder.Timeout,
		cfg.Embedder.BatchSize,
		cfg.Embedder.Dimensions,
		cfg.Embedder.MaxRetries,
	)

	svcs := services.NewServices(cfg, db, redisClient, repos, store, parserClient, embedderClient, ck)
	svcs.Start()

	tokenService := auth.NewTokenService(cfg)
	authMW := middleware.NewAuthMiddleware(tokenService)
	h := handlers.NewHandlers(svcs)

	router := setupRouter(cfg, h, authMW)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// let in-flight jobs finish before the process exits
	svcs.Stop(30 * time.Second)

	log.Info().Msg("server exited")
}

func setupRouter(cfg *config.Config, h *handlers.Handlers, authMW *middleware.AuthMiddleware) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.ErrorMiddleware())

	router.GET("/health", h.Health.Health())

	v1 := router.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(authMW.RequireAuth())
	{
		documents := protected.Group("/documents")
		{
			documents.POST("", h.Document.UploadDocument())
			documents.GET("", h.Document.ListDocuments())
			documents.GET("/:id", h.Document.GetDocument())
			documents.GET("/:id/download", h.Document.DownloadDocument())
			documents.DELETE("/:id", h.Document.DeleteDocument())
			documents.POST("/:id/retry", h.Document.RetryDocument())
		}

		jobs := protected.Group("/jobs")
		{
			jobs.GET("", h.Job.ListJobs())
			jobs.GET("/:id", h.Job.GetJob())
			jobs.GET("/:id/progress", h.Progress.GetProgress())
			jobs.GET("/:id/stream", h.Progress.StreamProgress())
		}
	}

	return router
}
