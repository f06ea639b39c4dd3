package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	App      AppConfig
	Pipeline PipelineConfig
	Parser   ParserConfig
	Embedder EmbedderConfig
}

// ServerConfig holds server-related configurations
type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL      string
	Username string
	Password string
}

// JWTConfig holds JWT-related configurations
type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // minutes
}

// AppConfig holds application-level settings
type AppConfig struct {
	Environment string
	LogLevel    string
	StoragePath string // Base path for file storage: {StoragePath}/{agency_id}/{document_id}/filename
}

// PipelineConfig holds the processing budgets and queue tuning knobs.
// Budgets vary across deployment tiers, so they are configuration rather
// than constants. The total job budget must leave headroom over the parse
// budget for chunking, embedding and persistence (see Config.Validate).
type PipelineConfig struct {
	WorkerCount       int
	PollInterval      time.Duration
	ReapInterval      time.Duration
	StaleThreshold    time.Duration
	MaxRetries        int
	JobTimeout        time.Duration // total per-job budget
	TargetChunkTokens int
	OverlapTokens     int
	ChunkInsertBatch  int
	RateLimitQuota    int
	RateLimitWindow   time.Duration
}

// ParserConfig holds the document parsing service settings
type ParserConfig struct {
	BaseURL string
	Timeout time.Duration // per-call wall-clock budget
}

// EmbedderConfig holds the embedding service settings
type EmbedderConfig struct {
	BaseURL    string
	Timeout    time.Duration
	BatchSize  int
	Dimensions int
	MaxRetries int
}

// Load reads configuration from environment variables with sane defaults
func Load() *Config {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_READ_TIMEOUT", 15)
	viper.SetDefault("SERVER_WRITE_TIMEOUT", 15)
	viper.SetDefault("SERVER_IDLE_TIMEOUT", 60)

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "")
	viper.SetDefault("DB_NAME", "docintake")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("JWT_SECRET", "change-me-in-production")
	viper.SetDefault("JWT_ACCESS_TTL", 1440) // 1 day in minutes

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORAGE_PATH", "uploads")

	viper.SetDefault("PIPELINE_WORKER_COUNT", 3)
	viper.SetDefault("PIPELINE_POLL_INTERVAL", "2s")
	viper.SetDefault("PIPELINE_REAP_INTERVAL", "5m")
	viper.SetDefault("PIPELINE_STALE_THRESHOLD", "10m")
	viper.SetDefault("PIPELINE_MAX_RETRIES", 3)
	viper.SetDefault("PIPELINE_JOB_TIMEOUT", "300s")
	viper.SetDefault("PIPELINE_TARGET_CHUNK_TOKENS", 500)
	viper.SetDefault("PIPELINE_OVERLAP_TOKENS", 50)
	viper.SetDefault("PIPELINE_CHUNK_INSERT_BATCH", 100)
	viper.SetDefault("RATE_LIMIT_QUOTA", 20)
	viper.SetDefault("RATE_LIMIT_WINDOW", "1h")

	viper.SetDefault("PARSER_URL", "http://localhost:9100")
	viper.SetDefault("PARSER_TIMEOUT", "120s")

	viper.SetDefault("EMBEDDER_URL", "http://localhost:9200")
	viper.SetDefault("EMBEDDER_TIMEOUT", "30s")
	viper.SetDefault("EMBEDDER_BATCH_SIZE", 20)
	viper.SetDefault("EMBEDDER_DIMENSIONS", 1536)
	viper.SetDefault("EMBEDDER_MAX_RETRIES", 3)

	return &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			ReadTimeout:  viper.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout: viper.GetInt("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  viper.GetInt("SERVER_IDLE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			DBName:   viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			URL:      viper.GetString("REDIS_URL"),
			Username: viper.GetString("REDIS_USERNAME"),
			Password: viper.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			SecretKey:      viper.GetString("JWT_SECRET"),
			AccessTokenTTL: viper.GetInt("JWT_ACCESS_TTL"),
		},
		App: AppConfig{
			Environment: viper.GetString("APP_ENV"),
			LogLevel:    viper.GetString("LOG_LEVEL"),
			StoragePath: viper.GetString("STORAGE_PATH"),
		},
		Pipeline: PipelineConfig{
			WorkerCount:       viper.GetInt("PIPELINE_WORKER_COUNT"),
			PollInterval:      viper.GetDuration("PIPELINE_POLL_INTERVAL"),
			ReapInterval:      viper.GetDuration("PIPELINE_REAP_INTERVAL"),
			StaleThreshold:    viper.GetDuration("PIPELINE_STALE_THRESHOLD"),
			MaxRetries:        viper.GetInt("PIPELINE_MAX_RETRIES"),
			JobTimeout:        viper.GetDuration("PIPELINE_JOB_TIMEOUT"),
			TargetChunkTokens: viper.GetInt("PIPELINE_TARGET_CHUNK_TOKENS"),
			OverlapTokens:     viper.GetInt("PIPELINE_OVERLAP_TOKENS"),
			ChunkInsertBatch:  viper.GetInt("PIPELINE_CHUNK_INSERT_BATCH"),
			RateLimitQuota:    viper.GetInt("RATE_LIMIT_QUOTA"),
			RateLimitWindow:   viper.GetDuration("RATE_LIMIT_WINDOW"),
		},
		Parser: ParserConfig{
			BaseURL: viper.GetString("PARSER_URL"),
			Timeout: viper.GetDuration("PARSER_TIMEOUT"),
		},
		Embedder: EmbedderConfig{
			BaseURL:    viper.GetString("EMBEDDER_URL"),
			Timeout:    viper.GetDuration("EMBEDDER_TIMEOUT"),
			BatchSize:  viper.GetInt("EMBEDDER_BATCH_SIZE"),
			Dimensions: viper.GetInt("EMBEDDER_DIMENSIONS"),
			MaxRetries: viper.GetInt("EMBEDDER_MAX_RETRIES"),
		},
	}
}

// Validate checks the budget relationships the pipeline depends on
func (c *Config) Validate() error {
	if c.Pipeline.JobTimeout <= c.Parser.Timeout {
		return fmt.Errorf("PIPELINE_JOB_TIMEOUT (%s) must exceed PARSER_TIMEOUT (%s)",
			c.Pipeline.JobTimeout, c.Parser.Timeout)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("PIPELINE_MAX_RETRIES must not be negative")
	}
	if c.Pipeline.OverlapTokens >= c.Pipeline.TargetChunkTokens {
		return fmt.Errorf("PIPELINE_OVERLAP_TOKENS (%d) must be smaller than PIPELINE_TARGET_CHUNK_TOKENS (%d)",
			c.Pipeline.OverlapTokens, c.Pipeline.TargetChunkTokens)
	}
	return nil
}
