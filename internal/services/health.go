package services

import (
	"context"
	"time"

	"docintake-api/pkg/memorydb"
	"docintake-api/pkg/postgres"
)

// HealthStatus represents the status of a dependency
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// HealthService handles health check operations
type HealthService struct {
	db    *postgres.DB
	redis *memorydb.RedisClient
}

// NewHealthService creates a new health service
func NewHealthService(db *postgres.DB, redis *memorydb.RedisClient) *HealthService {
	return &HealthService{db: db, redis: redis}
}

// Check pings every dependency and reports per-dependency status
func (s *HealthService) Check(ctx context.Context) (map[string]HealthStatus, bool) {
	status := make(map[string]HealthStatus)
	healthy := true

	if err := s.db.Ping(ctx); err != nil {
		status["database"] = HealthStatus{Status: "error", Timestamp: time.Now(), Details: err.Error()}
		healthy = false
	} else {
		status["database"] = HealthStatus{Status: "ok", Timestamp: time.Now()}
	}

	if err := s.redis.Ping(ctx); err != nil {
		status["redis"] = HealthStatus{Status: "error", Timestamp: time.Now(), Details: err.Error()}
		healthy = false
	} else {
		status["redis"] = HealthStatus{Status: "ok", Timestamp: time.Now()}
	}

	return status, healthy
}
