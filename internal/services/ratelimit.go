package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// jobCounter is the slice of the job repository the limiter reads
type jobCounter interface {
	CountCreatedSince(ctx context.Context, agencyID uuid.UUID, since time.Time) (int, error)
	OldestCreatedSince(ctx context.Context, agencyID uuid.UUID, since time.Time) (*time.Time, error)
}

// RateLimitDecision is the outcome of an admission check
type RateLimitDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitService enforces a sliding-window cap on job submissions per
// agency. It counts durable job rows rather than keeping its own state, so
// a process restart cannot reset anyone's window. The check itself writes
// nothing: admission is recorded by the job insert that follows it.
type RateLimitService struct {
	jobs   jobCounter
	quota  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimitService creates a rate limiter over the given job store
func NewRateLimitService(jobs jobCounter, quota int, window time.Duration) *RateLimitService {
	return &RateLimitService{
		jobs:   jobs,
		quota:  quota,
		window: window,
		now:    time.Now,
	}
}

// Check reports whether the agency may submit another job right now. When
// denied, RetryAfter is the time until the oldest in-window submission
// slides out of the window.
func (s *RateLimitService) Check(ctx context.Context, agencyID uuid.UUID) (*RateLimitDecision, error) {
	now := s.now()
	since := now.Add(-s.window)

	count, err := s.jobs.CountCreatedSince(ctx, agencyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count < s.quota {
		return &RateLimitDecision{
			Allowed:   true,
			Remaining: s.quota - count - 1,
		}, nil
	}

	oldest, err := s.jobs.OldestCreatedSince(ctx, agencyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}

	retryAfter := s.window
	if oldest != nil {
		retryAfter = oldest.Add(s.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}

	return &RateLimitDecision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: retryAfter,
	}, nil
}
