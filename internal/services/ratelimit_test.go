package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobCounter struct {
	count  int
	oldest *time.Time
}

func (f *fakeJobCounter) CountCreatedSince(ctx context.Context, agencyID uuid.UUID, since time.Time) (int, error) {
	return f.count, nil
}

func (f *fakeJobCounter) OldestCreatedSince(ctx context.Context, agencyID uuid.UUID, since time.Time) (*time.Time, error) {
	return f.oldest, nil
}

func TestRateLimitAllowsUnderQuota(t *testing.T) {
	svc := NewRateLimitService(&fakeJobCounter{count: 4}, 20, time.Hour)

	decision, err := svc.Check(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.Equal(t, 15, decision.Remaining)
}

func TestRateLimitDeniesAtQuota(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-40 * time.Minute)

	svc := NewRateLimitService(&fakeJobCounter{count: 20, oldest: &oldest}, 20, time.Hour)
	svc.now = func() time.Time { return now }

	decision, err := svc.Check(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, 20*time.Minute, decision.RetryAfter)
}

func TestRateLimitRetryAfterNeverNegative(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-2 * time.Hour)

	svc := NewRateLimitService(&fakeJobCounter{count: 20, oldest: &oldest}, 20, time.Hour)
	svc.now = func() time.Time { return now }

	decision, err := svc.Check(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, time.Duration(0), decision.RetryAfter)
}

func TestRateLimitLastSlotConsumesRemaining(t *testing.T) {
	svc := NewRateLimitService(&fakeJobCounter{count: 19}, 20, time.Hour)

	decision, err := svc.Check(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
}
