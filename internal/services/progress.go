package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"docintake-api/internal/models"
	"docintake-api/pkg/logger"
)

const (
	progressChannelPrefix  = "progress:agency:"
	progressSnapshotPrefix = "progress:job:"
	progressSnapshotTTL    = 24 * time.Hour
	subscriberBuffer       = 16
)

// progressStore is the slice of the redis client the publisher uses
type progressStore interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// ProgressPublisher fans job state transitions out to in-process
// subscribers (websocket sessions) and mirrors them to redis so other
// instances and late joiners can observe them. Delivery is best-effort:
// events may arrive duplicated or out of order, and a slow subscriber
// is skipped rather than allowed to stall the pipeline.
type ProgressPublisher struct {
	store progressStore

	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan models.ProgressEvent]struct{}
}

// NewProgressPublisher creates a publisher. store may be nil, in which case
// events only reach in-process subscribers.
func NewProgressPublisher(store progressStore) *ProgressPublisher {
	return &ProgressPublisher{
		store: store,
		subs:  make(map[uuid.UUID]map[chan models.ProgressEvent]struct{}),
	}
}

// Publish delivers an event for a job. Errors reaching redis are logged
// and swallowed: progress is advisory and must never fail the pipeline.
func (p *ProgressPublisher) Publish(ctx context.Context, event models.ProgressEvent) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	p.mu.RLock()
	for ch := range p.subs[event.JobID] {
		select {
		case ch <- event:
		default:
			// subscriber buffer full, drop rather than block
		}
	}
	p.mu.RUnlock()

	if p.store == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Get().Error().Err(err).Str("job_id", event.JobID.String()).Msg("failed to marshal progress event")
		return
	}

	if err := p.store.Set(ctx, progressSnapshotPrefix+event.JobID.String(), payload, progressSnapshotTTL); err != nil {
		logger.Get().Warn().Err(err).Str("job_id", event.JobID.String()).Msg("failed to cache progress snapshot")
	}

	if err := p.store.Publish(ctx, progressChannelPrefix+event.AgencyID.String(), payload); err != nil {
		logger.Get().Warn().Err(err).Str("job_id", event.JobID.String()).Msg("failed to publish progress event")
	}
}

// Subscribe registers for a job's events. The returned cancel func must be
// called when the consumer goes away; after cancel the channel is closed.
func (p *ProgressPublisher) Subscribe(jobID uuid.UUID) (<-chan models.ProgressEvent, func()) {
	ch := make(chan models.ProgressEvent, subscriberBuffer)

	p.mu.Lock()
	if p.subs[jobID] == nil {
		p.subs[jobID] = make(map[chan models.ProgressEvent]struct{})
	}
	p.subs[jobID][ch] = struct{}{}
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if set, ok := p.subs[jobID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(p.subs, jobID)
			}
		}
		p.mu.Unlock()
	}

	return ch, cancel
}

// Snapshot returns the last published event for a job, or nil when no
// snapshot is cached.
func (p *ProgressPublisher) Snapshot(ctx context.Context, jobID uuid.UUID) (*models.ProgressEvent, error) {
	if p.store == nil {
		return nil, nil
	}

	raw, err := p.store.Get(ctx, progressSnapshotPrefix+jobID.String())
	if err != nil || raw == "" {
		return nil, nil
	}

	event := &models.ProgressEvent{}
	if err := json.Unmarshal([]byte(raw), event); err != nil {
		return nil, fmt.Errorf("failed to decode progress snapshot: %w", err)
	}

	return event, nil
}

// publishJob is a convenience for emitting the current state of a job row
func (p *ProgressPublisher) publishJob(ctx context.Context, job *models.ProcessingJob) {
	p.Publish(ctx, models.ProgressEvent{
		JobID:           job.ID,
		DocumentID:      job.DocumentID,
		AgencyID:        job.AgencyID,
		Status:          job.Status,
		Stage:           job.Stage,
		ProgressPercent: job.ProgressPercent,
		ErrorMessage:    job.ErrorMessage,
	})
}
