package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository for tests and ephemeral runs.
type MemoryRepository struct {
	mu      sync.Mutex
	order   []string
	records map[string]*Record
}

// NewMemoryRepository creates an empty in-memory queue.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*Record),
	}
}

// Append implements Repository.
func (r *MemoryRepository) Append(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *rec
	r.records[rec.EventID] = &clone
	r.order = append(r.order, rec.EventID)
	return nil
}

// GetUnsent implements Repository.
func (r *MemoryRepository) GetUnsent(_ context.Context, limit int) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var out []*Record
	for _, id := range r.order {
		rec, ok := r.records[id]
		if !ok || rec.Sent {
			continue
		}
		clone := *rec
		out = append(out, &clone)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkSent implements Repository.
func (r *MemoryRepository) MarkSent(_ context.Context, eventIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range eventIDs {
		if rec, ok := r.records[id]; ok {
			rec.Sent = true
		}
	}
	return nil
}

// IncrementRetry implements Repository.
func (r *MemoryRepository) IncrementRetry(_ context.Context, eventIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range eventIDs {
		if rec, ok := r.records[id]; ok {
			rec.RetryCount++
		}
	}
	return nil
}

// Cleanup implements Repository.
func (r *MemoryRepository) Cleanup(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	remaining := r.order[:0]
	for _, id := range r.order {
		rec, ok := r.records[id]
		if !ok {
			continue
		}
		if rec.Sent {
			delete(r.records, id)
			removed++
			continue
		}
		remaining = append(remaining, id)
	}
	r.order = remaining
	return removed, nil
}

// Stats implements Repository.
func (r *MemoryRepository) Stats(_ context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats Stats
	var oldest time.Time
	for _, rec := range r.records {
		if rec.Sent {
			continue
		}
		stats.Pending++
		if oldest.IsZero() || rec.Time.Before(oldest) {
			oldest = rec.Time
		}
	}
	stats.Oldest = oldest
	return stats, nil
}

// Ensure MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)
