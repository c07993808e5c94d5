package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// SourceStore keeps crawl sources and their scheduling state in-memory.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[string]harvest.Source
}

// NewSourceStore creates an empty in-memory source store.
func NewSourceStore() *SourceStore {
	return &SourceStore{sources: make(map[string]harvest.Source)}
}

// Put upserts a source. Intended for seeding and tests.
func (s *SourceStore) Put(source harvest.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[source.ID] = source
}

// ListDue returns active sources whose next_run_at is not after now, oldest
// first, up to limit.
func (s *SourceStore) ListDue(_ context.Context, now time.Time, limit int) ([]harvest.Source, error) {
	s.mu.RLock()
	var due []harvest.Source
	for _, src := range s.sources {
		if src.Status != harvest.SourceStatusActive {
			continue
		}
		if src.NextRunAt.After(now) {
			continue
		}
		due = append(due, src)
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// GetSource fetches one source by ID.
func (s *SourceStore) GetSource(_ context.Context, id string) (harvest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return harvest.Source{}, harvest.ErrNotFound
	}
	return src, nil
}

// RecordRun updates the schedule and streak counters after a crawl, returning
// the consecutive failure count.
func (s *SourceStore) RecordRun(_ context.Context, id string, nextRun time.Time, failed, changed bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return 0, harvest.ErrNotFound
	}
	src.NextRunAt = nextRun
	if failed {
		src.ConsecutiveFailures++
	} else {
		src.ConsecutiveFailures = 0
	}
	if changed {
		src.ConsecutiveNoChange = 0
	} else if !failed {
		src.ConsecutiveNoChange++
	}
	s.sources[id] = src
	return src.ConsecutiveFailures, nil
}

// SetStatus changes a source's lifecycle state.
func (s *SourceStore) SetStatus(_ context.Context, id string, status harvest.SourceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return harvest.ErrNotFound
	}
	src.Status = status
	s.sources[id] = src
	return nil
}
