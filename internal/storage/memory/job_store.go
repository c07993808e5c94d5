package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// JobStore keeps production and shadow job records in-memory. It mirrors the
// Postgres store's semantics for development and tests.
type JobStore struct {
	mu     sync.RWMutex
	tables map[harvest.StorageTarget]map[string]harvest.Job
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		tables: map[harvest.StorageTarget]map[string]harvest.Job{
			harvest.StorageProduction: {},
			harvest.StorageShadow:     {},
		},
	}
}

// FindByHash looks up a job by canonical hash in the target table.
func (s *JobStore) FindByHash(_ context.Context, hash string, target harvest.StorageTarget) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.tables[target] {
		if job.CanonicalHash == hash {
			return job, nil
		}
	}
	return harvest.Job{}, harvest.ErrNotFound
}

// Insert stores a new job record.
func (s *JobStore) Insert(_ context.Context, job harvest.Job, target harvest.StorageTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[target][job.ID] = job
	return nil
}

// Update replaces an existing record. Missing records return ErrNotFound.
func (s *JobStore) Update(_ context.Context, job harvest.Job, target harvest.StorageTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[target][job.ID]; !ok {
		return harvest.ErrNotFound
	}
	s.tables[target][job.ID] = job
	return nil
}

// Restore flips a soft-deleted record back to active and clears deleted_at.
func (s *JobStore) Restore(_ context.Context, id string, at time.Time, target harvest.StorageTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.tables[target][id]
	if !ok {
		return harvest.ErrNotFound
	}
	job.Status = harvest.JobStatusActive
	job.DeletedAt = nil
	job.LastSeenAt = at
	s.tables[target][id] = job
	return nil
}

// GetJob fetches one record by ID.
func (s *JobStore) GetJob(_ context.Context, id string, target harvest.StorageTarget) (harvest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.tables[target][id]
	if !ok {
		return harvest.Job{}, harvest.ErrNotFound
	}
	return job, nil
}

// ListJobs returns records matching the filter, newest first.
func (s *JobStore) ListJobs(_ context.Context, filter harvest.JobFilter) ([]harvest.Job, error) {
	target := harvest.StorageProduction
	if filter.Shadow {
		target = harvest.StorageShadow
	}

	s.mu.RLock()
	var jobs []harvest.Job
	for _, job := range s.tables[target] {
		if filter.SourceID != "" && job.SourceID != filter.SourceID {
			continue
		}
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].LastSeenAt.After(jobs[j].LastSeenAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[filter.Offset:]
	}
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}
