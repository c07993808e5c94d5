package memory

import (
	"context"
	"sync"
	"time"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// CrawlLogStore appends crawl run records in-memory.
type CrawlLogStore struct {
	mu   sync.RWMutex
	logs []harvest.CrawlLog
}

// NewCrawlLogStore creates an empty crawl log store.
func NewCrawlLogStore() *CrawlLogStore {
	return &CrawlLogStore{}
}

// RecordCrawl appends one crawl run record.
func (s *CrawlLogStore) RecordCrawl(_ context.Context, log harvest.CrawlLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

// Logs returns a copy of all recorded crawl logs.
func (s *CrawlLogStore) Logs() []harvest.CrawlLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]harvest.CrawlLog(nil), s.logs...)
}

// ExtractionLogStore appends extraction attempt records in-memory and serves
// windowed outcome counts for the failure-rate monitor.
type ExtractionLogStore struct {
	mu   sync.RWMutex
	logs []harvest.ExtractionLog
}

// NewExtractionLogStore creates an empty extraction log store.
func NewExtractionLogStore() *ExtractionLogStore {
	return &ExtractionLogStore{}
}

// RecordExtraction appends one extraction attempt record.
func (s *ExtractionLogStore) RecordExtraction(_ context.Context, log harvest.ExtractionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

// CountOutcomes aggregates outcomes recorded at or after since.
func (s *ExtractionLogStore) CountOutcomes(_ context.Context, since time.Time) (harvest.OutcomeCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts harvest.OutcomeCounts
	for _, log := range s.logs {
		if log.CreatedAt.Before(since) {
			continue
		}
		switch log.Outcome {
		case harvest.OutcomeInserted:
			counts.Inserted++
		case harvest.OutcomeUpdated:
			counts.Updated++
		case harvest.OutcomeRestored:
			counts.Restored++
		case harvest.OutcomeSkipped:
			counts.Skipped++
		case harvest.OutcomeFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

// Logs returns a copy of all recorded extraction logs.
func (s *ExtractionLogStore) Logs() []harvest.ExtractionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]harvest.ExtractionLog(nil), s.logs...)
}

// FailedInsertStore captures storage write failures in-memory.
type FailedInsertStore struct {
	mu       sync.RWMutex
	failures []harvest.FailedInsert
}

// NewFailedInsertStore creates an empty failed insert store.
func NewFailedInsertStore() *FailedInsertStore {
	return &FailedInsertStore{}
}

// RecordFailure appends one failure record.
func (s *FailedInsertStore) RecordFailure(_ context.Context, failure harvest.FailedInsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure)
	return nil
}

// Failures returns a copy of all captured failures.
func (s *FailedInsertStore) Failures() []harvest.FailedInsert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]harvest.FailedInsert(nil), s.failures...)
}

// RawPageStore records fetch audit rows in-memory.
type RawPageStore struct {
	mu    sync.RWMutex
	pages []harvest.RawPage
}

// NewRawPageStore creates an empty raw page store.
func NewRawPageStore() *RawPageStore {
	return &RawPageStore{}
}

// RecordPage appends one fetch audit row.
func (s *RawPageStore) RecordPage(_ context.Context, page harvest.RawPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, page)
	return nil
}

// Pages returns a copy of all recorded pages.
func (s *RawPageStore) Pages() []harvest.RawPage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]harvest.RawPage(nil), s.pages...)
}
