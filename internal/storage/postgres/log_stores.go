package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// CrawlLogStore appends one row per crawl run.
type CrawlLogStore struct {
	db DB
}

// NewCrawlLogStore builds a crawl log store over the given pool.
func NewCrawlLogStore(db DB) (*CrawlLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CrawlLogStore{db: db}, nil
}

// RecordCrawl appends one crawl run record.
func (s *CrawlLogStore) RecordCrawl(ctx context.Context, log harvest.CrawlLog) error {
	query := `
INSERT INTO crawl_logs (
	id, source_id, started_at, finished_at,
	found, inserted, updated, restored, skipped, failed, message
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	args := []any{
		log.ID,
		log.SourceID,
		log.StartedAt,
		log.FinishedAt,
		log.Counters.Found,
		log.Counters.Inserted,
		log.Counters.Updated,
		log.Counters.Restored,
		log.Counters.Skipped,
		log.Counters.Failed,
		log.Message,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert crawl log: %w", err)
	}
	return nil
}

// ExtractionLogStore appends one row per extraction attempt and serves the
// failure-rate monitor's windowed counts.
type ExtractionLogStore struct {
	db DB
}

// NewExtractionLogStore builds an extraction log store over the given pool.
func NewExtractionLogStore(db DB) (*ExtractionLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ExtractionLogStore{db: db}, nil
}

// RecordExtraction appends one extraction attempt record.
func (s *ExtractionLogStore) RecordExtraction(ctx context.Context, log harvest.ExtractionLog) error {
	query := `
INSERT INTO extraction_logs (
	id, source_id, url, pipeline, outcome, reason,
	overall_confidence, needs_review, shadow, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	args := []any{
		log.ID,
		log.SourceID,
		log.URL,
		log.Pipeline,
		log.Outcome,
		log.Reason,
		log.OverallConfidence,
		log.NeedsReview,
		log.Shadow,
		log.CreatedAt,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert extraction log: %w", err)
	}
	return nil
}

// CountOutcomes aggregates outcomes recorded at or after since.
func (s *ExtractionLogStore) CountOutcomes(ctx context.Context, since time.Time) (harvest.OutcomeCounts, error) {
	query := `
SELECT
	COUNT(*) FILTER (WHERE outcome = 'inserted'),
	COUNT(*) FILTER (WHERE outcome = 'updated'),
	COUNT(*) FILTER (WHERE outcome = 'restored'),
	COUNT(*) FILTER (WHERE outcome = 'skipped'),
	COUNT(*) FILTER (WHERE outcome = 'failed')
FROM extraction_logs
WHERE created_at >= $1`
	var counts harvest.OutcomeCounts
	err := s.db.QueryRow(ctx, query, since).Scan(
		&counts.Inserted,
		&counts.Updated,
		&counts.Restored,
		&counts.Skipped,
		&counts.Failed,
	)
	if err != nil {
		return harvest.OutcomeCounts{}, fmt.Errorf("count outcomes: %w", err)
	}
	return counts, nil
}

// FailedInsertStore captures storage write failures with their payloads.
type FailedInsertStore struct {
	db DB
}

// NewFailedInsertStore builds a failed insert store over the given pool.
func NewFailedInsertStore(db DB) (*FailedInsertStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FailedInsertStore{db: db}, nil
}

// RecordFailure appends one failure record.
func (s *FailedInsertStore) RecordFailure(ctx context.Context, failure harvest.FailedInsert) error {
	query := `
INSERT INTO failed_inserts (id, source_id, url, payload, error_text, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	args := []any{
		failure.ID,
		failure.SourceID,
		failure.URL,
		failure.Payload,
		failure.ErrorText,
		failure.CreatedAt,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert failed insert: %w", err)
	}
	return nil
}

// RawPageStore records one row per fetch attempt.
type RawPageStore struct {
	db DB
}

// NewRawPageStore builds a raw page store over the given pool.
func NewRawPageStore(db DB) (*RawPageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RawPageStore{db: db}, nil
}

// RecordPage appends one fetch audit row. Headers are stored as JSON.
func (s *RawPageStore) RecordPage(ctx context.Context, page harvest.RawPage) error {
	headersJSON, err := json.Marshal(normalizeHeaders(page.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	query := `
INSERT INTO raw_pages (id, source_id, url, status_code, headers, byte_len, blob_uri, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	args := []any{
		page.ID,
		page.SourceID,
		page.URL,
		page.StatusCode,
		headersJSON,
		page.ByteLen,
		page.BlobURI,
		page.FetchedAt,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert raw page: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
