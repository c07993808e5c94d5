package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// RobotsCacheStore persists fetched robots.txt bodies per host.
type RobotsCacheStore struct {
	db DB
}

// NewRobotsCacheStore builds a robots cache over the given pool.
func NewRobotsCacheStore(db DB) (*RobotsCacheStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RobotsCacheStore{db: db}, nil
}

// GetRobots returns the cached robots.txt for a host.
func (s *RobotsCacheStore) GetRobots(ctx context.Context, host string) (harvest.RobotsRecord, error) {
	var record harvest.RobotsRecord
	err := s.db.QueryRow(ctx,
		`SELECT host, body, fetched_at FROM robots_cache WHERE host = $1`, host,
	).Scan(&record.Host, &record.Body, &record.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.RobotsRecord{}, harvest.ErrNotFound
		}
		return harvest.RobotsRecord{}, fmt.Errorf("get robots cache: %w", err)
	}
	return record, nil
}

// PutRobots upserts the cached robots.txt for a host.
func (s *RobotsCacheStore) PutRobots(ctx context.Context, record harvest.RobotsRecord) error {
	query := `
INSERT INTO robots_cache (host, body, fetched_at)
VALUES ($1, $2, $3)
ON CONFLICT (host) DO UPDATE SET body = EXCLUDED.body, fetched_at = EXCLUDED.fetched_at`
	if _, err := s.db.Exec(ctx, query, record.Host, record.Body, record.FetchedAt); err != nil {
		return fmt.Errorf("put robots cache: %w", err)
	}
	return nil
}

// DomainPolicyStore resolves per-host crawl policies. Intervals are stored
// in milliseconds, selectors as JSON.
type DomainPolicyStore struct {
	db DB
}

// NewDomainPolicyStore builds a policy store over the given pool.
func NewDomainPolicyStore(db DB) (*DomainPolicyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DomainPolicyStore{db: db}, nil
}

// GetPolicy returns the policy for a host, or ErrNotFound.
func (s *DomainPolicyStore) GetPolicy(ctx context.Context, host string) (harvest.DomainPolicy, error) {
	var (
		policy     harvest.DomainPolicy
		intervalMs int64
		selectors  []byte
	)
	err := s.db.QueryRow(ctx, `
SELECT host, max_concurrency, min_request_interval_ms, robots_override, selectors
FROM domain_policies WHERE host = $1`, host,
	).Scan(&policy.Host, &policy.MaxConcurrency, &intervalMs, &policy.RobotsOverride, &selectors)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.DomainPolicy{}, harvest.ErrNotFound
		}
		return harvest.DomainPolicy{}, fmt.Errorf("get domain policy: %w", err)
	}
	policy.MinRequestInterval = time.Duration(intervalMs) * time.Millisecond
	if len(selectors) > 0 {
		if err := json.Unmarshal(selectors, &policy.Selectors); err != nil {
			return harvest.DomainPolicy{}, fmt.Errorf("decode policy selectors: %w", err)
		}
	}
	return policy, nil
}
