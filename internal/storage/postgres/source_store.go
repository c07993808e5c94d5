package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

const sourceColumns = `id, org_name, careers_url, type, crawl_frequency_days, next_run_at, consecutive_failures, consecutive_nochange, status`

// SourceStore persists crawlable sources and their scheduling state.
type SourceStore struct {
	db DB
}

// NewSourceStore builds a source store over the given pool.
func NewSourceStore(db DB) (*SourceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SourceStore{db: db}, nil
}

// ListDue returns active sources whose next_run_at is not after now, oldest
// first, up to limit.
func (s *SourceStore) ListDue(ctx context.Context, now time.Time, limit int) ([]harvest.Source, error) {
	query := fmt.Sprintf(`
SELECT %s FROM sources
WHERE status = $1 AND next_run_at <= $2
ORDER BY next_run_at ASC
LIMIT $3`, sourceColumns)
	rows, err := s.db.Query(ctx, query, harvest.SourceStatusActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due sources: %w", err)
	}
	defer rows.Close()

	var due []harvest.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		due = append(due, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due sources: %w", err)
	}
	return due, nil
}

// GetSource fetches one source by ID.
func (s *SourceStore) GetSource(ctx context.Context, id string) (harvest.Source, error) {
	query := fmt.Sprintf(`SELECT %s FROM sources WHERE id = $1`, sourceColumns)
	src, err := scanSource(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Source{}, harvest.ErrNotFound
		}
		return harvest.Source{}, fmt.Errorf("get source: %w", err)
	}
	return src, nil
}

// RecordRun updates the schedule and streak counters after a crawl in one
// statement, returning the consecutive failure count.
func (s *SourceStore) RecordRun(ctx context.Context, id string, nextRun time.Time, failed, changed bool) (int, error) {
	query := `
UPDATE sources SET
	next_run_at = $2,
	consecutive_failures = CASE WHEN $3 THEN consecutive_failures + 1 ELSE 0 END,
	consecutive_nochange = CASE
		WHEN $4 THEN 0
		WHEN $3 THEN consecutive_nochange
		ELSE consecutive_nochange + 1
	END
WHERE id = $1
RETURNING consecutive_failures`
	var streak int
	if err := s.db.QueryRow(ctx, query, id, nextRun, failed, changed).Scan(&streak); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, harvest.ErrNotFound
		}
		return 0, fmt.Errorf("record run: %w", err)
	}
	return streak, nil
}

// SetStatus changes a source's lifecycle state.
func (s *SourceStore) SetStatus(ctx context.Context, id string, status harvest.SourceStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE sources SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set source status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrNotFound
	}
	return nil
}

func scanSource(row pgx.Row) (harvest.Source, error) {
	var src harvest.Source
	err := row.Scan(
		&src.ID,
		&src.OrgName,
		&src.CareersURL,
		&src.Type,
		&src.CrawlFrequencyDays,
		&src.NextRunAt,
		&src.ConsecutiveFailures,
		&src.ConsecutiveNoChange,
		&src.Status,
	)
	return src, err
}
