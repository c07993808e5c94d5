package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

const jobColumns = `id, canonical_hash, source_id, title, employer, location, deadline, apply_url, description, requirements, posted_on, status, overall_confidence, needs_review, first_seen_at, last_seen_at, deleted_at`

// JobStore persists canonical job records. Production rows live in the
// configured table, shadow rows in the same name with a _side suffix.
type JobStore struct {
	db     DB
	prod   string
	shadow string
}

// NewJobStore builds a job store over the given pool. An empty table name
// defaults to "jobs"; shadow writes always go to <table>_side.
func NewJobStore(db DB, table string) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{db: db, prod: table, shadow: table + "_side"}, nil
}

func (s *JobStore) tableFor(target harvest.StorageTarget) string {
	if target == harvest.StorageShadow {
		return s.shadow
	}
	return s.prod
}

// FindByHash looks up a job by canonical hash, soft-deleted rows included.
func (s *JobStore) FindByHash(ctx context.Context, hash string, target harvest.StorageTarget) (harvest.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE canonical_hash = $1`, jobColumns, s.tableFor(target))
	job, err := scanJob(s.db.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Job{}, harvest.ErrNotFound
		}
		return harvest.Job{}, fmt.Errorf("find job by hash: %w", err)
	}
	return job, nil
}

// Insert stores a new job record.
func (s *JobStore) Insert(ctx context.Context, job harvest.Job, target harvest.StorageTarget) error {
	query := fmt.Sprintf(`
INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`, s.tableFor(target), jobColumns)
	args := []any{
		job.ID,
		job.CanonicalHash,
		job.SourceID,
		job.Title,
		job.Employer,
		job.Location,
		job.Deadline,
		job.ApplyURL,
		job.Description,
		job.Requirements,
		job.PostedOn,
		job.Status,
		job.OverallConfidence,
		job.NeedsReview,
		job.FirstSeenAt,
		job.LastSeenAt,
		job.DeletedAt,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Update replaces an existing record. Missing records return ErrNotFound.
func (s *JobStore) Update(ctx context.Context, job harvest.Job, target harvest.StorageTarget) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	title = $2,
	employer = $3,
	location = $4,
	deadline = $5,
	apply_url = $6,
	description = $7,
	requirements = $8,
	posted_on = $9,
	status = $10,
	overall_confidence = $11,
	needs_review = $12,
	last_seen_at = $13,
	deleted_at = $14
WHERE id = $1`, s.tableFor(target))
	args := []any{
		job.ID,
		job.Title,
		job.Employer,
		job.Location,
		job.Deadline,
		job.ApplyURL,
		job.Description,
		job.Requirements,
		job.PostedOn,
		job.Status,
		job.OverallConfidence,
		job.NeedsReview,
		job.LastSeenAt,
		job.DeletedAt,
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrNotFound
	}
	return nil
}

// Restore flips a soft-deleted record back to active and clears deleted_at.
func (s *JobStore) Restore(ctx context.Context, id string, at time.Time, target harvest.StorageTarget) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, deleted_at = NULL, last_seen_at = $3 WHERE id = $1`, s.tableFor(target))
	tag, err := s.db.Exec(ctx, query, id, harvest.JobStatusActive, at)
	if err != nil {
		return fmt.Errorf("restore job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrNotFound
	}
	return nil
}

// GetJob fetches one record by ID.
func (s *JobStore) GetJob(ctx context.Context, id string, target harvest.StorageTarget) (harvest.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.tableFor(target))
	job, err := scanJob(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.Job{}, harvest.ErrNotFound
		}
		return harvest.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns records matching the filter, newest first.
func (s *JobStore) ListJobs(ctx context.Context, filter harvest.JobFilter) ([]harvest.Job, error) {
	target := harvest.StorageProduction
	if filter.Shadow {
		target = harvest.StorageShadow
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT %s FROM %s`, jobColumns, s.tableFor(target))
	var args []any
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		fmt.Fprintf(&sb, ` WHERE source_id = $%d`, len(args))
	}
	sb.WriteString(` ORDER BY last_seen_at DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, ` OFFSET $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []harvest.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (harvest.Job, error) {
	var job harvest.Job
	err := row.Scan(
		&job.ID,
		&job.CanonicalHash,
		&job.SourceID,
		&job.Title,
		&job.Employer,
		&job.Location,
		&job.Deadline,
		&job.ApplyURL,
		&job.Description,
		&job.Requirements,
		&job.PostedOn,
		&job.Status,
		&job.OverallConfidence,
		&job.NeedsReview,
		&job.FirstSeenAt,
		&job.LastSeenAt,
		&job.DeletedAt,
	)
	return job, err
}
