package postgres

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestNewJobStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStore(mock, "jobs; drop table jobs")
	require.Error(t, err)
}

func TestJobStoreInsertRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock, "jobs")
	require.NoError(t, err)

	job := harvest.Job{
		ID:                "job-1",
		CanonicalHash:     "abc123",
		SourceID:          "s1",
		Title:             "Program Officer",
		Employer:          "UNICEF",
		Location:          "Nairobi, Kenya",
		ApplyURL:          "https://jobs.unicef.org/apply/1",
		Status:            harvest.JobStatusActive,
		OverallConfidence: 0.92,
		FirstSeenAt:       testNow,
		LastSeenAt:        testNow,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			job.ID, job.CanonicalHash, job.SourceID,
			job.Title, job.Employer, job.Location, job.Deadline, job.ApplyURL,
			job.Description, job.Requirements, job.PostedOn,
			job.Status, job.OverallConfidence, job.NeedsReview,
			job.FirstSeenAt, job.LastSeenAt, job.DeletedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), job, harvest.StorageProduction))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreFindByHashUsesShadowTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock, "jobs")
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"id", "canonical_hash", "source_id", "title", "employer", "location",
		"deadline", "apply_url", "description", "requirements", "posted_on",
		"status", "overall_confidence", "needs_review",
		"first_seen_at", "last_seen_at", "deleted_at",
	}).AddRow(
		"job-1", "abc123", "s1", "Program Officer", "UNICEF", "Nairobi, Kenya",
		"", "https://jobs.unicef.org/apply/1", "", "", "",
		harvest.JobStatusActive, 0.92, false,
		testNow, testNow, (*time.Time)(nil),
	)
	mock.ExpectQuery("SELECT (.+) FROM jobs_side WHERE canonical_hash").
		WithArgs("abc123").
		WillReturnRows(rows)

	job, err := store.FindByHash(context.Background(), "abc123", harvest.StorageShadow)
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, harvest.JobStatusActive, job.Status)
	require.Nil(t, job.DeletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreFindByHashNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock, "jobs")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE canonical_hash").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.FindByHash(context.Background(), "missing", harvest.StorageProduction)
	require.ErrorIs(t, err, harvest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock, "jobs")
	require.NoError(t, err)

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs(
			"job-9", "", "", "", "", "", "", "", "",
			harvest.JobStatus(""), 0.0, false, time.Time{}, (*time.Time)(nil),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Update(context.Background(), harvest.Job{ID: "job-9"}, harvest.StorageProduction)
	require.ErrorIs(t, err, harvest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceStoreRecordRunReturnsStreak(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSourceStore(mock)
	require.NoError(t, err)

	nextRun := testNow.Add(24 * time.Hour)
	mock.ExpectQuery("UPDATE sources SET").
		WithArgs("s1", nextRun, true, false).
		WillReturnRows(pgxmock.NewRows([]string{"consecutive_failures"}).AddRow(3))

	streak, err := store.RecordRun(context.Background(), "s1", nextRun, true, false)
	require.NoError(t, err)
	require.Equal(t, 3, streak)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockManagerAcquireBusy(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	locks, err := NewLockManager(mock, "worker-1", fixedClock{at: testNow})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_locks").
		WithArgs("s1", "worker-1", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, err = locks.Acquire(context.Background(), "s1")
	require.ErrorIs(t, err, harvest.ErrLockBusy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockManagerAcquireAndRelease(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	locks, err := NewLockManager(mock, "worker-1", fixedClock{at: testNow})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_locks").
		WithArgs("s1", "worker-1", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM crawl_locks").
		WithArgs("s1", "worker-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	lock, err := locks.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "worker-1", lock.Holder)

	require.NoError(t, locks.Release(context.Background(), lock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractionLogStoreCountOutcomes(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewExtractionLogStore(mock)
	require.NoError(t, err)

	since := testNow.Add(-time.Hour)
	rows := pgxmock.NewRows([]string{"inserted", "updated", "restored", "skipped", "failed"}).
		AddRow(10, 5, 1, 2, 2)
	mock.ExpectQuery("SELECT").
		WithArgs(since).
		WillReturnRows(rows)

	counts, err := store.CountOutcomes(context.Background(), since)
	require.NoError(t, err)
	require.Equal(t, 20, counts.Total())
	require.InDelta(t, 0.1, counts.FailureRate(), 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRawPageStoreRecordsHeadersAsJSON(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRawPageStore(mock)
	require.NoError(t, err)

	page := harvest.RawPage{
		ID:         "page-1",
		SourceID:   "s1",
		URL:        "https://jobs.unicef.org/job/100",
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		ByteLen:    2048,
		BlobURI:    "gs://bucket/raw-pages/jobs.unicef.org/2026-08-30/page-1.html",
		FetchedAt:  testNow,
	}

	mock.ExpectExec("INSERT INTO raw_pages").
		WithArgs(
			page.ID, page.SourceID, page.URL, page.StatusCode,
			[]byte(`{"Content-Type":["text/html"]}`),
			page.ByteLen, page.BlobURI, page.FetchedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordPage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDomainPolicyStoreGetPolicy(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewDomainPolicyStore(mock)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"host", "max_concurrency", "min_request_interval_ms", "robots_override", "selectors",
	}).AddRow(
		"jobs.unicef.org", 1, int64(5000), false, []byte(`{"title":"h1.job-title"}`),
	)
	mock.ExpectQuery("SELECT (.+) FROM domain_policies").
		WithArgs("jobs.unicef.org").
		WillReturnRows(rows)

	policy, err := store.GetPolicy(context.Background(), "jobs.unicef.org")
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, policy.MinRequestInterval)
	require.Equal(t, "h1.job-title", policy.Selectors[harvest.FieldTitle])
	require.NoError(t, mock.ExpectationsWereMet())
}
