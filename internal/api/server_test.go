package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/id/uuid"
	"github.com/reliefworks/jobharvester/internal/metrics"
	"github.com/reliefworks/jobharvester/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

const testKey = "sekrit"

func newTestServer(t *testing.T) (*Server, *memory.JobStore) {
	t.Helper()
	jobs := memory.NewJobStore()
	server := NewServer(jobs, uuid.New(), zap.NewNop(), Config{SecretKey: testKey})
	return server, jobs
}

func seedJob(t *testing.T, jobs *memory.JobStore, id, sourceID string, target harvest.StorageTarget, seen time.Time) harvest.Job {
	t.Helper()
	job := harvest.Job{
		ID:            id,
		CanonicalHash: "hash-" + id,
		SourceID:      sourceID,
		Title:         "Program Officer",
		Employer:      "UNICEF",
		Location:      "Nairobi, Kenya",
		ApplyURL:      "https://jobs.unicef.org/apply/" + id,
		Status:        harvest.JobStatusActive,
		FirstSeenAt:   seen,
		LastSeenAt:    seen,
	}
	require.NoError(t, jobs.Insert(context.Background(), job, target))
	return job
}

func doRequest(t *testing.T, server *Server, method, path string, withKey bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if withKey {
		req.Header.Set("X-Harvester-Key", testKey)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsOpen(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/healthz", false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/metrics", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListJobsRequiresSecretKey(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/v1/jobs", false)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	server, jobs := newTestServer(t)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seedJob(t, jobs, "job-1", "s1", harvest.StorageProduction, now)
	seedJob(t, jobs, "job-2", "s1", harvest.StorageProduction, now.Add(time.Hour))
	seedJob(t, jobs, "job-3", "s2", harvest.StorageShadow, now)

	rec := doRequest(t, server, http.MethodGet, "/v1/jobs", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs  []harvest.Job `json:"jobs"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	// Newest first.
	require.Equal(t, "job-2", resp.Jobs[0].ID)
}

func TestListJobsShadowFilter(t *testing.T) {
	t.Parallel()

	server, jobs := newTestServer(t)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seedJob(t, jobs, "job-1", "s1", harvest.StorageProduction, now)
	seedJob(t, jobs, "job-2", "s1", harvest.StorageShadow, now)

	rec := doRequest(t, server, http.MethodGet, "/v1/jobs?shadow=true", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []harvest.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, "job-2", resp.Jobs[0].ID)
}

func TestListJobsInvalidLimit(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/v1/jobs?limit=nope", true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	server, jobs := newTestServer(t)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seedJob(t, jobs, "job-1", "s1", harvest.StorageProduction, now)

	rec := doRequest(t, server, http.MethodGet, "/v1/jobs/job-1", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Job harvest.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Program Officer", resp.Job.Title)

	rec = doRequest(t, server, http.MethodGet, "/v1/jobs/missing", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSourceJobs(t *testing.T) {
	t.Parallel()

	server, jobs := newTestServer(t)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seedJob(t, jobs, "job-1", "s1", harvest.StorageProduction, now)
	seedJob(t, jobs, "job-2", "s2", harvest.StorageProduction, now)

	rec := doRequest(t, server, http.MethodGet, "/v1/sources/s2/jobs", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []harvest.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, "s2", resp.Jobs[0].SourceID)
}
