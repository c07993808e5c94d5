// Package api exposes the read-only HTTP interface for harvested jobs.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Config tunes the HTTP server surface.
type Config struct {
	// SecretKey gates /v1 routes via the X-Harvester-Key header. Empty
	// disables auth, which is only sensible in development.
	SecretKey string
}

// Server wires HTTP handlers to the job store.
type Server struct {
	router chi.Router
	jobs   harvest.JobStore
	ids    harvest.IDGenerator
	logger *zap.Logger
	cfg    Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs harvest.JobStore, ids harvest.IDGenerator, logger *zap.Logger, cfg Config) *Server {
	s := &Server{
		jobs:   jobs,
		ids:    ids,
		logger: logger.Named("api"),
		cfg:    cfg,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.SecretKey != "" {
			r.Use(secretKeyMiddleware(cfg.SecretKey))
		}
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/sources/{source_id}/jobs", s.listSourceJobs)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing jobs", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{
		Jobs:   jobs,
		Count:  len(jobs),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (s *Server) listSourceJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.SourceID = chi.URLParam(r, "source_id")
	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing source jobs", zap.String("source_id", filter.SourceID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{
		Jobs:   jobs,
		Count:  len(jobs),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	target := harvest.StorageProduction
	if r.URL.Query().Get("shadow") == "true" {
		target = harvest.StorageShadow
	}
	job, err := s.jobs.GetJob(r.Context(), jobID, target)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type listResponse struct {
	Jobs   []harvest.Job `json:"jobs"`
	Count  int           `json:"count"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func parseJobFilter(r *http.Request) (harvest.JobFilter, error) {
	q := r.URL.Query()
	filter := harvest.JobFilter{
		SourceID: q.Get("source_id"),
		Shadow:   q.Get("shadow") == "true",
		Limit:    defaultListLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return harvest.JobFilter{}, errInvalidParam("limit")
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return harvest.JobFilter{}, errInvalidParam("offset")
		}
		filter.Offset = offset
	}
	return filter, nil
}

type paramError string

func errInvalidParam(name string) paramError {
	return paramError("invalid query parameter: " + name)
}

func (e paramError) Error() string {
	return string(e)
}

func secretKeyMiddleware(expected string) func(http.Handler) http.Handler {
	want := []byte(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("X-Harvester-Key"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("writing JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
