// Package ingest persists extraction results as canonical job records and
// keeps the audit trail around every write.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/dedup"
	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/metrics"
)

// Event is the ingest notification published after successful writes.
type Event struct {
	JobID       string          `json:"job_id"`
	SourceID    string          `json:"source_id"`
	Outcome     harvest.Outcome `json:"outcome"`
	Shadow      bool            `json:"shadow"`
	Title       string          `json:"title"`
	Employer    string          `json:"employer"`
	NeedsReview bool            `json:"needs_review"`
}

// Writer runs the persist path: resolve against existing records, write,
// log, count, and notify. A single failing write never aborts a batch; it
// is captured as a FailedInsert and reported as a failed outcome.
type Writer struct {
	resolver   *dedup.Resolver
	jobs       harvest.JobStore
	extLogs    harvest.ExtractionLogStore
	failures   harvest.FailedInsertStore
	publisher  harvest.Publisher
	topic      string
	ids        harvest.IDGenerator
	clock      harvest.Clock
	logger     *zap.Logger
}

// NewWriter builds the storage writer. publisher may be nil to disable
// event notifications.
func NewWriter(resolver *dedup.Resolver, jobs harvest.JobStore, extLogs harvest.ExtractionLogStore, failures harvest.FailedInsertStore, publisher harvest.Publisher, topic string, ids harvest.IDGenerator, clock harvest.Clock, logger *zap.Logger) *Writer {
	return &Writer{
		resolver:  resolver,
		jobs:      jobs,
		extLogs:   extLogs,
		failures:  failures,
		publisher: publisher,
		topic:     topic,
		ids:       ids,
		clock:     clock,
		logger:    logger.Named("ingest"),
	}
}

// Persist implements the persist contract for one extraction result.
func (w *Writer) Persist(ctx context.Context, sourceID string, result harvest.ExtractionResult, route harvest.RouteDecision) (harvest.Outcome, error) {
	decision, err := w.resolver.Resolve(ctx, result, route.Storage)
	if err != nil {
		w.captureFailure(ctx, sourceID, result, err)
		w.finish(ctx, sourceID, result, route, harvest.OutcomeFailed, err.Error(), "")
		return harvest.OutcomeFailed, nil
	}

	if decision.Outcome == harvest.OutcomeSkipped {
		w.finish(ctx, sourceID, result, route, harvest.OutcomeSkipped, string(decision.Skip.Reason), "")
		return harvest.OutcomeSkipped, nil
	}

	now := w.clock.Now()
	var jobID string
	var writeErr error

	switch decision.Outcome {
	case harvest.OutcomeInserted:
		jobID, writeErr = w.insert(ctx, sourceID, result, decision, route.Storage, now)
	case harvest.OutcomeUpdated:
		jobID = decision.Existing.ID
		writeErr = w.update(ctx, result, *decision.Existing, route.Storage, now)
	case harvest.OutcomeRestored:
		jobID = decision.Existing.ID
		writeErr = w.restore(ctx, result, *decision.Existing, route.Storage, now)
	}

	if writeErr != nil {
		w.captureFailure(ctx, sourceID, result, writeErr)
		w.finish(ctx, sourceID, result, route, harvest.OutcomeFailed, writeErr.Error(), "")
		return harvest.OutcomeFailed, nil
	}

	w.finish(ctx, sourceID, result, route, decision.Outcome, "", jobID)
	return decision.Outcome, nil
}

func (w *Writer) insert(ctx context.Context, sourceID string, result harvest.ExtractionResult, decision dedup.Decision, target harvest.StorageTarget, now time.Time) (string, error) {
	id, err := w.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generating job id: %w", err)
	}
	job := harvest.Job{
		ID:                id,
		CanonicalHash:     decision.Hash,
		SourceID:          sourceID,
		Title:             result.Title.Value,
		Employer:          result.Employer.Value,
		Location:          result.Location.Value,
		Deadline:          result.Deadline.Value,
		ApplyURL:          result.ApplyURL.Value,
		Description:       result.Description.Value,
		Requirements:      result.Requirements.Value,
		PostedOn:          result.PostedOn.Value,
		Status:            harvest.JobStatusActive,
		OverallConfidence: result.OverallConfidence,
		NeedsReview:       result.NeedsReview,
		FirstSeenAt:       now,
		LastSeenAt:        now,
	}
	if err := w.jobs.Insert(ctx, job, target); err != nil {
		return "", fmt.Errorf("inserting job: %w", err)
	}
	return id, nil
}

func (w *Writer) update(ctx context.Context, result harvest.ExtractionResult, existing harvest.Job, target harvest.StorageTarget, now time.Time) error {
	merged := mergeFields(existing, result)
	merged.LastSeenAt = now
	if err := w.jobs.Update(ctx, merged, target); err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

func (w *Writer) restore(ctx context.Context, result harvest.ExtractionResult, existing harvest.Job, target harvest.StorageTarget, now time.Time) error {
	if err := w.jobs.Restore(ctx, existing.ID, now, target); err != nil {
		return fmt.Errorf("restoring job: %w", err)
	}
	merged := mergeFields(existing, result)
	merged.Status = harvest.JobStatusActive
	merged.DeletedAt = nil
	merged.LastSeenAt = now
	if err := w.jobs.Update(ctx, merged, target); err != nil {
		return fmt.Errorf("refreshing restored job: %w", err)
	}
	return nil
}

// mergeFields refreshes the record with every field the new extraction
// produced, keeping existing values where the pipeline came back empty.
func mergeFields(existing harvest.Job, result harvest.ExtractionResult) harvest.Job {
	merged := existing
	set := func(dst *string, field harvest.Field) {
		if field.Filled() && field.Value != "" {
			*dst = field.Value
		}
	}
	set(&merged.Title, result.Title)
	set(&merged.Employer, result.Employer)
	set(&merged.Location, result.Location)
	set(&merged.Deadline, result.Deadline)
	set(&merged.ApplyURL, result.ApplyURL)
	set(&merged.Description, result.Description)
	set(&merged.Requirements, result.Requirements)
	set(&merged.PostedOn, result.PostedOn)
	merged.OverallConfidence = result.OverallConfidence
	merged.NeedsReview = result.NeedsReview
	return merged
}

// captureFailure records the raw payload so the posting can be replayed once
// the underlying problem is fixed.
func (w *Writer) captureFailure(ctx context.Context, sourceID string, result harvest.ExtractionResult, cause error) {
	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(fmt.Sprintf("{\"marshal_error\": %q}", err.Error()))
	}

	id, err := w.ids.NewID()
	if err != nil {
		w.logger.Error("generating failed insert id", zap.Error(err))
		return
	}
	failure := harvest.FailedInsert{
		ID:        id,
		SourceID:  sourceID,
		URL:       result.URL,
		Payload:   payload,
		ErrorText: cause.Error(),
		CreatedAt: w.clock.Now(),
	}
	if err := w.failures.RecordFailure(ctx, failure); err != nil {
		w.logger.Error("recording failed insert",
			zap.String("url", result.URL),
			zap.Error(err),
		)
	}
}

// finish writes the extraction log row, bumps the metrics, and publishes the
// ingest event. None of these may fail the persist outcome.
func (w *Writer) finish(ctx context.Context, sourceID string, result harvest.ExtractionResult, route harvest.RouteDecision, outcome harvest.Outcome, reason, jobID string) {
	shadow := route.Storage == harvest.StorageShadow
	metrics.ObserveIngest(string(outcome), shadow)

	if reason == "" {
		reason = route.Reason
	}
	id, err := w.ids.NewID()
	if err != nil {
		w.logger.Error("generating extraction log id", zap.Error(err))
		return
	}
	log := harvest.ExtractionLog{
		ID:                id,
		SourceID:          sourceID,
		URL:               result.URL,
		Pipeline:          result.Pipeline,
		Outcome:           outcome,
		Reason:            reason,
		OverallConfidence: result.OverallConfidence,
		NeedsReview:       result.NeedsReview,
		Shadow:            shadow,
		CreatedAt:         w.clock.Now(),
	}
	if err := w.extLogs.RecordExtraction(ctx, log); err != nil {
		w.logger.Error("recording extraction log", zap.String("url", result.URL), zap.Error(err))
	}

	if w.publisher == nil || jobID == "" {
		return
	}
	event := Event{
		JobID:       jobID,
		SourceID:    sourceID,
		Outcome:     outcome,
		Shadow:      shadow,
		Title:       result.Title.Value,
		Employer:    result.Employer.Value,
		NeedsReview: result.NeedsReview,
	}
	if _, err := w.publisher.Publish(ctx, w.topic, event); err != nil {
		w.logger.Warn("publishing ingest event", zap.String("job_id", jobID), zap.Error(err))
	}
}
