package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/hash/sha256"
	"github.com/reliefworks/jobharvester/internal/storage/memory"
)

func jobResult(title, applyURL string) harvest.ExtractionResult {
	return harvest.ExtractionResult{
		IsJob:    true,
		Title:    harvest.Field{Value: title, Source: harvest.StageJSONLD, Confidence: 0.92},
		ApplyURL: harvest.Field{Value: applyURL, Source: harvest.StageJSONLD, Confidence: 0.92},
	}
}

func TestResolveSkipsInvalidResults(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(memory.NewJobStore(), sha256.New())
	ctx := context.Background()

	tests := []struct {
		name   string
		result harvest.ExtractionResult
		reason harvest.SkipReason
	}{
		{"missing title", jobResult("", "https://x.org/a"), harvest.SkipTitleMissing},
		{"missing apply url", jobResult("Program Officer", ""), harvest.SkipApplyURLMissing},
		{"title too short", jobResult("IT", "https://x.org/a"), harvest.SkipTitleTooShort},
		{"not a job", harvest.ExtractionResult{IsJob: false}, harvest.SkipNotAJob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := resolver.Resolve(ctx, tt.result, harvest.StorageProduction)
			require.NoError(t, err)
			require.Equal(t, harvest.OutcomeSkipped, decision.Outcome)
			require.NotNil(t, decision.Skip)
			require.Equal(t, tt.reason, decision.Skip.Reason)
			require.Empty(t, decision.Hash)
		})
	}
}

func TestResolveInsertThenUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memory.NewJobStore()
	resolver := NewResolver(jobs, sha256.New())
	result := jobResult("Program Officer", "https://jobs.unicef.org/apply/42")

	decision, err := resolver.Resolve(ctx, result, harvest.StorageProduction)
	require.NoError(t, err)
	require.Equal(t, harvest.OutcomeInserted, decision.Outcome)
	require.NotEmpty(t, decision.Hash)

	require.NoError(t, jobs.Insert(ctx, harvest.Job{
		ID:            "j1",
		CanonicalHash: decision.Hash,
		Status:        harvest.JobStatusActive,
	}, harvest.StorageProduction))

	// Re-running on an unchanged page must update, never duplicate.
	again, err := resolver.Resolve(ctx, result, harvest.StorageProduction)
	require.NoError(t, err)
	require.Equal(t, harvest.OutcomeUpdated, again.Outcome)
	require.Equal(t, decision.Hash, again.Hash)
	require.NotNil(t, again.Existing)
	require.Equal(t, "j1", again.Existing.ID)
}

func TestResolveRestoreForSoftDeleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memory.NewJobStore()
	resolver := NewResolver(jobs, sha256.New())
	result := jobResult("Program Officer", "https://jobs.unicef.org/apply/42")

	decision, err := resolver.Resolve(ctx, result, harvest.StorageProduction)
	require.NoError(t, err)

	deletedAt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, jobs.Insert(ctx, harvest.Job{
		ID:            "j1",
		CanonicalHash: decision.Hash,
		Status:        harvest.JobStatusSoftDeleted,
		DeletedAt:     &deletedAt,
	}, harvest.StorageProduction))

	again, err := resolver.Resolve(ctx, result, harvest.StorageProduction)
	require.NoError(t, err)
	require.Equal(t, harvest.OutcomeRestored, again.Outcome)
	require.Equal(t, "j1", again.Existing.ID)
}

func TestResolveRespectsStorageTarget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memory.NewJobStore()
	resolver := NewResolver(jobs, sha256.New())
	result := jobResult("Program Officer", "https://jobs.unicef.org/apply/42")

	decision, err := resolver.Resolve(ctx, result, harvest.StorageProduction)
	require.NoError(t, err)
	require.NoError(t, jobs.Insert(ctx, harvest.Job{
		ID:            "j1",
		CanonicalHash: decision.Hash,
		Status:        harvest.JobStatusActive,
	}, harvest.StorageProduction))

	// Same posting is still unseen in the shadow table.
	shadow, err := resolver.Resolve(ctx, result, harvest.StorageShadow)
	require.NoError(t, err)
	require.Equal(t, harvest.OutcomeInserted, shadow.Outcome)
}
