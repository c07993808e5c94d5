package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func TestJobStoreTargetsAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	job := harvest.Job{ID: "j1", CanonicalHash: "abc", Status: harvest.JobStatusActive}

	require.NoError(t, store.Insert(ctx, job, harvest.StorageShadow))

	_, err := store.FindByHash(ctx, "abc", harvest.StorageProduction)
	require.ErrorIs(t, err, harvest.ErrNotFound)

	found, err := store.FindByHash(ctx, "abc", harvest.StorageShadow)
	require.NoError(t, err)
	require.Equal(t, "j1", found.ID)
}

func TestJobStoreRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	deletedAt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	job := harvest.Job{
		ID:            "j1",
		CanonicalHash: "abc",
		Status:        harvest.JobStatusSoftDeleted,
		DeletedAt:     &deletedAt,
	}
	require.NoError(t, store.Insert(ctx, job, harvest.StorageProduction))

	at := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Restore(ctx, "j1", at, harvest.StorageProduction))

	restored, err := store.GetJob(ctx, "j1", harvest.StorageProduction)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusActive, restored.Status)
	require.Nil(t, restored.DeletedAt)
	require.Equal(t, at, restored.LastSeenAt)
}

func TestSourceStoreListDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := NewSourceStore()
	store.Put(harvest.Source{ID: "due-old", Status: harvest.SourceStatusActive, NextRunAt: now.Add(-2 * time.Hour)})
	store.Put(harvest.Source{ID: "due-new", Status: harvest.SourceStatusActive, NextRunAt: now.Add(-time.Hour)})
	store.Put(harvest.Source{ID: "future", Status: harvest.SourceStatusActive, NextRunAt: now.Add(time.Hour)})
	store.Put(harvest.Source{ID: "paused", Status: harvest.SourceStatusPaused, NextRunAt: now.Add(-3 * time.Hour)})

	due, err := store.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "due-old", due[0].ID)
	require.Equal(t, "due-new", due[1].ID)

	capped, err := store.ListDue(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
}

func TestSourceStoreRecordRunStreaks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSourceStore()
	store.Put(harvest.Source{ID: "s1", Status: harvest.SourceStatusActive})
	next := time.Now().Add(6 * time.Hour)

	for i := 1; i <= 3; i++ {
		streak, err := store.RecordRun(ctx, "s1", next, true, false)
		require.NoError(t, err)
		require.Equal(t, i, streak)
	}

	streak, err := store.RecordRun(ctx, "s1", next, false, true)
	require.NoError(t, err)
	require.Equal(t, 0, streak)

	src, err := store.GetSource(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, next, src.NextRunAt)
}

func TestLockManagerNonBlocking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := fixedClock{at: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	mgr := NewLockManager("worker-1", clock)

	lock, err := mgr.Acquire(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "worker-1", lock.Holder)

	_, err = mgr.Acquire(ctx, "s1")
	require.ErrorIs(t, err, harvest.ErrLockBusy)

	require.NoError(t, mgr.Release(ctx, lock))
	_, err = mgr.Acquire(ctx, "s1")
	require.NoError(t, err)
}

func TestExtractionLogStoreCountOutcomesWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewExtractionLogStore()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	add := func(outcome harvest.Outcome, at time.Time) {
		require.NoError(t, store.RecordExtraction(ctx, harvest.ExtractionLog{Outcome: outcome, CreatedAt: at}))
	}
	add(harvest.OutcomeInserted, now.Add(-30*time.Minute))
	add(harvest.OutcomeFailed, now.Add(-10*time.Minute))
	add(harvest.OutcomeFailed, now.Add(-2*time.Hour))
	add(harvest.OutcomeUpdated, now.Add(-59*time.Minute))

	counts, err := store.CountOutcomes(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, counts.Inserted)
	require.Equal(t, 1, counts.Updated)
	require.Equal(t, 1, counts.Failed)
	require.Equal(t, 3, counts.Total())
}
