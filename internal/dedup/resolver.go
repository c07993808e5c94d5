package dedup

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// Decision is the resolver's verdict for one extraction result.
type Decision struct {
	Outcome  harvest.Outcome
	Hash     string
	Existing *harvest.Job
	Skip     *harvest.ValidationSkip
}

// Resolver maps extraction results onto existing job records by canonical
// hash. All soft-delete transitions flow through here.
type Resolver struct {
	jobs   harvest.JobStore
	hasher harvest.Hasher
}

// NewResolver builds a Resolver over the given job store and hasher.
func NewResolver(jobs harvest.JobStore, hasher harvest.Hasher) *Resolver {
	return &Resolver{jobs: jobs, hasher: hasher}
}

// Resolve validates the result and looks up its canonical hash in target
// storage. Validation failures return a Skip decision before any hashing
// happens. A hash match against an active job means Update, against a
// soft-deleted job means Restore, and no match means Insert.
func (r *Resolver) Resolve(ctx context.Context, result harvest.ExtractionResult, target harvest.StorageTarget) (Decision, error) {
	if skip := validate(result); skip != nil {
		return Decision{Outcome: harvest.OutcomeSkipped, Skip: skip}, nil
	}

	hash, err := CanonicalHash(r.hasher, result.Title.Value, result.ApplyURL.Value)
	if err != nil {
		return Decision{}, fmt.Errorf("computing canonical hash: %w", err)
	}

	existing, err := r.jobs.FindByHash(ctx, hash, target)
	if err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			return Decision{Outcome: harvest.OutcomeInserted, Hash: hash}, nil
		}
		return Decision{}, fmt.Errorf("looking up canonical hash: %w", err)
	}

	if existing.Status == harvest.JobStatusSoftDeleted {
		return Decision{Outcome: harvest.OutcomeRestored, Hash: hash, Existing: &existing}, nil
	}
	return Decision{Outcome: harvest.OutcomeUpdated, Hash: hash, Existing: &existing}, nil
}

// minTitleLen is the shortest title accepted as a real posting.
const minTitleLen = 3

func validate(result harvest.ExtractionResult) *harvest.ValidationSkip {
	if !result.IsJob {
		return &harvest.ValidationSkip{Reason: harvest.SkipNotAJob}
	}
	if result.Title.Value == "" {
		return &harvest.ValidationSkip{Reason: harvest.SkipTitleMissing}
	}
	if result.ApplyURL.Value == "" {
		return &harvest.ValidationSkip{Reason: harvest.SkipApplyURLMissing}
	}
	if utf8.RuneCountInString(NormalizeTitle(result.Title.Value)) < minTitleLen {
		return &harvest.ValidationSkip{Reason: harvest.SkipTitleTooShort}
	}
	return nil
}
