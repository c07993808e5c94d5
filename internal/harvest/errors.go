package harvest

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems.
var (
	// ErrRobotsDisallowed is returned before any request is made when the
	// host's robots.txt forbids the path and no override exists.
	ErrRobotsDisallowed = errors.New("robots.txt disallows fetch")

	// ErrAIBudgetExceeded short-circuits the AI fallback stage for the rest
	// of the UTC day.
	ErrAIBudgetExceeded = errors.New("ai fallback daily budget exceeded")

	// ErrLockBusy signals the per-source crawl lock is already held.
	ErrLockBusy = errors.New("crawl lock busy")

	// ErrAlreadyQueued reports that a source already has a crawl task
	// waiting, so a second enqueue would double-crawl it.
	ErrAlreadyQueued = errors.New("source already queued")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// FetchError wraps a network, timeout, or HTTP-level fetch failure.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SkipReason names why a validation skip happened, for operator diagnosis.
type SkipReason string

// Validation skip reasons. These are policy decisions, not errors.
const (
	SkipTitleMissing    SkipReason = "title_missing"
	SkipApplyURLMissing SkipReason = "apply_url_missing"
	SkipTitleTooShort   SkipReason = "title_len"
	SkipNotAJob         SkipReason = "not_a_job"
)

// ValidationSkip marks a result that never reaches the job store.
type ValidationSkip struct {
	Reason SkipReason
}

func (e *ValidationSkip) Error() string {
	return fmt.Sprintf("validation skip: %s", e.Reason)
}

// AsValidationSkip unwraps err into a ValidationSkip if it is one.
func AsValidationSkip(err error) (*ValidationSkip, bool) {
	var skip *ValidationSkip
	if errors.As(err, &skip) {
		return skip, true
	}
	return nil, false
}
