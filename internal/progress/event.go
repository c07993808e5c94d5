// Package progress defines the milestone events emitted during crawls and
// the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart   Stage = "CRAWL_START"
	StageCrawlDone    Stage = "CRAWL_DONE"
	StageCrawlError   Stage = "CRAWL_ERROR"
	StagePageIngested Stage = "PAGE_INGESTED"
)

// Event captures a single crawl milestone.
type Event struct {
	// SourceID identifies the crawled source.
	SourceID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// URL is the page URL for page-level events.
	URL string
	// Outcome carries the persist outcome for PAGE_INGESTED events.
	Outcome harvest.Outcome
	// Dur captures wall time for crawl completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SourceID == "" {
		return errors.New("source id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StagePageIngested:
		if e.Outcome == "" {
			return errors.New("page ingested requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
