// Package harvest defines core types shared across subsystems.
package harvest

import (
	"net/http"
	"time"
)

// SourceType identifies how a source publishes its postings.
type SourceType string

// Source type values persisted in the source store.
const (
	SourceTypeHTML SourceType = "html"
	SourceTypeRSS  SourceType = "rss"
	SourceTypeAPI  SourceType = "api"
)

// SourceStatus represents the lifecycle state of a crawlable source.
type SourceStatus string

// Source status values persisted in the source store.
const (
	SourceStatusActive  SourceStatus = "active"
	SourceStatusPaused  SourceStatus = "paused"
	SourceStatusDeleted SourceStatus = "deleted"
)

// Source is a crawlable origin: one organization careers page.
type Source struct {
	ID                  string       `json:"id"`
	OrgName             string       `json:"org_name"`
	CareersURL          string       `json:"careers_url"`
	Type                SourceType   `json:"type"`
	CrawlFrequencyDays  int          `json:"crawl_frequency_days"`
	NextRunAt           time.Time    `json:"next_run_at"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	ConsecutiveNoChange int          `json:"consecutive_nochange"`
	Status              SourceStatus `json:"status"`
}

// RawPage is the audit record for one fetch attempt. Immutable once written.
type RawPage struct {
	ID         string      `json:"id"`
	SourceID   string      `json:"source_id"`
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	ByteLen    int         `json:"byte_len"`
	BlobURI    string      `json:"blob_uri"`
	FetchedAt  time.Time   `json:"fetched_at"`
}

// FieldName identifies one recognized extraction field.
type FieldName string

// The full recognized field set. Every consumer knows these at compile time;
// extraction never produces fields outside this list.
const (
	FieldTitle        FieldName = "title"
	FieldEmployer     FieldName = "employer"
	FieldLocation     FieldName = "location"
	FieldDeadline     FieldName = "deadline"
	FieldApplyURL     FieldName = "apply_url"
	FieldDescription  FieldName = "description"
	FieldRequirements FieldName = "requirements"
	FieldPostedOn     FieldName = "posted_on"
)

// AllFields lists every recognized field in a stable order.
var AllFields = []FieldName{
	FieldTitle,
	FieldEmployer,
	FieldLocation,
	FieldDeadline,
	FieldApplyURL,
	FieldDescription,
	FieldRequirements,
	FieldPostedOn,
}

// CriticalFields drive the overall confidence score.
var CriticalFields = []FieldName{FieldTitle, FieldEmployer, FieldLocation, FieldApplyURL}

// StageName identifies the pipeline stage that produced a field value.
type StageName string

// Pipeline stage names in priority order.
const (
	StageClassifier StageName = "classifier"
	StageJSONLD     StageName = "jsonld"
	StageMeta       StageName = "meta"
	StageSelectors  StageName = "selectors"
	StageLabels     StageName = "labels"
	StageRegex      StageName = "regex"
	StageAI         StageName = "ai"
	StageLegacy     StageName = "legacy"
)

// Field holds one extracted value with its provenance and trust.
type Field struct {
	Value      string    `json:"value"`
	Source     StageName `json:"source"`
	Confidence float64   `json:"confidence"`
}

// Filled reports whether any stage has produced a value for this field.
func (f Field) Filled() bool {
	return f.Source != ""
}

// PipelineVersion selects between the legacy and the new extractor.
type PipelineVersion string

// Pipeline versions routed by the rollout router.
const (
	PipelineLegacy PipelineVersion = "legacy"
	PipelineNew    PipelineVersion = "new"
)

// StorageTarget selects between production and shadow job tables.
type StorageTarget string

// Storage targets routed by the rollout router.
const (
	StorageProduction StorageTarget = "production"
	StorageShadow     StorageTarget = "shadow"
)

// RouteDecision is the rollout router output for one URL. Reason records why
// the router picked this route, for the extraction log.
type RouteDecision struct {
	Pipeline PipelineVersion `json:"pipeline"`
	Storage  StorageTarget   `json:"storage"`
	Reason   string          `json:"reason,omitempty"`
}

// ExtractionResult is the pipeline output for one URL. A new attempt always
// produces a new result; results are never mutated after finalization.
type ExtractionResult struct {
	URL string `json:"url"`

	Title        Field `json:"title"`
	Employer     Field `json:"employer"`
	Location     Field `json:"location"`
	Deadline     Field `json:"deadline"`
	ApplyURL     Field `json:"apply_url"`
	Description  Field `json:"description"`
	Requirements Field `json:"requirements"`
	PostedOn     Field `json:"posted_on"`

	IsJob             bool            `json:"is_job"`
	ClassifierScore   float64         `json:"classifier_score"`
	OverallConfidence float64         `json:"overall_confidence"`
	NeedsReview       bool            `json:"needs_review"`
	StagesFired       []StageName     `json:"stages_fired"`
	AICalls           int             `json:"ai_calls"`
	Pipeline          PipelineVersion `json:"pipeline"`
	ExtractedAt       time.Time       `json:"extracted_at"`
}

// Field returns a pointer to the named field, or nil for unknown names.
func (r *ExtractionResult) Field(name FieldName) *Field {
	switch name {
	case FieldTitle:
		return &r.Title
	case FieldEmployer:
		return &r.Employer
	case FieldLocation:
		return &r.Location
	case FieldDeadline:
		return &r.Deadline
	case FieldApplyURL:
		return &r.ApplyURL
	case FieldDescription:
		return &r.Description
	case FieldRequirements:
		return &r.Requirements
	case FieldPostedOn:
		return &r.PostedOn
	default:
		return nil
	}
}

// MissingFields returns the recognized fields no stage has filled yet.
func (r *ExtractionResult) MissingFields() []FieldName {
	var missing []FieldName
	for _, name := range AllFields {
		if !r.Field(name).Filled() {
			missing = append(missing, name)
		}
	}
	return missing
}

// JobStatus represents the lifecycle state of a canonical job record.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusActive      JobStatus = "active"
	JobStatusExpired     JobStatus = "expired"
	JobStatusSoftDeleted JobStatus = "deleted"
)

// Job is the canonical, deduplicated record derived from extraction results.
// CanonicalHash is the merge key: stable across repeated crawls of the same
// posting.
type Job struct {
	ID                string     `json:"id"`
	CanonicalHash     string     `json:"canonical_hash"`
	SourceID          string     `json:"source_id"`
	Title             string     `json:"title"`
	Employer          string     `json:"employer"`
	Location          string     `json:"location"`
	Deadline          string     `json:"deadline,omitempty"`
	ApplyURL          string     `json:"apply_url"`
	Description       string     `json:"description,omitempty"`
	Requirements      string     `json:"requirements,omitempty"`
	PostedOn          string     `json:"posted_on,omitempty"`
	Status            JobStatus  `json:"status"`
	OverallConfidence float64    `json:"overall_confidence"`
	NeedsReview       bool       `json:"needs_review"`
	FirstSeenAt       time.Time  `json:"first_seen_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// Outcome classifies what the storage writer did with one extraction result.
type Outcome string

// Persist outcomes emitted per extraction attempt.
const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeRestored Outcome = "restored"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// CrawlCounters tracks per-run ingest stats for one source crawl.
type CrawlCounters struct {
	Found    int `json:"found"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Add merges one persist outcome into the counters.
func (c *CrawlCounters) Add(outcome Outcome) {
	switch outcome {
	case OutcomeInserted:
		c.Inserted++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeRestored:
		c.Restored++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeFailed:
		c.Failed++
	}
}

// CrawlLog is the append-only record of one crawl run.
type CrawlLog struct {
	ID         string        `json:"id"`
	SourceID   string        `json:"source_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Counters   CrawlCounters `json:"counters"`
	Message    string        `json:"message,omitempty"`
}

// ExtractionLog is the append-only record of one extraction attempt.
type ExtractionLog struct {
	ID                string          `json:"id"`
	SourceID          string          `json:"source_id"`
	URL               string          `json:"url"`
	Pipeline          PipelineVersion `json:"pipeline"`
	Outcome           Outcome         `json:"outcome"`
	Reason            string          `json:"reason,omitempty"`
	OverallConfidence float64         `json:"overall_confidence"`
	NeedsReview       bool            `json:"needs_review"`
	Shadow            bool            `json:"shadow"`
	CreatedAt         time.Time       `json:"created_at"`
}

// FailedInsert captures one storage write failure with its raw payload so the
// batch can continue and operators can replay later.
type FailedInsert struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	URL       string    `json:"url"`
	Payload   []byte    `json:"payload"`
	ErrorText string    `json:"error_text"`
	CreatedAt time.Time `json:"created_at"`
}

// OutcomeCounts aggregates persist outcomes over a monitor window.
type OutcomeCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Total returns the denominator used for failure-rate evaluation.
func (c OutcomeCounts) Total() int {
	return c.Inserted + c.Updated + c.Restored + c.Skipped + c.Failed
}

// FailureRate returns failed/total, or 0 when the window is empty.
func (c OutcomeCounts) FailureRate() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Failed) / float64(total)
}

// DomainPolicy holds per-host crawl politeness and extraction settings.
type DomainPolicy struct {
	Host               string               `json:"host"`
	MaxConcurrency     int                  `json:"max_concurrency"`
	MinRequestInterval time.Duration        `json:"min_request_interval"`
	RobotsOverride     bool                 `json:"robots_override"`
	Selectors          map[FieldName]string `json:"selectors,omitempty"`
}

// RobotsRecord caches one host's robots.txt body with its fetch time.
type RobotsRecord struct {
	Host      string    `json:"host"`
	Body      []byte    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
}

// FetchRequest captures everything needed to fetch one URL politely.
type FetchRequest struct {
	SourceID string
	URL      string
	Policy   DomainPolicy
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	RawPageID  string
}

// Lock represents one held per-source crawl lock.
type Lock struct {
	SourceID string
	Holder   string
	LockedAt time.Time
}

// JobFilter narrows job listings for the read API.
type JobFilter struct {
	SourceID string
	Shadow   bool
	Limit    int
	Offset   int
}
