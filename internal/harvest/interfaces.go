package harvest

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL politely and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns fetched HTML into a typed, confidence-scored result.
type Extractor interface {
	Extract(ctx context.Context, html []byte, url string) (ExtractionResult, error)
}

// SourceStore persists crawlable sources and their scheduling state.
type SourceStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]Source, error)
	GetSource(ctx context.Context, id string) (Source, error)
	// RecordRun updates next_run_at and the consecutive counters after a
	// crawl finishes, returning the updated failure streak so the caller can
	// decide about auto-pausing.
	RecordRun(ctx context.Context, id string, nextRun time.Time, failed, changed bool) (int, error)
	SetStatus(ctx context.Context, id string, status SourceStatus) error
}

// JobStore persists canonical job records in the production or shadow table.
type JobStore interface {
	FindByHash(ctx context.Context, hash string, target StorageTarget) (Job, error)
	Insert(ctx context.Context, job Job, target StorageTarget) error
	Update(ctx context.Context, job Job, target StorageTarget) error
	Restore(ctx context.Context, id string, at time.Time, target StorageTarget) error
	GetJob(ctx context.Context, id string, target StorageTarget) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
}

// RawPageStore records one row per fetch attempt for audits and re-extraction.
type RawPageStore interface {
	RecordPage(ctx context.Context, page RawPage) error
}

// CrawlLogStore appends one row per crawl run.
type CrawlLogStore interface {
	RecordCrawl(ctx context.Context, log CrawlLog) error
}

// ExtractionLogStore appends one row per extraction attempt and serves the
// failure-rate monitor's windowed counts.
type ExtractionLogStore interface {
	RecordExtraction(ctx context.Context, log ExtractionLog) error
	CountOutcomes(ctx context.Context, since time.Time) (OutcomeCounts, error)
}

// FailedInsertStore captures storage write failures with their payloads.
type FailedInsertStore interface {
	RecordFailure(ctx context.Context, failure FailedInsert) error
}

// LockManager provides non-blocking per-source crawl mutual exclusion. The
// implementation must be safe across independent worker processes.
type LockManager interface {
	// Acquire returns ErrLockBusy when the lock is already held.
	Acquire(ctx context.Context, sourceID string) (Lock, error)
	Release(ctx context.Context, lock Lock) error
}

// RobotsCacheStore persists fetched robots.txt bodies per host.
type RobotsCacheStore interface {
	GetRobots(ctx context.Context, host string) (RobotsRecord, error)
	PutRobots(ctx context.Context, record RobotsRecord) error
}

// DomainPolicyStore resolves per-host crawl policies. Implementations return
// ErrNotFound for hosts without an explicit policy.
type DomainPolicyStore interface {
	GetPolicy(ctx context.Context, host string) (DomainPolicy, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes ingest events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for canonical hashing and blob paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// CrawlTask wraps one due source ready to crawl.
type CrawlTask struct {
	Source    Source
	Submitted int64
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, task CrawlTask) error
	Dequeue(ctx context.Context) (CrawlTask, error)
}
