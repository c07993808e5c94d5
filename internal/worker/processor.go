// Package worker runs one source crawl end to end: lock, fetch, discover,
// extract, persist, and bookkeeping.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/ingest"
	"github.com/reliefworks/jobharvester/internal/metrics"
	"github.com/reliefworks/jobharvester/internal/progress"
	"github.com/reliefworks/jobharvester/internal/rollout"
)

// Options tunes per-crawl behavior.
type Options struct {
	// MaxLinksPerSource caps how many posting pages one crawl visits.
	MaxLinksPerSource int
	// AutoPauseFailures pauses a source after this many consecutive failed
	// crawls. Zero disables auto-pause.
	AutoPauseFailures int
	// DefaultFrequency schedules the next run for sources without an
	// explicit crawl frequency.
	DefaultFrequency time.Duration
	// Progress receives crawl milestone events. Nil disables reporting.
	Progress progress.Emitter
}

// Processor crawls one source at a time. Crawls of the same source are
// mutually exclusive through the lock manager.
type Processor struct {
	fetcher  harvest.Fetcher
	router   *rollout.Router
	pipeline harvest.Extractor
	legacy   harvest.Extractor
	writer   *ingest.Writer
	sources  harvest.SourceStore
	locks    harvest.LockManager
	crawls   harvest.CrawlLogStore
	policies harvest.DomainPolicyStore
	ids      harvest.IDGenerator
	clock    harvest.Clock
	logger   *zap.Logger
	opts     Options
}

// NewProcessor wires a crawl processor.
func NewProcessor(fetcher harvest.Fetcher, router *rollout.Router, pipeline, legacy harvest.Extractor, writer *ingest.Writer, sources harvest.SourceStore, locks harvest.LockManager, crawls harvest.CrawlLogStore, policies harvest.DomainPolicyStore, ids harvest.IDGenerator, clock harvest.Clock, logger *zap.Logger, opts Options) *Processor {
	if opts.MaxLinksPerSource <= 0 {
		opts.MaxLinksPerSource = 25
	}
	if opts.DefaultFrequency <= 0 {
		opts.DefaultFrequency = 24 * time.Hour
	}
	if opts.Progress == nil {
		opts.Progress = progress.Nop{}
	}
	return &Processor{
		fetcher:  fetcher,
		router:   router,
		pipeline: pipeline,
		legacy:   legacy,
		writer:   writer,
		sources:  sources,
		locks:    locks,
		crawls:   crawls,
		policies: policies,
		ids:      ids,
		clock:    clock,
		logger:   logger.Named("worker"),
		opts:     opts,
	}
}

// ProcessSource crawls one source. A busy lock returns ErrLockBusy without
// doing any work; every other path records a crawl log and reschedules the
// source.
func (p *Processor) ProcessSource(ctx context.Context, source harvest.Source) (harvest.CrawlLog, error) {
	lock, err := p.locks.Acquire(ctx, source.ID)
	if err != nil {
		if errors.Is(err, harvest.ErrLockBusy) {
			p.logger.Debug("source locked, skipping", zap.String("source_id", source.ID))
		}
		return harvest.CrawlLog{}, err
	}
	defer func() {
		if err := p.locks.Release(ctx, lock); err != nil {
			p.logger.Warn("releasing crawl lock", zap.String("source_id", source.ID), zap.Error(err))
		}
	}()

	metrics.IncActiveCrawls()
	defer metrics.DecActiveCrawls()

	started := p.clock.Now()
	p.opts.Progress.Emit(progress.Event{
		SourceID: source.ID,
		TS:       started,
		Stage:    progress.StageCrawlStart,
		URL:      source.CareersURL,
	})
	counters, message, crawlFailed := p.crawl(ctx, source)
	finished := p.clock.Now()

	stage := progress.StageCrawlDone
	if crawlFailed {
		stage = progress.StageCrawlError
	}
	p.opts.Progress.Emit(progress.Event{
		SourceID: source.ID,
		TS:       finished,
		Stage:    stage,
		Dur:      finished.Sub(started),
		Note:     message,
	})

	p.reschedule(ctx, source, crawlFailed, counters)

	log := harvest.CrawlLog{
		SourceID:   source.ID,
		StartedAt:  started,
		FinishedAt: finished,
		Counters:   counters,
		Message:    message,
	}
	if id, err := p.ids.NewID(); err == nil {
		log.ID = id
	}
	if err := p.crawls.RecordCrawl(ctx, log); err != nil {
		p.logger.Error("recording crawl log", zap.String("source_id", source.ID), zap.Error(err))
	}

	p.logger.Info("crawl finished",
		zap.String("source_id", source.ID),
		zap.String("org", source.OrgName),
		zap.Int("found", counters.Found),
		zap.Int("inserted", counters.Inserted),
		zap.Int("updated", counters.Updated),
		zap.Int("skipped", counters.Skipped),
		zap.Int("failed", counters.Failed),
		zap.Bool("crawl_failed", crawlFailed),
	)
	return log, nil
}

// crawl fetches the careers page, discovers posting links, and ingests each
// one. It reports whether the crawl as a whole failed (index unreachable),
// as opposed to individual postings failing.
func (p *Processor) crawl(ctx context.Context, source harvest.Source) (harvest.CrawlCounters, string, bool) {
	var counters harvest.CrawlCounters

	policy := p.policyFor(ctx, source.CareersURL)
	index, err := p.fetcher.Fetch(ctx, harvest.FetchRequest{
		SourceID: source.ID,
		URL:      source.CareersURL,
		Policy:   policy,
	})
	if err != nil {
		return counters, fmt.Sprintf("fetching careers page: %v", err), true
	}

	links := DiscoverJobLinks(index.Body, source.CareersURL, p.opts.MaxLinksPerSource)
	if len(links) == 0 {
		// Single-posting sources publish the job on the careers URL itself.
		counters.Found = 1
		p.ingestPage(ctx, source, source.CareersURL, index.Body, &counters)
		return counters, "", false
	}

	counters.Found = len(links)
	for _, link := range links {
		if ctx.Err() != nil {
			return counters, "crawl canceled", false
		}
		page, err := p.fetcher.Fetch(ctx, harvest.FetchRequest{
			SourceID: source.ID,
			URL:      link,
			Policy:   p.policyFor(ctx, link),
		})
		if err != nil {
			if errors.Is(err, harvest.ErrRobotsDisallowed) {
				counters.Skipped++
			} else {
				counters.Failed++
			}
			p.logger.Warn("fetching posting page",
				zap.String("source_id", source.ID),
				zap.String("url", link),
				zap.Error(err),
			)
			continue
		}
		p.ingestPage(ctx, source, link, page.Body, &counters)
	}
	return counters, "", false
}

func (p *Processor) ingestPage(ctx context.Context, source harvest.Source, pageURL string, body []byte, counters *harvest.CrawlCounters) {
	route := p.router.Route(pageURL)

	extractor := p.legacy
	if route.Pipeline == harvest.PipelineNew {
		extractor = p.pipeline
	}
	result, err := extractor.Extract(ctx, body, pageURL)
	if err != nil {
		counters.Failed++
		p.logger.Warn("extraction failed",
			zap.String("url", pageURL),
			zap.String("pipeline", string(route.Pipeline)),
			zap.Error(err),
		)
		return
	}

	outcome, err := p.writer.Persist(ctx, source.ID, result, route)
	if err != nil {
		counters.Failed++
		p.logger.Error("persisting result", zap.String("url", pageURL), zap.Error(err))
		return
	}
	counters.Add(outcome)
	p.opts.Progress.Emit(progress.Event{
		SourceID: source.ID,
		TS:       p.clock.Now(),
		Stage:    progress.StagePageIngested,
		URL:      pageURL,
		Outcome:  outcome,
	})
}

// reschedule updates next_run_at and the failure streak, auto-pausing
// sources that keep failing.
func (p *Processor) reschedule(ctx context.Context, source harvest.Source, crawlFailed bool, counters harvest.CrawlCounters) {
	frequency := p.opts.DefaultFrequency
	if source.CrawlFrequencyDays > 0 {
		frequency = time.Duration(source.CrawlFrequencyDays) * 24 * time.Hour
	}
	nextRun := p.clock.Now().Add(frequency)
	changed := counters.Inserted+counters.Updated+counters.Restored > 0

	streak, err := p.sources.RecordRun(ctx, source.ID, nextRun, crawlFailed, changed)
	if err != nil {
		p.logger.Error("recording run", zap.String("source_id", source.ID), zap.Error(err))
		return
	}
	if crawlFailed && p.opts.AutoPauseFailures > 0 && streak >= p.opts.AutoPauseFailures {
		if err := p.sources.SetStatus(ctx, source.ID, harvest.SourceStatusPaused); err != nil {
			p.logger.Error("pausing source", zap.String("source_id", source.ID), zap.Error(err))
			return
		}
		p.logger.Warn("source auto-paused after repeated failures",
			zap.String("source_id", source.ID),
			zap.Int("consecutive_failures", streak),
		)
	}
}

func (p *Processor) policyFor(ctx context.Context, rawURL string) harvest.DomainPolicy {
	u, err := url.Parse(rawURL)
	if err != nil {
		return harvest.DomainPolicy{}
	}
	policy, err := p.policies.GetPolicy(ctx, strings.ToLower(u.Hostname()))
	if err != nil {
		return harvest.DomainPolicy{}
	}
	return policy
}
