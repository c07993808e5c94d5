// Package schedule finds due sources on a cron cadence and feeds them to
// crawl workers through the task queue.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// Scheduler enqueues due sources on each cron tick. Overlapping runs for
// a single source are prevented downstream by the lock manager, so the
// scheduler itself stays simple.
type Scheduler struct {
	sources   harvest.SourceStore
	queue     harvest.Queue
	batchSize int
	clock     harvest.Clock
	logger    *zap.Logger

	cron *cron.Cron
}

// NewScheduler builds a scheduler that enqueues at most batchSize sources
// per tick.
func NewScheduler(sources harvest.SourceStore, queue harvest.Queue, batchSize int, clock harvest.Clock, logger *zap.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{
		sources:   sources,
		queue:     queue,
		batchSize: batchSize,
		clock:     clock,
		logger:    logger.Named("scheduler"),
	}
}

// Start begins ticking on the cron spec until Stop is called.
func (s *Scheduler) Start(ctx context.Context, cronSpec string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(cronSpec, func() {
		if err := s.EnqueueDue(ctx); err != nil {
			s.logger.Error("enqueueing due sources", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("cron", cronSpec))
	return nil
}

// Stop halts ticking and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// EnqueueDue pushes every currently-due source onto the queue. Exposed so
// operators can trigger a run outside the cron cadence.
func (s *Scheduler) EnqueueDue(ctx context.Context) error {
	now := s.clock.Now()
	due, err := s.sources.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return err
	}
	for _, source := range due {
		task := harvest.CrawlTask{Source: source, Submitted: now.Unix()}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			if errors.Is(err, harvest.ErrAlreadyQueued) {
				s.logger.Debug("source already queued", zap.String("source_id", source.ID))
				continue
			}
			return err
		}
	}
	if len(due) > 0 {
		s.logger.Info("enqueued due sources", zap.Int("count", len(due)))
	}
	return nil
}

// SourceProcessor is the downstream consumer contract, satisfied by the
// worker processor.
type SourceProcessor interface {
	ProcessSource(ctx context.Context, source harvest.Source) (harvest.CrawlLog, error)
}

// Dispatcher drains the queue with a fixed pool of workers.
type Dispatcher struct {
	queue     harvest.Queue
	processor SourceProcessor
	workers   int
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher with the given pool size.
func NewDispatcher(queue harvest.Queue, processor SourceProcessor, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		queue:     queue,
		processor: processor,
		workers:   workers,
		logger:    logger.Named("dispatcher"),
	}
}

// Start launches the worker pool. Workers exit when the context ends or the
// queue closes.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.run(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, id int) {
	logger := d.logger.With(zap.Int("worker", id))
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug("queue drained", zap.Error(err))
			return
		}

		_, err = d.processor.ProcessSource(ctx, task.Source)
		switch {
		case err == nil:
		case errors.Is(err, harvest.ErrLockBusy):
			// Another worker or process beat us to it.
		case ctx.Err() != nil:
			return
		default:
			logger.Error("processing source",
				zap.String("source_id", task.Source.ID),
				zap.Error(err),
			)
		}

		// Surface pickup latency when the queue backs up.
		if task.Submitted > 0 {
			if wait := time.Since(time.Unix(task.Submitted, 0)); wait > time.Minute {
				logger.Warn("task waited in queue",
					zap.String("source_id", task.Source.ID),
					zap.Duration("wait", wait),
				)
			}
		}
	}
}
