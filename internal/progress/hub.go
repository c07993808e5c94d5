package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls hub buffering and flush behavior.
type Config struct {
	// BufferSize is the capacity of the intake channel. Emit drops
	// events once the buffer is full.
	BufferSize int
	// MaxBatchEvents flushes a batch once it reaches this many events.
	MaxBatchEvents int
	// MaxBatchWait flushes a partial batch after this much time.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each sink's Consume call.
	SinkTimeout time.Duration
	// Logger receives hub diagnostics. Defaults to zap.NewNop().
	Logger *zap.Logger
}

func (c *Config) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = 64
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = 2 * time.Second
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Hub buffers events and fans them out to sinks in batches. Emit never
// blocks the caller; when the buffer is full events are counted and
// dropped.
type Hub struct {
	cfg   Config
	sinks []Sink
	in    chan Event

	dropped  atomic.Uint64
	lastWarn atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	log       *zap.Logger
}

// NewHub starts a hub flushing to the given sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg.defaults()
	h := &Hub{
		cfg:   cfg,
		sinks: sinks,
		in:    make(chan Event, cfg.BufferSize),
		done:  make(chan struct{}),
		log:   cfg.Logger.Named("progress"),
	}
	go h.run()
	return h
}

// Emit enqueues an event without blocking. Invalid events are dropped.
func (h *Hub) Emit(e Event) {
	if err := e.Validate(); err != nil {
		h.log.Warn("invalid progress event dropped", zap.Error(err))
		return
	}
	select {
	case h.in <- e:
	default:
		h.noteDrop()
	}
}

// Close drains buffered events, closes the sinks, and stops the hub.
// The context bounds how long the drain may take.
func (h *Hub) Close(ctx context.Context) error {
	var err error
	h.closeOnce.Do(func() {
		close(h.in)
		select {
		case <-h.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		for _, s := range h.sinks {
			if cerr := s.Close(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// Dropped reports the number of events discarded due to a full buffer.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) run() {
	defer close(h.done)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		h.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-h.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= h.cfg.MaxBatchEvents {
				flush()
				resetTimer(timer, h.cfg.MaxBatchWait)
			}
		case <-timer.C:
			flush()
			timer.Reset(h.cfg.MaxBatchWait)
		}
	}
}

func (h *Hub) flush(batch []Event) {
	events := make([]Event, len(batch))
	copy(events, batch)
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := s.Consume(ctx, events); err != nil {
			h.log.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) noteDrop() {
	n := h.dropped.Add(1)
	now := time.Now().Unix()
	last := h.lastWarn.Load()
	if now-last >= 30 && h.lastWarn.CompareAndSwap(last, now) {
		h.log.Warn("progress buffer full, dropping events", zap.Uint64("dropped_total", n))
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
