package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/metrics"
)

// HostLimiter enforces the politeness envelope: a global in-flight cap, a
// per-host concurrency cap, and a per-host minimum request interval.
type HostLimiter struct {
	global          chan struct{}
	defaultPerHost  int
	defaultInterval time.Duration

	mu    sync.Mutex
	gates map[string]*hostGate
}

type hostGate struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewHostLimiter builds a limiter with the given global cap and per-host
// defaults. Domain policies may tighten or loosen individual hosts.
func NewHostLimiter(globalConcurrency, perHost int, interval time.Duration) *HostLimiter {
	if globalConcurrency < 1 {
		globalConcurrency = 1
	}
	if perHost < 1 {
		perHost = 1
	}
	return &HostLimiter{
		global:          make(chan struct{}, globalConcurrency),
		defaultPerHost:  perHost,
		defaultInterval: interval,
		gates:           make(map[string]*hostGate),
	}
}

// Acquire blocks until a slot for host is available, honoring ctx. The
// returned release function must be called exactly once.
func (l *HostLimiter) Acquire(ctx context.Context, host string, policy harvest.DomainPolicy) (func(), error) {
	gate := l.gateFor(host, policy)
	start := time.Now()

	select {
	case l.global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case gate.sem <- struct{}{}:
	case <-ctx.Done():
		<-l.global
		return nil, ctx.Err()
	}

	if err := gate.limiter.Wait(ctx); err != nil {
		<-gate.sem
		<-l.global
		return nil, err
	}

	if waited := time.Since(start); waited > 0 {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return func() {
		<-gate.sem
		<-l.global
	}, nil
}

func (l *HostLimiter) gateFor(host string, policy harvest.DomainPolicy) *hostGate {
	host = strings.ToLower(host)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gate, ok := l.gates[host]; ok {
		return gate
	}

	perHost := l.defaultPerHost
	if policy.MaxConcurrency > 0 {
		perHost = policy.MaxConcurrency
	}
	interval := l.defaultInterval
	if policy.MinRequestInterval > 0 {
		interval = policy.MinRequestInterval
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	gate := &hostGate{
		sem:     make(chan struct{}, perHost),
		limiter: rate.NewLimiter(limit, 1),
	}
	l.gates[host] = gate
	return gate
}
