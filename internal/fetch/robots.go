// Package fetch retrieves pages politely: robots.txt aware, rate limited
// per host, with bounded retries and a full audit trail.
package fetch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"context"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// RobotsAgent answers "may I fetch this URL" from a TTL-cached robots.txt.
// Unreachable or malformed robots files fail open so a broken robots server
// cannot silence a source.
type RobotsAgent struct {
	cache     harvest.RobotsCacheStore
	client    *http.Client
	userAgent string
	ttl       time.Duration
	clock     harvest.Clock
	logger    *zap.Logger
}

// NewRobotsAgent builds a robots agent over the given cache store.
func NewRobotsAgent(cache harvest.RobotsCacheStore, client *http.Client, userAgent string, ttl time.Duration, clock harvest.Clock, logger *zap.Logger) *RobotsAgent {
	return &RobotsAgent{
		cache:     cache,
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		clock:     clock,
		logger:    logger.Named("robots"),
	}
}

// Allowed reports whether the URL may be fetched. A policy override bypasses
// robots entirely for hosts the operator has explicit permission for.
func (a *RobotsAgent) Allowed(ctx context.Context, rawURL string, policy harvest.DomainPolicy) (bool, error) {
	if policy.RobotsOverride {
		return true, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parsing url for robots check: %w", err)
	}
	host := strings.ToLower(u.Hostname())

	body, err := a.robotsBody(ctx, u.Scheme, u.Host)
	if err != nil {
		// Fail open: politeness must not become an outage.
		a.logger.Warn("robots.txt unavailable, allowing fetch",
			zap.String("host", host),
			zap.Error(err),
		)
		return true, nil
	}
	if len(body) == 0 {
		return true, nil
	}

	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		a.logger.Warn("robots.txt unparsable, allowing fetch",
			zap.String("host", host),
			zap.Error(err),
		)
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return robots.FindGroup(a.userAgent).Test(path), nil
}

// robotsBody returns the cached robots.txt body for the host, refetching
// when the cache entry is missing or older than the TTL.
func (a *RobotsAgent) robotsBody(ctx context.Context, scheme, hostport string) ([]byte, error) {
	host := strings.ToLower(hostport)
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}

	now := a.clock.Now()
	record, err := a.cache.GetRobots(ctx, host)
	if err == nil && now.Sub(record.FetchedAt) < a.ttl {
		return record.Body, nil
	}
	if err != nil && !errors.Is(err, harvest.ErrNotFound) {
		return nil, fmt.Errorf("reading robots cache: %w", err)
	}

	body, fetchErr := a.fetchRobots(ctx, scheme, hostport)
	if fetchErr != nil {
		// Serve a stale entry over nothing.
		if err == nil {
			return record.Body, nil
		}
		return nil, fetchErr
	}

	if putErr := a.cache.PutRobots(ctx, harvest.RobotsRecord{
		Host:      host,
		Body:      body,
		FetchedAt: now,
	}); putErr != nil {
		a.logger.Warn("caching robots.txt failed", zap.String("host", host), zap.Error(putErr))
	}
	return body, nil
}

func (a *RobotsAgent) fetchRobots(ctx context.Context, scheme, hostport string) ([]byte, error) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, hostport)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building robots request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", robotsURL, err)
	}
	defer resp.Body.Close()

	// A missing robots.txt means everything is allowed.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", robotsURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, fmt.Errorf("reading robots body: %w", err)
	}
	return body, nil
}
