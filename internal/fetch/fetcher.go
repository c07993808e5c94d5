package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/metrics"
)

// Options tunes the fetch client.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	BlobPrefix   string
	ContentType  string
}

// Client implements harvest.Fetcher. Every attempt, succeeding or not,
// leaves a RawPage audit row; successful bodies are snapshotted to the blob
// store.
type Client struct {
	base    *colly.Collector
	robots  *RobotsAgent
	limiter *HostLimiter
	retry   *harvest.ExponentialRetryPolicy
	pages   harvest.RawPageStore
	blobs   harvest.BlobStore
	ids     harvest.IDGenerator
	clock   harvest.Clock
	logger  *zap.Logger
	opts    Options
}

// NewClient builds the polite fetcher. Robots handling is done by the agent,
// not by colly, so per-domain overrides work.
func NewClient(robots *RobotsAgent, limiter *HostLimiter, retry *harvest.ExponentialRetryPolicy, pages harvest.RawPageStore, blobs harvest.BlobStore, ids harvest.IDGenerator, clock harvest.Clock, logger *zap.Logger, opts Options) *Client {
	base := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if opts.Timeout > 0 {
		base.SetRequestTimeout(opts.Timeout)
	}
	if opts.MaxBodyBytes > 0 {
		base.MaxBodySize = opts.MaxBodyBytes
	}
	return &Client{
		base:    base,
		robots:  robots,
		limiter: limiter,
		retry:   retry,
		pages:   pages,
		blobs:   blobs,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("fetch"),
		opts:    opts,
	}
}

// Fetch implements harvest.Fetcher.
func (c *Client) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	u, err := url.Parse(request.URL)
	if err != nil {
		return harvest.FetchResponse{}, fmt.Errorf("parsing fetch url: %w", err)
	}
	host := strings.ToLower(u.Hostname())

	allowed, err := c.robots.Allowed(ctx, request.URL, request.Policy)
	if err != nil {
		return harvest.FetchResponse{}, err
	}
	if !allowed {
		metrics.ObserveRobotsDenied(host)
		return harvest.FetchResponse{}, fmt.Errorf("%s: %w", request.URL, harvest.ErrRobotsDisallowed)
	}

	var lastStatus int
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return harvest.FetchResponse{}, err
		}

		release, err := c.limiter.Acquire(ctx, host, request.Policy)
		if err != nil {
			return harvest.FetchResponse{}, err
		}
		started := c.clock.Now()
		status, headers, body, visitErr := c.visit(request.URL)
		release()
		duration := c.clock.Now().Sub(started)

		pageID := c.recordAttempt(ctx, request, status, headers, body)
		metrics.ObserveFetch(host, metrics.ClassifyStatus(status), len(body))

		if visitErr == nil && status >= 200 && status < 300 {
			return harvest.FetchResponse{
				URL:        request.URL,
				StatusCode: status,
				Headers:    headers,
				Body:       body,
				Duration:   duration,
				RawPageID:  pageID,
			}, nil
		}

		lastStatus, lastErr = status, visitErr
		// For HTTP-level failures the status code alone decides
		// retryability; colly wraps them in generic errors.
		retryErr := visitErr
		if status >= 400 {
			retryErr = nil
		}
		if !c.retry.ShouldRetry(status, retryErr, attempt+1) {
			break
		}
		metrics.ObserveFetchRetry()
		backoff := c.retry.Backoff(attempt)
		c.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("status", status),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return harvest.FetchResponse{}, ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("unexpected status")
	}
	return harvest.FetchResponse{}, &harvest.FetchError{
		URL:        request.URL,
		StatusCode: lastStatus,
		Err:        lastErr,
	}
}

// visit runs one request on a collector clone so per-request callbacks never
// leak into the shared base.
func (c *Client) visit(rawURL string) (int, http.Header, []byte, error) {
	clone := c.base.Clone()

	var (
		status  int
		headers http.Header
		body    []byte
		reqErr  error
	)
	clone.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		if r.Headers != nil {
			headers = *r.Headers
		}
		body = r.Body
	})
	clone.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
			if r.Headers != nil {
				headers = *r.Headers
			}
			body = r.Body
		}
		reqErr = err
	})

	if err := clone.Visit(rawURL); err != nil {
		reqErr = err
	}
	clone.Wait()
	return status, headers, body, reqErr
}

// recordAttempt writes the RawPage audit row and, when a body came back,
// snapshots it to the blob store. Audit failures are logged, never fatal.
func (c *Client) recordAttempt(ctx context.Context, request harvest.FetchRequest, status int, headers http.Header, body []byte) string {
	pageID, err := c.ids.NewID()
	if err != nil {
		c.logger.Warn("generating raw page id failed", zap.Error(err))
		return ""
	}

	var blobURI string
	if len(body) > 0 && c.blobs != nil {
		path := c.blobPath(request.URL, pageID)
		contentType := headers.Get("Content-Type")
		if contentType == "" {
			contentType = c.opts.ContentType
		}
		uri, err := c.blobs.PutObject(ctx, path, contentType, bytes.NewReader(body))
		if err != nil {
			c.logger.Warn("storing raw page blob failed",
				zap.String("url", request.URL),
				zap.Error(err),
			)
		} else {
			blobURI = uri
		}
	}

	page := harvest.RawPage{
		ID:         pageID,
		SourceID:   request.SourceID,
		URL:        request.URL,
		StatusCode: status,
		Headers:    headers,
		ByteLen:    len(body),
		BlobURI:    blobURI,
		FetchedAt:  c.clock.Now(),
	}
	if err := c.pages.RecordPage(ctx, page); err != nil {
		c.logger.Warn("recording raw page failed",
			zap.String("url", request.URL),
			zap.Error(err),
		)
	}
	return pageID
}

func (c *Client) blobPath(rawURL, pageID string) string {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	day := c.clock.Now().UTC().Format("2006-01-02")
	prefix := strings.Trim(c.opts.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.html", host, day, pageID)
	}
	return fmt.Sprintf("%s/%s/%s/%s.html", prefix, host, day, pageID)
}

var _ harvest.Fetcher = (*Client)(nil)
