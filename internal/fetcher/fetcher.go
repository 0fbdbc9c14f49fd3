// Package fetcher issues robots-compliant, per-source rate-limited HTTP
// requests and reports failures as typed FetchErrors. It never retries.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
)

// Page is a successfully fetched document.
type Page struct {
	// URL is the final URL after redirects.
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// Observer receives one call per completed fetch attempt.
type Observer interface {
	ObserveFetch(sourceID string, outcome string, elapsed time.Duration)
}

// Fetcher fetches pages for crawl jobs.
type Fetcher struct {
	cfg      Config
	client   *http.Client
	robots   *RobotsChecker
	gates    *gateSet
	observer Observer
	logger   logger.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client. The redirect policy and timeout
// from Config are applied to a copy of it.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		clone := *c
		f.client = &clone
	}
}

// WithObserver registers a fetch observer.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		f.observer = o
	}
}

// New creates a Fetcher.
func New(cfg Config, log logger.Logger, opts ...Option) *Fetcher {
	cfg = cfg.WithDefaults()

	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{},
		gates:  newGateSet(),
		logger: log,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.client.Timeout = cfg.RequestTimeout
	f.client.CheckRedirect = RedirectPolicy(cfg.MaxRedirects)
	f.robots = NewRobotsChecker(f.client, cfg.UserAgent, cfg.RobotsCacheTTL)

	return f
}

// Robots returns the robots.txt checker used by the fetcher.
func (f *Fetcher) Robots() *RobotsChecker {
	return f.robots
}

// Fetch retrieves rawURL under the given politeness rules. A URL disallowed
// by robots.txt returns a KindDisallowed FetchError without any request to it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, p Politeness) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &FetchError{URL: rawURL, Kind: KindNetwork, Err: fmt.Errorf("invalid url: %q", rawURL)}
	}

	if !f.cfg.IgnoreRobots {
		allowed, robotsErr := f.robots.Allowed(ctx, u)
		if robotsErr != nil {
			return nil, &FetchError{URL: rawURL, Kind: KindNetwork, Err: robotsErr}
		}
		if !allowed {
			f.observe(p.SourceID, string(KindDisallowed), 0)
			return nil, &FetchError{URL: rawURL, Kind: KindDisallowed}
		}
	}

	delay := p.Delay
	if f.cfg.RespectCrawlDelay {
		if robotsDelay := f.robots.CrawlDelay(u.Host); robotsDelay > delay {
			delay = robotsDelay
		}
	}

	release, err := f.gates.acquire(ctx, p.SourceID, delay)
	if err != nil {
		return nil, transportError(rawURL, err)
	}
	defer release()

	start := time.Now()
	page, fetchErr := f.do(ctx, rawURL)
	elapsed := time.Since(start)

	if fetchErr != nil {
		f.observe(p.SourceID, string(fetchErr.Kind), elapsed)
		f.logger.Debug("Fetch failed",
			logger.SourceID(p.SourceID),
			logger.URL(rawURL),
			logger.String("kind", string(fetchErr.Kind)),
			logger.Error(fetchErr),
		)
		return nil, fetchErr
	}

	f.observe(p.SourceID, "ok", elapsed)
	return page, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*Page, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: KindNetwork, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req) //nolint:gosec // URL comes from a configured source or its links
	if err != nil {
		return nil, transportError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
		return nil, &FetchError{URL: rawURL, Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, transportError(rawURL, fmt.Errorf("read body: %w", err))
	}

	return &Page{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now(),
	}, nil
}

func (f *Fetcher) observe(sourceID, outcome string, elapsed time.Duration) {
	if f.observer != nil {
		f.observer.ObserveFetch(sourceID, outcome, elapsed)
	}
}
