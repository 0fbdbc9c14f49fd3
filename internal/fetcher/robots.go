package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	robotsTxtPath      = "/robots.txt"
	maxRobotsBodyBytes = 512 * 1024
)

// RobotsChecker fetches robots.txt once per host and caches the parsed
// rules for the configured TTL. A missing, non-2xx, unparseable or
// unreachable robots.txt allows everything.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	hosts map[string]*robotsEntry
}

type robotsEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// allows reports whether path is allowed. A nil group allows everything.
func (e *robotsEntry) allows(path string) bool {
	if e.group == nil {
		return true
	}
	return e.group.Test(path)
}

// NewRobotsChecker creates a RobotsChecker.
func NewRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *RobotsChecker {
	if ttl <= 0 {
		ttl = defaultRobotsCacheTTL
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		now:       time.Now,
		hosts:     make(map[string]*robotsEntry),
	}
}

// Allowed reports whether the URL may be fetched. The host's robots.txt is
// fetched on first use and again after the TTL expires.
func (r *RobotsChecker) Allowed(ctx context.Context, u *url.URL) (bool, error) {
	host := strings.ToLower(u.Host)
	if host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", u.String())
	}

	entry := r.entry(ctx, u.Scheme, host)

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return entry.allows(path), nil
}

// CrawlDelay returns the Crawl-delay directive for host, or zero when none
// is cached.
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.hosts[strings.ToLower(host)]
	if !ok || entry.group == nil {
		return 0
	}
	return entry.group.CrawlDelay
}

func (r *RobotsChecker) entry(ctx context.Context, scheme, host string) *robotsEntry {
	r.mu.RLock()
	entry, ok := r.hosts[host]
	r.mu.RUnlock()

	if ok && r.now().Sub(entry.fetchedAt) <= r.ttl {
		return entry
	}

	entry = &robotsEntry{
		group:     r.fetchGroup(ctx, scheme, host),
		fetchedAt: r.now(),
	}

	r.mu.Lock()
	r.hosts[host] = entry
	r.mu.Unlock()

	return entry
}

// fetchGroup downloads and parses robots.txt, returning the group for our
// user agent. Any failure yields nil (allow all).
func (r *RobotsChecker) fetchGroup(ctx context.Context, scheme, host string) *robotstxt.Group {
	if scheme == "" {
		scheme = "https"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+robotsTxtPath, http.NoBody)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req) //nolint:gosec // URL built from crawl target host
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}

	return data.FindGroup(r.userAgent)
}
