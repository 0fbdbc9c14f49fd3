// Package domain holds the crawl-core data model shared by the registry,
// job controller, repositories and API.
package domain

import (
	"time"
)

// Cadence is how often a source is crawled automatically.
type Cadence string

const (
	CadenceManual  Cadence = "manual"
	CadenceHourly  Cadence = "hourly"
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Valid reports whether c is one of the known cadences.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceManual, CadenceHourly, CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	default:
		return false
	}
}

// SourceStatus is the operator-facing health of a source.
type SourceStatus string

const (
	SourceStatusActive   SourceStatus = "active"
	SourceStatusInactive SourceStatus = "inactive"
	SourceStatusError    SourceStatus = "error"
)

// Default politeness values for new sources.
const (
	DefaultMaxPages = 10
	DefaultDelay    = 1.0
)

// Selectors are the CSS selectors used to pull fields from a page.
// Empty values fall back to the extractor defaults.
type Selectors struct {
	Content string `db:"content_selector" json:"content_selector"`
	Title   string `db:"title_selector"   json:"title_selector"`
	Author  string `db:"author_selector"  json:"author_selector"`
	Date    string `db:"date_selector"    json:"date_selector"`
}

// Source is a configured external site to crawl.
type Source struct {
	ID          string `db:"id"          json:"id"`
	Name        string `db:"name"        json:"name"`
	URL         string `db:"url"         json:"url"`
	Description string `db:"description" json:"description,omitempty"`

	Selectors

	DelayBetweenRequests float64     `db:"delay_between_requests" json:"delay_between_requests"`
	MaxPages             int         `db:"max_pages"              json:"max_pages"`
	FollowLinks          bool        `db:"follow_links"           json:"follow_links"`
	IncludePatterns      PatternList `db:"include_patterns"       json:"include_patterns"`
	ExcludePatterns      PatternList `db:"exclude_patterns"       json:"exclude_patterns"`

	Schedule Cadence      `db:"schedule"  json:"schedule"`
	IsActive bool         `db:"is_active" json:"is_active"`
	Status   SourceStatus `db:"status"    json:"status"`

	// Running totals. Only the aggregate writer changes these.
	LastCrawledAt    *time.Time `db:"last_crawled_at"   json:"last_crawled_at,omitempty"`
	TotalCrawls      int        `db:"total_crawls"      json:"total_crawls"`
	SuccessfulCrawls int        `db:"successful_crawls" json:"successful_crawls"`
	FailedCrawls     int        `db:"failed_crawls"     json:"failed_crawls"`
	TotalPostsFound  int        `db:"total_posts_found" json:"total_posts_found"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Delay returns the minimum gap between two requests for this source.
func (s *Source) Delay() time.Duration {
	if s.DelayBetweenRequests <= 0 {
		return 0
	}
	return time.Duration(s.DelayBetweenRequests * float64(time.Second))
}

// percent converts a ratio into a percentage.
const percent = 100

// SuccessRate returns the percentage of crawls that completed.
func (s *Source) SuccessRate() float64 {
	if s.TotalCrawls == 0 {
		return 0
	}
	return float64(s.SuccessfulCrawls) / float64(s.TotalCrawls) * percent
}

// AggregateUpdate is the message the job controller sends when a job ends.
// It is the only input that changes a source's running totals.
type AggregateUpdate struct {
	SourceID     string
	JobID        string
	CompletedAt  time.Time
	Succeeded    bool
	PostsCreated int
}
