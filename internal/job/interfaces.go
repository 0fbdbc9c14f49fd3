package job

import (
	"context"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/dedup"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/extractor"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/fetcher"
)

//go:generate mockgen -destination=../../testutils/mocks/job/mock_store.go -package=job . Store,ContentStore

// Store persists job state and the job log.
type Store interface {
	UpdateJob(ctx context.Context, j *domain.Job) error
	AppendLog(ctx context.Context, entry domain.LogEntry) error
}

// ContentStore creates staged content rows.
type ContentStore interface {
	CreateContent(ctx context.Context, c *domain.Content) error
}

// PageFetcher retrieves one page under a source's politeness rules.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, p fetcher.Politeness) (*fetcher.Page, error)
}

// PageExtractor turns a page into a candidate and discovered links.
type PageExtractor interface {
	Extract(pageURL string, body []byte, sel *extractor.Selectors, rules extractor.LinkRules) (*extractor.Candidate, []string, error)
}

// Deduplicator admits candidates into the corpus index.
type Deduplicator interface {
	Admit(ctx context.Context, c dedup.Candidate) (dedup.Result, error)
	Forget(ctx context.Context, fp string)
}

// AggregateSink receives one update per finished job.
type AggregateSink interface {
	Send(ctx context.Context, u domain.AggregateUpdate) error
}

// ContentIndexer mirrors staged content into a search index.
type ContentIndexer interface {
	IndexContent(ctx context.Context, c *domain.Content) error
}

// Observer is told about each finished job.
type Observer interface {
	ObserveJob(j *domain.Job)
}
