// Package job runs crawl jobs: the per-page fetch, extract and dedupe
// pipeline, the job state machine and the job log.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/dedup"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/extractor"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/fetcher"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/retry"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/sources"
)

// Terminal error messages.
const (
	MsgErrorThreshold   = "error threshold exceeded"
	MsgCancelled        = "cancelled by request"
	MsgContextCancelled = "cancelled: shutting down"
	MsgTimeout          = "job timeout exceeded"
)

// aggregateSendTimeout bounds how long a finished job waits on the aggregator.
const aggregateSendTimeout = 30 * time.Second

// Deps are the collaborators a Controller needs.
type Deps struct {
	Store      Store
	Content    ContentStore
	Fetcher    PageFetcher
	Extractor  PageExtractor
	Dedup      Deduplicator
	Aggregates AggregateSink
	Logger     logger.Logger
}

// Controller executes jobs. One Controller serves all workers; each Run is
// independent apart from the shared Deduplicator.
type Controller struct {
	cfg  Config
	deps Deps
	log  logger.Logger

	indexer  ContentIndexer
	observer Observer
	now      func() time.Time

	mu      sync.Mutex
	cancels map[string]bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithIndexer mirrors every staged candidate to idx.
func WithIndexer(idx ContentIndexer) Option {
	return func(c *Controller) {
		c.indexer = idx
	}
}

// WithObserver reports finished jobs to o.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a Controller.
func NewController(cfg Config, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg.WithDefaults(),
		deps:    deps,
		log:     deps.Logger,
		now:     time.Now,
		cancels: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cancel requests cooperative cancellation of jobID. It takes effect at the
// next page boundary, or immediately if the job has not started yet.
func (c *Controller) Cancel(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[jobID] = true
}

func (c *Controller) cancelRequested(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels[jobID]
}

// Forget drops a cancellation recorded for jobID.
func (c *Controller) Forget(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, jobID)
}

// run holds the mutable state of one job execution.
type run struct {
	job      *domain.Job
	src      *domain.Source
	sel      *extractor.Selectors
	rules    extractor.LinkRules
	polite   fetcher.Politeness
	log      logger.Logger
	queue    []string
	visited  map[string]struct{}
	attempts int
}

// Run executes j for src until it reaches a terminal state, and returns
// the finished job. The returned error is non-nil when the terminal state
// could not be persisted, or wraps domain.ErrJobFinalized when another
// process finalized the job first. No aggregate is sent in that case.
func (c *Controller) Run(ctx context.Context, j *domain.Job, src *domain.Source) (*domain.Job, error) {
	defer c.Forget(j.ID)

	r := &run{
		job: j,
		src: src,
		log: c.log.With(logger.JobID(j.ID), logger.SourceID(src.ID)),
	}

	if c.cancelRequested(j.ID) {
		return j, c.finish(ctx, r, domain.JobStatusCancelled, MsgCancelled)
	}

	if err := c.start(ctx, r); err != nil {
		return j, err
	}

	sel, err := sources.Validate(src)
	if err != nil {
		return j, c.finish(ctx, r, domain.JobStatusFailed, "invalid source configuration: "+err.Error())
	}
	r.sel = sel
	r.rules = extractor.LinkRules{
		FollowLinks: src.FollowLinks,
		Include:     src.IncludePatterns,
		Exclude:     src.ExcludePatterns,
	}
	r.polite = fetcher.Politeness{SourceID: src.ID, Delay: src.Delay()}
	r.visited = make(map[string]struct{})
	r.enqueue(src.URL)

	status, msg, err := c.crawl(ctx, r)
	if err != nil {
		r.log.Warn("Job finalized elsewhere, stopping", logger.Error(err))
		return j, err
	}
	return j, c.finish(ctx, r, status, msg)
}

func (c *Controller) start(ctx context.Context, r *run) error {
	if err := ValidateTransition(r.job.Status, domain.JobStatusRunning); err != nil {
		return err
	}

	started := c.now()
	r.job.Status = domain.JobStatusRunning
	r.job.StartedAt = &started
	r.job.HeartbeatAt = &started

	if err := c.deps.Store.UpdateJob(ctx, r.job); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	c.record(ctx, r, domain.LogLevelInfo, "Job started", domain.JSONBMap{
		"url":       r.src.URL,
		"max_pages": r.src.MaxPages,
		"trigger":   string(r.job.TriggeredBy),
	})
	return nil
}

// crawl runs the page loop and returns the terminal status and message.
// The error is non-nil only when the job was finalized elsewhere.
func (c *Controller) crawl(ctx context.Context, r *run) (domain.JobStatus, string, error) {
	for len(r.queue) > 0 && r.attempts < r.src.MaxPages {
		if c.cancelRequested(r.job.ID) {
			return domain.JobStatusCancelled, MsgCancelled, nil
		}
		if err := ctx.Err(); err != nil {
			status, msg := stopped(err)
			return status, msg, nil
		}

		pageURL := r.queue[0]
		r.queue = r.queue[1:]
		r.attempts++
		root := r.attempts == 1

		page, err := c.fetch(ctx, r, pageURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				status, msg := stopped(ctxErr)
				return status, msg, nil
			}
			if errors.Is(err, fetcher.ErrDelayExceedsDeadline) {
				return domain.JobStatusFailed, MsgTimeout, nil
			}
			if root && fetcher.IsKind(err, fetcher.KindDisallowed) {
				return domain.JobStatusFailed, "robots.txt disallows source root " + pageURL, nil
			}
			c.pageError(ctx, r, pageURL, "Fetch failed", err)
		} else {
			r.job.PagesCrawled++
			c.process(ctx, r, pageURL, page)
		}

		if err = c.saveProgress(ctx, r); err != nil {
			return "", "", err
		}

		if c.cfg.MaxErrors > 0 && r.job.ErrorsCount > c.cfg.MaxErrors {
			return domain.JobStatusFailed, fmt.Sprintf("%s: %d errors", MsgErrorThreshold, r.job.ErrorsCount), nil
		}
	}

	return domain.JobStatusCompleted, "", nil
}

// stopped maps the run context's error to a terminal state: an elapsed
// deadline fails the job, anything else cancels it.
func stopped(err error) (domain.JobStatus, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.JobStatusFailed, MsgTimeout
	}
	return domain.JobStatusCancelled, MsgContextCancelled
}

// fetch fetches pageURL, retrying transient failures when configured.
func (c *Controller) fetch(ctx context.Context, r *run, pageURL string) (*fetcher.Page, error) {
	var page *fetcher.Page

	policy := retry.Config{
		MaxAttempts:  c.cfg.PageRetries + 1,
		InitialDelay: c.cfg.RetryDelay,
		IsRetryable: func(err error) bool {
			var fe *fetcher.FetchError
			return errors.As(err, &fe) && fe.Transient()
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			r.log.Debug("Retrying page fetch",
				logger.URL(pageURL),
				logger.Int("attempt", attempt),
				logger.Duration("wait", wait),
				logger.Error(err),
			)
		},
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		p, fetchErr := c.deps.Fetcher.Fetch(ctx, pageURL, r.polite)
		if fetchErr != nil {
			return fetchErr
		}
		page = p
		return nil
	})
	return page, err
}

// process extracts, dedupes and stages one fetched page.
func (c *Controller) process(ctx context.Context, r *run, requested string, page *fetcher.Page) {
	pageURL := requested
	if page.URL != "" && page.URL != requested {
		pageURL = page.URL
		r.markVisited(page.URL)
	}

	cand, links, err := c.deps.Extractor.Extract(pageURL, page.Body, r.sel, r.rules)
	for _, link := range links {
		r.enqueue(link)
	}

	if err != nil {
		if extractor.IsNoContent(err) {
			c.record(ctx, r, domain.LogLevelDebug, "No content on page", domain.JSONBMap{
				"url":   pageURL,
				"links": len(links),
			})
			return
		}
		c.pageError(ctx, r, pageURL, "Extraction failed", err)
		return
	}

	r.job.CandidatesFound++

	dc := dedup.NewCandidate(r.src.ID, cand.Title, cand.Body)
	res, err := c.deps.Dedup.Admit(ctx, dc)
	if err != nil {
		c.pageError(ctx, r, pageURL, "Duplicate check failed", err)
		return
	}

	if res.IsDuplicate() {
		r.job.DuplicatesFound++
		fields := domain.JSONBMap{"url": cand.URL, "class": string(res.Class)}
		if res.Score != nil {
			fields["score"] = *res.Score
		}
		c.record(ctx, r, domain.LogLevelInfo, "Duplicate skipped", fields)
		return
	}

	content := &domain.Content{
		ID:                uuid.NewString(),
		JobID:             r.job.ID,
		SourceID:          r.src.ID,
		SourceURL:         cand.URL,
		Title:             cand.Title,
		Body:              cand.Body,
		Author:            cand.Author,
		PublishedDate:     cand.PublishedDate,
		Fingerprint:       dc.Fingerprint,
		SimilarityScore:   res.Score,
		Status:            domain.ContentStatusPending,
		ExtractedMetadata: cand.Metadata,
		RawHTML:           cand.RawHTML,
		CreatedAt:         c.now(),
	}

	if err = c.deps.Content.CreateContent(ctx, content); err != nil {
		c.deps.Dedup.Forget(ctx, dc.Fingerprint)
		c.pageError(ctx, r, pageURL, "Failed to stage content", err)
		return
	}
	r.job.Created++

	c.record(ctx, r, domain.LogLevelInfo, "Content staged", domain.JSONBMap{
		"url":        content.SourceURL,
		"content_id": content.ID,
		"title":      content.Title,
	})

	if c.indexer != nil {
		if idxErr := c.indexer.IndexContent(ctx, content); idxErr != nil {
			r.log.Warn("Failed to index content",
				logger.String("content_id", content.ID),
				logger.Error(idxErr),
			)
		}
	}
}

func (c *Controller) pageError(ctx context.Context, r *run, pageURL, msg string, err error) {
	r.job.ErrorsCount++

	fields := domain.JSONBMap{"url": pageURL, "error": err.Error()}
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		fields["kind"] = string(fe.Kind)
		if fe.StatusCode != 0 {
			fields["status_code"] = fe.StatusCode
		}
	}
	c.record(ctx, r, domain.LogLevelWarn, msg, fields)
}

// saveProgress persists counters and the heartbeat. Only a job finalized
// elsewhere is reported; other failures are logged and the crawl goes on.
func (c *Controller) saveProgress(ctx context.Context, r *run) error {
	now := c.now()
	r.job.HeartbeatAt = &now

	err := c.deps.Store.UpdateJob(context.WithoutCancel(ctx), r.job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrJobFinalized):
		return fmt.Errorf("save progress: %w", err)
	default:
		r.log.Warn("Failed to save job progress", logger.Error(err))
		return nil
	}
}

// finish moves the job to a terminal state, persists it and reports the
// aggregate update.
func (c *Controller) finish(ctx context.Context, r *run, status domain.JobStatus, msg string) error {
	if err := ValidateTransition(r.job.Status, status); err != nil {
		return err
	}

	// Terminal bookkeeping must survive a cancelled run context.
	ctx = context.WithoutCancel(ctx)

	completed := c.now()
	r.job.Status = status
	r.job.CompletedAt = &completed
	r.job.HeartbeatAt = &completed
	r.job.ErrorMessage = msg

	level := domain.LogLevelInfo
	if status == domain.JobStatusFailed {
		level = domain.LogLevelError
	}
	c.record(ctx, r, level, "Job finished", domain.JSONBMap{
		"status":           string(status),
		"error_message":    msg,
		"pages_crawled":    r.job.PagesCrawled,
		"candidates_found": r.job.CandidatesFound,
		"created":          r.job.Created,
		"duplicates_found": r.job.DuplicatesFound,
		"errors_count":     r.job.ErrorsCount,
	})

	var persistErr error
	if err := c.deps.Store.UpdateJob(ctx, r.job); err != nil {
		persistErr = fmt.Errorf("persist terminal job state: %w", err)
		if errors.Is(err, domain.ErrJobFinalized) {
			r.log.Warn("Job finalized elsewhere, skipping aggregate update", logger.Error(err))
			return persistErr
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, aggregateSendTimeout)
	defer cancel()
	if err := c.deps.Aggregates.Send(sendCtx, domain.AggregateUpdate{
		SourceID:     r.job.SourceID,
		JobID:        r.job.ID,
		CompletedAt:  completed,
		Succeeded:    status == domain.JobStatusCompleted,
		PostsCreated: r.job.Created,
	}); err != nil {
		r.log.Error("Failed to send aggregate update", logger.Error(err))
	}

	if c.observer != nil {
		c.observer.ObserveJob(r.job)
	}
	return persistErr
}

// record writes a job log entry to the store and the service log.
func (c *Controller) record(ctx context.Context, r *run, level, msg string, fields domain.JSONBMap) {
	entry := domain.LogEntry{
		JobID:     r.job.ID,
		Timestamp: c.now(),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	r.job.Log = append(r.job.Log, entry)

	zf := make([]logger.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, logger.Any(k, v))
	}
	switch level {
	case domain.LogLevelDebug:
		r.log.Debug(msg, zf...)
	case domain.LogLevelWarn:
		r.log.Warn(msg, zf...)
	case domain.LogLevelError:
		r.log.Error(msg, zf...)
	default:
		r.log.Info(msg, zf...)
	}

	if err := c.deps.Store.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		r.log.Warn("Failed to append job log", logger.Error(err))
	}
}

// enqueue adds rawURL to the frontier unless an equivalent URL was seen.
func (r *run) enqueue(rawURL string) {
	if r.markVisited(rawURL) {
		r.queue = append(r.queue, rawURL)
	}
}

// markVisited records rawURL and reports whether it was new.
func (r *run) markVisited(rawURL string) bool {
	key, err := extractor.NormalizeURL(rawURL)
	if err != nil {
		key = rawURL
	}
	if _, seen := r.visited[key]; seen {
		return false
	}
	r.visited[key] = struct{}{}
	return true
}
