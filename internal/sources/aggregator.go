package sources

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/retry"
)

// ErrAggregatorStopped is returned by Send after Run has begun shutting down.
var ErrAggregatorStopped = errors.New("aggregator stopped")

const (
	defaultAggregatorBuffer = 64
	defaultDrainTimeout     = 10 * time.Second
)

// AggregateWriter persists one job's contribution to its source totals.
type AggregateWriter interface {
	ApplyCrawlResult(ctx context.Context, update domain.AggregateUpdate) error
}

// Aggregator is the only writer of source running totals. Job controllers
// send it one update per finished job; Run applies them in arrival order.
type Aggregator struct {
	writer       AggregateWriter
	log          logger.Logger
	updates      chan domain.AggregateUpdate
	retry        retry.Config
	drainTimeout time.Duration
	onApplied    func(domain.AggregateUpdate, error)

	mu       sync.RWMutex
	stopping chan struct{}
	stopOnce sync.Once
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithBuffer sets the update channel capacity.
func WithBuffer(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.updates = make(chan domain.AggregateUpdate, n)
		}
	}
}

// WithRetry sets the retry policy for ApplyCrawlResult.
func WithRetry(cfg retry.Config) AggregatorOption {
	return func(a *Aggregator) {
		a.retry = cfg
	}
}

// WithDrainTimeout bounds how long Run spends applying buffered updates on shutdown.
func WithDrainTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.drainTimeout = d
		}
	}
}

// WithAppliedHook registers a callback run after each update, with the final error.
func WithAppliedHook(fn func(domain.AggregateUpdate, error)) AggregatorOption {
	return func(a *Aggregator) {
		a.onApplied = fn
	}
}

// NewAggregator creates an Aggregator writing through w.
func NewAggregator(w AggregateWriter, log logger.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		writer:       w,
		log:          log,
		updates:      make(chan domain.AggregateUpdate, defaultAggregatorBuffer),
		drainTimeout: defaultDrainTimeout,
		stopping:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Send queues an update. It blocks until the update is accepted, ctx ends,
// or the aggregator is stopping.
func (a *Aggregator) Send(ctx context.Context, u domain.AggregateUpdate) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	select {
	case <-a.stopping:
		return ErrAggregatorStopped
	default:
	}

	select {
	case a.updates <- u:
		return nil
	case <-a.stopping:
		return ErrAggregatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies updates until ctx is done, then applies whatever is still
// buffered and returns.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		select {
		case u := <-a.updates:
			a.apply(ctx, u)
		case <-ctx.Done():
			a.drain()
			return nil
		}
	}
}

func (a *Aggregator) drain() {
	a.stopOnce.Do(func() { close(a.stopping) })

	a.mu.Lock()
	a.mu.Unlock() //nolint:staticcheck // empty critical section waits out in-flight Sends

	ctx, cancel := context.WithTimeout(context.Background(), a.drainTimeout)
	defer cancel()

	drained := 0
	for {
		select {
		case u := <-a.updates:
			a.apply(ctx, u)
			drained++
		default:
			if drained > 0 {
				a.log.Info("Drained aggregate updates on shutdown", logger.Int("count", drained))
			}
			return
		}
	}
}

func (a *Aggregator) apply(ctx context.Context, u domain.AggregateUpdate) {
	err := retry.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.writer.ApplyCrawlResult(ctx, u)
	})
	if err != nil {
		a.log.Error("Failed to apply crawl result",
			logger.SourceID(u.SourceID),
			logger.JobID(u.JobID),
			logger.Bool("succeeded", u.Succeeded),
			logger.Int("posts_created", u.PostsCreated),
			logger.Error(err),
		)
	}
	if a.onApplied != nil {
		a.onApplied(u, err)
	}
}
