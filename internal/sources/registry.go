// Package sources holds crawl source configuration: validation, cadence
// evaluation, and the single writer of per-source running totals.
package sources

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
)

// SourceStore reads source configuration.
type SourceStore interface {
	Get(ctx context.Context, id string) (*domain.Source, error)
	List(ctx context.Context) ([]domain.Source, error)
	ListActive(ctx context.Context) ([]domain.Source, error)
}

// Registry answers which sources exist and which are due for a crawl.
type Registry struct {
	store    SourceStore
	log      logger.Logger
	location *time.Location
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLocation sets the time zone cadence schedules are evaluated in. Defaults to UTC.
func WithLocation(loc *time.Location) RegistryOption {
	return func(r *Registry) {
		if loc != nil {
			r.location = loc
		}
	}
}

// NewRegistry creates a Registry over store.
func NewRegistry(store SourceStore, log logger.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:    store,
		log:      log,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns one source by ID.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Source, error) {
	src, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", id, err)
	}
	return src, nil
}

// List returns every source.
func (r *Registry) List(ctx context.Context) ([]domain.Source, error) {
	list, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return list, nil
}

// DueSources returns active, non-manual sources whose cadence window has
// elapsed at now. Never-crawled sources come first, then the longest-waiting.
func (r *Registry) DueSources(ctx context.Context, now time.Time) ([]domain.Source, error) {
	active, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}

	due := make([]domain.Source, 0, len(active))
	for i := range active {
		if IsDue(&active[i], now, r.location) {
			due = append(due, active[i])
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastCrawledAt, due[j].LastCrawledAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})

	r.log.Debug("Evaluated due sources",
		logger.Int("active", len(active)),
		logger.Int("due", len(due)),
	)

	return due, nil
}
