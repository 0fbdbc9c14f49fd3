package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
)

const sourceColumns = `
	id, name, url, description,
	content_selector, title_selector, author_selector, date_selector,
	delay_between_requests, max_pages, follow_links, include_patterns, exclude_patterns,
	schedule, is_active, status,
	last_crawled_at, total_crawls, successful_crawls, failed_crawls, total_posts_found,
	created_at, updated_at`

// SourceRepository reads sources and applies crawl aggregates. Source CRUD
// belongs to the CMS; the crawl core only writes the running totals.
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository creates a new source repository.
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Get retrieves a source by its ID.
func (r *SourceRepository) Get(ctx context.Context, id string) (*domain.Source, error) {
	var src domain.Source
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	if err := r.db.GetContext(ctx, &src, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &src, nil
}

// List retrieves every source ordered by name.
func (r *SourceRepository) List(ctx context.Context) ([]domain.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources ORDER BY name, id`
	return r.selectSources(ctx, query)
}

// ListActive retrieves sources with is_active set.
func (r *SourceRepository) ListActive(ctx context.Context) ([]domain.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE is_active = TRUE ORDER BY name, id`
	return r.selectSources(ctx, query)
}

func (r *SourceRepository) selectSources(ctx context.Context, query string, args ...any) ([]domain.Source, error) {
	var out []domain.Source
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	if out == nil {
		out = []domain.Source{}
	}
	return out, nil
}

// ApplyCrawlResult folds one finished job into the source's running totals.
// It is the only statement that writes those columns. The job row is marked
// aggregated in the same transaction, so applying an update twice is a no-op.
func (r *SourceRepository) ApplyCrawlResult(ctx context.Context, u domain.AggregateUpdate) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin crawl result transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if u.JobID != "" {
		marked, markErr := tx.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET aggregated_at = NOW()
			WHERE id = $1 AND aggregated_at IS NULL
		`, u.JobID)
		if markErr != nil {
			return fmt.Errorf("failed to mark job aggregated: %w", markErr)
		}
		rows, rowsErr := marked.RowsAffected()
		if rowsErr != nil {
			return fmt.Errorf("failed to mark job aggregated: %w", rowsErr)
		}
		if rows == 0 {
			return nil
		}
	}

	query := `
		UPDATE sources
		SET last_crawled_at   = $2,
		    total_crawls      = total_crawls + 1,
		    successful_crawls = successful_crawls + $3,
		    failed_crawls     = failed_crawls + $4,
		    total_posts_found = total_posts_found + $5,
		    updated_at        = NOW()
		WHERE id = $1
	`

	succeeded, failed := 0, 1
	if u.Succeeded {
		succeeded, failed = 1, 0
	}

	result, err := tx.ExecContext(ctx, query, u.SourceID, u.CompletedAt, succeeded, failed, u.PostsCreated)
	if err = execRequireRows(result, err, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, u.SourceID)); err != nil {
		return fmt.Errorf("failed to apply crawl result: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit crawl result: %w", err)
	}
	return nil
}
