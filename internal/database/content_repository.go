package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/dedup"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
)

const contentColumns = `
	id, job_id, source_id, source_url, title, body, author, published_date,
	fingerprint, similarity_score, status, extracted_metadata, raw_html,
	processed_by, processed_at, blog_post_id, created_at`

// ContentFilter narrows ListContent. Zero values mean no filter.
type ContentFilter struct {
	Status   domain.ContentStatus
	JobID    string
	SourceID string
	Limit    int
	Offset   int
}

// ContentRepository stages crawled candidates. The crawl core only inserts;
// review columns are owned by the CMS.
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository creates a new content repository.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// CreateContent inserts a staged candidate.
func (r *ContentRepository) CreateContent(ctx context.Context, c *domain.Content) error {
	query := `
		INSERT INTO crawled_content (
			id, job_id, source_id, source_url, title, body, author, published_date,
			fingerprint, similarity_score, status, extracted_metadata, raw_html
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`

	metadata := c.ExtractedMetadata
	if metadata == nil {
		metadata = domain.JSONBMap{}
	}

	err := r.db.QueryRowContext(
		ctx,
		query,
		c.ID,
		c.JobID,
		c.SourceID,
		c.SourceURL,
		c.Title,
		c.Body,
		c.Author,
		c.PublishedDate,
		c.Fingerprint,
		c.SimilarityScore,
		c.Status,
		metadata,
		c.RawHTML,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create content: %w", err)
	}
	return nil
}

// GetContent retrieves a staged candidate by its ID.
func (r *ContentRepository) GetContent(ctx context.Context, id string) (*domain.Content, error) {
	var c domain.Content
	query := `SELECT ` + contentColumns + ` FROM crawled_content WHERE id = $1`

	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrContentNotFound, id)
		}
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	return &c, nil
}

// ListContent returns candidates matching f, newest first, and the total
// match count.
func (r *ContentRepository) ListContent(ctx context.Context, f ContentFilter) ([]domain.Content, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.JobID != "" {
		args = append(args, f.JobID)
		conds = append(conds, fmt.Sprintf("job_id = $%d", len(args)))
	}
	if f.SourceID != "" {
		args = append(args, f.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM crawled_content`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count content: %w", err)
	}

	limit, offset := clampPage(f.Limit, f.Offset)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM crawled_content%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		contentColumns, where, len(args)-1, len(args))

	var items []domain.Content
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list content: %w", err)
	}
	if items == nil {
		items = []domain.Content{}
	}
	return items, total, nil
}

// FingerprintExists reports whether any staged candidate carries fp. It
// satisfies dedup.FingerprintStore.
func (r *ContentRepository) FingerprintExists(ctx context.Context, fp string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM crawled_content WHERE fingerprint = $1)`
	if err := r.db.GetContext(ctx, &exists, query, fp); err != nil {
		return false, fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	return exists, nil
}

type seedRow struct {
	SourceID    string `db:"source_id"`
	Fingerprint string `db:"fingerprint"`
	Body        string `db:"body"`
}

// RecentSeeds loads the newest limit staged candidates of any status as
// deduplication seeds, oldest first. It satisfies dedup.Loader.
func (r *ContentRepository) RecentSeeds(ctx context.Context, limit int) ([]dedup.Seed, error) {
	query := `
		SELECT source_id, fingerprint, body
		FROM crawled_content
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.seeds(ctx, query, limit)
}

// PublishedSeeds loads the newest limit candidates that became blog posts,
// oldest first. Published posts stay in the index even when they fall out of
// the RecentSeeds window.
func (r *ContentRepository) PublishedSeeds(ctx context.Context, limit int) ([]dedup.Seed, error) {
	query := `
		SELECT source_id, fingerprint, body
		FROM crawled_content
		WHERE status = 'processed' AND blog_post_id IS NOT NULL
		ORDER BY processed_at DESC NULLS LAST
		LIMIT $1
	`
	return r.seeds(ctx, query, limit)
}

func (r *ContentRepository) seeds(ctx context.Context, query string, limit int) ([]dedup.Seed, error) {
	var rows []seedRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to load dedup seeds: %w", err)
	}

	out := make([]dedup.Seed, 0, len(rows))
	for _, row := range rows {
		out = append(out, dedup.Seed{SourceID: row.SourceID, Fingerprint: strings.TrimSpace(row.Fingerprint), Body: row.Body})
	}
	slices.Reverse(out)
	return out, nil
}
