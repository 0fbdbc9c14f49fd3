package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/lib/pq"
)

// ErrJobFinalized is returned when updating a job that already reached a
// terminal state.
var ErrJobFinalized = domain.ErrJobFinalized

const jobColumns = `
	id, source_id, status, triggered_by, triggered_actor, owner, heartbeat_at,
	pages_crawled, candidates_found, created, duplicates_found, errors_count,
	started_at, completed_at, error_message, created_at`

// JobFilter narrows ListJobs. Zero values mean no filter.
type JobFilter struct {
	SourceID string
	Status   domain.JobStatus
	Limit    int
	Offset   int
}

// JobRepository handles database operations for crawl jobs and their logs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJob inserts a new job.
func (r *JobRepository) CreateJob(ctx context.Context, j *domain.Job) error {
	query := `
		INSERT INTO crawl_jobs (id, source_id, status, triggered_by, triggered_actor, owner, heartbeat_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		j.ID,
		j.SourceID,
		j.Status,
		j.TriggeredBy,
		j.TriggeredActor,
		j.Owner,
		j.HeartbeatAt,
		j.CreatedAt,
	).Scan(&j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by its ID. The log is not loaded.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var j domain.Job
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1`

	if err := r.db.GetContext(ctx, &j, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

// UpdateJob writes status, counters and timestamps. A job whose stored
// status is terminal is never modified.
func (r *JobRepository) UpdateJob(ctx context.Context, j *domain.Job) error {
	query := `
		UPDATE crawl_jobs
		SET status = $2, pages_crawled = $3, candidates_found = $4, created = $5,
		    duplicates_found = $6, errors_count = $7, started_at = $8,
		    completed_at = $9, error_message = $10, heartbeat_at = $11
		WHERE id = $1 AND status IN ('pending', 'running')
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		j.ID,
		j.Status,
		j.PagesCrawled,
		j.CandidatesFound,
		j.Created,
		j.DuplicatesFound,
		j.ErrorsCount,
		j.StartedAt,
		j.CompletedAt,
		j.ErrorMessage,
		j.HeartbeatAt,
	)
	if err = execRequireRows(result, err, fmt.Errorf("%w: %s", ErrJobFinalized, j.ID)); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// ListActiveJobs returns every pending or running job, oldest first.
func (r *JobRepository) ListActiveJobs(ctx context.Context) ([]domain.Job, error) {
	var jobs []domain.Job
	query := `SELECT ` + jobColumns + `
		FROM crawl_jobs
		WHERE status IN ('pending', 'running')
		ORDER BY created_at`

	if err := r.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	return jobs, nil
}

// TouchJobs refreshes the heartbeat of every listed job that is still active.
func (r *JobRepository) TouchJobs(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE crawl_jobs
		SET heartbeat_at = $1
		WHERE id = ANY($2) AND status IN ('pending', 'running')
	`

	if _, err := r.db.ExecContext(ctx, query, at, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to touch jobs: %w", err)
	}
	return nil
}

// ListJobs returns jobs matching f, newest first, and the total match count.
func (r *JobRepository) ListJobs(ctx context.Context, f JobFilter) ([]domain.Job, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.SourceID != "" {
		args = append(args, f.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM crawl_jobs`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	limit, offset := clampPage(f.Limit, f.Offset)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM crawl_jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)-1, len(args))

	var jobs []domain.Job
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	return jobs, total, nil
}

// AppendLog inserts one job log entry.
func (r *JobRepository) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	query := `
		INSERT INTO crawl_job_logs (job_id, logged_at, level, message, fields)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.db.ExecContext(ctx, query, entry.JobID, entry.Timestamp, entry.Level, entry.Message, entry.Fields); err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

// ListLogs returns a job's log in append order.
func (r *JobRepository) ListLogs(ctx context.Context, jobID string) ([]domain.LogEntry, error) {
	var entries []domain.LogEntry
	query := `
		SELECT job_id, logged_at, level, message, fields
		FROM crawl_job_logs
		WHERE job_id = $1
		ORDER BY id
	`

	if err := r.db.SelectContext(ctx, &entries, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list job logs: %w", err)
	}
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	return entries, nil
}
