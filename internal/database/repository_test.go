package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
)

var sourceColumns = []string{
	"id", "name", "url", "description",
	"content_selector", "title_selector", "author_selector", "date_selector",
	"delay_between_requests", "max_pages", "follow_links", "include_patterns", "exclude_patterns",
	"schedule", "is_active", "status",
	"last_crawled_at", "total_crawls", "successful_crawls", "failed_crawls", "total_posts_found",
	"created_at", "updated_at",
}

var jobColumns = []string{
	"id", "source_id", "status", "triggered_by", "triggered_actor", "owner", "heartbeat_at",
	"pages_crawled", "candidates_found", "created", "duplicates_found", "errors_count",
	"started_at", "completed_at", "error_message", "created_at",
}

var contentColumns = []string{
	"id", "job_id", "source_id", "source_url", "title", "body", "author", "published_date",
	"fingerprint", "similarity_score", "status", "extracted_metadata", "raw_html",
	"processed_by", "processed_at", "blog_post_id", "created_at",
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return sqlx.NewDb(mockDB, "postgres"), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSourceRepository_Get(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSourceRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM sources WHERE id").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows(sourceColumns).AddRow(
			"src-1", "Example", "https://example.com/blog/", "",
			"article", "", "", "time",
			2.5, 5, true, "/blog/\n/posts/", "/tag/",
			"daily", true, "active",
			nil, 4, 3, 1, 12,
			now, now,
		))

	src, err := repo.Get(context.Background(), "src-1")
	require.NoError(t, err)
	assert.Equal(t, "article", src.Content)
	assert.Equal(t, "time", src.Date)
	assert.Equal(t, domain.PatternList{"/blog/", "/posts/"}, src.IncludePatterns)
	assert.Equal(t, domain.PatternList{"/tag/"}, src.ExcludePatterns)
	assert.Equal(t, domain.CadenceDaily, src.Schedule)
	assert.Nil(t, src.LastCrawledAt)
	assert.InDelta(t, 75.0, src.SuccessRate(), 0.001)

	expectationsMet(t, mock)
}

func TestSourceRepository_GetNotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSourceRepository(db)

	mock.ExpectQuery("SELECT .+ FROM sources WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sourceColumns))

	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSourceNotFound)

	expectationsMet(t, mock)
}

func TestSourceRepository_ListActiveEmpty(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSourceRepository(db)

	mock.ExpectQuery("SELECT .+ FROM sources WHERE is_active = TRUE").
		WillReturnRows(sqlmock.NewRows(sourceColumns))

	srcs, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, srcs)
	assert.Empty(t, srcs)

	expectationsMet(t, mock)
}

func TestSourceRepository_ApplyCrawlResult(t *testing.T) {
	t.Parallel()

	completed := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		update    domain.AggregateUpdate
		succeeded int
		failed    int
	}{
		{
			name:      "completed job",
			update:    domain.AggregateUpdate{SourceID: "src-1", JobID: "job-1", CompletedAt: completed, Succeeded: true, PostsCreated: 3},
			succeeded: 1,
			failed:    0,
		},
		{
			name:      "failed job",
			update:    domain.AggregateUpdate{SourceID: "src-1", JobID: "job-1", CompletedAt: completed},
			succeeded: 0,
			failed:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock := newMockDB(t)
			repo := database.NewSourceRepository(db)

			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE crawl_jobs SET aggregated_at = NOW\(\) WHERE id = \$1 AND aggregated_at IS NULL`).
				WithArgs("job-1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec("UPDATE sources").
				WithArgs("src-1", completed, tt.succeeded, tt.failed, tt.update.PostsCreated).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			require.NoError(t, repo.ApplyCrawlResult(context.Background(), tt.update))
			expectationsMet(t, mock)
		})
	}
}

func TestSourceRepository_ApplyCrawlResultUnknownSource(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSourceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE crawl_jobs SET aggregated_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sources").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyCrawlResult(context.Background(), domain.AggregateUpdate{SourceID: "gone", JobID: "job-1", CompletedAt: time.Now()})
	require.ErrorIs(t, err, domain.ErrSourceNotFound)

	expectationsMet(t, mock)
}

func TestSourceRepository_ApplyCrawlResultAppliedOnce(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewSourceRepository(db)

	// The job row is already marked, so the totals are left alone.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE crawl_jobs SET aggregated_at").
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyCrawlResult(context.Background(), domain.AggregateUpdate{
		SourceID:     "src-1",
		JobID:        "job-1",
		CompletedAt:  time.Now(),
		Succeeded:    true,
		PostsCreated: 4,
	})
	require.NoError(t, err)

	expectationsMet(t, mock)
}

func TestJobRepository_CreateJob(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)
	created := time.Now().UTC()

	j := &domain.Job{
		ID:             "job-1",
		SourceID:       "src-1",
		Status:         domain.JobStatusPending,
		TriggeredBy:    domain.TriggerManual,
		TriggeredActor: "alice",
		Owner:          "host-a:42",
		HeartbeatAt:    &created,
		CreatedAt:      created,
	}

	mock.ExpectQuery("INSERT INTO crawl_jobs").
		WithArgs("job-1", "src-1", "pending", "manual", "alice", "host-a:42", sqlmock.AnyArg(), created).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	require.NoError(t, repo.CreateJob(context.Background(), j))
	expectationsMet(t, mock)
}

func TestJobRepository_UpdateJobFinalized(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	mock.ExpectExec(`UPDATE crawl_jobs .+ WHERE id = \$1 AND status IN \('pending', 'running'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateJob(context.Background(), &domain.Job{ID: "job-1", Status: domain.JobStatusCompleted})
	require.ErrorIs(t, err, database.ErrJobFinalized)

	expectationsMet(t, mock)
}

func TestJobRepository_TouchJobs(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE crawl_jobs SET heartbeat_at = \$1 WHERE id = ANY\(\$2\) AND status IN \('pending', 'running'\)`).
		WithArgs(at, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.TouchJobs(context.Background(), []string{"job-1", "job-2"}, at))
	expectationsMet(t, mock)
}

func TestJobRepository_TouchJobsEmpty(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	require.NoError(t, repo.TouchJobs(context.Background(), nil, time.Now()))
	expectationsMet(t, mock)
}

func TestJobRepository_GetJobNotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)

	mock.ExpectQuery("SELECT .+ FROM crawl_jobs WHERE id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(jobColumns))

	_, err := repo.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrJobNotFound)

	expectationsMet(t, mock)
}

func TestJobRepository_ListJobsFilters(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM crawl_jobs WHERE source_id = \$1 AND status = \$2`).
		WithArgs("src-1", "completed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	mock.ExpectQuery(`SELECT .+ FROM crawl_jobs WHERE source_id = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("src-1", "completed", database.MaxListLimit, 0).
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			"job-1", "src-1", "completed", "scheduler", "", "host-a:42", now,
			2, 2, 1, 1, 0,
			now, now, "", now,
		))

	jobs, total, err := repo.ListJobs(context.Background(), database.JobFilter{
		SourceID: "src-1",
		Status:   domain.JobStatusCompleted,
		Limit:    10_000,
		Offset:   -5,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.Counters{PagesCrawled: 2, CandidatesFound: 2, Created: 1, DuplicatesFound: 1}, jobs[0].Counters)

	expectationsMet(t, mock)
}

func TestJobRepository_AppendAndListLogs(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewJobRepository(db)
	at := time.Now().UTC()

	mock.ExpectExec("INSERT INTO crawl_job_logs").
		WithArgs("job-1", at, "warn", "Fetch failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery("SELECT .+ FROM crawl_job_logs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "logged_at", "level", "message", "fields"}).
			AddRow("job-1", at, "warn", "Fetch failed", []byte(`{"url":"https://example.com/a"}`)))

	ctx := context.Background()
	require.NoError(t, repo.AppendLog(ctx, domain.LogEntry{
		JobID:     "job-1",
		Timestamp: at,
		Level:     domain.LogLevelWarn,
		Message:   "Fetch failed",
		Fields:    domain.JSONBMap{"url": "https://example.com/a"},
	}))

	entries, err := repo.ListLogs(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://example.com/a", entries[0].Fields["url"])

	expectationsMet(t, mock)
}

func TestContentRepository_CreateContent(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewContentRepository(db)
	score := 0.42
	created := time.Now()

	c := &domain.Content{
		ID:              "c-1",
		JobID:           "job-1",
		SourceID:        "src-1",
		SourceURL:       "https://example.com/blog/a",
		Title:           "A",
		Body:            "body",
		Fingerprint:     "ab",
		SimilarityScore: &score,
		Status:          domain.ContentStatusPending,
	}

	mock.ExpectQuery("INSERT INTO crawled_content").
		WithArgs("c-1", "job-1", "src-1", "https://example.com/blog/a", "A", "body", "", nil,
			"ab", score, "pending", sqlmock.AnyArg(), "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	require.NoError(t, repo.CreateContent(context.Background(), c))
	assert.Equal(t, created, c.CreatedAt)

	expectationsMet(t, mock)
}

func TestContentRepository_CreateContentError(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewContentRepository(db)

	mock.ExpectQuery("INSERT INTO crawled_content").WillReturnError(errors.New("connection reset"))

	err := repo.CreateContent(context.Background(), &domain.Content{ID: "c-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create content")

	expectationsMet(t, mock)
}

func TestContentRepository_ListContent(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewContentRepository(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM crawled_content WHERE status = \$1`).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery(`SELECT .+ FROM crawled_content WHERE status = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("pending", database.DefaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows(contentColumns).AddRow(
			"c-1", "job-1", "src-1", "https://example.com/a", "A", "body", "", nil,
			"ab", nil, "pending", []byte(`{"word_count":1}`), "",
			nil, nil, nil, now,
		))

	items, total, err := repo.ListContent(context.Background(), database.ContentFilter{Status: domain.ContentStatusPending})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].SimilarityScore)
	assert.InDelta(t, 1.0, items[0].ExtractedMetadata["word_count"], 0)

	expectationsMet(t, mock)
}

func TestContentRepository_RecentSeedsOldestFirst(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewContentRepository(db)

	mock.ExpectQuery("SELECT source_id, fingerprint, body FROM crawled_content ORDER BY created_at DESC").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "fingerprint", "body"}).
			AddRow("src-1", "newest", "b").
			AddRow("src-1", "older", "a"))

	seeds, err := repo.RecentSeeds(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "older", seeds[0].Fingerprint)
	assert.Equal(t, "newest", seeds[1].Fingerprint)

	expectationsMet(t, mock)
}

func TestContentRepository_FingerprintExists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		exists bool
	}{
		{name: "known fingerprint", exists: true},
		{name: "unknown fingerprint", exists: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock := newMockDB(t)
			repo := database.NewContentRepository(db)

			mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM crawled_content WHERE fingerprint = \$1\)`).
				WithArgs("fp-1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))

			got, err := repo.FingerprintExists(context.Background(), "fp-1")
			require.NoError(t, err)
			assert.Equal(t, tt.exists, got)

			expectationsMet(t, mock)
		})
	}
}

func TestContentRepository_FingerprintExistsError(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := database.NewContentRepository(db)

	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("connection reset"))

	_, err := repo.FingerprintExists(context.Background(), "fp-1")
	require.Error(t, err)

	expectationsMet(t, mock)
}
