package job_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/dedup"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/extractor"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/fetcher"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/job"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	jobMock "github.com/jonesrussell/north-cloud/blog-crawler/testutils/mocks/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// memStore records every persisted job state and log entry.
type memStore struct {
	mu       sync.Mutex
	statuses []domain.JobStatus
	logs     []domain.LogEntry
	contents []*domain.Content
}

func (s *memStore) UpdateJob(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.statuses); n == 0 || s.statuses[n-1] != j.Status {
		s.statuses = append(s.statuses, j.Status)
	}
	return nil
}

func (s *memStore) AppendLog(_ context.Context, e domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
	return nil
}

func (s *memStore) CreateContent(_ context.Context, c *domain.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents = append(s.contents, c)
	return nil
}

// memSink collects aggregate updates.
type memSink struct {
	mu      sync.Mutex
	updates []domain.AggregateUpdate
}

func (s *memSink) Send(_ context.Context, u domain.AggregateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}

type harness struct {
	ctrl  *job.Controller
	store *memStore
	sink  *memSink
	dedup *dedup.Deduplicator
}

func newHarness(t *testing.T, cfg job.Config, opts ...job.Option) *harness {
	t.Helper()

	h := &harness{
		store: &memStore{},
		sink:  &memSink{},
		dedup: dedup.New(dedup.Config{SimilarityThreshold: 0.85}, logger.NewNop()),
	}
	h.ctrl = job.NewController(cfg, job.Deps{
		Store:      h.store,
		Content:    h.store,
		Fetcher:    fetcher.New(fetcher.Config{UserAgent: "JobTest/1.0"}, logger.NewNop()),
		Extractor:  extractor.New(extractor.Config{}),
		Dedup:      h.dedup,
		Aggregates: h.sink,
		Logger:     logger.NewNop(),
	}, opts...)
	return h
}

// site serves robots.txt and a map of path -> HTML, counting hits.
type site struct {
	*httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	pages  map[string]string
	onHit  func(path string)
	robots string
}

func newSite(t *testing.T, robots string, pages map[string]string) *site {
	t.Helper()

	s := &site{hits: make(map[string]int), pages: pages, robots: robots}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		hook := s.onHit
		s.mu.Unlock()

		if r.URL.Path == "/robots.txt" {
			if s.robots == "" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(s.robots))
			return
		}

		body, ok := s.pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if hook != nil {
			hook(r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *site) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *site) setHook(fn func(path string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHit = fn
}

func page(title, body string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body><article>")
	b.WriteString("<p>" + body + "</p></article><ul>")
	for _, l := range links {
		b.WriteString(`<li><a href="` + l + `">link</a></li>`)
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

func newSource(rootURL string, maxPages int) *domain.Source {
	return &domain.Source{
		ID:          "src-1",
		Name:        "Test Blog",
		URL:         rootURL,
		MaxPages:    maxPages,
		FollowLinks: true,
		Schedule:    domain.CadenceManual,
		IsActive:    true,
	}
}

func newJob(id string) *domain.Job {
	return &domain.Job{
		ID:          id,
		SourceID:    "src-1",
		Status:      domain.JobStatusPending,
		TriggeredBy: domain.TriggerManual,
		CreatedAt:   time.Now(),
	}
}

func TestRun_IdenticalBodiesDeduplicated(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{
		"/":  page("Post", "Hello world foo bar", "/b"),
		"/b": page("Post", "Hello world foo bar"),
	})
	h := newHarness(t, job.Config{})

	j, err := h.ctrl.Run(context.Background(), newJob("job-1"), newSource(s.URL+"/", 2))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCompleted, j.Status)
	assert.Equal(t, domain.Counters{
		PagesCrawled:    2,
		CandidatesFound: 2,
		Created:         1,
		DuplicatesFound: 1,
	}, j.Counters)
	assert.Empty(t, j.ErrorMessage)
	require.NotNil(t, j.StartedAt)
	require.NotNil(t, j.CompletedAt)

	require.Len(t, h.store.contents, 1)
	c := h.store.contents[0]
	assert.Equal(t, domain.ContentStatusPending, c.Status)
	assert.Equal(t, "job-1", c.JobID)
	assert.Len(t, c.Fingerprint, 64)
	assert.Contains(t, c.Body, "Hello world foo bar")

	require.Len(t, h.sink.updates, 1)
	u := h.sink.updates[0]
	assert.True(t, u.Succeeded)
	assert.Equal(t, 1, u.PostsCreated)
	assert.Equal(t, "src-1", u.SourceID)

	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusCompleted}, h.store.statuses)
}

func TestRun_RobotsDisallowsRoot(t *testing.T) {
	t.Parallel()

	s := newSite(t, "User-agent: *\nDisallow: /blog/*\n", map[string]string{
		"/blog/": page("Blog", "content"),
	})
	h := newHarness(t, job.Config{})

	j, err := h.ctrl.Run(context.Background(), newJob("job-robots"), newSource(s.URL+"/blog/", 5))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusFailed, j.Status)
	assert.Contains(t, j.ErrorMessage, "robots.txt disallows")
	assert.Zero(t, j.PagesCrawled)
	assert.Zero(t, s.hitCount("/blog/"))

	require.Len(t, h.sink.updates, 1)
	assert.False(t, h.sink.updates[0].Succeeded)
}

func TestRun_CancelAfterFirstPage(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{
		"/":   page("Home", "home page text", "/p2", "/p3", "/p4", "/p5"),
		"/p2": page("Two", "second page"),
		"/p3": page("Three", "third page"),
		"/p4": page("Four", "fourth page"),
		"/p5": page("Five", "fifth page"),
	})
	h := newHarness(t, job.Config{})

	s.setHook(func(path string) {
		if path == "/" {
			h.ctrl.Cancel("job-cancel")
		}
	})

	j, err := h.ctrl.Run(context.Background(), newJob("job-cancel"), newSource(s.URL+"/", 5))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCancelled, j.Status)
	assert.Equal(t, 1, j.PagesCrawled)
	for _, p := range []string{"/p2", "/p3", "/p4", "/p5"} {
		assert.Zero(t, s.hitCount(p), "page %s must not be fetched", p)
	}
}

func TestRun_CancelBeforeStart(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{"/": page("Home", "text")})
	h := newHarness(t, job.Config{})

	h.ctrl.Cancel("job-early")
	j, err := h.ctrl.Run(context.Background(), newJob("job-early"), newSource(s.URL+"/", 5))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCancelled, j.Status)
	assert.Nil(t, j.StartedAt)
	assert.Zero(t, s.hitCount("/"))
}

func TestRun_ContextCancelled(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{"/": page("Home", "text")})
	h := newHarness(t, job.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j, err := h.ctrl.Run(ctx, newJob("job-ctx"), newSource(s.URL+"/", 5))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, j.Status)
	assert.Equal(t, job.MsgContextCancelled, j.ErrorMessage)
}

func TestRun_InvalidSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t, job.Config{})
	src := newSource("http://blog.example/", 0)

	j, err := h.ctrl.Run(context.Background(), newJob("job-invalid"), src)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusFailed, j.Status)
	assert.Contains(t, j.ErrorMessage, "invalid source configuration")
	assert.Contains(t, j.ErrorMessage, "max_pages")
	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusFailed}, h.store.statuses)
}

func TestRun_PageErrorsAreSkipped(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{
		"/":   page("Home", "home text", "/gone", "/ok"),
		"/ok": page("Ok", "a different article body"),
	})
	h := newHarness(t, job.Config{})

	j, err := h.ctrl.Run(context.Background(), newJob("job-errors"), newSource(s.URL+"/", 10))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCompleted, j.Status)
	assert.Equal(t, 2, j.PagesCrawled)
	assert.Equal(t, 1, j.ErrorsCount)
	assert.Equal(t, 2, j.Created)

	var warned bool
	for _, e := range h.store.logs {
		if e.Level == domain.LogLevelWarn && e.Fields["status_code"] == http.StatusNotFound {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warn log entry for the 404")
}

func TestRun_ErrorThreshold(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{
		"/": page("Home", "home text", "/x1", "/x2", "/x3", "/x4"),
	})
	h := newHarness(t, job.Config{MaxErrors: 1})

	j, err := h.ctrl.Run(context.Background(), newJob("job-threshold"), newSource(s.URL+"/", 10))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusFailed, j.Status)
	assert.Contains(t, j.ErrorMessage, job.MsgErrorThreshold)
	assert.Equal(t, 2, j.ErrorsCount)
	assert.Zero(t, s.hitCount("/x3"))
	// Partial progress is kept.
	assert.Equal(t, 1, j.Created)
}

func TestRun_MaxPagesBoundsFetches(t *testing.T) {
	t.Parallel()

	pages := map[string]string{"/": page("Home", "home", "/a", "/b", "/c")}
	for _, p := range []string{"/a", "/b", "/c"} {
		pages[p] = page(p, "article "+p)
	}
	s := newSite(t, "", pages)
	h := newHarness(t, job.Config{})

	j, err := h.ctrl.Run(context.Background(), newJob("job-max"), newSource(s.URL+"/", 2))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCompleted, j.Status)
	assert.Equal(t, 2, j.PagesCrawled)
	assert.Equal(t, 1, s.hitCount("/a"))
	assert.Zero(t, s.hitCount("/b"))
}

func TestRun_RetriesTransientFetch(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(page("Home", "recovered body")))
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, job.Config{PageRetries: 1, RetryDelay: time.Millisecond})
	j, err := h.ctrl.Run(context.Background(), newJob("job-retry"), newSource(srv.URL+"/", 1))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCompleted, j.Status)
	assert.Equal(t, 1, j.PagesCrawled)
	assert.Zero(t, j.ErrorsCount)
	assert.Equal(t, 1, j.Created)
}

func TestRun_PolitenessAcrossPages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping politeness timing test in short mode")
	}
	t.Parallel()

	s := newSite(t, "", map[string]string{
		"/":   page("Home", "home body", "/p2", "/p3"),
		"/p2": page("Two", "second body"),
		"/p3": page("Three", "third body"),
	})
	h := newHarness(t, job.Config{})
	src := newSource(s.URL+"/", 3)
	src.DelayBetweenRequests = 2.0

	start := time.Now()
	j, err := h.ctrl.Run(context.Background(), newJob("job-polite"), src)
	require.NoError(t, err)

	assert.Equal(t, 3, j.PagesCrawled)
	assert.GreaterOrEqual(t, time.Since(start), 4*time.Second)
}

func TestRun_PersistFailureForgetsFingerprint(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	store := jobMock.NewMockStore(ctrl)
	store.EXPECT().UpdateJob(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().AppendLog(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	content := jobMock.NewMockContentStore(ctrl)
	content.EXPECT().CreateContent(gomock.Any(), gomock.Any()).Return(errors.New("insert failed")).Times(1)

	s := newSite(t, "", map[string]string{"/": page("Home", "unique article body")})
	d := dedup.New(dedup.Config{}, logger.NewNop())
	sink := &memSink{}

	c := job.NewController(job.Config{}, job.Deps{
		Store:      store,
		Content:    content,
		Fetcher:    fetcher.New(fetcher.Config{}, logger.NewNop()),
		Extractor:  extractor.New(extractor.Config{}),
		Dedup:      d,
		Aggregates: sink,
		Logger:     logger.NewNop(),
	})

	j, err := c.Run(context.Background(), newJob("job-persist"), newSource(s.URL+"/", 1))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCompleted, j.Status)
	assert.Equal(t, 1, j.CandidatesFound)
	assert.Zero(t, j.Created)
	assert.Equal(t, 1, j.ErrorsCount)
	assert.Zero(t, d.Size())
}

func TestRun_TerminalPersistFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	store := jobMock.NewMockStore(ctrl)
	store.EXPECT().AppendLog(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	gomock.InOrder(
		store.EXPECT().UpdateJob(gomock.Any(), gomock.Any()).Return(nil),
		store.EXPECT().UpdateJob(gomock.Any(), gomock.Any()).Return(errors.New("db down")),
	)

	sink := &memSink{}
	c := job.NewController(job.Config{}, job.Deps{
		Store:      store,
		Content:    &memStore{},
		Fetcher:    fetcher.New(fetcher.Config{}, logger.NewNop()),
		Extractor:  extractor.New(extractor.Config{}),
		Dedup:      dedup.New(dedup.Config{}, logger.NewNop()),
		Aggregates: sink,
		Logger:     logger.NewNop(),
	})

	j, err := c.Run(context.Background(), newJob("job-db"), newSource("http://blog.example/", 0))
	require.Error(t, err)
	assert.Equal(t, domain.JobStatusFailed, j.Status)
	assert.Len(t, sink.updates, 1)
}

type indexRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *indexRecorder) IndexContent(_ context.Context, c *domain.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, c.ID)
	return errors.New("index unavailable")
}

func TestRun_IndexerFailureIsNotAnError(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{"/": page("Home", "indexed article body")})
	idx := &indexRecorder{}
	h := newHarness(t, job.Config{}, job.WithIndexer(idx))

	j, err := h.ctrl.Run(context.Background(), newJob("job-index"), newSource(s.URL+"/", 1))
	require.NoError(t, err)

	assert.Equal(t, 1, j.Created)
	assert.Zero(t, j.ErrorsCount)
	assert.Len(t, idx.ids, 1)
}

func TestRun_DeadlineFailsWithTimeout(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{"/": page("Home", "text")})
	h := newHarness(t, job.Config{})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	j, err := h.ctrl.Run(ctx, newJob("job-deadline"), newSource(s.URL+"/", 5))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusFailed, j.Status)
	assert.Equal(t, job.MsgTimeout, j.ErrorMessage)
	assert.Zero(t, s.hitCount("/"))

	require.Len(t, h.sink.updates, 1)
	assert.False(t, h.sink.updates[0].Succeeded)
}

func TestRun_DelayPastDeadlineFailsWithTimeout(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{
		"/":   page("Home", "home page text", "/p2"),
		"/p2": page("Two", "second page"),
	})
	h := newHarness(t, job.Config{})

	src := newSource(s.URL+"/", 5)
	src.DelayBetweenRequests = 3600

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	j, err := h.ctrl.Run(ctx, newJob("job-slow"), src)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second, "the limiter must refuse instead of waiting")
	assert.Equal(t, domain.JobStatusFailed, j.Status)
	assert.Equal(t, job.MsgTimeout, j.ErrorMessage)
	assert.Equal(t, 1, j.PagesCrawled)
	assert.Zero(t, s.hitCount("/p2"))
}

func TestRun_ShutdownStillCancels(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{
		"/":   page("Home", "home page text", "/p2"),
		"/p2": page("Two", "second page"),
	})
	h := newHarness(t, job.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	s.setHook(func(string) { cancel() })

	j, err := h.ctrl.Run(ctx, newJob("job-shutdown"), newSource(s.URL+"/", 5))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCancelled, j.Status)
	assert.Equal(t, job.MsgContextCancelled, j.ErrorMessage)
}

func newMockedController(t *testing.T, store job.Store, sink job.AggregateSink) *job.Controller {
	t.Helper()

	return job.NewController(job.Config{}, job.Deps{
		Store:      store,
		Content:    &memStore{},
		Fetcher:    fetcher.New(fetcher.Config{UserAgent: "JobTest/1.0"}, logger.NewNop()),
		Extractor:  extractor.New(extractor.Config{}),
		Dedup:      dedup.New(dedup.Config{}, logger.NewNop()),
		Aggregates: sink,
		Logger:     logger.NewNop(),
	})
}

func TestRun_FinalizedElsewhereMidCrawl(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{
		"/":   page("Home", "home page text", "/p2", "/p3"),
		"/p2": page("Two", "second page"),
		"/p3": page("Three", "third page"),
	})

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	store := jobMock.NewMockStore(ctrl)
	store.EXPECT().AppendLog(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	gomock.InOrder(
		store.EXPECT().UpdateJob(gomock.Any(), gomock.Any()).Return(nil),
		store.EXPECT().UpdateJob(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("failed to update job: %w", domain.ErrJobFinalized)),
	)

	sink := &memSink{}
	c := newMockedController(t, store, sink)

	j, err := c.Run(context.Background(), newJob("job-taken"), newSource(s.URL+"/", 5))
	require.ErrorIs(t, err, domain.ErrJobFinalized)

	assert.Equal(t, domain.JobStatusRunning, j.Status)
	assert.Zero(t, s.hitCount("/p2"))
	assert.Zero(t, s.hitCount("/p3"))
	assert.Empty(t, sink.updates)
}

func TestRun_FinalizedElsewhereAtFinish(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	store := jobMock.NewMockStore(ctrl)
	store.EXPECT().AppendLog(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	gomock.InOrder(
		store.EXPECT().UpdateJob(gomock.Any(), gomock.Any()).Return(nil),
		store.EXPECT().UpdateJob(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("failed to update job: %w", domain.ErrJobFinalized)),
	)

	sink := &memSink{}
	c := newMockedController(t, store, sink)

	_, err := c.Run(context.Background(), newJob("job-late"), newSource("http://blog.example/", 0))
	require.ErrorIs(t, err, domain.ErrJobFinalized)
	assert.Empty(t, sink.updates)
}

func TestRun_HeartbeatOnProgress(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{"/": page("Home", "text")})
	h := newHarness(t, job.Config{})

	j, err := h.ctrl.Run(context.Background(), newJob("job-hb"), newSource(s.URL+"/", 1))
	require.NoError(t, err)

	require.NotNil(t, j.HeartbeatAt)
	require.NotNil(t, j.StartedAt)
	assert.False(t, j.HeartbeatAt.Before(*j.StartedAt))
}

func TestForget_DropsCancellation(t *testing.T) {
	t.Parallel()

	s := newSite(t, "", map[string]string{"/": page("Home", "text")})
	h := newHarness(t, job.Config{})

	h.ctrl.Cancel("job-forgotten")
	h.ctrl.Forget("job-forgotten")

	j, err := h.ctrl.Run(context.Background(), newJob("job-forgotten"), newSource(s.URL+"/", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, j.Status)
}
