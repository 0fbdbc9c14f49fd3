package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/dedup"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/metrics"
)

func TestObserveFetch(t *testing.T) {
	t.Parallel()

	m := metrics.NewMetrics(prometheus.NewRegistry())

	m.ObserveFetch("src-1", "ok", 120*time.Millisecond)
	m.ObserveFetch("src-1", "ok", 80*time.Millisecond)
	m.ObserveFetch("src-2", "disallowed", 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("disallowed")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.FetchDurationSeconds))
}

func TestObserveDedup(t *testing.T) {
	t.Parallel()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	score := 0.9

	m.ObserveDedup(dedup.NearDuplicate, &score)
	m.ObserveDedup(dedup.Unique, nil)

	assert.InDelta(t, 1, testutil.ToFloat64(m.DedupDecisionsTotal.WithLabelValues("near_duplicate")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DedupDecisionsTotal.WithLabelValues("unique")), 0)
}

func TestObserveJob(t *testing.T) {
	t.Parallel()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	started := time.Now().Add(-3 * time.Second)
	completed := time.Now()

	m.ObserveJob(&domain.Job{
		SourceID:    "src-1",
		Status:      domain.JobStatusCompleted,
		TriggeredBy: domain.TriggerManual,
		Counters:    domain.Counters{PagesCrawled: 5, Created: 2, ErrorsCount: 1},
		StartedAt:   &started,
		CompletedAt: &completed,
	})

	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsFinishedTotal.WithLabelValues("completed", "manual")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.JobPagesTotal.WithLabelValues("src-1")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ContentCreated.WithLabelValues("src-1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobErrorsTotal.WithLabelValues("src-1")), 0)
}

type fakePool struct {
	busy   int
	queued int
}

func (p fakePool) Busy() int {
	return p.busy
}

func (p fakePool) Queued() int {
	return p.queued
}

func TestRegisterPool(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RegisterPool(fakePool{busy: 2, queued: 3}, 4)

	expected := `
# HELP blog_crawler_scheduler_queue_depth Jobs waiting for a worker
# TYPE blog_crawler_scheduler_queue_depth gauge
blog_crawler_scheduler_queue_depth 3
# HELP blog_crawler_scheduler_workers_busy Workers currently running a job
# TYPE blog_crawler_scheduler_workers_busy gauge
blog_crawler_scheduler_workers_busy 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"blog_crawler_scheduler_queue_depth", "blog_crawler_scheduler_workers_busy"))
}
