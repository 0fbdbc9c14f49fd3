// Package metrics exposes Prometheus metrics for crawl jobs, fetches,
// deduplication and the scheduler worker pool.
package metrics

import (
	"time"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/dedup"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all blog crawler metrics.
	MetricsNamespace = "blog_crawler"
)

// PoolStats is the read side of the scheduler worker pool.
type PoolStats interface {
	Busy() int
	Queued() int
}

// Metrics holds all Prometheus metrics for the crawl core.
type Metrics struct {
	// Job metrics
	JobsFinishedTotal  *prometheus.CounterVec
	JobDurationSeconds *prometheus.HistogramVec
	JobPagesTotal      *prometheus.CounterVec
	JobErrorsTotal     *prometheus.CounterVec
	ContentCreated     *prometheus.CounterVec

	// Fetch metrics
	FetchesTotal         *prometheus.CounterVec
	FetchDurationSeconds *prometheus.HistogramVec

	// Dedup metrics
	DedupDecisionsTotal *prometheus.CounterVec
	DedupSimilarity     prometheus.Histogram

	factory promauto.Factory
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{factory: factory}

	m.initJobMetrics(factory)
	m.initFetchMetrics(factory)
	m.initDedupMetrics(factory)

	return m
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsFinishedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "finished_total",
			Help:      "Crawl jobs that reached a terminal state",
		},
		[]string{"status", "trigger"},
	)

	m.JobDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Wall time of finished crawl jobs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68min
		},
		[]string{"status"},
	)

	m.JobPagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "pages_crawled_total",
			Help:      "Pages fetched successfully by finished jobs",
		},
		[]string{"source_id"},
	)

	m.JobErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "page_errors_total",
			Help:      "Page-level errors counted by finished jobs",
		},
		[]string{"source_id"},
	)

	m.ContentCreated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "content_created_total",
			Help:      "Unique candidates staged for review",
		},
		[]string{"source_id"},
	)
}

func (m *Metrics) initFetchMetrics(factory promauto.Factory) {
	m.FetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Fetch attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.FetchDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Latency of page requests, excluding politeness waits",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
}

func (m *Metrics) initDedupMetrics(factory promauto.Factory) {
	m.DedupDecisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "dedup",
			Name:      "decisions_total",
			Help:      "Deduplication classifications by class",
		},
		[]string{"class"},
	)

	m.DedupSimilarity = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "dedup",
			Name:      "similarity_score",
			Help:      "Best cosine similarity seen per classification",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
}

// RegisterPool exposes the worker pool's busy and queued counts as gauges.
func (m *Metrics) RegisterPool(pool PoolStats, size int) {
	m.factory.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: "scheduler",
		Name:      "worker_pool_size",
		Help:      "Total size of the worker pool",
	}).Set(float64(size))

	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: "scheduler",
		Name:      "workers_busy",
		Help:      "Workers currently running a job",
	}, func() float64 { return float64(pool.Busy()) })

	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Jobs waiting for a worker",
	}, func() float64 { return float64(pool.Queued()) })
}

// ObserveFetch implements fetcher.Observer. Source IDs are left out of the
// labels to bound cardinality.
func (m *Metrics) ObserveFetch(_ string, outcome string, elapsed time.Duration) {
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.FetchDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
}

// ObserveDedup implements dedup.Observer.
func (m *Metrics) ObserveDedup(class dedup.Class, score *float64) {
	m.DedupDecisionsTotal.WithLabelValues(string(class)).Inc()
	if score != nil {
		m.DedupSimilarity.Observe(*score)
	}
}

// ObserveJob implements job.Observer.
func (m *Metrics) ObserveJob(j *domain.Job) {
	m.JobsFinishedTotal.WithLabelValues(string(j.Status), string(j.TriggeredBy)).Inc()
	if d := j.Duration(); d > 0 {
		m.JobDurationSeconds.WithLabelValues(string(j.Status)).Observe(d.Seconds())
	}
	m.JobPagesTotal.WithLabelValues(j.SourceID).Add(float64(j.PagesCrawled))
	m.JobErrorsTotal.WithLabelValues(j.SourceID).Add(float64(j.ErrorsCount))
	m.ContentCreated.WithLabelValues(j.SourceID).Add(float64(j.Created))
}
