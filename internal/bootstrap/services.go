package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/dedup"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/extractor"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/fetcher"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/job"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/metrics"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/redisindex"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/scheduler"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/sources"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ServiceComponents holds the crawl pipeline.
type ServiceComponents struct {
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Sources    *sources.Registry
	Aggregator *sources.Aggregator
	Fetcher    *fetcher.Fetcher
	Extractor  *extractor.Extractor
	Dedup      *dedup.Deduplicator
	Controller *job.Controller
	Scheduler  *scheduler.Scheduler

	// runCtx outlives request contexts and is cancelled by Close.
	runCtx    context.Context
	runCancel context.CancelFunc
	aggWG     sync.WaitGroup
}

// SetupServices builds the crawl pipeline, warms the deduplicator and starts
// the aggregate writer. The scheduler is created but not started.
func SetupServices(
	ctx context.Context,
	deps *CommandDeps,
	db *DatabaseComponents,
	storage *StorageComponents,
) (*ServiceComponents, error) {
	cfg := deps.Config
	log := deps.Logger

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	fetch := fetcher.New(cfg.Fetcher, log, fetcher.WithObserver(m))
	extract := extractor.New(cfg.Extractor)

	dedupOpts := []dedup.Option{dedup.WithObserver(m), dedup.WithStore(db.Content)}
	if storage.Redis != nil {
		dedupOpts = append(dedupOpts, dedup.WithClaims(redisindex.NewClaims(storage.Redis, cfg.Redis, processOwner())))
	}
	dd := dedup.New(cfg.Dedup, log, dedupOpts...)

	warmed, err := dd.Warm(ctx, db.Content.RecentSeeds, db.Content.PublishedSeeds)
	if err != nil {
		return nil, fmt.Errorf("failed to warm deduplicator: %w", err)
	}
	log.Info("Deduplicator warmed", logger.Int("entries", warmed))

	registry := sources.NewRegistry(db.Sources, log, sources.WithLocation(loc))

	// The scheduler is built after the aggregator; the hook only fires once
	// Run starts below.
	var sched *scheduler.Scheduler
	aggregator := sources.NewAggregator(db.Sources, log,
		sources.WithAppliedHook(func(u domain.AggregateUpdate, applyErr error) {
			sched.AggregateApplied(u, applyErr)
		}),
	)

	controllerOpts := []job.Option{job.WithObserver(m)}
	if storage.Search != nil {
		controllerOpts = append(controllerOpts, job.WithIndexer(storage.Search))
	}
	controller := job.NewController(cfg.Job, job.Deps{
		Store:      db.Jobs,
		Content:    db.Content,
		Fetcher:    fetch,
		Extractor:  extract,
		Dedup:      dd,
		Aggregates: aggregator,
		Logger:     log,
	}, controllerOpts...)

	sched = scheduler.New(cfg.Scheduler, registry, db.Jobs, controller, aggregator, log,
		scheduler.WithAggregateAcks(),
	)
	m.RegisterPool(sched.Pool(), cfg.Scheduler.Workers)

	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	components := &ServiceComponents{
		Registry:   reg,
		Metrics:    m,
		Sources:    registry,
		Aggregator: aggregator,
		Fetcher:    fetch,
		Extractor:  extract,
		Dedup:      dd,
		Controller: controller,
		Scheduler:  sched,
		runCtx:     runCtx,
		runCancel:  runCancel,
	}

	components.aggWG.Add(1)
	go func() {
		defer components.aggWG.Done()
		if runErr := aggregator.Run(runCtx); runErr != nil {
			log.Error("Aggregator stopped", logger.Error(runErr))
		}
	}()

	return components, nil
}

// Close stops the aggregate writer after it applies buffered updates.
func (s *ServiceComponents) Close() {
	s.runCancel()
	s.aggWG.Wait()
}

func processOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "blog-crawler"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}
