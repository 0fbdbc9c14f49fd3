// Package scheduler starts crawl jobs on a cadence or on demand, keeping at
// most one active job per source, and runs them on a fixed worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/job"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/sources"
)

var (
	// ErrJobAlreadyRunning is returned when a source already has a pending or running job.
	ErrJobAlreadyRunning = errors.New("a job is already running for this source")
	// ErrJobNotActive is returned when cancelling a job that already finished.
	ErrJobNotActive = errors.New("job is not pending or running")
	// ErrJobNotOwned is returned when cancelling a job another process is running.
	ErrJobNotOwned = errors.New("job is running in another process")
)

// MsgInterrupted is the error message of jobs whose process went away.
const MsgInterrupted = "interrupted by restart"

// aggregateAckTimeout bounds how long a finished job holds its source slot
// waiting for the aggregator.
const aggregateAckTimeout = 30 * time.Second

// SourceProvider supplies sources to crawl.
type SourceProvider interface {
	Get(ctx context.Context, id string) (*domain.Source, error)
	DueSources(ctx context.Context, now time.Time) ([]domain.Source, error)
}

// JobStore persists jobs.
type JobStore interface {
	CreateJob(ctx context.Context, j *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, j *domain.Job) error
	ListActiveJobs(ctx context.Context) ([]domain.Job, error)
	TouchJobs(ctx context.Context, ids []string, at time.Time) error
}

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, j *domain.Job, src *domain.Source) (*domain.Job, error)
	Cancel(jobID string)
	// Forget drops any cancellation recorded for jobID.
	Forget(jobID string)
}

// Scheduler owns the active-job set.
type Scheduler struct {
	cfg        Config
	sources    SourceProvider
	jobs       JobStore
	runner     Runner
	aggregates job.AggregateSink
	substrate  Substrate
	pool       *Pool
	log        logger.Logger
	now        func() time.Time
	awaitAcks  bool

	mu     sync.Mutex
	active map[string]string        // source ID -> job ID
	acks   map[string]chan struct{} // job ID -> closed once its aggregate is applied
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSubstrate replaces the default CronSubstrate.
func WithSubstrate(sub Substrate) Option {
	return func(s *Scheduler) {
		s.substrate = sub
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithAggregateAcks keeps a source's slot until AggregateApplied reports its
// job's aggregate, so the next job for that source reads settled totals.
func WithAggregateAcks() Option {
	return func(s *Scheduler) {
		s.awaitAcks = true
	}
}

// New creates a Scheduler.
func New(
	cfg Config,
	src SourceProvider,
	jobs JobStore,
	runner Runner,
	aggregates job.AggregateSink,
	log logger.Logger,
	opts ...Option,
) *Scheduler {
	cfg = cfg.WithDefaults()
	s := &Scheduler{
		cfg:        cfg,
		sources:    src,
		jobs:       jobs,
		runner:     runner,
		aggregates: aggregates,
		pool:       NewPool(cfg.Workers, cfg.QueueSize, log),
		log:        log,
		now:        time.Now,
		active:     make(map[string]string),
		acks:       make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.substrate == nil {
		s.substrate = NewCronSubstrate(log)
	}
	return s
}

// Pool exposes the worker pool for health reporting.
func (s *Scheduler) Pool() *Pool {
	return s.pool
}

// Start recovers interrupted jobs, starts the worker pool, registers the
// heartbeat and, when enabled, the periodic tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.RecoverInterrupted(ctx); err != nil {
		return err
	}

	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	err := s.substrate.Schedule(s.cfg.HeartbeatInterval, func(ctx context.Context) {
		if hbErr := s.Heartbeat(ctx); hbErr != nil {
			s.log.Error("Scheduler heartbeat failed", logger.Error(hbErr))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}

	if s.cfg.Enabled {
		err = s.substrate.Schedule(s.cfg.TickInterval, func(ctx context.Context) {
			if _, tickErr := s.Tick(ctx, s.now()); tickErr != nil {
				s.log.Error("Scheduler tick failed", logger.Error(tickErr))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule tick: %w", err)
		}
	}
	s.substrate.Start()

	s.log.Info("Scheduler started",
		logger.String("instance_id", s.cfg.InstanceID),
		logger.Bool("periodic", s.cfg.Enabled),
		logger.Duration("tick_interval", s.cfg.TickInterval),
		logger.Int("workers", s.cfg.Workers),
	)
	return nil
}

// Stop halts the tick and drains the worker pool. Running jobs end
// cancelled at their next page boundary.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	if err := s.substrate.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop substrate: %w", err))
	}
	if err := s.pool.Stop(ctx); err != nil && !errors.Is(err, ErrPoolNotRunning) {
		errs = append(errs, fmt.Errorf("stop worker pool: %w", err))
	}
	return errors.Join(errs...)
}

// Tick starts a job for every due source without an active job and returns
// how many were started.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.sources.DueSources(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("due sources: %w", err)
	}

	started := 0
	for i := range due {
		src := due[i]
		if _, startErr := s.start(ctx, &src, domain.TriggerScheduler, ""); startErr != nil {
			if errors.Is(startErr, ErrJobAlreadyRunning) {
				continue
			}
			s.log.Error("Failed to start scheduled job", logger.SourceID(src.ID), logger.Error(startErr))
			continue
		}
		started++
	}

	if started > 0 {
		s.log.Info("Scheduled jobs started", logger.Int("due", len(due)), logger.Int("started", started))
	}
	return started, nil
}

// Trigger starts a job for sourceID regardless of its cadence. It fails with
// ErrJobAlreadyRunning if the source has an active job, and with a
// *sources.ValidationError if the source cannot be crawled as configured.
func (s *Scheduler) Trigger(ctx context.Context, sourceID, actor string) (string, error) {
	src, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if _, err = sources.Validate(src); err != nil {
		return "", err
	}
	return s.start(ctx, src, domain.TriggerManual, actor)
}

// Cancel requests cooperative cancellation of an active job.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	j, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.CanCancel(j) {
		return ErrJobNotActive
	}

	s.mu.Lock()
	owned := s.owns(jobID)
	if owned {
		s.runner.Cancel(jobID)
	}
	s.mu.Unlock()
	if !owned {
		return fmt.Errorf("%w: %s", ErrJobNotOwned, j.Owner)
	}

	s.log.Info("Job cancellation requested", logger.JobID(jobID), logger.SourceID(j.SourceID))
	return nil
}

// ActiveJobs returns a snapshot of source ID to active job ID.
func (s *Scheduler) ActiveJobs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.active))
	for src, id := range s.active {
		out[src] = id
	}
	return out
}

// Heartbeat marks this process's active jobs alive, then recovers jobs
// whose process went away.
func (s *Scheduler) Heartbeat(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for _, id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if err := s.jobs.TouchJobs(ctx, ids, s.now()); err != nil {
		return fmt.Errorf("touch active jobs: %w", err)
	}
	_, err := s.RecoverInterrupted(ctx)
	return err
}

// RecoverInterrupted fails pending or running jobs that no live process is
// running: jobs this instance owns but is not running, and jobs of any owner
// whose last heartbeat is older than StaleAfter. Each job still reaches
// exactly one terminal state.
func (s *Scheduler) RecoverInterrupted(ctx context.Context) (int, error) {
	candidates, err := s.jobs.ListActiveJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}

	now := s.now()
	recovered := 0
	for i := range candidates {
		j := &candidates[i]
		if !s.abandoned(j, now) {
			continue
		}
		if err = job.ValidateTransition(j.Status, domain.JobStatusFailed); err != nil {
			continue
		}

		completed := s.now()
		j.Status = domain.JobStatusFailed
		j.CompletedAt = &completed
		j.ErrorMessage = MsgInterrupted

		if err = s.jobs.UpdateJob(ctx, j); err != nil {
			if errors.Is(err, domain.ErrJobFinalized) {
				continue
			}
			return recovered, fmt.Errorf("fail interrupted job %s: %w", j.ID, err)
		}
		if err = s.aggregates.Send(ctx, domain.AggregateUpdate{
			SourceID:     j.SourceID,
			JobID:        j.ID,
			CompletedAt:  completed,
			PostsCreated: j.Created,
		}); err != nil {
			s.log.Error("Failed to send aggregate update", logger.JobID(j.ID), logger.Error(err))
		}
		recovered++
	}

	if recovered > 0 {
		s.log.Warn("Failed interrupted jobs", logger.Int("count", recovered))
	}
	return recovered, nil
}

// AggregateApplied releases the slot of the job u belongs to. It is the
// aggregator's applied hook; updates for jobs this process is not waiting
// on are ignored.
func (s *Scheduler) AggregateApplied(u domain.AggregateUpdate, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ack, ok := s.acks[u.JobID]; ok {
		close(ack)
		delete(s.acks, u.JobID)
	}
}

// abandoned reports whether j has no live process running it.
func (s *Scheduler) abandoned(j *domain.Job, now time.Time) bool {
	s.mu.Lock()
	running := s.owns(j.ID)
	s.mu.Unlock()

	switch {
	case running:
		return false
	case j.Owner == s.cfg.InstanceID:
		return true
	default:
		return now.Sub(j.LastSeen()) > s.cfg.StaleAfter
	}
}

// owns reports whether jobID is in the active set. Callers hold s.mu.
func (s *Scheduler) owns(jobID string) bool {
	for _, id := range s.active {
		if id == jobID {
			return true
		}
	}
	return false
}

// claim reserves the source's job slot for jobID.
func (s *Scheduler) claim(sourceID, jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.active[sourceID]; busy {
		return false
	}
	s.active[sourceID] = jobID
	if s.awaitAcks {
		s.acks[jobID] = make(chan struct{})
	}
	return true
}

// release frees the source's slot and drops the job's pending cancellation
// and ack.
func (s *Scheduler) release(sourceID, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, sourceID)
	delete(s.acks, jobID)
	s.runner.Forget(jobID)
}

// awaitAggregate blocks until the job's aggregate is applied, the ack
// timeout passes or ctx ends.
func (s *Scheduler) awaitAggregate(ctx context.Context, jobID string) {
	s.mu.Lock()
	ack, ok := s.acks[jobID]
	s.mu.Unlock()
	if !ok {
		return
	}

	timer := time.NewTimer(aggregateAckTimeout)
	defer timer.Stop()

	select {
	case <-ack:
	case <-timer.C:
		s.log.Warn("Aggregate not applied, releasing source", logger.JobID(jobID))
	case <-ctx.Done():
	}
}

func (s *Scheduler) start(ctx context.Context, src *domain.Source, trigger domain.TriggerKind, actor string) (string, error) {
	created := s.now()
	j := &domain.Job{
		ID:             uuid.NewString(),
		SourceID:       src.ID,
		Status:         domain.JobStatusPending,
		TriggeredBy:    trigger,
		TriggeredActor: actor,
		Owner:          s.cfg.InstanceID,
		HeartbeatAt:    &created,
		CreatedAt:      created,
	}

	if !s.claim(src.ID, j.ID) {
		return "", ErrJobAlreadyRunning
	}

	if err := s.jobs.CreateJob(ctx, j); err != nil {
		s.release(src.ID, j.ID)
		return "", fmt.Errorf("create job: %w", err)
	}

	task := func(ctx context.Context) {
		defer s.release(src.ID, j.ID)

		runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()

		finished, err := s.runner.Run(runCtx, j, src)
		switch {
		case errors.Is(err, domain.ErrJobFinalized):
			s.log.Warn("Job was finalized by another process",
				logger.JobID(j.ID),
				logger.SourceID(src.ID),
				logger.Error(err),
			)
			return
		case err != nil:
			s.log.Error("Job run error", logger.JobID(j.ID), logger.SourceID(src.ID), logger.Error(err))
			if !j.Status.IsTerminal() && !s.abandon(context.WithoutCancel(ctx), j, err) {
				return
			}
		default:
			s.log.Info("Job finished",
				logger.JobID(finished.ID),
				logger.SourceID(src.ID),
				logger.String("status", string(finished.Status)),
				logger.Int("pages_crawled", finished.PagesCrawled),
				logger.Int("created", finished.Created),
				logger.Int("duplicates_found", finished.DuplicatesFound),
				logger.Int("errors_count", finished.ErrorsCount),
			)
		}
		s.awaitAggregate(ctx, j.ID)
	}

	if err := s.pool.Submit(task); err != nil {
		s.abandon(ctx, j, err)
		s.release(src.ID, j.ID)
		return "", fmt.Errorf("queue job: %w", err)
	}

	s.log.Info("Job queued",
		logger.JobID(j.ID),
		logger.SourceID(src.ID),
		logger.String("trigger", string(trigger)),
	)
	return j.ID, nil
}

// abandon fails a job that never reached a terminal state on its own and
// reports whether an aggregate update was sent for it.
func (s *Scheduler) abandon(ctx context.Context, j *domain.Job, cause error) bool {
	completed := s.now()
	j.Status = domain.JobStatusFailed
	j.CompletedAt = &completed
	j.ErrorMessage = "job did not start: " + cause.Error()

	if err := s.jobs.UpdateJob(ctx, j); err != nil {
		s.log.Error("Failed to fail unstarted job", logger.JobID(j.ID), logger.Error(err))
		if errors.Is(err, domain.ErrJobFinalized) {
			return false
		}
	}
	if err := s.aggregates.Send(ctx, domain.AggregateUpdate{
		SourceID:    j.SourceID,
		JobID:       j.ID,
		CompletedAt: completed,
	}); err != nil {
		s.log.Error("Failed to send aggregate update", logger.JobID(j.ID), logger.Error(err))
		return false
	}
	return true
}
