package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/sources"
)

// RunJob crawls one source in the foreground, outside the worker pool, and
// returns the finished job. The database rejects the job when the source
// already has an active one. The job is owned by this process, so a running
// server leaves it alone while its heartbeat is fresh.
func (a *App) RunJob(ctx context.Context, sourceID, actor string) (*domain.Job, error) {
	src, err := a.Services.Sources.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if _, err = sources.Validate(src); err != nil {
		return nil, err
	}

	created := time.Now()
	j := &domain.Job{
		ID:             uuid.NewString(),
		SourceID:       src.ID,
		Status:         domain.JobStatusPending,
		TriggeredBy:    domain.TriggerManual,
		TriggeredActor: actor,
		Owner:          processOwner(),
		HeartbeatAt:    &created,
		CreatedAt:      created,
	}
	if err = a.Database.Jobs.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	a.Deps.Logger.Info("Running crawl job",
		logger.JobID(j.ID),
		logger.SourceID(src.ID),
		logger.URL(src.URL),
	)

	runCtx, cancel := context.WithTimeout(ctx, a.Deps.Config.Scheduler.JobTimeout)
	defer cancel()

	return a.Services.Controller.Run(runCtx, j, src)
}

// DueSources lists the sources a scheduler tick would start now.
func (a *App) DueSources(ctx context.Context) ([]domain.Source, error) {
	return a.Services.Sources.DueSources(ctx, time.Now())
}
