// Package bootstrap wires the blog crawler together and manages its lifecycle.
//
// Startup follows these phases:
//   - Phase 1: Config & Logger - Load configuration and create the logger
//   - Phase 2: Database - Connect to PostgreSQL, migrate, create repositories
//   - Phase 3: Storage - Connect Redis and Elasticsearch (each optional)
//   - Phase 4: Services - Create fetcher, extractor, deduplicator, job controller and scheduler
//   - Phase 5: Server - Create and start the HTTP server
//   - Phase 6: Run - Wait for an interrupt signal or a server error
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
)

// Start runs the crawler service until it is interrupted.
func Start(configPath string, debug bool, version string) error {
	ctx := context.Background()

	// Phase 1: Config and logger
	deps, err := NewCommandDeps(configPath, debug, version)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Logger.Sync() }()

	// Phases 2-4: Database, storage and services
	app, err := Setup(ctx, deps)
	if err != nil {
		return err
	}

	if err = app.Services.Scheduler.Start(app.Services.runCtx); err != nil {
		app.Close()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Phase 5: HTTP server
	server := SetupHTTPServer(deps, app)
	errChan := server.StartAsync()

	// Phase 6: Run until interrupted
	return RunUntilInterrupt(deps.Logger, server, app, errChan)
}

// App holds every long-lived component.
type App struct {
	Deps     *CommandDeps
	Database *DatabaseComponents
	Storage  *StorageComponents
	Services *ServiceComponents
}

// Setup runs the database, storage and services phases. Callers own the
// returned App and must Close it.
func Setup(ctx context.Context, deps *CommandDeps) (*App, error) {
	dbComponents, err := SetupDatabase(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}

	storageComponents, err := SetupStorage(ctx, deps)
	if err != nil {
		_ = dbComponents.DB.Close()
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	serviceComponents, err := SetupServices(ctx, deps, dbComponents, storageComponents)
	if err != nil {
		storageComponents.Close(deps.Logger)
		_ = dbComponents.DB.Close()
		return nil, fmt.Errorf("failed to setup services: %w", err)
	}

	return &App{
		Deps:     deps,
		Database: dbComponents,
		Storage:  storageComponents,
		Services: serviceComponents,
	}, nil
}

// Close stops background services and releases connections. The scheduler
// must already be stopped.
func (a *App) Close() {
	a.Services.Close()
	a.Storage.Close(a.Deps.Logger)
	if err := a.Database.DB.Close(); err != nil {
		a.Deps.Logger.Error("Failed to close database", logger.Error(err))
	}
}
