package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/api"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/scheduler"
)

// SetupHTTPServer builds the router and its health checks.
func SetupHTTPServer(deps *CommandDeps, app *App) *api.Server {
	cfg := deps.Config
	services := app.Services

	handler := api.NewHandler(services.Scheduler, services.Sources, app.Database.Jobs, app.Database.Content)

	router := api.NewRouter(handler, api.RouterConfig{
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
		Gatherer:    services.Registry,
		Checks:      healthChecks(app),
	}, deps.Logger)

	return api.NewServer(router, api.ServerConfig{
		Address:      cfg.Server.Address(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, deps.Logger)
}

var errPoolStopped = errors.New("worker pool is not running")

func healthChecks(app *App) map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": app.Database.DB.PingContext,
		"workers": func(context.Context) error {
			if state := app.Services.Scheduler.Pool().State(); state != scheduler.PoolStateRunning {
				return fmt.Errorf("%w: %s", errPoolStopped, state)
			}
			return nil
		},
	}

	if app.Storage.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return app.Storage.Redis.Ping(ctx).Err()
		}
	}

	if app.Storage.ES != nil {
		checks["elasticsearch"] = func(ctx context.Context) error {
			res, err := app.Storage.ES.Ping(app.Storage.ES.Ping.WithContext(ctx))
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.IsError() {
				return fmt.Errorf("elasticsearch ping: %s", res.Status())
			}
			return nil
		}
	}

	return checks
}
