package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/api"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
)

const signalChannelBufferSize = 1

// RunUntilInterrupt blocks until SIGINT/SIGTERM or a server error, then
// shuts everything down.
func RunUntilInterrupt(log logger.Logger, server *api.Server, app *App, errChan <-chan error) error {
	sigChan := make(chan os.Signal, signalChannelBufferSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case serverErr, ok := <-errChan:
		if !ok {
			return Shutdown(log, server, app, "server closed")
		}
		log.Error("Server error", logger.Error(serverErr))
		_ = Shutdown(log, server, app, "server error")
		return fmt.Errorf("server error: %w", serverErr)
	case sig := <-sigChan:
		return Shutdown(log, server, app, sig.String())
	}
}

// Shutdown stops the HTTP server before the scheduler. Aggregates of
// cancelled jobs are applied before connections close.
func Shutdown(log logger.Logger, server *api.Server, app *App, reason string) error {
	log.Info("Shutdown signal received", logger.String("reason", reason))
	cfg := app.Deps.Config

	var shutdownErr error

	log.Info("Stopping HTTP server")
	serverCtx, cancelServer := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := server.Shutdown(serverCtx); err != nil {
		log.Error("Failed to stop server", logger.Error(err))
		shutdownErr = fmt.Errorf("failed to stop server: %w", err)
	}
	cancelServer()

	log.Info("Stopping scheduler")
	schedCtx, cancelSched := context.WithTimeout(context.Background(), cfg.Scheduler.DrainTimeout)
	if err := app.Services.Scheduler.Stop(schedCtx); err != nil {
		log.Error("Failed to stop scheduler", logger.Error(err))
	}
	cancelSched()

	log.Info("Stopping aggregate writer")
	app.Close()

	if shutdownErr == nil {
		log.Info("Server stopped successfully")
	}
	return shutdownErr
}
