package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/retry"
)

const (
	dbConnectAttempts     = 5
	dbConnectInitialDelay = time.Second
)

// DatabaseComponents holds the connection and repositories.
type DatabaseComponents struct {
	DB      *sqlx.DB
	Sources *database.SourceRepository
	Jobs    *database.JobRepository
	Content *database.ContentRepository
}

// SetupDatabase connects to PostgreSQL, applies pending migrations and
// creates the repositories.
func SetupDatabase(ctx context.Context, deps *CommandDeps) (*DatabaseComponents, error) {
	db, err := ConnectDatabase(ctx, deps)
	if err != nil {
		return nil, err
	}

	if err = database.RunMigrations(db.DB, deps.Logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseComponents{
		DB:      db,
		Sources: database.NewSourceRepository(db),
		Jobs:    database.NewJobRepository(db),
		Content: database.NewContentRepository(db),
	}, nil
}

// ConnectDatabase opens the PostgreSQL connection, retrying while the
// server comes up.
func ConnectDatabase(ctx context.Context, deps *CommandDeps) (*sqlx.DB, error) {
	cfg := deps.Config.Database
	deps.Logger.Info("Connecting to PostgreSQL",
		logger.String("host", cfg.Host),
		logger.String("port", cfg.Port),
		logger.String("database", cfg.DBName),
	)

	var db *sqlx.DB
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  dbConnectAttempts,
		InitialDelay: dbConnectInitialDelay,
		IsRetryable: func(err error) bool {
			return !errors.Is(err, database.ErrMissingHost)
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			deps.Logger.Warn("Database not ready, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("wait", wait),
				logger.Error(err),
			)
		},
	}, func(ctx context.Context) error {
		conn, connErr := database.NewPostgresConnection(ctx, cfg)
		if connErr != nil {
			return connErr
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
