// Package database provides PostgreSQL connectivity, schema migrations and
// the repositories behind the crawl core's store interfaces.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum connection lifetime
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultPingTimeout is the default timeout for ping operations
	DefaultPingTimeout = 5 * time.Second
)

// ErrMissingHost is returned when no host is configured.
var ErrMissingHost = errors.New("database host is required")

// Config holds database configuration.
type Config struct {
	Host            string        `env:"POSTGRES_HOST"              yaml:"host"`
	Port            string        `env:"POSTGRES_PORT"              yaml:"port"`
	User            string        `env:"POSTGRES_USER"              yaml:"user"`
	Password        string        `env:"POSTGRES_PASSWORD"          yaml:"password"`
	DBName          string        `env:"POSTGRES_DB"                yaml:"dbname"`
	SSLMode         string        `env:"POSTGRES_SSLMODE"           yaml:"sslmode"`
	MaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS"    yaml:"max_open_conns"`
	MaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS"    yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" yaml:"conn_max_lifetime"`
}

// WithDefaults returns a copy of the config with defaults applied for zero-value fields.
func (c Config) WithDefaults() Config {
	if c.Port == "" {
		c.Port = "5432"
	}
	if c.User == "" {
		c.User = "postgres"
	}
	if c.DBName == "" {
		c.DBName = "blog_crawler"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = DefaultMaxIdleConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	return c
}

// DSN returns the lib/pq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// NewPostgresConnection creates a new PostgreSQL database connection.
func NewPostgresConnection(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	cfg = cfg.WithDefaults()
	if cfg.Host == "" {
		return nil, ErrMissingHost
	}

	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	return db, nil
}
