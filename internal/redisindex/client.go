// Package redisindex shares admitted content fingerprints between crawler
// processes through Redis.
package redisindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Enabled   bool          `env:"REDIS_ENABLED"    yaml:"enabled"`
	Address   string        `env:"REDIS_ADDRESS"    yaml:"address"`
	Password  string        `env:"REDIS_PASSWORD"   yaml:"password"`
	DB        int           `env:"REDIS_DB"         yaml:"db"`
	KeyPrefix string        `env:"REDIS_KEY_PREFIX" yaml:"key_prefix"`
	ClaimTTL  time.Duration `env:"REDIS_CLAIM_TTL"  yaml:"claim_ttl"`
}

const (
	defaultAddress   = "localhost:6379"
	defaultKeyPrefix = "blog-crawler:fp:"
)

// WithDefaults returns a copy of the config with default values applied for zero-value fields.
func (c Config) WithDefaults() Config {
	if c.Address == "" {
		c.Address = defaultAddress
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultKeyPrefix
	}
	return c
}

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// connectionTimeout is the timeout for verifying Redis connection.
const connectionTimeout = 5 * time.Second

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}
