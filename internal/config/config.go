package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/dedup"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/extractor"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/fetcher"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/job"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/redisindex"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/scheduler"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/search"
)

// DefaultConfigPath is read when neither --config nor CONFIG_PATH is set.
const DefaultConfigPath = "config.yml"

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME"    yaml:"name"`
	Version     string `env:"SERVICE_VERSION" yaml:"version"`
	Environment string `env:"APP_ENV"         yaml:"environment"`
	Debug       bool   `env:"APP_DEBUG"       yaml:"debug"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST"             yaml:"host"`
	Port            int           `env:"SERVER_PORT"             yaml:"port"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT"     yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT"    yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT"     yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// SetDefaults applies default values for ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8060
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Config is the complete blog crawler configuration.
type Config struct {
	Service       ServiceConfig     `yaml:"service"`
	Server        ServerConfig      `yaml:"server"`
	Database      database.Config   `yaml:"database"`
	Redis         redisindex.Config `yaml:"redis"`
	Elasticsearch search.Config     `yaml:"elasticsearch"`
	Logging       logger.Config     `yaml:"logging"`
	Fetcher       fetcher.Config    `yaml:"fetcher"`
	Extractor     extractor.Config  `yaml:"extractor"`
	Dedup         dedup.Config      `yaml:"dedup"`
	Job           job.Config        `yaml:"job"`
	Scheduler     scheduler.Config  `yaml:"scheduler"`
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "blog-crawler"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "development"
	}
	c.Server.SetDefaults()
	c.Database = c.Database.WithDefaults()
	c.Redis = c.Redis.WithDefaults()
	c.Elasticsearch = c.Elasticsearch.WithDefaults()
	c.Logging.SetDefaults()
	c.Fetcher = c.Fetcher.WithDefaults()
	c.Dedup = c.Dedup.WithDefaults()
	c.Job = c.Job.WithDefaults()
	c.Scheduler = c.Scheduler.WithDefaults()
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(ValidatePort("server.port", c.Server.Port))
	add(ValidateRequired("database.host", c.Database.Host))
	add(ValidateLogLevel(c.Logging.Level))
	add(ValidateLogFormat(c.Logging.Format))
	add(ValidatePositive("scheduler.workers", c.Scheduler.Workers))

	if c.Redis.Enabled {
		add(ValidateRequired("redis.address", c.Redis.Address))
	}
	if t := c.Dedup.SimilarityThreshold; t <= 0 || t > 1 {
		add(&ValidationError{Field: "dedup.similarity_threshold", Message: "must be in (0, 1]"})
	}
	if c.Extractor.MinBodyLength < 0 {
		add(&ValidationError{Field: "extractor.min_body_length", Message: "must not be negative"})
	}
	if _, err := c.Scheduler.Location(); err != nil {
		add(&ValidationError{Field: "scheduler.timezone", Message: err.Error()})
	}

	return errors.Join(errs...)
}

// LoadConfig loads path (skipped when the file does not exist), applies env
// overrides and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	var cfg Config
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(reflect.ValueOf(&cfg).Elem())
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
