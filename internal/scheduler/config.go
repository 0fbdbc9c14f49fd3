package scheduler

import (
	"os"
	"time"
)

// Default configuration values.
const (
	DefaultTickInterval = time.Minute
	DefaultWorkers      = 4
	DefaultQueueSize    = 64
	DefaultJobTimeout   = time.Hour
	DefaultDrainTimeout = 30 * time.Second

	DefaultHeartbeatInterval = time.Minute
	DefaultStaleAfter        = 10 * time.Minute
)

// Config holds scheduler configuration.
type Config struct {
	// TickInterval is how often due sources are evaluated.
	TickInterval time.Duration `env:"SCHEDULER_TICK_INTERVAL" yaml:"tick_interval"`
	// Workers is the number of jobs that run at once.
	Workers int `env:"SCHEDULER_WORKERS" yaml:"workers"`
	// QueueSize bounds how many started jobs may wait for a worker.
	QueueSize int `env:"SCHEDULER_QUEUE_SIZE" yaml:"queue_size"`
	// JobTimeout bounds one job's wall time. The job ends failed when it elapses.
	JobTimeout time.Duration `env:"SCHEDULER_JOB_TIMEOUT" yaml:"job_timeout"`
	// DrainTimeout bounds how long Stop waits for running jobs.
	DrainTimeout time.Duration `env:"SCHEDULER_DRAIN_TIMEOUT" yaml:"drain_timeout"`
	// Timezone cadence windows are evaluated in. Empty means UTC.
	Timezone string `env:"SCHEDULER_TIMEZONE" yaml:"timezone"`
	// Enabled turns the periodic tick on. Manual triggers work either way.
	Enabled bool `env:"SCHEDULER_ENABLED" yaml:"enabled"`
	// InstanceID is recorded as the owner of every job this process creates.
	// Processes sharing a database need distinct values. Defaults to the host name.
	InstanceID string `env:"SCHEDULER_INSTANCE_ID" yaml:"instance_id"`
	// HeartbeatInterval is how often active jobs are marked alive.
	HeartbeatInterval time.Duration `env:"SCHEDULER_HEARTBEAT_INTERVAL" yaml:"heartbeat_interval"`
	// StaleAfter is how long another process's job may go without a heartbeat
	// before it is failed as interrupted.
	StaleAfter time.Duration `env:"SCHEDULER_STALE_AFTER" yaml:"stale_after"`
}

// WithDefaults returns a copy of the config with default values applied for zero-value fields.
func (c Config) WithDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.InstanceID == "" {
		c.InstanceID = defaultInstanceID()
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "blog-crawler"
	}
	return host
}
