package job

import "time"

// Default configuration values.
const (
	defaultMaxErrors  = 10
	defaultRetryDelay = 500 * time.Millisecond
)

// Config holds job controller configuration.
type Config struct {
	// MaxErrors fails the job once errors_count exceeds it. Negative disables the threshold.
	MaxErrors int `env:"JOB_MAX_ERRORS" yaml:"max_errors"`
	// PageRetries is how many extra attempts a transient page fetch failure gets.
	PageRetries int `env:"JOB_PAGE_RETRIES" yaml:"page_retries"`
	// RetryDelay is the first backoff between page retries.
	RetryDelay time.Duration `env:"JOB_RETRY_DELAY" yaml:"retry_delay"`
}

// WithDefaults returns a copy of the config with default values applied for zero-value fields.
func (c Config) WithDefaults() Config {
	if c.MaxErrors == 0 {
		c.MaxErrors = defaultMaxErrors
	}
	if c.PageRetries < 0 {
		c.PageRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}
