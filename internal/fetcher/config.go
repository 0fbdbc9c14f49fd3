package fetcher

import "time"

// Default configuration values.
const (
	defaultUserAgent      = "NorthCloud-BlogCrawler/1.0 (+https://northcloud.one/bot)"
	defaultRequestTimeout = 30 * time.Second
	defaultRobotsCacheTTL = 24 * time.Hour
	defaultMaxRedirects   = 5
	defaultMaxBodyBytes   = 10 * 1024 * 1024
)

// Config holds fetcher configuration.
type Config struct {
	UserAgent         string        `env:"FETCHER_USER_AGENT"          yaml:"user_agent"`
	RequestTimeout    time.Duration `env:"FETCHER_REQUEST_TIMEOUT"     yaml:"request_timeout"`
	RobotsCacheTTL    time.Duration `env:"FETCHER_ROBOTS_CACHE_TTL"    yaml:"robots_cache_ttl"`
	MaxRedirects      int           `env:"FETCHER_MAX_REDIRECTS"       yaml:"max_redirects"`
	MaxBodyBytes      int64         `env:"FETCHER_MAX_BODY_BYTES"      yaml:"max_body_bytes"`
	IgnoreRobots      bool          `env:"FETCHER_IGNORE_ROBOTS"       yaml:"ignore_robots"`
	RespectCrawlDelay bool          `env:"FETCHER_RESPECT_CRAWL_DELAY" yaml:"respect_crawl_delay"`
}

// WithDefaults returns a copy of the config with defaults applied for zero-value fields.
func (c Config) WithDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.RobotsCacheTTL <= 0 {
		c.RobotsCacheTTL = defaultRobotsCacheTTL
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = defaultMaxRedirects
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	return c
}
