// Package search mirrors staged content into Elasticsearch so reviewers can
// query it. The sink is optional; the crawl core works without it.
package search

import "time"

const (
	defaultIndex          = "blog_crawled_content"
	defaultRequestTimeout = 10 * time.Second
)

// Config holds Elasticsearch sink settings.
type Config struct {
	Enabled        bool          `env:"ELASTICSEARCH_ENABLED"         yaml:"enabled"`
	Addresses      []string      `env:"ELASTICSEARCH_HOSTS"           yaml:"addresses"`
	Username       string        `env:"ELASTICSEARCH_USERNAME"        yaml:"username"`
	Password       string        `env:"ELASTICSEARCH_PASSWORD"        yaml:"password"`
	APIKey         string        `env:"ELASTICSEARCH_API_KEY"         yaml:"api_key"`
	Index          string        `env:"ELASTICSEARCH_INDEX"           yaml:"index"`
	RequestTimeout time.Duration `env:"ELASTICSEARCH_REQUEST_TIMEOUT" yaml:"request_timeout"`
}

// WithDefaults returns a copy of the config with defaults applied for zero-value fields.
func (c Config) WithDefaults() Config {
	if len(c.Addresses) == 0 {
		c.Addresses = []string{"http://localhost:9200"}
	}
	if c.Index == "" {
		c.Index = defaultIndex
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}
