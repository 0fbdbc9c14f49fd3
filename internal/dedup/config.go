package dedup

// Default configuration values.
const (
	DefaultSimilarityThreshold = 0.85
	DefaultShortlistSize       = 200
	DefaultShortlistPerSource  = 50
	DefaultQueryTerms          = 8
	DefaultMaxPostingsPerTerm  = 1000
	DefaultWarmLimit           = 5000
)

// Config holds deduplicator configuration.
type Config struct {
	// SimilarityThreshold is the cosine score at or above which a candidate is a near duplicate.
	SimilarityThreshold float64 `env:"DEDUP_SIMILARITY_THRESHOLD" yaml:"similarity_threshold"`
	// ShortlistSize caps how many indexed entries one candidate is compared against.
	ShortlistSize int `env:"DEDUP_SHORTLIST_SIZE" yaml:"shortlist_size"`
	// ShortlistPerSource is how many of the source's most recent entries join the shortlist.
	ShortlistPerSource int `env:"DEDUP_SHORTLIST_PER_SOURCE" yaml:"shortlist_per_source"`
	// QueryTerms is how many of the candidate's top terms are looked up in the inverted index.
	QueryTerms int `env:"DEDUP_QUERY_TERMS" yaml:"query_terms"`
	// MaxPostingsPerTerm bounds each inverted-index posting list; oldest entries fall off.
	MaxPostingsPerTerm int `env:"DEDUP_MAX_POSTINGS_PER_TERM" yaml:"max_postings_per_term"`
	// WarmLimit is how many recent content rows seed the index at startup.
	WarmLimit int `env:"DEDUP_WARM_LIMIT" yaml:"warm_limit"`
}

// WithDefaults returns a copy of the config with default values applied for zero-value fields.
func (c Config) WithDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.ShortlistSize <= 0 {
		c.ShortlistSize = DefaultShortlistSize
	}
	if c.ShortlistPerSource <= 0 {
		c.ShortlistPerSource = DefaultShortlistPerSource
	}
	if c.QueryTerms <= 0 {
		c.QueryTerms = DefaultQueryTerms
	}
	if c.MaxPostingsPerTerm <= 0 {
		c.MaxPostingsPerTerm = DefaultMaxPostingsPerTerm
	}
	if c.WarmLimit <= 0 {
		c.WarmLimit = DefaultWarmLimit
	}
	return c
}
