package dedup

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/fingerprint"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
)

// Seed is an already-ingested document used to prime the index.
type Seed struct {
	SourceID    string
	Fingerprint string
	Body        string
}

// Loader returns up to limit seeds, newest last.
type Loader func(ctx context.Context, limit int) ([]Seed, error)

// Warm seeds the index from each loader in turn. Seeds with an invalid
// fingerprint are skipped. Claims are not touched.
func (d *Deduplicator) Warm(ctx context.Context, loaders ...Loader) (int, error) {
	var total int
	for i, load := range loaders {
		seeds, err := load(ctx, d.cfg.WarmLimit)
		if err != nil {
			return total, fmt.Errorf("warm loader %d: %w", i, err)
		}

		d.mu.Lock()
		for _, s := range seeds {
			if !fingerprint.Valid(s.Fingerprint) {
				continue
			}
			d.index.add(s.SourceID, s.Fingerprint, fingerprint.Vectorize(s.Body))
			total++
		}
		d.mu.Unlock()
	}

	d.log.Info("Deduplication index warmed",
		logger.Int("seeds", total),
		logger.Int("indexed", d.Size()),
	)
	return total, nil
}
