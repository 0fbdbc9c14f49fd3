// Package dedup classifies crawl candidates as unique, exact duplicates or
// near duplicates of content already ingested.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/fingerprint"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
)

// Class is the outcome of a duplicate check.
type Class string

const (
	Unique         Class = "unique"
	ExactDuplicate Class = "exact_duplicate"
	NearDuplicate  Class = "near_duplicate"
)

// Result is a classification. Score is the best cosine seen, or nil when no
// comparison was possible.
type Result struct {
	Class Class
	Score *float64
}

// IsDuplicate reports whether the candidate should not be staged.
func (r Result) IsDuplicate() bool {
	return r.Class == ExactDuplicate || r.Class == NearDuplicate
}

// Candidate is the dedup view of an extracted page.
type Candidate struct {
	SourceID    string
	Fingerprint string
	Vector      fingerprint.Vector
}

// NewCandidate fingerprints and vectorizes title and body.
func NewCandidate(sourceID, title, body string) Candidate {
	return Candidate{
		SourceID:    sourceID,
		Fingerprint: fingerprint.Fingerprint(title, body),
		Vector:      fingerprint.Vectorize(body),
	}
}

// Claims is a fingerprint set shared between processes.
type Claims interface {
	// Exists reports whether fp was claimed by any process.
	Exists(ctx context.Context, fp string) (bool, error)
	// Claim records fp and reports whether this call created the claim.
	Claim(ctx context.Context, fp string) (bool, error)
	// Release removes a claim made by this process.
	Release(ctx context.Context, fp string) error
}

// FingerprintStore answers exact lookups against every fingerprint ever
// staged, including those the warm index no longer holds.
type FingerprintStore interface {
	FingerprintExists(ctx context.Context, fp string) (bool, error)
}

// Observer receives one call per Admit.
type Observer interface {
	ObserveDedup(class Class, score *float64)
}

// Deduplicator owns the corpus index. Admit is its only writer.
type Deduplicator struct {
	cfg      Config
	log      logger.Logger
	claims   Claims
	store    FingerprintStore
	observer Observer

	mu    sync.RWMutex
	index *index
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithClaims adds a cross-process fingerprint set.
func WithClaims(c Claims) Option {
	return func(d *Deduplicator) {
		d.claims = c
	}
}

// WithStore checks fingerprints missing from the index against s.
func WithStore(s FingerprintStore) Option {
	return func(d *Deduplicator) {
		d.store = s
	}
}

// WithObserver reports each admission outcome to o.
func WithObserver(o Observer) Option {
	return func(d *Deduplicator) {
		d.observer = o
	}
}

// New creates a Deduplicator with an empty index.
func New(cfg Config, log logger.Logger, opts ...Option) *Deduplicator {
	cfg = cfg.WithDefaults()
	d := &Deduplicator{
		cfg:   cfg,
		log:   log,
		index: newIndex(cfg),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Size returns the number of indexed fingerprints.
func (d *Deduplicator) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index.size()
}

// Classify checks c against the index without modifying it.
func (d *Deduplicator) Classify(ctx context.Context, c Candidate) (Result, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.classifyLocked(ctx, c)
}

// Admit classifies c and, if it is unique, adds it to the index in the same
// critical section. Two concurrent Admits of the same content cannot both
// return Unique.
func (d *Deduplicator) Admit(ctx context.Context, c Candidate) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.classifyLocked(ctx, c)
	if err != nil {
		return res, err
	}

	if res.Class == Unique && d.claims != nil {
		claimed, claimErr := d.claims.Claim(ctx, c.Fingerprint)
		switch {
		case claimErr != nil:
			d.log.Warn("Fingerprint claim failed, using local index only",
				logger.String("fingerprint", c.Fingerprint),
				logger.Error(claimErr),
			)
		case !claimed:
			res = Result{Class: ExactDuplicate}
		}
	}

	if res.Class == Unique {
		d.index.add(c.SourceID, c.Fingerprint, c.Vector)
	}

	if d.observer != nil {
		d.observer.ObserveDedup(res.Class, res.Score)
	}
	return res, nil
}

// Forget removes fp from the index and releases its claim. It undoes an
// Admit whose content could not be persisted.
func (d *Deduplicator) Forget(ctx context.Context, fp string) {
	d.mu.Lock()
	removed := d.index.remove(fp)
	d.mu.Unlock()

	if !removed || d.claims == nil {
		return
	}
	if err := d.claims.Release(ctx, fp); err != nil {
		d.log.Warn("Failed to release fingerprint claim",
			logger.String("fingerprint", fp),
			logger.Error(err),
		)
	}
}

func (d *Deduplicator) classifyLocked(ctx context.Context, c Candidate) (Result, error) {
	if d.index.has(c.Fingerprint) {
		return Result{Class: ExactDuplicate}, nil
	}

	if d.claims != nil {
		exists, err := d.claims.Exists(ctx, c.Fingerprint)
		if err != nil {
			d.log.Warn("Fingerprint lookup failed, using local index only",
				logger.String("fingerprint", c.Fingerprint),
				logger.Error(err),
			)
		} else if exists {
			return Result{Class: ExactDuplicate}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}

	if d.store != nil {
		exists, err := d.store.FingerprintExists(ctx, c.Fingerprint)
		if err != nil {
			return Result{}, fmt.Errorf("classify: %w", err)
		}
		if exists {
			return Result{Class: ExactDuplicate}, nil
		}
	}

	if c.Vector.Empty() {
		return Result{Class: Unique}, nil
	}

	var (
		best     float64
		compared bool
	)
	for _, e := range d.index.shortlist(c.SourceID, c.Vector) {
		score, ok := fingerprint.Cosine(c.Vector, e.vector)
		if !ok {
			continue
		}
		compared = true
		if score > best {
			best = score
		}
	}

	if !compared {
		return Result{Class: Unique}, nil
	}
	if best >= d.cfg.SimilarityThreshold {
		return Result{Class: NearDuplicate, Score: &best}, nil
	}
	return Result{Class: Unique, Score: &best}, nil
}
