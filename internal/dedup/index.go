package dedup

import (
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/fingerprint"
)

type entry struct {
	id          uint64
	sourceID    string
	fingerprint string
	vector      fingerprint.Vector
}

// index is the in-process corpus index. It is not safe for concurrent use;
// the Deduplicator guards it.
type index struct {
	cfg Config

	nextID   uint64
	entries  map[uint64]*entry
	byFP     map[string]uint64
	postings map[string][]uint64
	recent   map[string][]uint64
}

func newIndex(cfg Config) *index {
	return &index{
		cfg:      cfg,
		entries:  make(map[uint64]*entry),
		byFP:     make(map[string]uint64),
		postings: make(map[string][]uint64),
		recent:   make(map[string][]uint64),
	}
}

func (ix *index) size() int {
	return len(ix.entries)
}

func (ix *index) has(fp string) bool {
	_, ok := ix.byFP[fp]
	return ok
}

func (ix *index) add(sourceID, fp string, vec fingerprint.Vector) {
	if ix.has(fp) {
		return
	}

	ix.nextID++
	e := &entry{id: ix.nextID, sourceID: sourceID, fingerprint: fp, vector: vec}
	ix.entries[e.id] = e
	ix.byFP[fp] = e.id

	for term := range vec.Terms {
		ix.postings[term] = appendCapped(ix.postings[term], e.id, ix.cfg.MaxPostingsPerTerm)
	}
	if sourceID != "" {
		ix.recent[sourceID] = appendCapped(ix.recent[sourceID], e.id, ix.cfg.ShortlistPerSource)
	}
}

// remove drops fp. Stale IDs left in posting lists are skipped on lookup.
func (ix *index) remove(fp string) bool {
	id, ok := ix.byFP[fp]
	if !ok {
		return false
	}
	delete(ix.byFP, fp)
	delete(ix.entries, id)
	return true
}

// shortlist returns the entries a candidate is compared against: the
// source's most recent entries, then postings of the candidate's top terms,
// newest first, capped at ShortlistSize.
func (ix *index) shortlist(sourceID string, vec fingerprint.Vector) []*entry {
	limit := ix.cfg.ShortlistSize
	seen := make(map[uint64]struct{}, limit)
	out := make([]*entry, 0, limit)

	take := func(ids []uint64) bool {
		for i := len(ids) - 1; i >= 0; i-- {
			if len(out) >= limit {
				return false
			}
			id := ids[i]
			if _, dup := seen[id]; dup {
				continue
			}
			e, ok := ix.entries[id]
			if !ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, e)
		}
		return true
	}

	if sourceID != "" && !take(ix.recent[sourceID]) {
		return out
	}
	for _, term := range vec.TopTerms(ix.cfg.QueryTerms) {
		if !take(ix.postings[term]) {
			break
		}
	}
	return out
}

func appendCapped(ids []uint64, id uint64, limit int) []uint64 {
	ids = append(ids, id)
	if limit > 0 && len(ids) > limit {
		ids = append(ids[:0:0], ids[len(ids)-limit:]...)
	}
	return ids
}
