package dedup_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/dedup"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/fingerprint"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const article = "Go schedulers multiplex goroutines onto operating system threads using work stealing queues"

func newDedup(opts ...dedup.Option) *dedup.Deduplicator {
	return dedup.New(dedup.Config{}, logger.NewNop(), opts...)
}

func TestAdmit_Idempotent(t *testing.T) {
	t.Parallel()

	d := newDedup()
	ctx := context.Background()
	c := dedup.NewCandidate("src-1", "Scheduling", article)

	first, err := d.Admit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, first.Class)
	assert.Nil(t, first.Score)

	second, err := d.Admit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, dedup.ExactDuplicate, second.Class)
	assert.True(t, second.IsDuplicate())
	assert.Equal(t, 1, d.Size())
}

func TestClassify_DoesNotModify(t *testing.T) {
	t.Parallel()

	d := newDedup()
	c := dedup.NewCandidate("src-1", "Scheduling", article)

	res, err := d.Classify(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, res.Class)
	assert.Zero(t, d.Size())
}

func TestAdmit_NearDuplicate(t *testing.T) {
	t.Parallel()

	d := newDedup()
	ctx := context.Background()

	_, err := d.Admit(ctx, dedup.NewCandidate("src-1", "Scheduling", article))
	require.NoError(t, err)

	// Different title, same body words plus one: different fingerprint, high cosine.
	res, err := d.Admit(ctx, dedup.NewCandidate("src-2", "Scheduling (repost)", article+" explained"))
	require.NoError(t, err)
	assert.Equal(t, dedup.NearDuplicate, res.Class)
	require.NotNil(t, res.Score)
	assert.GreaterOrEqual(t, *res.Score, dedup.DefaultSimilarityThreshold)
	assert.LessOrEqual(t, *res.Score, 1.0)
	assert.Equal(t, 1, d.Size())
}

func TestAdmit_UniqueKeepsScore(t *testing.T) {
	t.Parallel()

	d := newDedup()
	ctx := context.Background()

	_, err := d.Admit(ctx, dedup.NewCandidate("src-1", "Scheduling", article))
	require.NoError(t, err)

	res, err := d.Admit(ctx, dedup.NewCandidate("src-1", "Gardening", "tomatoes need sunlight water and patience goroutines"))
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, res.Class)
	require.NotNil(t, res.Score)
	assert.Greater(t, *res.Score, 0.0)
	assert.Less(t, *res.Score, dedup.DefaultSimilarityThreshold)
}

func TestAdmit_ZeroTermVector(t *testing.T) {
	t.Parallel()

	d := newDedup()
	ctx := context.Background()

	_, err := d.Admit(ctx, dedup.NewCandidate("src-1", "Scheduling", article))
	require.NoError(t, err)

	res, err := d.Admit(ctx, dedup.NewCandidate("src-1", "Untitled", "the a of and 1 2 3"))
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, res.Class)
	assert.Nil(t, res.Score)
}

func TestAdmit_ConfigurableThreshold(t *testing.T) {
	t.Parallel()

	d := dedup.New(dedup.Config{SimilarityThreshold: 0.99}, logger.NewNop())
	ctx := context.Background()

	_, err := d.Admit(ctx, dedup.NewCandidate("src-1", "Scheduling", article))
	require.NoError(t, err)

	res, err := d.Admit(ctx, dedup.NewCandidate("src-1", "Scheduling 2", article+" explained"))
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, res.Class)
	require.NotNil(t, res.Score)
}

func TestAdmit_ConcurrentSameContent(t *testing.T) {
	t.Parallel()

	d := newDedup()
	c := dedup.NewCandidate("src-1", "Scheduling", article)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		uniques int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Admit(context.Background(), c)
			if err != nil || res.Class != dedup.Unique {
				return
			}
			mu.Lock()
			uniques++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, uniques)
}

func TestForget(t *testing.T) {
	t.Parallel()

	d := newDedup()
	ctx := context.Background()
	c := dedup.NewCandidate("src-1", "Scheduling", article)

	_, err := d.Admit(ctx, c)
	require.NoError(t, err)

	d.Forget(ctx, c.Fingerprint)
	assert.Zero(t, d.Size())

	res, err := d.Admit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, res.Class)
}

func TestShortlist_Bounded(t *testing.T) {
	t.Parallel()

	d := dedup.New(dedup.Config{ShortlistSize: 5, ShortlistPerSource: 3}, logger.NewNop())
	ctx := context.Background()

	for i := range 50 {
		body := fmt.Sprintf("shared vocabulary appears everywhere document%d unique%d", i, i)
		res, err := d.Admit(ctx, dedup.NewCandidate("src-1", fmt.Sprintf("t%d", i), body))
		require.NoError(t, err)
		if res.Score != nil {
			assert.GreaterOrEqual(t, *res.Score, 0.0)
			assert.LessOrEqual(t, *res.Score, 1.0)
		}
	}
	assert.Positive(t, d.Size())
}

func TestWarm(t *testing.T) {
	t.Parallel()

	d := newDedup()
	ctx := context.Background()
	existing := dedup.NewCandidate("src-1", "Scheduling", article)

	content := func(_ context.Context, limit int) ([]dedup.Seed, error) {
		assert.Equal(t, dedup.DefaultWarmLimit, limit)
		return []dedup.Seed{
			{SourceID: "src-1", Fingerprint: existing.Fingerprint, Body: article},
			{SourceID: "src-1", Fingerprint: "not-a-fingerprint", Body: "ignored"},
		}, nil
	}
	published := func(context.Context, int) ([]dedup.Seed, error) {
		return []dedup.Seed{{Fingerprint: fingerprint.Fingerprint("Post", "published body text"), Body: "published body text"}}, nil
	}

	n, err := d.Warm(ctx, content, published)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := d.Admit(ctx, existing)
	require.NoError(t, err)
	assert.Equal(t, dedup.ExactDuplicate, res.Class)

	failing := func(context.Context, int) ([]dedup.Seed, error) { return nil, errors.New("db down") }
	_, err = d.Warm(ctx, failing)
	require.Error(t, err)
}

// memClaims is an in-memory Claims shared by several deduplicators.
type memClaims struct {
	mu  sync.Mutex
	set map[string]struct{}
	err error
}

func newMemClaims() *memClaims {
	return &memClaims{set: make(map[string]struct{})}
}

func (m *memClaims) Exists(_ context.Context, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.set[fp]
	return ok, nil
}

func (m *memClaims) Claim(_ context.Context, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.set[fp]; ok {
		return false, nil
	}
	m.set[fp] = struct{}{}
	return true, nil
}

func (m *memClaims) Release(_ context.Context, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.set, fp)
	return nil
}

func TestAdmit_SharedClaimsAcrossProcesses(t *testing.T) {
	t.Parallel()

	claims := newMemClaims()
	a := newDedup(dedup.WithClaims(claims))
	b := newDedup(dedup.WithClaims(claims))
	ctx := context.Background()
	c := dedup.NewCandidate("src-1", "Scheduling", article)

	res, err := a.Admit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, res.Class)

	res, err = b.Admit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, dedup.ExactDuplicate, res.Class)

	a.Forget(ctx, c.Fingerprint)
	res, err = b.Admit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, res.Class)
}

func TestAdmit_ClaimsUnavailable(t *testing.T) {
	t.Parallel()

	claims := newMemClaims()
	claims.err = errors.New("redis down")
	d := newDedup(dedup.WithClaims(claims))

	res, err := d.Admit(context.Background(), dedup.NewCandidate("src-1", "Scheduling", article))
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, res.Class)
	assert.Equal(t, 1, d.Size())
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[dedup.Class]int
}

func (o *countingObserver) ObserveDedup(class dedup.Class, _ *float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[class]++
}

func TestAdmit_Observer(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{counts: make(map[dedup.Class]int)}
	d := newDedup(dedup.WithObserver(obs))
	c := dedup.NewCandidate("src-1", "Scheduling", article)

	_, _ = d.Admit(context.Background(), c)
	_, _ = d.Admit(context.Background(), c)

	assert.Equal(t, 1, obs.counts[dedup.Unique])
	assert.Equal(t, 1, obs.counts[dedup.ExactDuplicate])
}

// memStore stands in for the content table.
type memStore struct {
	fps map[string]bool
	err error
}

func (m *memStore) FingerprintExists(_ context.Context, fp string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.fps[fp], nil
}

func TestAdmit_StoreCatchesRowsOutsideWarmWindow(t *testing.T) {
	t.Parallel()

	older := dedup.NewCandidate("src-1", "Scheduling", article)
	newer := dedup.NewCandidate("src-2", "Allocators", "Arena allocators trade fragmentation for predictable release of whole regions at once")
	store := &memStore{fps: map[string]bool{older.Fingerprint: true, newer.Fingerprint: true}}

	d := dedup.New(dedup.Config{WarmLimit: 1}, logger.NewNop(), dedup.WithStore(store))
	ctx := context.Background()

	recent := func(_ context.Context, limit int) ([]dedup.Seed, error) {
		seeds := []dedup.Seed{
			{SourceID: "src-1", Fingerprint: older.Fingerprint, Body: article},
			{SourceID: "src-2", Fingerprint: newer.Fingerprint, Body: "Arena allocators trade fragmentation for predictable release of whole regions at once"},
		}
		return seeds[len(seeds)-limit:], nil
	}
	n, err := d.Warm(ctx, recent)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err := d.Admit(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, dedup.ExactDuplicate, res.Class)
	assert.Equal(t, 1, d.Size())
}

func TestAdmit_StoreMissIsUnique(t *testing.T) {
	t.Parallel()

	d := newDedup(dedup.WithStore(&memStore{fps: map[string]bool{}}))

	res, err := d.Admit(context.Background(), dedup.NewCandidate("src-1", "Scheduling", article))
	require.NoError(t, err)
	assert.Equal(t, dedup.Unique, res.Class)
	assert.Equal(t, 1, d.Size())
}

func TestAdmit_StoreErrorIsReturned(t *testing.T) {
	t.Parallel()

	d := newDedup(dedup.WithStore(&memStore{err: errors.New("db down")}))

	_, err := d.Admit(context.Background(), dedup.NewCandidate("src-1", "Scheduling", article))
	require.Error(t, err)
	assert.Zero(t, d.Size())
}
