package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Politeness carries the per-source rules for one fetch.
type Politeness struct {
	// SourceID keys the rate limiter. Requests sharing a SourceID are
	// serialized and spaced by at least Delay.
	SourceID string
	Delay    time.Duration
}

// sourceGate serializes requests for one source and spaces their dispatch.
type sourceGate struct {
	slot    chan struct{}
	limiter *rate.Limiter
}

func newSourceGate(delay time.Duration) *sourceGate {
	return &sourceGate{
		slot:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(limitFor(delay), 1),
	}
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

// gateSet holds one gate per source. Gates are never removed.
type gateSet struct {
	mu    sync.Mutex
	gates map[string]*sourceGate
}

func newGateSet() *gateSet {
	return &gateSet{gates: make(map[string]*sourceGate)}
}

func (g *gateSet) gate(sourceID string, delay time.Duration) *sourceGate {
	g.mu.Lock()
	defer g.mu.Unlock()

	gate, ok := g.gates[sourceID]
	if !ok {
		gate = newSourceGate(delay)
		g.gates[sourceID] = gate
		return gate
	}

	if want := limitFor(delay); gate.limiter.Limit() != want {
		gate.limiter.SetLimit(want)
	}
	return gate
}

// acquire blocks until the source has no request in flight and its delay
// has elapsed since the previous dispatch. The returned func releases the slot.
func (g *gateSet) acquire(ctx context.Context, sourceID string, delay time.Duration) (func(), error) {
	gate := g.gate(sourceID, delay)

	select {
	case gate.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	release := func() { <-gate.slot }

	if err := gate.limiter.Wait(ctx); err != nil {
		release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w: %v", ErrDelayExceedsDeadline, context.DeadlineExceeded, err)
	}

	return release, nil
}
