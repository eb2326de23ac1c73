// Package governor provides the process-wide admission gate that bounds how
// many documents may be mid-flight (upload + extract + embed) at once, across
// all tenants and workers. It is a blunt global ceiling protecting the
// process's memory and thread budget, not a per-tenant fairness mechanism.
package governor

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Governor is a counting admission gate with fixed capacity. Construct one at
// the composition root and pass it by reference into the orchestrator; there
// is deliberately no package-level instance.
type Governor struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
}

// New returns a Governor admitting at most capacity concurrent holders.
func New(capacity int) (*Governor, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("governor: capacity must be >= 1, got %d", capacity)
	}
	return &Governor{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}, nil
}

// Acquire blocks, without spinning, until a slot frees up or ctx is done.
// Waiters are served roughly in arrival order; sustained overload can starve
// late arrivals, which is an accepted tradeoff.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("governor: acquire: %w", err)
	}
	g.inFlight.Add(1)
	return nil
}

// Release frees a slot. Callers must pair every successful Acquire with
// exactly one Release, normally via defer so it runs on failure paths too.
func (g *Governor) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Capacity returns the configured slot count.
func (g *Governor) Capacity() int {
	return int(g.capacity)
}

// InFlight returns the number of currently held slots. Used for observability
// and tests; the value is advisory under concurrency.
func (g *Governor) InFlight() int {
	return int(g.inFlight.Load())
}
