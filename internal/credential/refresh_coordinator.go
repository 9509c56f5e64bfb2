package credential

import (
	"context"
	"sync"
)

// RefreshCoordinator ensures at most one in-flight refresh per credential
// id; callers arriving while a refresh is in progress wait for and share
// its result (spec §4.2 "Concurrent-refresh suppression").
type RefreshCoordinator interface {
	Do(ctx context.Context, id int64, fn func(ctx context.Context) error) error
}

type flight struct {
	wg  sync.WaitGroup
	err error
}

// InflightCoordinator is a hand-rolled per-key single-flight: it avoids
// holding any collection-wide lock across the network call a refresh
// performs, which golang.org/x/sync/singleflight's group-scoped Do would
// not change, but this keeps the gate keyed and scoped to this package
// without an extra dependency for a handful of lines of logic.
type InflightCoordinator struct {
	mu      sync.Mutex
	inFlight map[int64]*flight
}

// NewInflightCoordinator constructs an empty coordinator.
func NewInflightCoordinator() *InflightCoordinator {
	return &InflightCoordinator{inFlight: make(map[int64]*flight)}
}

// Do runs fn for id, or waits for and returns the result of an already
// in-flight call for the same id.
func (ic *InflightCoordinator) Do(ctx context.Context, id int64, fn func(ctx context.Context) error) error {
	ic.mu.Lock()
	if f, ok := ic.inFlight[id]; ok {
		ic.mu.Unlock()
		f.wg.Wait()
		return f.err
	}

	f := &flight{}
	f.wg.Add(1)
	ic.inFlight[id] = f
	ic.mu.Unlock()

	f.err = fn(ctx)

	ic.mu.Lock()
	delete(ic.inFlight, id)
	ic.mu.Unlock()

	f.wg.Done()
	return f.err
}
