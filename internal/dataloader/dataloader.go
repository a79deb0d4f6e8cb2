// Package dataloader implements a per-transaction request coalescer: many
// Load calls for possibly-overlapping keys collapse into a single batched
// call once Dispatch is invoked, with deduplicated, order-preserving keys.
//
// A Loader is owned exclusively by one transaction and must never be shared
// across transactions — doing so would bind unrelated reads' lifetimes
// together (see the store façade's per-transaction allocation).
package dataloader

import (
	"context"
	"fmt"
)

// BatchLoadFn resolves a batch of keys to values. It must return a slice of
// exactly len(keys), positionally aligned with keys. Independent per-key
// failures should be modeled by the caller's V type, not by returning an
// error from BatchLoadFn — the loader itself only treats a length mismatch
// or an outright BatchLoadFn error as a batch-wide failure.
type BatchLoadFn[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// Future is a single-assignment handle to a value that becomes available
// once the loader's next Dispatch completes.
type Future[V any] struct {
	done chan struct{}
	val  V
	err  error
}

func newFuture[V any]() *Future[V] {
	return &Future[V]{done: make(chan struct{})}
}

func (f *Future[V]) resolve(v V, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Wait blocks until f is resolved by a Dispatch, or ctx is done, whichever
// comes first.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Loader coalesces Load calls issued during a single transaction into
// batched BatchLoadFn invocations triggered by Dispatch. It is not safe for
// concurrent use by multiple goroutines without external synchronization;
// the executor drives it from a single goroutine per transaction.
type Loader[K comparable, V any] struct {
	batchLoad BatchLoadFn[K, V]

	pendingOrder []K
	pending      map[K]*Future[V]
}

// New returns a Loader that dispatches batches through fn.
func New[K comparable, V any](fn BatchLoadFn[K, V]) *Loader[K, V] {
	return &Loader[K, V]{
		batchLoad: fn,
		pending:   make(map[K]*Future[V]),
	}
}

// Load enqueues k for the next Dispatch and returns a future for its value.
// Identical calls for the same key within the same undispatched batch
// return the SAME future — the batch will only ever contain k once.
// Load itself never triggers backend work.
func (l *Loader[K, V]) Load(k K) *Future[V] {
	if f, ok := l.pending[k]; ok {
		return f
	}
	f := newFuture[V]()
	l.pending[k] = f
	l.pendingOrder = append(l.pendingOrder, k)
	return f
}

// Get is a convenience wrapper around Load followed by a blocking Wait. It
// is meant for callers outside the executor's batch-then-await pattern
// (e.g. tests) — the executor itself calls Load for every reference before
// a single Dispatch, then Waits on each future.
func (l *Loader[K, V]) Get(ctx context.Context, k K) (V, error) {
	return l.Load(k).Wait(ctx)
}

// Dispatch atomically takes the pending batch, clears it, and invokes
// batchLoad exactly once with the enqueued keys in enqueue order (each key
// appearing once, per Load's deduplication). Results are distributed
// positionally back to each pending future. An empty dispatch is a no-op.
//
// If batchLoad returns an error, or a result slice whose length does not
// match the number of keys (a backend-contract violation per the loader's
// zip-by-position rule), every pending future in this batch resolves to
// that error.
func (l *Loader[K, V]) Dispatch(ctx context.Context) {
	if len(l.pendingOrder) == 0 {
		return
	}
	keys := l.pendingOrder
	futures := make([]*Future[V], len(keys))
	for i, k := range keys {
		futures[i] = l.pending[k]
	}
	l.pendingOrder = nil
	l.pending = make(map[K]*Future[V])

	values, err := l.batchLoad(ctx, keys)
	if err != nil {
		for _, f := range futures {
			f.resolve(zeroValue[V](), err)
		}
		return
	}
	if len(values) != len(keys) {
		mismatch := fmt.Errorf("dataloader: batchLoad returned %d values for %d keys", len(values), len(keys))
		for _, f := range futures {
			f.resolve(zeroValue[V](), mismatch)
		}
		return
	}
	for i, f := range futures {
		f.resolve(values[i], nil)
	}
}

func zeroValue[V any]() V {
	var z V
	return z
}
