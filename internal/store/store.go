// Package store defines the pluggable RecordStore backend contract and
// ships the default in-memory implementation plus two additional embedded
// backends (boltstore, pebblestore) behind the same interface.
package store

import (
	"context"
	"time"

	"github.com/hanpama/normcache/internal/cache"
)

// RecordStore is the abstract backend consulted by the store façade. It is
// the sole extension point for persistence: everything above this
// interface — locking, transactions, subscribers, the executor — is
// backend-agnostic.
//
// Implementations must be thread-safe only to the extent that concurrent
// reads are supported; exclusive write access is guaranteed by the caller
// (normcache's façade lock). Persistent backends are expected to implement
// Merge atomically: either every field in the batch is applied, or none are.
type RecordStore interface {
	// Load returns one RecordRow pointer per key, positionally aligned with
	// keys. A key absent from the store yields a nil entry at that
	// position, never an error.
	Load(ctx context.Context, keys []cache.CacheKey) ([]*cache.RecordRow, error)

	// Merge applies every record in rs, stamping each of them with
	// receivedAt whether or not any of its values changed, and returns the set of field-qualified keys whose stored
	// value actually changed. Merging is monotonic: it never drops
	// previously stored fields, and a field merged with a value deep-equal
	// to what's already stored is not reported as changed.
	Merge(ctx context.Context, rs cache.RecordSet, receivedAt time.Time) (cache.ChangedKeySet, error)

	// Clear removes every record from the store.
	Clear(ctx context.Context) error
}
