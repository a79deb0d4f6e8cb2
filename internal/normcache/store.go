// Package normcache is the public façade over the normalized cache: it
// wires the schema, a pluggable store.RecordStore, the executor, and a
// per-transaction DataLoader into read and read-write transactions, and
// broadcasts change notifications to subscribers after every merge.
package normcache

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	cache "github.com/hanpama/normcache/internal/cache"
	eventbus "github.com/hanpama/normcache/internal/eventbus"
	events "github.com/hanpama/normcache/internal/events"
	executor "github.com/hanpama/normcache/internal/executor"
	language "github.com/hanpama/normcache/internal/language"
	reqid "github.com/hanpama/normcache/internal/reqid"
	schema "github.com/hanpama/normcache/internal/schema"
	store "github.com/hanpama/normcache/internal/store"
)

// Subscriber is notified after every committed write with the set of
// field-qualified keys that actually changed. Notification order matches
// registration order, and all subscribers for one write are invoked
// synchronously before Publish (or a read-write transaction) returns.
type Subscriber interface {
	DidChangeKeys(s *Store, changed cache.ChangedKeySet, contextIdentifier any)
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(s *Store, changed cache.ChangedKeySet, contextIdentifier any)

func (f SubscriberFunc) DidChangeKeys(s *Store, changed cache.ChangedKeySet, contextIdentifier any) {
	f(s, changed, contextIdentifier)
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithCacheKeyForObject installs the hook used to derive a CacheKey for a
// normalized object from its type name and raw JSON object. Without one,
// normalization falls back to response-path-derived keys.
func WithCacheKeyForObject(fn executor.CacheKeyForObject) Option {
	return func(s *Store) { s.keyForObject = fn }
}

// WithBackend overrides the default InMemoryRecordStore.
func WithBackend(b store.RecordStore) Option {
	return func(s *Store) { s.backend = b }
}

// WithClock overrides time.Now, primarily for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// WithTypeNameResolver overrides how an interface/union value's concrete
// type name is read out of a raw response object during normalization.
func WithTypeNameResolver(fn executor.TypeNameResolver) Option {
	return func(s *Store) { s.resolveType = fn }
}

// Store is the normalized cache's public entry point.
type Store struct {
	schema       *schema.Schema
	backend      store.RecordStore
	keyForObject executor.CacheKeyForObject
	resolveType  executor.TypeNameResolver
	clock        func() time.Time

	// mu guards the backend against concurrent Clear: readers hold RLock
	// for their whole transaction, writers hold Lock. writeMu additionally
	// serializes writers relative to each other and to Publish so that
	// change notifications are delivered in the order their writes
	// completed, independent of RWMutex's writer-starvation-avoidance
	// ordering.
	mu      sync.RWMutex
	writeMu sync.Mutex

	subMu       sync.Mutex
	subscribers []Subscriber

	// generation increments on Clear; transactions capture it at open and
	// compare it before each access, surfacing cache.DisposedError if the
	// store was cleared out from under them. The RWMutex already prevents
	// Clear from interleaving with a live transaction's reads; this is a
	// second, explicit guard matching the error type's own contract.
	generation int64
}

// New returns a Store backed by an in-memory RecordStore unless
// WithBackend overrides it.
func New(s *schema.Schema, opts ...Option) *Store {
	st := &Store{
		schema:      s,
		backend:     store.NewInMemoryRecordStore(),
		resolveType: executor.DefaultTypeNameResolver,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Clear removes every record from the backend and bumps the generation so
// that any transaction still in flight observes cache.DisposedError instead
// of torn state.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Clear(ctx); err != nil {
		return &cache.BackendFailureError{Err: err}
	}
	atomic.AddInt64(&s.generation, 1)
	return nil
}

// subscriberHandle gives a subscriber whose dynamic type is not comparable
// (such as a SubscriberFunc) a pointer identity to be removed by.
type subscriberHandle struct{ Subscriber }

// Subscribe registers sub for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(sub Subscriber) (unsubscribe func()) {
	entry := sub
	if t := reflect.TypeOf(sub); t != nil && !t.Comparable() {
		entry = &subscriberHandle{sub}
	}
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, entry)
	s.subMu.Unlock()
	return func() { s.Unsubscribe(entry) }
}

// Unsubscribe removes sub by identity. A no-op if sub was never registered.
// A subscriber whose dynamic type is not comparable (such as a
// SubscriberFunc) is removed only through the function Subscribe returned.
func (s *Store) Unsubscribe(sub Subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, existing := range s.subscribers {
		if existing == sub {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

func (s *Store) notify(changed cache.ChangedKeySet, identifier any) {
	if len(changed) == 0 {
		return
	}
	s.subMu.Lock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.Unlock()

	for _, sub := range subs {
		s.deliver(sub, changed, identifier)
	}
}

// deliver isolates a single subscriber's panic so the rest of the
// registered subscribers still receive the notification. The eventbus has
// no such guard; this one exists because Subscriber crosses a
// user-implemented callback boundary.
func (s *Store) deliver(sub Subscriber, changed cache.ChangedKeySet, identifier any) {
	defer func() {
		if r := recover(); r != nil {
			_ = r
		}
	}()
	sub.DidChangeKeys(s, changed, identifier)
}

// Publish merges rs directly into the backend and notifies subscribers,
// without running it through a selection-set-driven transaction. identifier
// is forwarded to subscribers unchanged, letting the originator of a write
// recognize and skip its own notification.
func (s *Store) Publish(ctx context.Context, rs cache.RecordSet, identifier any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, txID := reqid.NewContext(ctx)
	start := s.clock()

	s.mu.Lock()
	changed, err := s.backend.Merge(ctx, rs, start)
	s.mu.Unlock()

	eventbus.Publish(ctx, events.PublishFinish{TransactionID: txID, Changed: changed, Duration: s.clock().Sub(start)})

	if err != nil {
		return &cache.BackendFailureError{Err: err}
	}
	s.notify(changed, identifier)
	return nil
}

// Load is a convenience wrapper: run a read transaction, execute query's
// selection set from its operation's root key, and return the result.
func (s *Store) Load(ctx context.Context, query *Query) (*GraphQLResult, error) {
	var result *GraphQLResult
	err := s.WithinReadTransaction(ctx, func(tx *ReadTransaction) error {
		r, err := tx.Read(ctx, query)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// WithinReadTransaction runs body with a ReadTransaction handle while
// holding the store's shared read lock: concurrent readers may run at the
// same time, but no Merge can interleave with any of them.
func (s *Store) WithinReadTransaction(ctx context.Context, body func(*ReadTransaction) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gen := atomic.LoadInt64(&s.generation)
	ctx, txID := reqid.NewContext(ctx)
	start := s.clock()
	eventbus.Publish(ctx, events.TransactionStart{TransactionID: txID, ReadWrite: false})

	tx := &ReadTransaction{store: s, generation: gen}
	err := body(tx)

	var errs []error
	if err != nil {
		errs = []error{err}
	}
	eventbus.Publish(ctx, events.TransactionFinish{TransactionID: txID, ReadWrite: false, Errors: errs, Duration: s.clock().Sub(start)})
	return err
}

// WithinReadWriteTransaction runs body with a ReadWriteTransaction handle
// while holding the store's exclusive write lock, merging any accumulated
// writes and broadcasting the resulting changed keys once body returns
// without error.
func (s *Store) WithinReadWriteTransaction(ctx context.Context, body func(*ReadWriteTransaction) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := atomic.LoadInt64(&s.generation)
	ctx, txID := reqid.NewContext(ctx)
	start := s.clock()
	eventbus.Publish(ctx, events.TransactionStart{TransactionID: txID, ReadWrite: true})

	tx := &ReadWriteTransaction{store: s, ctx: ctx, generation: gen, pending: make(cache.RecordSet)}
	bodyErr := body(tx)

	var changed cache.ChangedKeySet
	var mergeErr error
	if bodyErr == nil && len(tx.pending) > 0 {
		changed, mergeErr = s.backend.Merge(ctx, tx.pending, start)
		if mergeErr != nil {
			mergeErr = &cache.BackendFailureError{Err: mergeErr}
		}
	}

	var errs []error
	if bodyErr != nil {
		errs = append(errs, bodyErr)
	}
	if mergeErr != nil {
		errs = append(errs, mergeErr)
	}
	eventbus.Publish(ctx, events.TransactionFinish{TransactionID: txID, ReadWrite: true, Errors: errs, Duration: s.clock().Sub(start)})

	if bodyErr != nil {
		return bodyErr
	}
	if mergeErr != nil {
		return mergeErr
	}
	s.notify(changed, nil)
	return nil
}

func (s *Store) checkGeneration(gen int64) error {
	if atomic.LoadInt64(&s.generation) != gen {
		return &cache.DisposedError{}
	}
	return nil
}

// rootTypeAndKey resolves the root object type and sentinel CacheKey an
// operation executes or normalizes against.
func rootTypeAndKey(s *schema.Schema, operation *language.OperationDefinition) (*schema.Type, cache.CacheKey, error) {
	var rootType *schema.Type
	switch operation.Operation {
	case language.Mutation:
		rootType = s.GetMutationType()
	case language.Subscription:
		rootType = s.GetSubscriptionType()
	default:
		rootType = s.GetQueryType()
	}
	if rootType == nil {
		return nil, "", fmt.Errorf("root type not found for %s operation", operation.Operation)
	}
	return rootType, cache.RootKeyForOperation(string(operation.Operation)), nil
}
