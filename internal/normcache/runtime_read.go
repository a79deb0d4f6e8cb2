package normcache

import (
	"context"
	"fmt"
	"time"

	cache "github.com/hanpama/normcache/internal/cache"
	dataloader "github.com/hanpama/normcache/internal/dataloader"
	eventbus "github.com/hanpama/normcache/internal/eventbus"
	events "github.com/hanpama/normcache/internal/events"
	executor "github.com/hanpama/normcache/internal/executor"
	reqid "github.com/hanpama/normcache/internal/reqid"
	schema "github.com/hanpama/normcache/internal/schema"
	store "github.com/hanpama/normcache/internal/store"
)

// cacheObject is the source value the read runtimes hand to the executor:
// an already-loaded record paired with the key that identifies it. Scalar
// fields are read straight off Record; object/interface/union fields carry
// a Reference that the runtime must dereference through a record load.
type cacheObject struct {
	Key    cache.CacheKey
	Record cache.Record
}

// dependencyTracker accumulates the set of CacheKeys a read transaction
// touched and the earliest LastReceivedAt among them, standing in for the
// DependencyTracker/TimestampTracker accumulator pair described for the
// read path — folded directly into the runtime since this module has only
// one reader per transaction rather than a zipped set of accumulators.
type dependencyTracker struct {
	keys   map[cache.CacheKey]struct{}
	hasMin bool
	min    time.Time
}

func newDependencyTracker() *dependencyTracker {
	return &dependencyTracker{keys: make(map[cache.CacheKey]struct{})}
}

func (d *dependencyTracker) touch(key cache.CacheKey, receivedAt time.Time) {
	d.keys[key] = struct{}{}
	if !d.hasMin || receivedAt.Before(d.min) {
		d.min = receivedAt
		d.hasMin = true
	}
}

func (d *dependencyTracker) keyList() []cache.CacheKey {
	out := make([]cache.CacheKey, 0, len(d.keys))
	for k := range d.keys {
		out = append(out, k)
	}
	return out
}

// readRuntime drives the executor against the store's backend through a
// per-transaction DataLoader: every object/interface/union field resolved
// at one BFS depth is collected into the loader before a single Dispatch,
// so dereferencing N references costs one backend.Load call.
type readRuntime struct {
	schema *schema.Schema
	loader *dataloader.Loader[cache.CacheKey, *cache.RecordRow]
	deps   *dependencyTracker
}

func newReadRuntime(s *schema.Schema, backend store.RecordStore, deps *dependencyTracker) *readRuntime {
	loader := dataloader.New(func(ctx context.Context, keys []cache.CacheKey) ([]*cache.RecordRow, error) {
		rows, err := backend.Load(ctx, keys)
		if err != nil {
			return nil, &cache.BackendFailureError{Err: err}
		}
		return rows, nil
	})
	return &readRuntime{schema: s, loader: loader, deps: deps}
}

var _ executor.Runtime = (*readRuntime)(nil)

func (r *readRuntime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	obj, ok := source.(*cacheObject)
	if !ok {
		return nil, fmt.Errorf("normcache: unexpected source %T resolving %s.%s", source, objectType, field)
	}
	fieldKey := cache.SerializeFieldKey(field, args)
	value, ok := obj.Record[fieldKey]
	if !ok {
		return nil, &cache.MissingValueError{Key: obj.Key, Field: fieldKey}
	}
	return value, nil
}

// pendingReference describes one task's unresolved async value while
// BatchResolveAsync waits on the loader's futures.
type pendingReference struct {
	isNull bool
	isList bool

	singleKey cache.CacheKey
	singleFut *dataloader.Future[*cache.RecordRow]

	listKeys []cache.CacheKey
	listFuts []*dataloader.Future[*cache.RecordRow]
}

func (r *readRuntime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	pending := make([]pendingReference, len(tasks))
	queued := make(map[cache.CacheKey]struct{})

	for i, t := range tasks {
		obj, ok := t.Source.(*cacheObject)
		if !ok {
			results[i] = executor.AsyncResolveResult{Error: fmt.Errorf("normcache: unexpected source %T resolving %s.%s", t.Source, t.ObjectType, t.Field)}
			continue
		}
		fieldKey := cache.SerializeFieldKey(t.Field, t.Args)
		raw, ok := obj.Record[fieldKey]
		if !ok {
			results[i] = executor.AsyncResolveResult{Error: &cache.MissingValueError{Key: obj.Key, Field: fieldKey}}
			continue
		}
		switch v := raw.(type) {
		case nil:
			pending[i] = pendingReference{isNull: true}
		case cache.Reference:
			pending[i] = pendingReference{singleKey: v.Key, singleFut: r.loader.Load(v.Key)}
			queued[v.Key] = struct{}{}
		case []cache.Reference:
			keys := make([]cache.CacheKey, len(v))
			futs := make([]*dataloader.Future[*cache.RecordRow], len(v))
			for j, ref := range v {
				keys[j] = ref.Key
				futs[j] = r.loader.Load(ref.Key)
				queued[ref.Key] = struct{}{}
			}
			pending[i] = pendingReference{isList: true, listKeys: keys, listFuts: futs}
		default:
			results[i] = executor.AsyncResolveResult{Error: &cache.TypeMismatchError{
				Key: obj.Key, Field: fieldKey,
				Message: fmt.Sprintf("expected a Reference for an object-typed field, got %T", raw),
			}}
		}
	}

	dispatchStart := time.Now()
	r.loader.Dispatch(ctx)
	if len(queued) > 0 {
		txID, _ := reqid.FromContext(ctx)
		eventbus.Publish(ctx, events.BatchLoadFinish{
			TransactionID: txID,
			ReadWrite:     false,
			Depth:         tasks[0].Depth,
			KeyCount:      len(queued),
			Duration:      time.Since(dispatchStart),
		})
	}

	for i := range tasks {
		if results[i].Error != nil {
			continue
		}
		p := pending[i]
		switch {
		case p.isNull:
			results[i] = executor.AsyncResolveResult{Value: nil}
		case p.isList:
			vals := make([]any, len(p.listFuts))
			var listErr error
			for j, fut := range p.listFuts {
				row, err := fut.Wait(ctx)
				if err != nil {
					listErr = err
					break
				}
				if row == nil {
					listErr = &cache.MissingValueError{Key: p.listKeys[j]}
					break
				}
				r.deps.touch(p.listKeys[j], row.LastReceivedAt)
				vals[j] = &cacheObject{Key: p.listKeys[j], Record: row.Record}
			}
			if listErr != nil {
				results[i] = executor.AsyncResolveResult{Error: listErr}
			} else {
				results[i] = executor.AsyncResolveResult{Value: vals}
			}
		default:
			row, err := p.singleFut.Wait(ctx)
			if err != nil {
				results[i] = executor.AsyncResolveResult{Error: err}
				continue
			}
			if row == nil {
				results[i] = executor.AsyncResolveResult{Error: &cache.MissingValueError{Key: p.singleKey}}
				continue
			}
			r.deps.touch(p.singleKey, row.LastReceivedAt)
			results[i] = executor.AsyncResolveResult{Value: &cacheObject{Key: p.singleKey, Record: row.Record}}
		}
	}

	return results
}

func (r *readRuntime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	obj, ok := value.(*cacheObject)
	if !ok {
		return "", fmt.Errorf("normcache: unexpected value %T resolving type for %s", value, abstractType)
	}
	typename, ok := obj.Record[cache.FieldKey("__typename")]
	if !ok {
		return "", &cache.MissingValueError{Key: obj.Key, Field: "__typename"}
	}
	name, ok := typename.(string)
	if !ok {
		return "", &cache.TypeMismatchError{Key: obj.Key, Field: "__typename", Message: "stored __typename is not a string"}
	}
	return name, nil
}

func (r *readRuntime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	return value, nil
}
