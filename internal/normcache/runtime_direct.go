package normcache

import (
	"context"
	"fmt"
	"time"

	cache "github.com/hanpama/normcache/internal/cache"
	eventbus "github.com/hanpama/normcache/internal/eventbus"
	events "github.com/hanpama/normcache/internal/events"
	executor "github.com/hanpama/normcache/internal/executor"
	reqid "github.com/hanpama/normcache/internal/reqid"
	schema "github.com/hanpama/normcache/internal/schema"
	store "github.com/hanpama/normcache/internal/store"
)

// directReadRuntime is the write-side counterpart to readRuntime: it drives
// the executor's read-before-mutate pass inside Update/UpdateObject without
// going through the per-transaction DataLoader. Per the store's locking
// discipline, a write transaction already holds the façade's exclusive
// lock; the DataLoader's batched dispatch is reserved for reader
// transactions so the two never contend over the same in-flight batch. It
// still batches within one BFS depth — just via a direct backend.Load call
// over the deduplicated key set instead of futures.
type directReadRuntime struct {
	schema  *schema.Schema
	backend store.RecordStore
	deps    *dependencyTracker
}

func newDirectReadRuntime(s *schema.Schema, backend store.RecordStore, deps *dependencyTracker) *directReadRuntime {
	return &directReadRuntime{schema: s, backend: backend, deps: deps}
}

var _ executor.Runtime = (*directReadRuntime)(nil)

func (r *directReadRuntime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
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

func (r *directReadRuntime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))

	type want struct {
		isNull bool
		isList bool
		single cache.CacheKey
		list   []cache.CacheKey
	}
	wants := make([]want, len(tasks))

	order := make([]cache.CacheKey, 0, len(tasks))
	seen := make(map[cache.CacheKey]struct{})
	addKey := func(k cache.CacheKey) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		order = append(order, k)
	}

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
			wants[i] = want{isNull: true}
		case cache.Reference:
			wants[i] = want{single: v.Key}
			addKey(v.Key)
		case []cache.Reference:
			keys := make([]cache.CacheKey, len(v))
			for j, ref := range v {
				keys[j] = ref.Key
				addKey(ref.Key)
			}
			wants[i] = want{isList: true, list: keys}
		default:
			results[i] = executor.AsyncResolveResult{Error: &cache.TypeMismatchError{
				Key: obj.Key, Field: fieldKey,
				Message: fmt.Sprintf("expected a Reference for an object-typed field, got %T", raw),
			}}
		}
	}

	loadStart := time.Now()
	rows, loadErr := r.backend.Load(ctx, order)
	if len(order) > 0 {
		txID, _ := reqid.FromContext(ctx)
		eventbus.Publish(ctx, events.BatchLoadFinish{
			TransactionID: txID,
			ReadWrite:     true,
			Depth:         tasks[0].Depth,
			KeyCount:      len(order),
			Duration:      time.Since(loadStart),
		})
	}
	if loadErr != nil {
		loadErr = &cache.BackendFailureError{Err: loadErr}
	}
	rowByKey := make(map[cache.CacheKey]*cache.RecordRow, len(order))
	if loadErr == nil {
		for i, k := range order {
			rowByKey[k] = rows[i]
		}
	}

	for i := range tasks {
		if results[i].Error != nil {
			continue
		}
		w := wants[i]
		switch {
		case w.isNull:
			results[i] = executor.AsyncResolveResult{Value: nil}
		case loadErr != nil:
			results[i] = executor.AsyncResolveResult{Error: loadErr}
		case w.isList:
			vals := make([]any, len(w.list))
			var listErr error
			for j, k := range w.list {
				row := rowByKey[k]
				if row == nil {
					listErr = &cache.MissingValueError{Key: k}
					break
				}
				r.deps.touch(k, row.LastReceivedAt)
				vals[j] = &cacheObject{Key: k, Record: row.Record}
			}
			if listErr != nil {
				results[i] = executor.AsyncResolveResult{Error: listErr}
			} else {
				results[i] = executor.AsyncResolveResult{Value: vals}
			}
		default:
			row := rowByKey[w.single]
			if row == nil {
				results[i] = executor.AsyncResolveResult{Error: &cache.MissingValueError{Key: w.single}}
				continue
			}
			r.deps.touch(w.single, row.LastReceivedAt)
			results[i] = executor.AsyncResolveResult{Value: &cacheObject{Key: w.single, Record: row.Record}}
		}
	}

	return results
}

func (r *directReadRuntime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
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

func (r *directReadRuntime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	return value, nil
}
