package normcache

import (
	"context"
	"fmt"

	cache "github.com/hanpama/normcache/internal/cache"
	executor "github.com/hanpama/normcache/internal/executor"
)

// ReadWriteTransaction is the handle passed to a WithinReadWriteTransaction
// body. Every Update/Write call accumulates into pending; the store merges
// the whole batch once the body returns without error, so a body that
// returns an error commits nothing.
type ReadWriteTransaction struct {
	store      *Store
	ctx        context.Context
	generation int64
	pending    cache.RecordSet
}

// Update reads query's current result (bypassing the DataLoader, per the
// store's writer-side locking discipline), lets mutator edit it in place,
// then re-normalizes the mutated tree back into the pending write set.
// There is no diffing: the eventual Merge's per-field equality check is the
// only gate on whether a subscriber sees a change.
func (tx *ReadWriteTransaction) Update(ctx context.Context, query *Query, mutator func(data *any) error) error {
	if err := tx.store.checkGeneration(tx.generation); err != nil {
		return err
	}
	operation := executor.GetOperation(query.Document, query.OperationName)
	if operation == nil {
		return fmt.Errorf("operation %q not found", query.OperationName)
	}
	_, rootKey, err := rootTypeAndKey(tx.store.schema, operation)
	if err != nil {
		return err
	}

	deps := newDependencyTracker()
	rt := newDirectReadRuntime(tx.store.schema, tx.store.backend, deps)

	rows, err := tx.store.backend.Load(ctx, []cache.CacheKey{rootKey})
	if err != nil {
		return &cache.BackendFailureError{Err: err}
	}
	if rows[0] == nil {
		return &cache.MissingValueError{Key: rootKey}
	}
	root := &cacheObject{Key: rootKey, Record: rows[0].Record}

	exec := executor.NewExecutor(rt, tx.store.schema)
	result := exec.ExecuteRequest(ctx, query.Document, query.OperationName, query.Variables, root)
	if len(result.Errors) > 0 {
		return result.Errors[0]
	}

	var data any = result.Data
	if err := mutator(&data); err != nil {
		return err
	}
	dataMap, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("mutated data must remain a JSON object, got %T", data)
	}

	normalizer := executor.NewNormalizer(tx.store.schema, tx.store.keyForObject, tx.store.resolveType, tx.store.clock())
	rs, err := normalizer.Normalize(query.Document, query.OperationName, query.Variables, dataMap)
	if err != nil {
		return err
	}
	tx.mergePending(rs)
	return nil
}

// UpdateObject is Update scoped to a single already-stored object rather
// than a whole operation's root: it reads back the object's own scalar
// fields, lets mutator edit them, then writes the result back at the same
// key. variables is accepted for symmetry with Update but unused, since a
// bare object read has no field arguments to coerce.
func (tx *ReadWriteTransaction) UpdateObject(ctx context.Context, typeName string, key cache.CacheKey, variables map[string]any, mutator func(data *any) error) error {
	if err := tx.store.checkGeneration(tx.generation); err != nil {
		return err
	}
	objectType := tx.store.schema.Types[typeName]
	if objectType == nil {
		return fmt.Errorf("unknown type %q", typeName)
	}

	rows, err := tx.store.backend.Load(ctx, []cache.CacheKey{key})
	if err != nil {
		return &cache.BackendFailureError{Err: err}
	}
	if rows[0] == nil {
		return &cache.MissingValueError{Key: key}
	}

	current := make(map[string]any, len(objectType.Fields)+1)
	current["__typename"] = typeName
	for _, field := range objectType.Fields {
		fieldKey := cache.SerializeFieldKey(field.Name, nil)
		if v, ok := rows[0].Record[fieldKey]; ok {
			if _, isRef := v.(cache.Reference); isRef {
				continue
			}
			if _, isRefs := v.([]cache.Reference); isRefs {
				continue
			}
			current[field.Name] = v
		}
	}

	var data any = current
	if err := mutator(&data); err != nil {
		return err
	}
	dataMap, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("mutated data must remain a JSON object, got %T", data)
	}
	dataMap["__typename"] = typeName

	return executor.NormalizeRawObject(tx.store.schema, tx.store.keyForObject, key, dataMap, tx.pending)
}

// Write normalizes data (a decoded response payload) against forQuery's
// selection set and merges the result into the pending write set.
func (tx *ReadWriteTransaction) Write(ctx context.Context, data map[string]any, forQuery *Query) error {
	if err := tx.store.checkGeneration(tx.generation); err != nil {
		return err
	}
	normalizer := executor.NewNormalizer(tx.store.schema, tx.store.keyForObject, tx.store.resolveType, tx.store.clock())
	rs, err := normalizer.Normalize(forQuery.Document, forQuery.OperationName, forQuery.Variables, data)
	if err != nil {
		return err
	}
	tx.mergePending(rs)
	return nil
}

// WriteObject writes a single ad hoc object at forKey without going
// through a parsed selection set; object must already carry a "__typename"
// entry identifying its concrete type.
func (tx *ReadWriteTransaction) WriteObject(ctx context.Context, object map[string]any, forKey cache.CacheKey, variables map[string]any) error {
	if err := tx.store.checkGeneration(tx.generation); err != nil {
		return err
	}
	return executor.NormalizeRawObject(tx.store.schema, tx.store.keyForObject, forKey, object, tx.pending)
}

func (tx *ReadWriteTransaction) mergePending(rs cache.RecordSet) {
	for key, incoming := range rs {
		record := tx.pending[key]
		if record == nil {
			record = make(cache.Record)
		}
		for field, value := range incoming {
			record[field] = value
		}
		tx.pending[key] = record
	}
}
