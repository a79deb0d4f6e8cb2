package normcache

import (
	"context"
	"fmt"

	cache "github.com/hanpama/normcache/internal/cache"
	executor "github.com/hanpama/normcache/internal/executor"
	language "github.com/hanpama/normcache/internal/language"
	schema "github.com/hanpama/normcache/internal/schema"
)

// ReadTransaction is the handle passed to a WithinReadTransaction body. It
// allocates a fresh DataLoader-backed runtime and executor per call — never
// pooled — so its dependency tracking never leaks across transactions.
type ReadTransaction struct {
	store      *Store
	generation int64
}

// Read executes query's selection set from its operation's root key and
// returns the typed result, its dependency keys, and its freshness.
func (tx *ReadTransaction) Read(ctx context.Context, query *Query) (*GraphQLResult, error) {
	if err := tx.store.checkGeneration(tx.generation); err != nil {
		return nil, err
	}
	operation := executor.GetOperation(query.Document, query.OperationName)
	if operation == nil {
		return nil, fmt.Errorf("operation %q not found", query.OperationName)
	}
	_, rootKey, err := rootTypeAndKey(tx.store.schema, operation)
	if err != nil {
		return nil, err
	}
	return tx.execute(ctx, query.Document, query.OperationName, query.Variables, rootKey)
}

// ReadObject reads back the scalar fields already stored for a single
// object identified by typeName and key. Since there is no selection set to
// drive relation traversal, only the object's own scalar/enum fields
// (those with no required arguments) are populated; relation fields are
// omitted. variables is accepted for symmetry with Read but is unused here.
func (tx *ReadTransaction) ReadObject(ctx context.Context, typeName string, key cache.CacheKey, variables map[string]any) (*GraphQLResult, error) {
	if err := tx.store.checkGeneration(tx.generation); err != nil {
		return nil, err
	}
	objectType := tx.store.schema.Types[typeName]
	if objectType == nil {
		return nil, fmt.Errorf("unknown type %q", typeName)
	}

	deps := newDependencyTracker()
	rt := newDirectReadRuntime(tx.store.schema, tx.store.backend, deps)

	rows, err := tx.store.backend.Load(ctx, []cache.CacheKey{key})
	if err != nil {
		return nil, &cache.BackendFailureError{Err: err}
	}
	if rows[0] == nil {
		return nil, &cache.MissingValueError{Key: key}
	}
	deps.touch(key, rows[0].LastReceivedAt)
	obj := &cacheObject{Key: key, Record: rows[0].Record}

	data := make(map[string]any, len(objectType.Fields))
	for _, field := range objectType.Fields {
		if schema.GetNamedType(field.Type) != "" {
			t := tx.store.schema.Types[schema.GetNamedType(field.Type)]
			if t != nil && (t.Kind == schema.TypeKindObject || t.Kind == schema.TypeKindInterface || t.Kind == schema.TypeKindUnion) {
				continue
			}
		}
		v, err := rt.ResolveSync(ctx, typeName, field.Name, obj, nil)
		if err != nil {
			continue
		}
		data[field.Name] = v
	}

	return &GraphQLResult{
		Data:          data,
		DependentKeys: deps.keyList(),
		Source:        SourceCache,
		ReceivedAt:    rows[0].LastReceivedAt,
	}, nil
}

func (tx *ReadTransaction) execute(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variables map[string]any,
	rootKey cache.CacheKey,
) (*GraphQLResult, error) {
	deps := newDependencyTracker()
	rt := newReadRuntime(tx.store.schema, tx.store.backend, deps)

	rootFuture := rt.loader.Load(rootKey)
	rt.loader.Dispatch(ctx)
	rootRow, err := rootFuture.Wait(ctx)
	if err != nil {
		return nil, &cache.BackendFailureError{Err: err}
	}
	if rootRow == nil {
		return nil, &cache.MissingValueError{Key: rootKey}
	}
	deps.touch(rootKey, rootRow.LastReceivedAt)
	root := &cacheObject{Key: rootKey, Record: rootRow.Record}

	exec := executor.NewExecutor(rt, tx.store.schema)
	result := exec.ExecuteRequest(ctx, document, operationName, variables, root)

	return &GraphQLResult{
		Data:          result.Data,
		Errors:        result.Errors,
		DependentKeys: deps.keyList(),
		Source:        SourceCache,
		ReceivedAt:    deps.min,
	}, nil
}
