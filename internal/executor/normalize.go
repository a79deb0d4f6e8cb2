package executor

import (
	"fmt"
	"time"

	cache "github.com/hanpama/normcache/internal/cache"
	language "github.com/hanpama/normcache/internal/language"
	schema "github.com/hanpama/normcache/internal/schema"
)

// CacheKeyForObject derives the CacheKey for a normalized object from its
// concrete GraphQL type name and raw JSON object. Returning ok=false falls
// back to a path-derived key (cache.PathKey).
type CacheKeyForObject func(typeName string, obj map[string]any) (key cache.CacheKey, ok bool)

// TypeNameResolver determines the concrete object type name for a value of
// an interface- or union-typed field, reading however the payload marks it
// (conventionally a "__typename" entry).
type TypeNameResolver func(abstractType string, obj map[string]any) (string, error)

// DefaultTypeNameResolver reads the conventional "__typename" response key,
// which codegen is expected to request on every interface/union selection.
func DefaultTypeNameResolver(_ string, obj map[string]any) (string, error) {
	typename, ok := obj["__typename"].(string)
	if !ok {
		return "", fmt.Errorf("response object has no __typename; cannot normalize abstract type")
	}
	return typename, nil
}

// GetOperation exposes getOperation to other packages building a query
// against an already-parsed document (the normcache façade determines the
// root type before constructing the per-transaction runtime).
func GetOperation(document *language.QueryDocument, operationName string) *language.OperationDefinition {
	return getOperation(document, operationName)
}

// Normalizer walks a decoded GraphQL response payload alongside the
// selection set that produced it and flattens it into a cache.RecordSet:
// every selected object becomes a Record keyed by its CacheKey, with
// Reference values standing in for nested objects. Unlike Executor, it
// never dereferences an existing record and never batches — the whole
// payload is already in memory, so the walk is a single synchronous
// recursion grounded on the same field-collection rules as reads
// (collectFields, mergeSelectionSets, directive handling in fields.go).
type Normalizer struct {
	schema       *schema.Schema
	keyForObject CacheKeyForObject
	resolveType  TypeNameResolver
	now          time.Time

	document       *language.QueryDocument
	variableValues map[string]any

	records cache.RecordSet
}

// NewNormalizer returns a Normalizer for a single response payload. now is
// stamped as the LastReceivedAt of every record it produces by the caller
// once the RecordSet is merged.
func NewNormalizer(s *schema.Schema, keyForObject CacheKeyForObject, resolveType TypeNameResolver, now time.Time) *Normalizer {
	if resolveType == nil {
		resolveType = DefaultTypeNameResolver
	}
	return &Normalizer{
		schema:       s,
		keyForObject: keyForObject,
		resolveType:  resolveType,
		now:          now,
		records:      make(cache.RecordSet),
	}
}

// Records returns the RecordSet accumulated so far.
func (n *Normalizer) Records() cache.RecordSet { return n.records }

// Normalize flattens data (the decoded "data" object of a GraphQL response)
// against the root type selected by operationName in document.
func (n *Normalizer) Normalize(
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	data map[string]any,
) (cache.RecordSet, error) {
	operation := getOperation(document, operationName)
	if operation == nil {
		return nil, fmt.Errorf("operation not found")
	}
	coerced, err := coerceVariableValues(n.schema, operation, variableValues)
	if err != nil {
		return nil, err
	}

	var rootType *schema.Type
	switch operation.Operation {
	case language.Mutation:
		rootType = n.schema.GetMutationType()
	case language.Subscription:
		rootType = n.schema.GetSubscriptionType()
	default:
		rootType = n.schema.GetQueryType()
	}
	if rootType == nil {
		return nil, fmt.Errorf("root type not found for %s operation", operation.Operation)
	}

	n.document = document
	n.variableValues = coerced

	rootKey := cache.RootKeyForOperation(string(operation.Operation))
	if err := n.normalizeObject(rootType, operation.SelectionSet, data, rootKey, Path{}); err != nil {
		return nil, err
	}
	return n.records, nil
}

// NormalizeObject flattens a single object value rooted at key, driven by a
// field selection set against objectType — used for writes scoped to one
// entity rather than a whole operation's root.
func (n *Normalizer) NormalizeObject(
	document *language.QueryDocument,
	objectType *schema.Type,
	selectionSet language.SelectionSet,
	variableValues map[string]any,
	key cache.CacheKey,
	data map[string]any,
) (cache.RecordSet, error) {
	n.document = document
	n.variableValues = variableValues
	if err := n.normalizeObject(objectType, selectionSet, data, key, Path{}); err != nil {
		return nil, err
	}
	return n.records, nil
}

func (n *Normalizer) state() *executionState {
	return &executionState{
		schema:         n.schema,
		document:       n.document,
		variableValues: n.variableValues,
		errors:         []GraphQLError{},
	}
}

func (n *Normalizer) normalizeObject(objectType *schema.Type, selectionSet language.SelectionSet, obj map[string]any, key cache.CacheKey, path Path) error {
	st := n.state()
	record := n.records[key]
	if record == nil {
		record = make(cache.Record)
	}
	// Every record carries its concrete type so abstract-field reads can
	// later resolve ResolveType purely from stored data.
	record[cache.FieldKey("__typename")] = objectType.Name

	grouped := collectFields(st, objectType, selectionSet)
	for _, cf := range grouped.orderedFields() {
		field := cf.Fields[0]
		if field.Name == "__typename" {
			continue
		}
		fieldDef := getFieldDefinition(objectType, field.Name)
		if fieldDef == nil {
			continue
		}
		args := coerceArgumentValues(fieldDef, field.Arguments, n.variableValues, st, path)
		fieldKey := cache.SerializeFieldKey(fieldDef.Name, args)

		raw, present := obj[cf.ResponseName]
		if !present {
			return &cache.MissingValueError{Key: key, Field: fieldKey}
		}

		value, err := n.normalizeValue(fieldDef.Type, cf.Fields, raw, key, appendPath(path, cf.ResponseName))
		if err != nil {
			return err
		}
		record[fieldKey] = value
	}

	n.records[key] = record
	return nil
}

func (n *Normalizer) normalizeValue(t *schema.TypeRef, fields []*language.Field, raw any, parentKey cache.CacheKey, path Path) (any, error) {
	if schema.IsNonNull(t) {
		if raw == nil {
			return nil, fmt.Errorf("cannot normalize null for non-null field at %s", pathToString(path))
		}
		return n.normalizeValue(schema.Unwrap(t), fields, raw, parentKey, path)
	}
	if raw == nil {
		return nil, nil
	}

	if schema.IsList(t) {
		items, ok := raw.([]any)
		if !ok {
			return nil, &cache.TypeMismatchError{Key: parentKey, Message: fmt.Sprintf("expected list at %s, got %T", pathToString(path), raw)}
		}
		inner := schema.Unwrap(t)
		out := make([]any, len(items))
		for i, item := range items {
			v, err := n.normalizeValue(inner, fields, item, parentKey, appendPath(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	named := schema.GetNamedType(t)
	typeObj := n.schema.Types[named]
	if typeObj == nil {
		return nil, fmt.Errorf("unknown type %s", named)
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		return raw, nil
	case schema.TypeKindObject, schema.TypeKindInterface, schema.TypeKindUnion:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, &cache.TypeMismatchError{Key: parentKey, Message: fmt.Sprintf("expected object at %s, got %T", pathToString(path), raw)}
		}
		concrete := typeObj
		if typeObj.Kind != schema.TypeKindObject {
			typeName, err := n.resolveType(named, obj)
			if err != nil {
				return nil, err
			}
			concrete = n.schema.Types[typeName]
			if concrete == nil {
				return nil, fmt.Errorf("unknown concrete type %s for abstract type %s", typeName, named)
			}
		}
		childKey, ok := n.keyFor(concrete.Name, obj)
		if !ok {
			// Extend the enclosing key by the field's response key and, for a
			// list element, every index after it (QUERY_ROOT.hero.friends.0).
			start := len(path) - 1
			for start > 0 {
				if _, isIndex := path[start].(int); !isIndex {
					break
				}
				start--
			}
			childKey = parentKey
			for _, elem := range path[start:] {
				childKey = cache.PathKey(childKey, elem)
			}
		}
		sub := mergeSelectionSets(fields)
		if err := n.normalizeObject(concrete, sub, obj, childKey, path); err != nil {
			return nil, err
		}
		return cache.Reference{Key: childKey}, nil
	default:
		return nil, fmt.Errorf("cannot normalize value of kind %s", typeObj.Kind)
	}
}

func (n *Normalizer) keyFor(typeName string, obj map[string]any) (cache.CacheKey, bool) {
	if n.keyForObject == nil {
		return "", false
	}
	return n.keyForObject(typeName, obj)
}

// NormalizeRawObject flattens a plain Go object (e.g. an ad hoc cache write
// that isn't driven by a parsed selection set) into rs, rooted at key. Every
// map encountered must carry a "__typename" entry identifying its schema
// type; fields not present in the map are left untouched in the existing
// record rather than treated as an error, since a raw write is expected to
// be partial.
func NormalizeRawObject(s *schema.Schema, keyForObject CacheKeyForObject, key cache.CacheKey, obj map[string]any, rs cache.RecordSet) error {
	typeName, ok := obj["__typename"].(string)
	if !ok {
		return fmt.Errorf("object has no __typename; cannot determine its schema type")
	}
	objectType := s.Types[typeName]
	if objectType == nil {
		return fmt.Errorf("unknown type %q", typeName)
	}
	return normalizeRawObjectImpl(s, keyForObject, objectType, key, obj, rs)
}

func normalizeRawObjectImpl(s *schema.Schema, keyForObject CacheKeyForObject, objectType *schema.Type, key cache.CacheKey, obj map[string]any, rs cache.RecordSet) error {
	record := rs[key]
	if record == nil {
		record = make(cache.Record)
	}
	record[cache.FieldKey("__typename")] = objectType.Name

	for name, raw := range obj {
		if name == "__typename" {
			continue
		}
		fieldDef := objectType.FieldByName(name)
		if fieldDef == nil {
			continue
		}
		fieldKey := cache.SerializeFieldKey(name, nil)
		value, err := normalizeRawValue(s, keyForObject, fieldDef.Type, raw, key, rs)
		if err != nil {
			return err
		}
		record[fieldKey] = value
	}
	rs[key] = record
	return nil
}

func normalizeRawValue(s *schema.Schema, keyForObject CacheKeyForObject, t *schema.TypeRef, raw any, parentKey cache.CacheKey, rs cache.RecordSet) (any, error) {
	if schema.IsNonNull(t) {
		return normalizeRawValue(s, keyForObject, schema.Unwrap(t), raw, parentKey, rs)
	}
	if raw == nil {
		return nil, nil
	}
	if schema.IsList(t) {
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected list, got %T", raw)
		}
		inner := schema.Unwrap(t)
		out := make([]any, len(items))
		for i, item := range items {
			v, err := normalizeRawValue(s, keyForObject, inner, item, parentKey, rs)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	named := schema.GetNamedType(t)
	typeObj := s.Types[named]
	if typeObj == nil {
		return nil, fmt.Errorf("unknown type %s", named)
	}
	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		return raw, nil
	case schema.TypeKindObject, schema.TypeKindInterface, schema.TypeKindUnion:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", raw)
		}
		typeName, ok := obj["__typename"].(string)
		if !ok {
			return nil, fmt.Errorf("nested object has no __typename; cannot determine its schema type")
		}
		concrete := s.Types[typeName]
		if concrete == nil {
			return nil, fmt.Errorf("unknown type %q", typeName)
		}
		var childKey cache.CacheKey
		if keyForObject != nil {
			if k, ok := keyForObject(typeName, obj); ok {
				childKey = k
			}
		}
		if childKey == "" {
			return nil, fmt.Errorf("cannot derive a cache key for nested %s object during a raw write", typeName)
		}
		if err := normalizeRawObjectImpl(s, keyForObject, concrete, childKey, obj, rs); err != nil {
			return nil, err
		}
		return cache.Reference{Key: childKey}, nil
	default:
		return nil, fmt.Errorf("cannot normalize value of kind %s", typeObj.Kind)
	}
}
