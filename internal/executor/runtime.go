package executor

import (
	"context"
)

// Runtime is the host integration surface the Executor drives while walking a
// selection set: it supplies field values and abstract-type resolution
// without knowing anything about GraphQL syntax.
//
// General contract
//   - The Executor performs a breadth-first traversal. At each depth it drains
//     all synchronous fields first via ResolveSync, then calls
//     BatchResolveAsync ONCE with every async task collected at that depth.
//     The next depth does not begin until BatchResolveAsync returns and those
//     results are completed.
//   - ResolveSync is never invoked for a field the Executor has classified as
//     async (any field whose named return type is Object, Interface, or
//     Union — following it requires loading another record, which the
//     Executor always batches). BatchResolveAsync is only invoked when there
//     is at least one such field pending at the current depth.
//   - Errors returned from any method are converted into located GraphQL
//     errors; a Non-Null field's null return propagates to the nearest
//     nullable ancestor per the GraphQL response format.
//   - Implementations must not mutate source or args.
//
// Object/field identifiers
//   - objectType is the GraphQL type name (e.g. "Droid").
//   - field is the GraphQL field name on that type (e.g. "friends").
//   - source is the parent object value as the Runtime produced it (for
//     root fields, the initialValue passed to ExecuteRequest).
//   - args is the map of argument names to already-coerced Go values.
//
// Partial success and ordering
//   - BatchResolveAsync must return exactly one AsyncResolveResult per task,
//     in the same order as the input tasks. A failure in one element must not
//     affect the others.
type Runtime interface {
	// ResolveSync resolves a synchronous (scalar/enum-returning) field value.
	// Return (nil, nil) to produce a GraphQL null for a nullable field.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves one execution depth's worth of tasks whose
	// fields return an Object, Interface, or Union type.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveType determines the concrete object type name for a value of an
	// abstract (interface or union) type.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue converts a resolved scalar or enum value into a
	// JSON-safe Go value for the response tree.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

type AsyncResolveTask struct {
	// ObjectType is the parent GraphQL object type name for the field.
	ObjectType string
	// Field is the GraphQL field name to resolve.
	Field string
	// Source is the parent object value (ExecuteRequest's initialValue for
	// root fields).
	Source any
	// Args are the field arguments, coerced to Go values per the schema.
	Args map[string]any
	// Depth is the BFS level this task was collected at, stamped by the
	// Executor's depth loop rather than derived by the Runtime. Every task
	// in one BatchResolveAsync call carries the same Depth; a Runtime that
	// reports batching telemetry (key counts, dispatch spans) per record
	// load uses it to label that report instead of re-deriving "which pass
	// is this" from call order.
	Depth int
}

type AsyncResolveResult struct {
	// Value is the resolved raw value prior to completion, or nil on error.
	Value any
	// Error contains a failure specific to this element; other elements in
	// the same batch are unaffected.
	Error error
}
