// Package executor implements a breadth-first, batch-friendly selection-set
// walker with explicit runtime hooks for synchronous field resolution,
// depth-wise batching of record loads, abstract-type resolution, and leaf
// serialization.
//
// # Overview
//
// The executor follows a level-by-level (BFS) traversal model designed to:
//   - Read scalar and enum fields directly off the currently-loaded record,
//     without adding batch depth.
//   - Collect fields whose return type is an Object, Interface, or Union at
//     the current depth and resolve the records they point to in a single
//     call to Runtime.BatchResolveAsync.
//   - Complete values according to the GraphQL response format (lists,
//     leaves, objects, abstract types), including Non-Null null-propagation.
//   - Accumulate located errors while allowing partial success.
//
// # Sync vs async classification
//
// A field never carries its own sync/async flag; the executor derives it
// structurally from the field's named return type (see requiresLoad):
// Object, Interface, and Union fields always require crossing into the
// record store to follow a reference, so they are always async; Scalar and
// Enum fields are always already present on the record the caller handed to
// ResolveSync, so they are always sync. A cache-reading Runtime therefore
// issues one batched RecordStore load per depth from BatchResolveAsync.
// Response normalization does not go through a Runtime: Normalizer walks
// the decoded response recursively on its own.
//
// # BFS loop (per depth)
//
// The executor repeats the following cycle until both the current
// selection's frontier and its pending async tasks are empty:
//
//	A. Sync expansion — for each field in the current selection set, coerce
//	   its arguments and classify it. If sync, call Runtime.ResolveSync and
//	   complete the value immediately; an object result keeps expanding
//	   synchronously (depth does not increase).
//	B. Batch execution — if there are async tasks at this depth, call
//	   Runtime.BatchResolveAsync exactly once with all of them (after
//	   filtering out any paths nullified by a prior Non-Null violation).
//	C. Non-Null propagation and pruning — a Non-Null violation at path p
//	   nullifies the nearest nullable ancestor and tombstones that path;
//	   queued tasks under it are dropped.
//	D. Advance depth with the subfield frontier gathered from this depth's
//	   object completions.
//
// # Value completion
//
//   - Non-Null: unwrap and complete the inner type; inner null becomes a
//     recorded violation that propagates upward.
//   - List: complete each element with an index-aware path; a null element
//     for a Non-Null inner type nullifies the whole list.
//   - Leaf (Scalar/Enum): Runtime.SerializeLeafValue produces the JSON-safe
//     value.
//   - Abstract (Interface/Union): Runtime.ResolveType picks the concrete
//     object type, then completion proceeds as an object.
//   - Object: collect subfields and keep walking.
//
// # Errors and partial success
//
// Errors accumulate as located GraphQL errors. A Non-Null field's error or
// null result propagates to the nearest nullable ancestor; other fields
// continue independently within the same batch.
//
// See runtime.go for the Runtime contract, values.go for argument and
// variable coercion, and normalize.go for Normalizer, the separate recursive
// walker that turns a decoded response into a record set instead of a
// response tree.
package executor
