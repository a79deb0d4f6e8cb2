package normcache

import (
	"time"

	cache "github.com/hanpama/normcache/internal/cache"
	executor "github.com/hanpama/normcache/internal/executor"
	language "github.com/hanpama/normcache/internal/language"
)

// Query wraps a parsed GraphQL operation document the same way codegen
// would hand it to a runtime client: the executor never parses a raw
// string, it walks the already-built language.QueryDocument.
type Query struct {
	Document      *language.QueryDocument
	OperationName string
	Variables     map[string]any
}

// NewQuery parses raw into a Query. Parsing is the one place this package
// reaches past the assumed-validated boundary, since callers typically hand
// over the literal operation text next to a pre-generated document; tests
// use it for convenience.
func NewQuery(raw string, operationName string, variables map[string]any) (*Query, error) {
	doc, err := language.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	return &Query{Document: doc, OperationName: operationName, Variables: variables}, nil
}

// ResultSource identifies where a GraphQLResult's data came from.
type ResultSource int

const (
	// SourceCache means every selected field was served from already
	// normalized records, without contacting a network transport.
	SourceCache ResultSource = iota
)

// GraphQLResult is returned by every read operation on the façade (Load,
// Read, ReadObject): the typed data tree the executor produced, any field errors, the
// CacheKeys the read depended on (for fine-grained invalidation upstream),
// and the earliest LastReceivedAt among them (the result's freshness).
type GraphQLResult struct {
	Data          any
	Errors        []executor.GraphQLError
	DependentKeys []cache.CacheKey
	Source        ResultSource
	ReceivedAt    time.Time
}
