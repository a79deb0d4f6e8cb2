// Package reqid attaches a random identifier to a transaction's context so
// logs, traces, and events emitted while it runs can be correlated.
package reqid

import (
	"context"
	"math/rand"
	"time"
)

// key is the context key for the transaction ID.
type key struct{}

// NewContext returns a copy of parent carrying a new random transaction ID.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int63()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the transaction ID from ctx, if one was attached by
// NewContext.
func FromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(key{})
	id, ok := v.(int64)
	return id, ok
}

func init() {
	rand.Seed(time.Now().UnixNano())
}
