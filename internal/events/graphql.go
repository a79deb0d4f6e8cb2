package events

import (
	"time"

	"github.com/hanpama/normcache/internal/cache"
)

// TransactionStart is emitted before a read or write transaction runs its
// body.
type TransactionStart struct {
	TransactionID int64
	ReadWrite     bool
}

// TransactionFinish is emitted after a transaction's body returns, whether
// or not it committed a Merge.
type TransactionFinish struct {
	TransactionID int64
	ReadWrite     bool
	Errors        []error
	Duration      time.Duration
}

// PublishFinish is emitted after a Publish call's Merge completes,
// reporting the field-qualified keys it actually changed.
type PublishFinish struct {
	TransactionID int64
	Changed       cache.ChangedKeySet
	Duration      time.Duration
}

// BatchLoadFinish is emitted once per executor BFS depth that queued at
// least one record key for loading, reporting how many distinct
// records that depth's single backend.Load call fetched. ReadWrite
// distinguishes the DataLoader-backed reader runtime from the direct
// write-side runtime, since they batch through different code paths for
// the same reason (never contending over one in-flight dispatch).
type BatchLoadFinish struct {
	TransactionID int64
	ReadWrite     bool
	Depth         int
	KeyCount      int
	Duration      time.Duration
}
