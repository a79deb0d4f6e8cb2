package store

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/hanpama/normcache/internal/cache"
)

// InMemoryRecordStore is the default RecordStore backend: a plain mapping
// from CacheKey to (Record, lastReceivedAt) guarded by a mutex. It is safe
// for concurrent Load calls; Merge and Clear are expected to be serialized
// by the caller (normcache's façade holds its own write lock), but this
// type also protects itself so it can be used standalone in tests.
type InMemoryRecordStore struct {
	mu   sync.RWMutex
	rows map[cache.CacheKey]*cache.RecordRow
}

// NewInMemoryRecordStore returns an empty store.
func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{rows: make(map[cache.CacheKey]*cache.RecordRow)}
}

var _ RecordStore = (*InMemoryRecordStore)(nil)

func (s *InMemoryRecordStore) Load(ctx context.Context, keys []cache.CacheKey) ([]*cache.RecordRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*cache.RecordRow, len(keys))
	for i, k := range keys {
		row, ok := s.rows[k]
		if !ok {
			continue
		}
		// Return a copy so callers cannot mutate the stored record through
		// the pointer they were handed back.
		out[i] = &cache.RecordRow{Record: row.Record.Clone(), LastReceivedAt: row.LastReceivedAt}
	}
	return out, nil
}

func (s *InMemoryRecordStore) Merge(ctx context.Context, rs cache.RecordSet, receivedAt time.Time) (cache.ChangedKeySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := cache.NewChangedKeySet(len(rs))
	for key, incoming := range rs {
		existingRow, ok := s.rows[key]
		if !ok {
			rec := incoming.Clone()
			for field := range rec {
				changed.Add(key, field)
			}
			s.rows[key] = &cache.RecordRow{Record: rec, LastReceivedAt: receivedAt}
			continue
		}

		for field, newValue := range incoming {
			oldValue, existed := existingRow.Record[field]
			if existed && deepEqualValue(oldValue, newValue) {
				continue
			}
			existingRow.Record[field] = newValue
			changed.Add(key, field)
		}
		existingRow.LastReceivedAt = receivedAt
	}
	return changed, nil
}

func (s *InMemoryRecordStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[cache.CacheKey]*cache.RecordRow)
	return nil
}

// deepEqualValue compares two Record field values for the merge
// equality-gate: identical values must never be reported as changed.
func deepEqualValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
