// Package pebblestore is a store.RecordStore backend persisting records to
// an embedded github.com/cockroachdb/pebble LSM store, JSON-encoded, one key
// per CacheKey. It gives the façade a second real persistent backend
// alongside boltstore and the default in-memory one.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cockroachdb/pebble"

	cache "github.com/hanpama/normcache/internal/cache"
	store "github.com/hanpama/normcache/internal/store"
)

// PebbleRecordStore is a RecordStore backend on top of a Pebble database.
type PebbleRecordStore struct {
	db *pebble.DB
}

var _ store.RecordStore = (*PebbleRecordStore)(nil)

// NewPebbleRecordStore opens (creating if absent) a Pebble database at dir.
func NewPebbleRecordStore(dir string) (*PebbleRecordStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %s: %w", dir, err)
	}
	return &PebbleRecordStore{db: db}, nil
}

// Close releases the underlying Pebble database handle.
func (s *PebbleRecordStore) Close() error {
	return s.db.Close()
}

func (s *PebbleRecordStore) Load(ctx context.Context, keys []cache.CacheKey) ([]*cache.RecordRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*cache.RecordRow, len(keys))
	for i, k := range keys {
		raw, closer, err := s.db.Get([]byte(k))
		if err != nil {
			if errors.Is(err, pebble.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("pebblestore: get %s: %w", k, err)
		}
		var row wireRow
		decodeErr := json.Unmarshal(raw, &row)
		closer.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("pebblestore: decode %s: %w", k, decodeErr)
		}
		out[i] = &cache.RecordRow{Record: row.toRecord(), LastReceivedAt: time.UnixMilli(row.ReceivedAtUnixMilli)}
	}
	return out, nil
}

// Merge stages every touched record into a single Pebble Batch and commits
// it with fsync, so the merge is atomic: either the whole batch lands, or
// none of it does.
func (s *PebbleRecordStore) Merge(ctx context.Context, rs cache.RecordSet, receivedAt time.Time) (cache.ChangedKeySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	changed := cache.NewChangedKeySet(len(rs))
	batch := s.db.NewBatch()
	defer batch.Close()

	for key, incoming := range rs {
		raw, closer, getErr := s.db.Get([]byte(key))
		hadRow := getErr == nil
		existing := make(cache.Record, len(incoming))
		if hadRow {
			var row wireRow
			decodeErr := json.Unmarshal(raw, &row)
			closer.Close()
			if decodeErr != nil {
				return nil, fmt.Errorf("pebblestore: decode %s: %w", key, decodeErr)
			}
			existing = row.toRecord()
		} else if !errors.Is(getErr, pebble.ErrNotFound) {
			return nil, fmt.Errorf("pebblestore: get %s: %w", key, getErr)
		}

		for field, newValue := range incoming {
			oldValue, existed := existing[field]
			if existed && reflect.DeepEqual(oldValue, newValue) {
				continue
			}
			existing[field] = newValue
			changed.Add(key, field)
		}

		buf, err := json.Marshal(fromRecord(existing, receivedAt))
		if err != nil {
			return nil, fmt.Errorf("pebblestore: encode %s: %w", key, err)
		}
		if err := batch.Set([]byte(key), buf, nil); err != nil {
			return nil, err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("pebblestore: commit: %w", err)
	}
	return changed, nil
}

func (s *PebbleRecordStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	batch := s.db.NewBatch()
	defer batch.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		if err := batch.Delete(key, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}
