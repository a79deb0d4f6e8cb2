// Package boltstore is a store.RecordStore backend persisting records to a
// single go.etcd.io/bbolt file, msgpack-encoded, one key per CacheKey. It
// gives the façade a real embedded, durable backend alongside the default
// in-memory one.
package boltstore

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bbolt "go.etcd.io/bbolt"

	cache "github.com/hanpama/normcache/internal/cache"
	store "github.com/hanpama/normcache/internal/store"
)

var recordsBucket = []byte("records")

// BoltRecordStore is a RecordStore backend on top of a bbolt database.
type BoltRecordStore struct {
	db *bbolt.DB
}

var _ store.RecordStore = (*BoltRecordStore)(nil)

// NewBoltRecordStore opens (creating if absent) a bbolt database at path.
func NewBoltRecordStore(path string) (*BoltRecordStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init bucket: %w", err)
	}
	return &BoltRecordStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltRecordStore) Close() error {
	return s.db.Close()
}

func (s *BoltRecordStore) Load(ctx context.Context, keys []cache.CacheKey) ([]*cache.RecordRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*cache.RecordRow, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		for i, k := range keys {
			raw := b.Get([]byte(k))
			if raw == nil {
				continue
			}
			var row wireRow
			if err := msgpack.Unmarshal(raw, &row); err != nil {
				return fmt.Errorf("boltstore: decode %s: %w", k, err)
			}
			out[i] = &cache.RecordRow{Record: row.toRecord(), LastReceivedAt: time.Unix(0, row.ReceivedAtUnixNano)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Merge runs the whole batch inside a single bbolt read-write transaction,
// so the merge is atomic: either every touched record is persisted, or a
// decode/encode failure aborts the entire transaction.
func (s *BoltRecordStore) Merge(ctx context.Context, rs cache.RecordSet, receivedAt time.Time) (cache.ChangedKeySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	changed := cache.NewChangedKeySet(len(rs))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		for key, incoming := range rs {
			raw := b.Get([]byte(key))
			existing := make(cache.Record, len(incoming))
			if raw != nil {
				var row wireRow
				if err := msgpack.Unmarshal(raw, &row); err != nil {
					return fmt.Errorf("boltstore: decode %s: %w", key, err)
				}
				existing = row.toRecord()
			}

			for field, newValue := range incoming {
				oldValue, existed := existing[field]
				if existed && reflect.DeepEqual(oldValue, newValue) {
					continue
				}
				existing[field] = newValue
				changed.Add(key, field)
			}

			buf, err := msgpack.Marshal(fromRecord(existing, receivedAt))
			if err != nil {
				return fmt.Errorf("boltstore: encode %s: %w", key, err)
			}
			if err := b.Put([]byte(key), buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

func (s *BoltRecordStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(recordsBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(recordsBucket)
		return err
	})
}
