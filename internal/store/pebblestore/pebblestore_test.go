package pebblestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/normcache/internal/cache"
)

func openTestStore(t *testing.T) *PebbleRecordStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "records-pebble")
	s, err := NewPebbleRecordStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestPebbleRecordStore_MergeInsertsAndReportsAllFieldsChanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.UnixMilli(1000000)

	changed, err := s.Merge(ctx, cache.RecordSet{
		"2001": cache.Record{"name": "R2-D2", "__typename": "Droid"},
	}, t0)
	require.NoError(t, err)
	require.Len(t, changed, 2)
	require.Contains(t, changed, cache.ChangedKey{Key: "2001", Field: "name"})
	require.Contains(t, changed, cache.ChangedKey{Key: "2001", Field: "__typename"})

	rows, err := s.Load(ctx, []cache.CacheKey{"2001"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "R2-D2", rows[0].Record["name"])
	require.Equal(t, t0, rows[0].LastReceivedAt)
}

func TestPebbleRecordStore_MergeIsMonotonicAndIdentityGated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, cache.RecordSet{
		"2001": cache.Record{"name": "R2-D2", "height": 0.96},
	}, time.UnixMilli(1))
	require.NoError(t, err)

	changed, err := s.Merge(ctx, cache.RecordSet{
		"2001": cache.Record{"name": "R2-D2", "height": 0.98},
	}, time.UnixMilli(2))
	require.NoError(t, err)
	require.Equal(t, cache.ChangedKeySet{
		{Key: "2001", Field: "height"}: {},
	}, changed)

	rows, err := s.Load(ctx, []cache.CacheKey{"2001"})
	require.NoError(t, err)
	require.Equal(t, "R2-D2", rows[0].Record["name"])
	require.Equal(t, 0.98, rows[0].Record["height"])
}

func TestPebbleRecordStore_RoundTripsReferenceAndReferenceList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Merge(ctx, cache.RecordSet{
		"2001": cache.Record{
			"bestFriend": cache.Reference{Key: "2002"},
			"friends": []cache.Reference{
				{Key: "2002"},
				{Key: "2003"},
			},
		},
	}, time.UnixMilli(1))
	require.NoError(t, err)

	rows, err := s.Load(ctx, []cache.CacheKey{"2001"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, cache.Reference{Key: "2002"}, rows[0].Record["bestFriend"])
	require.Equal(t, []cache.Reference{{Key: "2002"}, {Key: "2003"}}, rows[0].Record["friends"])
}

func TestPebbleRecordStore_LoadMissingKeyYieldsNilEntry(t *testing.T) {
	s := openTestStore(t)
	rows, err := s.Load(context.Background(), []cache.CacheKey{"absent", "also-absent"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Nil(t, rows[0])
	require.Nil(t, rows[1])
}

func TestPebbleRecordStore_Clear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Merge(ctx, cache.RecordSet{"2001": cache.Record{"name": "R2-D2"}}, time.UnixMilli(1))
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))

	rows, err := s.Load(ctx, []cache.CacheKey{"2001"})
	require.NoError(t, err)
	require.Nil(t, rows[0])
}

func TestPebbleRecordStore_MergeAcrossKeysCommitsAsOneBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	changed, err := s.Merge(ctx, cache.RecordSet{
		"QUERY_ROOT": cache.Record{"hero": cache.Reference{Key: "2001"}},
		"2001":       cache.Record{"name": "R2-D2", "__typename": "Droid"},
	}, time.UnixMilli(1))
	require.NoError(t, err)
	require.Len(t, changed, 3)

	rows, err := s.Load(ctx, []cache.CacheKey{"QUERY_ROOT", "2001"})
	require.NoError(t, err)
	require.Equal(t, cache.Reference{Key: "2001"}, rows[0].Record["hero"])
	require.Equal(t, "R2-D2", rows[1].Record["name"])
}
