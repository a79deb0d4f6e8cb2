package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/normcache/internal/cache"
)

func TestInMemoryRecordStore_MergeInsertsAndReportsAllFieldsChanged(t *testing.T) {
	s := NewInMemoryRecordStore()
	ctx := context.Background()
	t0 := time.Unix(1000, 0)

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

func TestInMemoryRecordStore_MergeIsMonotonicAndIdentityGated(t *testing.T) {
	s := NewInMemoryRecordStore()
	ctx := context.Background()

	_, err := s.Merge(ctx, cache.RecordSet{
		"2001": cache.Record{"name": "R2-D2", "height": 0.96},
	}, time.Unix(1, 0))
	require.NoError(t, err)

	// Re-merging the identical value for `name`, while changing `height`,
	// must not report `name` as changed, and must not drop it.
	changed, err := s.Merge(ctx, cache.RecordSet{
		"2001": cache.Record{"name": "R2-D2", "height": 0.98},
	}, time.Unix(2, 0))
	require.NoError(t, err)
	require.Equal(t, cache.ChangedKeySet{
		{Key: "2001", Field: "height"}: {},
	}, changed)

	rows, err := s.Load(ctx, []cache.CacheKey{"2001"})
	require.NoError(t, err)
	require.Equal(t, "R2-D2", rows[0].Record["name"])
	require.Equal(t, 0.98, rows[0].Record["height"])
}

func TestInMemoryRecordStore_PublishTwiceIsIdempotent(t *testing.T) {
	s := NewInMemoryRecordStore()
	ctx := context.Background()
	rs := cache.RecordSet{"2001": cache.Record{"name": "R2-D2"}}

	_, err := s.Merge(ctx, rs, time.Unix(1, 0))
	require.NoError(t, err)

	changed, err := s.Merge(ctx, rs, time.Unix(2, 0))
	require.NoError(t, err)
	require.Empty(t, changed)
}

func TestInMemoryRecordStore_LoadMissingKeyYieldsNilEntry(t *testing.T) {
	s := NewInMemoryRecordStore()
	rows, err := s.Load(context.Background(), []cache.CacheKey{"absent", "also-absent"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Nil(t, rows[0])
	require.Nil(t, rows[1])
}

func TestInMemoryRecordStore_Clear(t *testing.T) {
	s := NewInMemoryRecordStore()
	ctx := context.Background()
	_, err := s.Merge(ctx, cache.RecordSet{"2001": cache.Record{"name": "R2-D2"}}, time.Unix(1, 0))
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))

	rows, err := s.Load(ctx, []cache.CacheKey{"2001"})
	require.NoError(t, err)
	require.Nil(t, rows[0])
}

func TestInMemoryRecordStore_ChangeGranularityIsFieldQualified(t *testing.T) {
	s := NewInMemoryRecordStore()
	ctx := context.Background()

	_, err := s.Merge(ctx, cache.RecordSet{
		"QUERY_ROOT": cache.Record{"hero": cache.Reference{Key: "2001"}},
		"2001":       cache.Record{"name": "R2-D2", "__typename": "Droid"},
	}, time.Unix(1, 0))
	require.NoError(t, err)

	changed, err := s.Merge(ctx, cache.RecordSet{
		"2001": cache.Record{"name": "C-3PO"},
	}, time.Unix(2, 0))
	require.NoError(t, err)
	require.Equal(t, cache.ChangedKeySet{
		{Key: "2001", Field: "name"}: {},
	}, changed)
}
