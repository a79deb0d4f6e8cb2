package normcache

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	cache "github.com/hanpama/normcache/internal/cache"
	schema "github.com/hanpama/normcache/internal/schema"
)

const testSDL = `
type Query {
  hero: Character
}

type Mutation {
  renameHero(name: String!): Character
}

interface Character {
  id: ID!
  name: String!
}

type Droid implements Character {
  id: ID!
  name: String!
  primaryFunction: String
}
`

func mustBuildSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.BuildFromSDL("test", testSDL)
	require.NoError(t, err)
	return sch
}

func keyByID(typeName string, obj map[string]any) (cache.CacheKey, bool) {
	id, ok := obj["id"].(string)
	if !ok {
		return "", false
	}
	return cache.CacheKey(typeName + ":" + id), true
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := []Option{WithCacheKeyForObject(keyByID)}
	return New(mustBuildSchema(t), append(base, opts...)...)
}

func TestStore_LoadAfterPublishServesFromCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rs := cache.RecordSet{
		cache.QueryRoot: cache.Record{"__typename": "Query", "hero": cache.Reference{Key: "Droid:2001"}},
		"Droid:2001":    cache.Record{"__typename": "Droid", "id": "2001", "name": "R2-D2", "primaryFunction": "Astromech"},
	}
	require.NoError(t, s.Publish(ctx, rs, nil))

	q, err := NewQuery(`{ hero { name ... on Droid { primaryFunction } } }`, "", nil)
	require.NoError(t, err)

	result, err := s.Load(ctx, q)
	require.NoError(t, err)
	want := map[string]any{"hero": map[string]any{"name": "R2-D2", "primaryFunction": "Astromech"}}
	if diff := cmp.Diff(want, result.Data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	require.Contains(t, result.DependentKeys, cache.QueryRoot)
	require.Contains(t, result.DependentKeys, cache.CacheKey("Droid:2001"))
}

func TestStore_LoadMissingRootKeyIsAMissingValueError(t *testing.T) {
	s := newTestStore(t)
	q, err := NewQuery(`{ hero { name } }`, "", nil)
	require.NoError(t, err)

	_, err = s.Load(context.Background(), q)
	require.Error(t, err)
	var missing *cache.MissingValueError
	require.ErrorAs(t, err, &missing)
}

func TestStore_WriteThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q, err := NewQuery(`{ hero { name ... on Droid { primaryFunction } } }`, "", nil)
	require.NoError(t, err)

	err = s.WithinReadWriteTransaction(ctx, func(tx *ReadWriteTransaction) error {
		return tx.Write(ctx, map[string]any{
			"hero": map[string]any{"__typename": "Droid", "id": "2001", "name": "R2-D2", "primaryFunction": "Astromech"},
		}, q)
	})
	require.NoError(t, err)

	result, err := s.Load(ctx, q)
	require.NoError(t, err)
	want := map[string]any{"hero": map[string]any{"name": "R2-D2", "primaryFunction": "Astromech"}}
	if diff := cmp.Diff(want, result.Data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_UpdateMutatesInPlaceAndPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedQuery, err := NewQuery(`{ hero { name ... on Droid { primaryFunction } } }`, "", nil)
	require.NoError(t, err)
	require.NoError(t, s.WithinReadWriteTransaction(ctx, func(tx *ReadWriteTransaction) error {
		return tx.Write(ctx, map[string]any{
			"hero": map[string]any{"__typename": "Droid", "id": "2001", "name": "R2-D2", "primaryFunction": "Astromech"},
		}, seedQuery)
	}))

	err = s.WithinReadWriteTransaction(ctx, func(tx *ReadWriteTransaction) error {
		return tx.Update(ctx, seedQuery, func(data *any) error {
			m := (*data).(map[string]any)
			hero := m["hero"].(map[string]any)
			hero["name"] = "Artoo"
			return nil
		})
	})
	require.NoError(t, err)

	result, err := s.Load(ctx, seedQuery)
	require.NoError(t, err)
	require.Equal(t, "Artoo", result.Data.(map[string]any)["hero"].(map[string]any)["name"])
}

func TestStore_SubscribersAreNotifiedSynchronouslyInRegistrationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var order []int
	s.Subscribe(SubscriberFunc(func(_ *Store, changed cache.ChangedKeySet, _ any) {
		order = append(order, 1)
	}))
	s.Subscribe(SubscriberFunc(func(_ *Store, changed cache.ChangedKeySet, _ any) {
		order = append(order, 2)
	}))

	require.NoError(t, s.Publish(ctx, cache.RecordSet{
		"Droid:2001": cache.Record{"__typename": "Droid", "id": "2001", "name": "R2-D2"},
	}, nil))

	require.Equal(t, []int{1, 2}, order)
}

func TestStore_UnsubscribeStopsFurtherNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	calls := 0
	unsubscribe := s.Subscribe(SubscriberFunc(func(_ *Store, _ cache.ChangedKeySet, _ any) {
		calls++
	}))
	unsubscribe()

	require.NoError(t, s.Publish(ctx, cache.RecordSet{
		"Droid:2001": cache.Record{"__typename": "Droid", "id": "2001", "name": "R2-D2"},
	}, nil))
	require.Equal(t, 0, calls)
}

func TestStore_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	secondCalled := false
	s.Subscribe(SubscriberFunc(func(_ *Store, _ cache.ChangedKeySet, _ any) {
		panic("boom")
	}))
	s.Subscribe(SubscriberFunc(func(_ *Store, _ cache.ChangedKeySet, _ any) {
		secondCalled = true
	}))

	require.NoError(t, s.Publish(ctx, cache.RecordSet{
		"Droid:2001": cache.Record{"__typename": "Droid", "id": "2001", "name": "R2-D2"},
	}, nil))
	require.True(t, secondCalled)
}

func TestStore_ClearDisposesTransactionsOpenedBeforeIt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, cache.RecordSet{
		"Droid:2001": cache.Record{"__typename": "Droid", "id": "2001", "name": "R2-D2"},
	}, nil))

	var capturedTx *ReadTransaction
	require.NoError(t, s.WithinReadTransaction(ctx, func(tx *ReadTransaction) error {
		capturedTx = tx
		return nil
	}))

	require.NoError(t, s.Clear(ctx))

	_, readErr := capturedTx.ReadObject(ctx, "Droid", "Droid:2001", nil)
	require.Error(t, readErr)
	var disposed *cache.DisposedError
	require.ErrorAs(t, readErr, &disposed)
}

func TestStore_ReadObjectReturnsOwnScalarFieldsOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, cache.RecordSet{
		"Droid:2001": cache.Record{"__typename": "Droid", "id": "2001", "name": "R2-D2", "primaryFunction": "Astromech"},
	}, nil))

	var result *GraphQLResult
	require.NoError(t, s.WithinReadTransaction(ctx, func(tx *ReadTransaction) error {
		r, err := tx.ReadObject(ctx, "Droid", "Droid:2001", nil)
		if err != nil {
			return err
		}
		result = r
		return nil
	}))
	want := map[string]any{"id": "2001", "name": "R2-D2", "primaryFunction": "Astromech"}
	if diff := cmp.Diff(want, result.Data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ReadWriteTransactionBlocksUntilInFlightReadReleasesTheLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, cache.RecordSet{
		"Droid:2001": cache.Record{"__typename": "Droid", "id": "2001", "name": "R2-D2"},
	}, nil))

	readStarted := make(chan struct{})
	releaseRead := make(chan struct{})
	writeDone := make(chan struct{})

	go func() {
		_ = s.WithinReadTransaction(ctx, func(tx *ReadTransaction) error {
			close(readStarted)
			<-releaseRead
			return nil
		})
	}()
	<-readStarted

	go func() {
		_ = s.WithinReadWriteTransaction(ctx, func(tx *ReadWriteTransaction) error {
			return nil
		})
		close(writeDone)
	}()

	select {
	case <-writeDone:
		t.Fatal("write transaction completed while a read transaction was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseRead)

	select {
	case <-writeDone:
	case <-time.After(time.Second):
		t.Fatal("write transaction did not proceed after the blocking read released its lock")
	}
}

func TestStore_InFlightReadIsUnaffectedByAConcurrentlyQueuedWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, cache.RecordSet{
		"Droid:2001": cache.Record{"__typename": "Droid", "id": "2001", "name": "R2-D2"},
	}, nil))

	readStarted := make(chan struct{})
	releaseRead := make(chan struct{})
	var readErr error
	readDone := make(chan struct{})

	go func() {
		readErr = s.WithinReadTransaction(ctx, func(tx *ReadTransaction) error {
			close(readStarted)
			<-releaseRead
			_, err := tx.ReadObject(ctx, "Droid", "Droid:2001", nil)
			return err
		})
		close(readDone)
	}()
	<-readStarted

	writeQueued := make(chan struct{})
	go func() {
		close(writeQueued)
		_ = s.WithinReadWriteTransaction(ctx, func(tx *ReadWriteTransaction) error {
			return tx.UpdateObject(ctx, "Droid", "Droid:2001", nil, func(data *any) error {
				m := (*data).(map[string]any)
				m["name"] = "Artoo"
				return nil
			})
		})
	}()
	<-writeQueued
	time.Sleep(20 * time.Millisecond)

	close(releaseRead)
	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatal("read transaction did not complete")
	}
	require.NoError(t, readErr)
}

func TestStore_WithClockStampsPublishFreshness(t *testing.T) {
	fixed := time.Unix(500, 0)
	s := newTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, cache.RecordSet{
		"Droid:2001": cache.Record{"__typename": "Droid", "id": "2001", "name": "R2-D2"},
	}, nil))

	rows, err := s.backend.Load(ctx, []cache.CacheKey{"Droid:2001"})
	require.NoError(t, err)
	require.Equal(t, fixed, rows[0].LastReceivedAt)
}
