package normcache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	cache "github.com/hanpama/normcache/internal/cache"
	schema "github.com/hanpama/normcache/internal/schema"
	store "github.com/hanpama/normcache/internal/store"
)

const friendsSDL = `
type Query {
  hero: Character
}

interface Character {
  id: ID!
  name: String!
  friends: [Character]
}

type Droid implements Character {
  id: ID!
  name: String!
  friends: [Character]
}
`

// countingRecordStore wraps a real backend and counts how many times Load
// is invoked, independent of how many keys each call carries.
type countingRecordStore struct {
	store.RecordStore
	mu        sync.Mutex
	loadCalls int
	loadSizes []int
}

func (c *countingRecordStore) Load(ctx context.Context, keys []cache.CacheKey) ([]*cache.RecordRow, error) {
	c.mu.Lock()
	c.loadCalls++
	c.loadSizes = append(c.loadSizes, len(keys))
	c.mu.Unlock()
	return c.RecordStore.Load(ctx, keys)
}

func TestStore_ReadingAListOfReferencesTriggersOneBatchedLoadCall(t *testing.T) {
	sch, err := schema.BuildFromSDL("friends-test", friendsSDL)
	require.NoError(t, err)

	backend := &countingRecordStore{RecordStore: store.NewInMemoryRecordStore()}
	s := New(sch, WithCacheKeyForObject(keyByID), WithBackend(backend))
	ctx := context.Background()

	friendKeys := []string{"Droid:2", "Droid:3", "Droid:4", "Droid:5", "Droid:6"}
	rs := cache.RecordSet{
		cache.QueryRoot: cache.Record{"__typename": "Query", "hero": cache.Reference{Key: "Droid:1"}},
	}
	refs := make([]cache.Reference, 0, len(friendKeys))
	for _, k := range friendKeys {
		refs = append(refs, cache.Reference{Key: cache.CacheKey(k)})
		rs[cache.CacheKey(k)] = cache.Record{"__typename": "Droid", "id": k[len("Droid:"):], "name": "friend " + k}
	}
	rs["Droid:1"] = cache.Record{"__typename": "Droid", "id": "1", "name": "Hero", "friends": refs}
	require.NoError(t, s.Publish(ctx, rs, nil))

	backend.mu.Lock()
	backend.loadCalls = 0
	backend.loadSizes = nil
	backend.mu.Unlock()

	q, err := NewQuery(`{ hero { name friends { name } } }`, "", nil)
	require.NoError(t, err)

	result, err := s.Load(ctx, q)
	require.NoError(t, err)
	hero := result.Data.(map[string]any)["hero"].(map[string]any)
	require.Equal(t, "Hero", hero["name"])
	require.Len(t, hero["friends"], len(friendKeys))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	// One Load to fetch the root, one to dereference hero, and one batched
	// Load for the whole friends list — never one Load per friend.
	require.Equal(t, 3, backend.loadCalls)
	require.Equal(t, []int{1, 1, len(friendKeys)}, backend.loadSizes)
}
