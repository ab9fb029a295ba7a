// Package storagetest provides a conformance suite run against every
// storage.Store backend.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/grove/internal/storage"
)

// Factory builds a fresh, empty Store for one subtest. advance moves the
// store's notion of time forward so expiry can be tested without sleeping.
type Factory func(t *testing.T) (s storage.Store, advance func(time.Duration))

type doc struct {
	Name   string  `json:"name"`
	Health float64 `json:"health"`
}

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		s, _ := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("GetMissing", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.Get(ctx, storage.ConnectionKey("r1", "c1"))
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("PutGet", func(t *testing.T) {
		s, _ := newStore(t)
		key := storage.ConnectionKey("r1", "c1")
		require.NoError(t, s.Put(ctx, key, doc{Name: "a", Health: 30}, time.Minute))
		it, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, it.Key)
		var got doc
		require.NoError(t, it.Decode(&got))
		assert.Equal(t, doc{Name: "a", Health: 30}, got)
		assert.False(t, it.ExpiresAt.IsZero())
	})

	t.Run("PutReplaces", func(t *testing.T) {
		s, _ := newStore(t)
		key := storage.GroundItemKey("r1", "g1")
		require.NoError(t, s.Put(ctx, key, doc{Name: "a"}, 0))
		require.NoError(t, s.Put(ctx, key, doc{Name: "b"}, 0))
		it, err := s.Get(ctx, key)
		require.NoError(t, err)
		var got doc
		require.NoError(t, it.Decode(&got))
		assert.Equal(t, "b", got.Name)
		assert.True(t, it.ExpiresAt.IsZero())
	})

	t.Run("UpdateFields", func(t *testing.T) {
		s, _ := newStore(t)
		key := storage.ConnectionKey("r1", "c1")
		require.NoError(t, s.Put(ctx, key, doc{Name: "a", Health: 30}, time.Minute))
		it, err := s.Update(ctx, key, storage.Add("health", -35), storage.Set("name", "b"))
		require.NoError(t, err)
		var got doc
		require.NoError(t, it.Decode(&got))
		assert.Equal(t, doc{Name: "b", Health: -5}, got, "add must not clamp")
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.Update(ctx, storage.ConnectionKey("r1", "nope"), storage.Add("health", 1))
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("UpdateExpectGuardsWrite", func(t *testing.T) {
		s, _ := newStore(t)
		key := storage.ConnectionKey("r1", "c1")
		require.NoError(t, s.Put(ctx, key, doc{Name: "a", Health: 30}, time.Minute))

		_, err := s.Update(ctx, key, storage.Expect("health", 29), storage.Set("name", "b"))
		assert.True(t, errors.Is(err, storage.ErrPreconditionFailed))
		it, err := s.Get(ctx, key)
		require.NoError(t, err)
		var got doc
		require.NoError(t, it.Decode(&got))
		assert.Equal(t, doc{Name: "a", Health: 30}, got, "a failed precondition writes nothing")

		it, err = s.Update(ctx, key, storage.Expect("health", 30), storage.Set("name", "b"))
		require.NoError(t, err)
		require.NoError(t, it.Decode(&got))
		assert.Equal(t, "b", got.Name)
	})

	t.Run("DeleteIsClaim", func(t *testing.T) {
		s, _ := newStore(t)
		key := storage.HarvestKey("r1", "tree-1", "c1")
		require.NoError(t, s.Put(ctx, key, doc{Name: "h"}, time.Minute))
		require.NoError(t, s.Delete(ctx, key))
		assert.True(t, errors.Is(s.Delete(ctx, key), storage.ErrNotFound))
		_, err := s.Get(ctx, key)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("QueryScopedByPartitionAndKind", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Put(ctx, storage.ConnectionKey("r1", "b"), doc{Name: "b"}, time.Minute))
		require.NoError(t, s.Put(ctx, storage.ConnectionKey("r1", "a"), doc{Name: "a"}, time.Minute))
		require.NoError(t, s.Put(ctx, storage.ConnectionKey("r2", "c"), doc{Name: "c"}, time.Minute))
		require.NoError(t, s.Put(ctx, storage.GroundItemKey("r1", "g"), doc{Name: "g"}, time.Minute))

		items, err := s.Query(ctx, storage.RoomPartition("r1"), storage.KindConnection)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "a", items[0].Key.ID())
		assert.Equal(t, "b", items[1].Key.ID())

		items, err = s.Query(ctx, storage.RoomPartition("r1"), storage.KindGroundItem)
		require.NoError(t, err)
		require.Len(t, items, 1)

		items, err = s.Query(ctx, storage.RoomPartition("r3"), storage.KindConnection)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("Expiry", func(t *testing.T) {
		s, advance := newStore(t)
		short := storage.ConnectionKey("r1", "short")
		long := storage.ConnectionKey("r1", "long")
		require.NoError(t, s.Put(ctx, short, doc{Name: "s"}, time.Minute))
		require.NoError(t, s.Put(ctx, long, doc{Name: "l"}, time.Hour))

		advance(2 * time.Minute)

		_, err := s.Get(ctx, short)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		_, err = s.Update(ctx, short, storage.Add("health", 1))
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		items, err := s.Query(ctx, storage.RoomPartition("r1"), storage.KindConnection)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, long, items[0].Key)
	})

	t.Run("UpdateKeepsExpiry", func(t *testing.T) {
		s, advance := newStore(t)
		key := storage.ConnectionKey("r1", "c1")
		require.NoError(t, s.Put(ctx, key, doc{Name: "a"}, time.Minute))
		_, err := s.Update(ctx, key, storage.Set("name", "b"))
		require.NoError(t, err)
		advance(2 * time.Minute)
		_, err = s.Get(ctx, key)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "update must not refresh the TTL")
	})

	t.Run("TouchExtendsExpiry", func(t *testing.T) {
		s, advance := newStore(t)
		key := storage.ConnectionKey("r1", "c1")
		require.NoError(t, s.Put(ctx, key, doc{Name: "a"}, time.Minute))
		advance(45 * time.Second)
		require.NoError(t, s.Touch(ctx, key, time.Minute))
		advance(45 * time.Second)
		it, err := s.Get(ctx, key)
		require.NoError(t, err, "touch must push the expiry forward")
		var got doc
		require.NoError(t, it.Decode(&got))
		assert.Equal(t, "a", got.Name)
		advance(time.Minute)
		_, err = s.Get(ctx, key)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("TouchMissing", func(t *testing.T) {
		s, _ := newStore(t)
		err := s.Touch(ctx, storage.ConnectionKey("r1", "nope"), time.Minute)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("TouchZeroRemovesExpiry", func(t *testing.T) {
		s, advance := newStore(t)
		key := storage.ConnectionKey("r1", "c1")
		require.NoError(t, s.Put(ctx, key, doc{Name: "a"}, time.Minute))
		require.NoError(t, s.Touch(ctx, key, 0))
		advance(time.Hour)
		it, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, it.ExpiresAt.IsZero())
	})

	t.Run("ConcurrentAdds", func(t *testing.T) {
		s, _ := newStore(t)
		key := storage.ConnectionKey("r1", "c1")
		require.NoError(t, s.Put(ctx, key, doc{Name: "a"}, time.Minute))
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, key, storage.Add("health", 1))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		it, err := s.Get(ctx, key)
		require.NoError(t, err)
		var got doc
		require.NoError(t, it.Decode(&got))
		assert.Equal(t, float64(n), got.Health)
	})
}
