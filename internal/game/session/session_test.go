package session_test

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/storage"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func newRepo() (*session.Repository, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return session.NewRepository(store, 2*time.Minute), store
}

func TestJoin_CreatesDefaults(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()

	rec, err := repo.Join(ctx, "r1", "c1", t0)
	require.NoError(t, err)
	assert.Equal(t, session.MaxHealth, rec.Health)
	assert.Equal(t, session.Spawn, rec.Position)
	assert.False(t, rec.Initialized())
	assert.JSONEq(t, `[]`, string(rec.Inventory))

	loaded, err := repo.Load(ctx, "r1", "c1")
	require.NoError(t, err)
	assert.Equal(t, rec.JoinedAt, loaded.JoinedAt)

	rooms, err := repo.RoomsForConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, rooms)
}

func TestJoin_RefreshKeepsState(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()
	_, err := repo.Join(ctx, "r1", "c1", t0)
	require.NoError(t, err)
	_, err = repo.ApplyDamage(ctx, "r1", "c1", 4)
	require.NoError(t, err)

	rec, err := repo.Join(ctx, "r1", "c1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, session.MaxHealth-4, rec.Health)
	assert.Equal(t, t0.UnixMilli(), rec.JoinedAt)
}

func TestFieldUpdates_DoNotExtendTTL(t *testing.T) {
	now := t0
	store := storage.NewMemoryStoreWithClock(func() time.Time { return now })
	repo := session.NewRepository(store, 2*time.Minute)
	ctx := context.Background()
	_, err := repo.Join(ctx, "r1", "c1", now)
	require.NoError(t, err)

	now = now.Add(90 * time.Second)
	_, err = repo.Update(ctx, "r1", "c1", storage.Set(session.FieldPosition, session.Vector3{X: 1}))
	require.NoError(t, err)
	now = now.Add(90 * time.Second)

	_, err = repo.Load(ctx, "r1", "c1")
	assert.ErrorIs(t, err, session.ErrPlayerNotFound, "only a join refreshes the record")

	_, err = repo.Join(ctx, "r1", "c1", now)
	require.NoError(t, err, "rejoining recreates the record")
}

func TestTouch_ExtendsRecordAndIndex(t *testing.T) {
	now := t0
	store := storage.NewMemoryStoreWithClock(func() time.Time { return now })
	repo := session.NewRepository(store, 2*time.Minute)
	ctx := context.Background()
	_, err := repo.Join(ctx, "r1", "c1", now)
	require.NoError(t, err)

	now = now.Add(90 * time.Second)
	require.NoError(t, repo.Touch(ctx, "r1", "c1"))
	now = now.Add(90 * time.Second)

	_, err = repo.Load(ctx, "r1", "c1")
	require.NoError(t, err)
	rooms, err := repo.RoomsForConnection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, rooms)

	now = now.Add(3 * time.Minute)
	assert.ErrorIs(t, repo.Touch(ctx, "r1", "c1"), session.ErrPlayerNotFound)
}

func TestLoad_Missing(t *testing.T) {
	repo, _ := newRepo()
	_, err := repo.Load(context.Background(), "r1", "nobody")
	assert.ErrorIs(t, err, session.ErrPlayerNotFound)
}

func TestApplyDamage_DoesNotClamp(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()
	_, err := repo.Join(ctx, "r1", "c1", t0)
	require.NoError(t, err)
	_, err = repo.Update(ctx, "r1", "c1", storage.Set(session.FieldHealth, 2))
	require.NoError(t, err)

	health, err := repo.ApplyDamage(ctx, "r1", "c1", 3)
	require.NoError(t, err)
	assert.Equal(t, -1, health)
}

func TestApplyDamage_Missing(t *testing.T) {
	repo, _ := newRepo()
	_, err := repo.ApplyDamage(context.Background(), "r1", "ghost", 1)
	assert.ErrorIs(t, err, session.ErrPlayerNotFound)
}

func TestResetForRespawn(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()
	_, err := repo.Join(ctx, "r1", "c1", t0)
	require.NoError(t, err)
	_, err = repo.Update(ctx, "r1", "c1",
		storage.Set(session.FieldHealth, -2),
		storage.Set(session.FieldPosition, session.Vector3{X: 10, Z: 3}),
		storage.Set(session.FieldInventory, json.RawMessage(`[{"itemId":"stone","quantity":2}]`)),
	)
	require.NoError(t, err)

	rec, err := repo.ResetForRespawn(ctx, "r1", "c1", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, session.MaxHealth, rec.Health)
	assert.Equal(t, session.Spawn, rec.Position)
	assert.Equal(t, session.Spawn, rec.LastValidPosition)
	assert.JSONEq(t, `[]`, string(rec.Inventory))
	assert.Empty(t, rec.PositionHistory)
}

func TestSaveInventory_BumpsVersion(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()
	rec, err := repo.Join(ctx, "r1", "c1", t0)
	require.NoError(t, err)

	saved, err := repo.SaveInventory(ctx, rec, json.RawMessage(`[{"itemId":"stone","quantity":1}]`))
	require.NoError(t, err)
	assert.Equal(t, rec.Version+1, saved.Version)

	_, err = repo.SaveInventory(ctx, rec, json.RawMessage(`[]`))
	assert.ErrorIs(t, err, session.ErrStaleRecord, "the first save moved the version on")
}

func TestSaveInventory_StaleAfterRespawn(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()
	_, err := repo.Join(ctx, "r1", "c1", t0)
	require.NoError(t, err)
	_, err = repo.Update(ctx, "r1", "c1",
		storage.Set(session.FieldInventory, json.RawMessage(`[{"itemId":"stone","quantity":2}]`)))
	require.NoError(t, err)
	before, err := repo.Load(ctx, "r1", "c1")
	require.NoError(t, err)

	_, err = repo.ResetForRespawn(ctx, "r1", "c1", t0.Add(time.Second))
	require.NoError(t, err)

	_, err = repo.SaveInventoryAndHeal(ctx, before, before.Inventory, 5)
	assert.ErrorIs(t, err, session.ErrStaleRecord)
	after, err := repo.Load(ctx, "r1", "c1")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(after.Inventory), "the respawned inventory is not overwritten")
	assert.Equal(t, session.MaxHealth, after.Health)
}

func TestSaveInventoryAndHeal_KeepsConcurrentDamage(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()
	_, err := repo.Join(ctx, "r1", "c1", t0)
	require.NoError(t, err)
	_, err = repo.ApplyDamage(ctx, "r1", "c1", 10)
	require.NoError(t, err)
	rec, err := repo.Load(ctx, "r1", "c1")
	require.NoError(t, err)

	_, err = repo.ApplyDamage(ctx, "r1", "c1", 3)
	require.NoError(t, err)
	saved, err := repo.SaveInventoryAndHeal(ctx, rec, rec.Inventory, 5)
	require.NoError(t, err)
	assert.Equal(t, session.MaxHealth-10-3+5, saved.Health)
}

func TestDelete_RemovesRecordAndIndex(t *testing.T) {
	repo, store := newRepo()
	ctx := context.Background()
	_, err := repo.Join(ctx, "r1", "c1", t0)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "r1", "c1"))
	assert.Zero(t, store.Len())
	assert.NoError(t, repo.Delete(ctx, "r1", "c1"), "second delete is not an error")
}

func TestListConnections_ScopedToRoom(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()
	for _, c := range []string{"b", "a"} {
		_, err := repo.Join(ctx, "r1", c, t0)
		require.NoError(t, err)
	}
	_, err := repo.Join(ctx, "r2", "z", t0)
	require.NoError(t, err)

	ids, err := repo.ListConnections(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = repo.ListConnections(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, ids)
}

func TestBanHelpers(t *testing.T) {
	rec := session.PlayerRecord{BanUntil: t0.Add(30 * time.Second).UnixMilli()}
	assert.True(t, rec.Banned(t0))
	assert.Equal(t, 30*time.Second, rec.BanRemaining(t0))
	assert.False(t, rec.Banned(t0.Add(30*time.Second)))
	assert.Zero(t, rec.BanRemaining(t0.Add(time.Minute)))
}

func TestVector3(t *testing.T) {
	assert.InDelta(t, 5.0, session.Vector3{X: 3, Z: 4}.Distance(session.Vector3{}), 1e-9)
	assert.True(t, session.Vector3{X: 1}.Finite())
	assert.False(t, session.Vector3{Y: math.NaN()}.Finite())
	assert.False(t, session.Vector3{Z: math.Inf(1)}.Finite())
}

func TestPropertyAppendHistoryBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		var h []session.HistoryEntry
		for i := 0; i < n; i++ {
			h = session.AppendHistory(h, session.HistoryEntry{Timestamp: int64(i)})
		}
		want := min(n, session.HistoryLimit)
		if len(h) != want {
			rt.Fatalf("len %d, want %d", len(h), want)
		}
		if n > 0 && h[len(h)-1].Timestamp != int64(n-1) {
			rt.Fatal("newest entry must be last")
		}
		if n > 0 && h[0].Timestamp != int64(n-want) {
			rt.Fatal("oldest entries must be evicted first")
		}
	})
}
