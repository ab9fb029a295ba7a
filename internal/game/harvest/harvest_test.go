package harvest_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/game/dice"
	"github.com/cory-johannsen/grove/internal/game/harvest"
	"github.com/cory-johannsen/grove/internal/game/inventory"
	"github.com/cory-johannsen/grove/internal/game/item"
	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/storage"
)

var t0 = time.UnixMilli(1_700_000_000_000)

// fiveSeconds makes Between(3000, 10000) return 5000.
const fiveSeconds = 2000

type fixture struct {
	clock   time.Time
	store   *storage.MemoryStore
	players *session.Repository
	catalog *item.Catalog
	svc     *harvest.Service

	mu          sync.Mutex
	completions []harvest.Completion
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: t0}
	f.store = storage.NewMemoryStoreWithClock(func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.clock
	})
	catalog, err := item.DefaultCatalog()
	require.NoError(t, err)
	f.catalog = catalog
	f.players = session.NewRepository(f.store, time.Hour)
	roller := dice.NewLoggedRoller(&dice.Fixed{Values: []int{fiveSeconds}}, zap.NewNop())
	f.svc = harvest.NewService(f.store, f.players, catalog, roller, 10*time.Minute, zap.NewNop())
	f.svc.OnComplete(func(_ context.Context, c harvest.Completion) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.completions = append(f.completions, c)
	})
	t.Cleanup(f.svc.Stop)

	_, err = f.players.Join(context.Background(), "r1", "p1", t0)
	require.NoError(t, err)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

func (f *fixture) berries(t *testing.T, id string) int {
	t.Helper()
	rec, err := f.players.Load(context.Background(), "r1", "p1")
	require.NoError(t, err)
	inv, err := inventory.Restore(f.catalog, rec.Inventory)
	require.NoError(t, err)
	return inv.ItemCount(id)
}

func TestStart_StoresRecord(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.Start(context.Background(), "r1", "p1", "tree-1", "blueberry", t0)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), rec.Duration)
	assert.Equal(t, t0.UnixMilli(), rec.StartTime)
	assert.Equal(t, t0.Add(5*time.Second), rec.DueAt())
	assert.Equal(t, 1, f.svc.Pending())

	got, err := f.svc.Get(context.Background(), "r1", "p1", "tree-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestStart_RejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Start(ctx, "r1", "p1", "tree-1", "blueberry", t0)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, "r1", "p1", "tree-1", "blueberry", t0)
	assert.ErrorIs(t, err, harvest.ErrHarvestInProgress)

	_, err = f.svc.Start(ctx, "r1", "p1", "tree-2", "blueberry", t0)
	assert.NoError(t, err, "a different tree is independent")
}

func TestStart_RejectsUnknownBerry(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), "r1", "p1", "tree-1", "durian", t0)
	assert.ErrorIs(t, err, harvest.ErrUnknownBerry)
	assert.Zero(t, f.svc.Pending())
}

func TestComplete_EarlyToleranceBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Start(ctx, "r1", "p1", "tree-1", "blueberry", t0)
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, "r1", "p1", "tree-1", t0.Add(4499*time.Millisecond))
	assert.ErrorIs(t, err, harvest.ErrTooEarly)

	c, err := f.svc.Complete(ctx, "r1", "p1", "tree-1", t0.Add(4500*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, c.Added)
	assert.False(t, c.Scheduled)
	assert.Equal(t, "berry_blueberry", c.ItemID)
	assert.Equal(t, 1, f.berries(t, "berry_blueberry"))
	assert.Zero(t, f.svc.Pending(), "client completion cancels the timer")

	_, err = f.svc.Get(ctx, "r1", "p1", "tree-1")
	assert.ErrorIs(t, err, harvest.ErrHarvestNotFound)
	require.Len(t, f.completions, 1)
}

func TestComplete_CanonicalBerryID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Start(ctx, "r1", "p1", "tree-1", "berry_goldberry", t0)
	require.NoError(t, err)
	c, err := f.svc.Complete(ctx, "r1", "p1", "tree-1", t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "berry_goldberry", c.ItemID)
}

func TestComplete_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Complete(context.Background(), "r1", "p1", "tree-1", t0)
	assert.ErrorIs(t, err, harvest.ErrHarvestNotFound)
}

func TestComplete_ConcurrentCallersAddOneBerry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Start(ctx, "r1", "p1", "tree-1", "strawberry", t0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok, notFound atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Complete(ctx, "r1", "p1", "tree-1", t0.Add(6*time.Second))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, harvest.ErrHarvestNotFound):
				notFound.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(9), notFound.Load())
	assert.Equal(t, 1, f.berries(t, "berry_strawberry"))
}

func TestComplete_FullInventoryDiscardsBerry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := inventory.New(f.catalog)
	for i := 0; i < inventory.SlotCount; i++ {
		require.True(t, inv.AddItem("wooden_sword", 1, nil).Success)
	}
	rec, err := f.players.Load(ctx, "r1", "p1")
	require.NoError(t, err)
	_, err = f.players.SaveInventory(ctx, rec, inv)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, "r1", "p1", "tree-1", "blueberry", t0)
	require.NoError(t, err)
	c, err := f.svc.Complete(ctx, "r1", "p1", "tree-1", t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.False(t, c.Added)
	assert.Zero(t, f.berries(t, "berry_blueberry"))

	_, err = f.svc.Get(ctx, "r1", "p1", "tree-1")
	assert.ErrorIs(t, err, harvest.ErrHarvestNotFound)
}

func TestCompleteScheduled_IgnoresTolerance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Start(ctx, "r1", "p1", "tree-1", "greenberry", t0)
	require.NoError(t, err)
	c, err := f.svc.CompleteScheduled(ctx, "r1", "p1", "tree-1")
	require.NoError(t, err)
	assert.True(t, c.Scheduled)
	assert.Equal(t, 1, f.berries(t, "berry_greenberry"))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started, err := f.svc.Start(ctx, "r1", "p1", "tree-1", "blueberry", t0)
	require.NoError(t, err)

	rec, err := f.svc.Cancel(ctx, "r1", "p1", "tree-1")
	require.NoError(t, err)
	assert.Equal(t, started, rec)
	assert.Zero(t, f.svc.Pending())

	_, err = f.svc.Cancel(ctx, "r1", "p1", "tree-1")
	assert.ErrorIs(t, err, harvest.ErrHarvestNotFound)
	_, err = f.svc.Complete(ctx, "r1", "p1", "tree-1", t0.Add(time.Minute))
	assert.ErrorIs(t, err, harvest.ErrHarvestNotFound)
	assert.Empty(t, f.completions)
}

func TestRecordExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Start(ctx, "r1", "p1", "tree-1", "blueberry", t0)
	require.NoError(t, err)

	f.advance(10*time.Minute + time.Millisecond)
	_, err = f.svc.Get(ctx, "r1", "p1", "tree-1")
	assert.ErrorIs(t, err, harvest.ErrHarvestNotFound)

	_, err = f.svc.Start(ctx, "r1", "p1", "tree-1", "blueberry", t0.Add(11*time.Minute))
	assert.NoError(t, err, "an expired harvest no longer blocks a new one")
}

// respawnOnSave resets the player once, just before the first inventory
// write reaches the store.
type respawnOnSave struct {
	storage.Store
	players *session.Repository
	armed   atomic.Bool
	fired   atomic.Bool
}

func (s *respawnOnSave) Update(ctx context.Context, key storage.Key, muts ...storage.Mutation) (storage.Item, error) {
	for _, m := range muts {
		if m.Op == storage.OpSet && m.Field == session.FieldInventory && s.armed.Load() && s.fired.CompareAndSwap(false, true) {
			if _, err := s.players.ResetForRespawn(ctx, "r1", "p1", t0); err != nil {
				return storage.Item{}, err
			}
			break
		}
	}
	return s.Store.Update(ctx, key, muts...)
}

func TestComplete_RetriesWhenInventoryChangedMidway(t *testing.T) {
	ctx := context.Background()
	catalog, err := item.DefaultCatalog()
	require.NoError(t, err)
	store := &respawnOnSave{Store: storage.NewMemoryStore()}
	players := session.NewRepository(store, time.Hour)
	store.players = players
	roller := dice.NewLoggedRoller(&dice.Fixed{Values: []int{fiveSeconds}}, zap.NewNop())
	svc := harvest.NewService(store, players, catalog, roller, 10*time.Minute, zap.NewNop())
	t.Cleanup(svc.Stop)

	_, err = players.Join(ctx, "r1", "p1", t0)
	require.NoError(t, err)
	_, err = players.Update(ctx, "r1", "p1",
		storage.Set(session.FieldInventory, []byte(`[{"itemId":"stone","quantity":4}]`)))
	require.NoError(t, err)
	store.armed.Store(true)

	_, err = svc.Start(ctx, "r1", "p1", "tree-1", "greenberry", t0)
	require.NoError(t, err)
	c, err := svc.Complete(ctx, "r1", "p1", "tree-1", t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.True(t, c.Added)

	after, err := players.Load(ctx, "r1", "p1")
	require.NoError(t, err)
	inv, err := inventory.Restore(catalog, after.Inventory)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.ItemCount("berry_greenberry"))
	assert.Zero(t, inv.ItemCount("stone"), "the berry lands in the respawned inventory, not the stale one")
}
