package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/grove/internal/config"
	"github.com/cory-johannsen/grove/internal/storage"
	"github.com/cory-johannsen/grove/internal/storage/postgres"
	"github.com/cory-johannsen/grove/internal/storage/storagetest"
	"github.com/cory-johannsen/grove/internal/testutil"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newContainer(t *testing.T) *testutil.PostgresContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	return testutil.NewPostgresContainer(t)
}

func TestStore_Conformance(t *testing.T) {
	pc := newContainer(t)
	storagetest.Run(t, func(t *testing.T) (storage.Store, func(time.Duration)) {
		pc.Truncate(t)
		c := &clock{now: time.Now().UTC()}
		return postgres.NewStoreWithClock(pc.DB, c.Now), c.Advance
	})
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	pc := newContainer(t)
	assert.NoError(t, postgres.Migrate(pc.DSN()))
}

func TestStore_DeleteExpiredRemovesOnlyExpiredRows(t *testing.T) {
	pc := newContainer(t)
	c := &clock{now: time.Now().UTC()}
	s := postgres.NewStoreWithClock(pc.DB, c.Now)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, storage.GroundItemKey("r1", "short"), map[string]int{"q": 1}, time.Minute))
	require.NoError(t, s.Put(ctx, storage.GroundItemKey("r1", "long"), map[string]int{"q": 1}, time.Hour))
	require.NoError(t, s.Put(ctx, storage.GroundItemKey("r1", "forever"), map[string]int{"q": 1}, 0))

	c.Advance(2 * time.Minute)
	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	items, err := s.Query(ctx, storage.RoomPartition("r1"), storage.KindGroundItem)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestConnect_BadAddressFails(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host: "127.0.0.1", Port: 1, User: "grove", Password: "grove", Name: "grove",
		SSLMode: "disable", MaxConns: 1, MinConns: 0, MaxConnLifetime: time.Minute,
	}
	_, err := postgres.Connect(context.Background(), cfg)
	assert.Error(t, err)
}

func TestSweeper_SweepOnce(t *testing.T) {
	pc := newContainer(t)
	c := &clock{now: time.Now().UTC()}
	s := postgres.NewStoreWithClock(pc.DB, c.Now)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, storage.HarvestKey("r1", "t1", "p1"), map[string]int{"x": 1}, time.Second))
	c.Advance(time.Minute)

	sw := postgres.NewSweeper(s, time.Minute, zaptest.NewLogger(t))
	sw.SweepOnce(ctx)

	var count int
	require.NoError(t, pc.DB.QueryRow(ctx, "SELECT COUNT(*) FROM kv_items").Scan(&count))
	assert.Zero(t, count)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	pc := newContainer(t)
	s := postgres.NewStore(pc.DB)
	sw := postgres.NewSweeper(s, 10*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
