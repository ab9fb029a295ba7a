package position_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/grove/internal/config"
	"github.com/cory-johannsen/grove/internal/game/position"
	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/storage"
)

const (
	room = "room-1"
	conn = "conn-1"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func newValidator(t *testing.T, policy position.Policy) (*position.Validator, *session.Repository) {
	t.Helper()
	repo := session.NewRepository(storage.NewMemoryStore(), 2*time.Minute)
	return position.NewValidator(repo, policy, zap.NewNop()), repo
}

// initialized returns a strict validator whose player has been placed at spawn at t0.
func initialized(t *testing.T) (*position.Validator, *session.Repository) {
	t.Helper()
	v, repo := newValidator(t, position.StrictPolicy{})
	res := v.Validate(context.Background(), room, conn, session.Vector3{X: 3}, t0)
	require.Equal(t, position.ReasonNewPlayer, res.Reason)
	return v, repo
}

func TestValidate_FirstUpdateInitializesAtSpawn(t *testing.T) {
	v, repo := newValidator(t, position.StrictPolicy{})
	res := v.Validate(context.Background(), room, conn, session.Vector3{X: 7, Z: 2}, t0)
	assert.True(t, res.Valid)
	assert.Equal(t, position.ReasonNewPlayer, res.Reason)
	assert.Equal(t, session.Spawn, res.CorrectedPosition)

	rec, err := repo.Load(context.Background(), room, conn)
	require.NoError(t, err)
	assert.Equal(t, position.Active, position.StateOf(rec, t0))
	assert.Equal(t, t0.UnixMilli(), rec.LastPositionUpdate)
}

func TestValidate_JoinedButUninitialized(t *testing.T) {
	v, repo := newValidator(t, position.StrictPolicy{})
	rec, err := repo.Join(context.Background(), room, conn, t0)
	require.NoError(t, err)
	assert.Equal(t, position.Uninitialized, position.StateOf(rec, t0))

	res := v.Validate(context.Background(), room, conn, session.Vector3{X: 1}, t0.Add(time.Second))
	assert.Equal(t, position.ReasonNewPlayer, res.Reason)
}

func TestValidate_ValidMovement(t *testing.T) {
	v, repo := initialized(t)
	pos := session.Vector3{X: 1, Y: 0.5, Z: -1}
	res := v.Validate(context.Background(), room, conn, pos, t0.Add(time.Second))
	assert.True(t, res.Valid)
	assert.Equal(t, position.ReasonValidMovement, res.Reason)
	assert.Equal(t, pos, res.CorrectedPosition)

	rec, err := repo.Load(context.Background(), room, conn)
	require.NoError(t, err)
	assert.Equal(t, pos, rec.LastValidPosition)
	assert.Equal(t, 1, rec.UpdateCount)
	assert.Len(t, rec.PositionHistory, 2)
}

func TestValidate_BoundaryClamp(t *testing.T) {
	v, repo := initialized(t)
	res := v.Validate(context.Background(), room, conn, session.Vector3{X: 100, Y: -5, Z: -30}, t0.Add(time.Second))
	assert.False(t, res.Valid)
	assert.Equal(t, position.ReasonBoundaryViolation, res.Reason)
	assert.Equal(t, session.Vector3{X: 25, Y: -1, Z: -25}, res.CorrectedPosition)

	rec, err := repo.Load(context.Background(), room, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ViolationCount)
	assert.Equal(t, position.ReasonBoundaryViolation, rec.LastViolationType)
}

func TestValidate_TeleportNotSpeed(t *testing.T) {
	v, _ := initialized(t)
	res := v.Validate(context.Background(), room, conn, session.Vector3{X: 20}, t0.Add(100*time.Millisecond))
	assert.False(t, res.Valid)
	assert.Equal(t, position.ReasonTeleportDetected, res.Reason)
	assert.Equal(t, session.Spawn, res.CorrectedPosition)
}

func TestValidate_SpeedViolation(t *testing.T) {
	v, _ := initialized(t)
	res := v.Validate(context.Background(), room, conn, session.Vector3{X: 4}, t0.Add(time.Second))
	assert.False(t, res.Valid)
	assert.Equal(t, position.ReasonSpeedViolation, res.Reason)
}

func TestValidate_RateLimitNotCounted(t *testing.T) {
	v, repo := initialized(t)
	res := v.Validate(context.Background(), room, conn, session.Vector3{X: 0.01}, t0.Add(50*time.Millisecond))
	assert.False(t, res.Valid)
	assert.Equal(t, position.ReasonRateLimitExceeded, res.Reason)

	rec, err := repo.Load(context.Background(), room, conn)
	require.NoError(t, err)
	assert.Zero(t, rec.ViolationCount)
}

func TestValidate_RateLimitByAverageFrequency(t *testing.T) {
	v, repo := initialized(t)
	now := t0.Add(10 * time.Second)
	var history []session.HistoryEntry
	for i := 4; i >= 0; i-- {
		history = append(history, session.HistoryEntry{Timestamp: now.Add(-time.Duration(150+i*30) * time.Millisecond).UnixMilli()})
	}
	_, err := repo.Update(context.Background(), room, conn,
		storage.Set(session.FieldPositionHistory, history),
		storage.Set(session.FieldLastPositionUpdate, now.Add(-150*time.Millisecond).UnixMilli()),
	)
	require.NoError(t, err)

	res := v.Validate(context.Background(), room, conn, session.Vector3{X: 0.1}, now)
	assert.Equal(t, position.ReasonRateLimitExceeded, res.Reason)
}

func TestValidate_BanAfterFiveViolations(t *testing.T) {
	v, repo := initialized(t)
	ctx := context.Background()
	now := t0.Add(time.Second)
	for i := 0; i < position.BanThreshold; i++ {
		res := v.Validate(ctx, room, conn, session.Vector3{X: 100}, now)
		require.Equal(t, position.ReasonBoundaryViolation, res.Reason)
	}

	rec, err := repo.Load(ctx, room, conn)
	require.NoError(t, err)
	assert.Equal(t, now.Add(position.BanDuration).UnixMilli(), rec.BanUntil)
	assert.Zero(t, rec.ViolationCount, "count resets when the ban is issued")
	assert.Equal(t, position.Banned, position.StateOf(rec, now))

	res := v.Validate(ctx, room, conn, session.Vector3{X: 1}, now.Add(10*time.Second))
	assert.False(t, res.Valid)
	assert.Equal(t, position.ReasonPlayerBanned, res.Reason)
	assert.Equal(t, 50*time.Second, res.BanTimeRemaining)
	assert.Equal(t, session.Spawn, res.CorrectedPosition)

	after := now.Add(position.BanDuration + time.Second)
	assert.Equal(t, position.Active, position.StateOf(rec, after))
	res = v.Validate(ctx, room, conn, session.Vector3{X: 1}, after)
	assert.Equal(t, position.ReasonValidMovement, res.Reason)
}

func TestRecordViolation_ReportsBan(t *testing.T) {
	v, _ := initialized(t)
	ctx := context.Background()
	for i := 1; i <= position.BanThreshold; i++ {
		banned, err := v.RecordViolation(ctx, room, conn, position.ReasonSpeedViolation, t0, nil)
		require.NoError(t, err)
		assert.Equal(t, i == position.BanThreshold, banned, "violation %d", i)
	}
}

func TestValidate_NonFiniteFailsSafe(t *testing.T) {
	v, _ := initialized(t)
	res := v.Validate(context.Background(), room, conn, session.Vector3{X: math.NaN()}, t0.Add(time.Second))
	assert.False(t, res.Valid)
	assert.Equal(t, position.ReasonValidationError, res.Reason)
	assert.Equal(t, session.Spawn, res.CorrectedPosition)
}

type brokenStore struct{ storage.Store }

func (brokenStore) Get(context.Context, storage.Key) (storage.Item, error) {
	return storage.Item{}, errors.New("store unavailable")
}

func TestValidate_StoreFailureFailsSafe(t *testing.T) {
	repo := session.NewRepository(brokenStore{storage.NewMemoryStore()}, time.Minute)
	v := position.NewValidator(repo, position.StrictPolicy{}, zap.NewNop())
	res := v.Validate(context.Background(), room, conn, session.Vector3{X: 2}, t0)
	assert.False(t, res.Valid)
	assert.Equal(t, position.ReasonValidationError, res.Reason)
	assert.Equal(t, session.Spawn, res.CorrectedPosition)
}

func TestBoundsOnlyPolicy_SkipsMovementChecks(t *testing.T) {
	v, _ := newValidator(t, position.BoundsOnlyPolicy{})
	ctx := context.Background()
	v.Validate(ctx, room, conn, session.Vector3{}, t0)

	res := v.Validate(ctx, room, conn, session.Vector3{X: 20}, t0.Add(10*time.Millisecond))
	assert.True(t, res.Valid, "teleport and rate checks are skipped")

	res = v.Validate(ctx, room, conn, session.Vector3{X: 30}, t0.Add(20*time.Millisecond))
	assert.Equal(t, position.ReasonBoundaryViolation, res.Reason)
}

func TestNewPolicy(t *testing.T) {
	p, err := position.NewPolicy(config.ModeProduction, config.ValidationStrict)
	require.NoError(t, err)
	assert.IsType(t, position.StrictPolicy{}, p)

	_, err = position.NewPolicy(config.ModeProduction, config.ValidationBoundsOnly)
	assert.Error(t, err, "bounds-only is unreachable in production")

	p, err = position.NewPolicy(config.ModeDevelopment, config.ValidationBoundsOnly)
	require.NoError(t, err)
	assert.Equal(t, config.ValidationBoundsOnly, p.Name())

	_, err = position.NewPolicy(config.ModeDevelopment, "lenient")
	assert.Error(t, err)
}

func TestPropertyClampStaysInBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		pos := session.Vector3{
			X: rapid.Float64Range(-1e6, 1e6).Draw(rt, "x"),
			Y: rapid.Float64Range(-1e6, 1e6).Draw(rt, "y"),
			Z: rapid.Float64Range(-1e6, 1e6).Draw(rt, "z"),
		}
		c := position.Clamp(pos)
		if c.X < position.MinX || c.X > position.MaxX ||
			c.Y < position.MinY || c.Y > position.MaxY ||
			c.Z < position.MinZ || c.Z > position.MaxZ {
			rt.Fatalf("clamped %v out of bounds", c)
		}
		if position.Clamp(c) != c {
			rt.Fatal("clamp must be idempotent")
		}
	})
}

func TestPropertyInBoundsSlowMovementAccepted(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v, _ := newValidator(t, position.StrictPolicy{})
		ctx := context.Background()
		v.Validate(ctx, room, conn, session.Vector3{}, t0)

		now := t0
		last := session.Spawn
		steps := rapid.IntRange(1, 10).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			now = now.Add(time.Second)
			next := session.Vector3{
				X: last.X + rapid.Float64Range(-1, 1).Draw(rt, "dx"),
				Z: last.Z + rapid.Float64Range(-1, 1).Draw(rt, "dz"),
			}
			res := v.Validate(ctx, room, conn, next, now)
			if res.Reason != position.ReasonValidMovement {
				rt.Fatalf("step %d: %s", i, res.Reason)
			}
			last = next
		}
	})
}
