// Package harvest runs timed berry harvests. A harvest is a short-lived
// record per (tree, player); completing it adds one berry to the
// harvester's inventory.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/game/dice"
	"github.com/cory-johannsen/grove/internal/game/inventory"
	"github.com/cory-johannsen/grove/internal/game/item"
	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/observability"
	"github.com/cory-johannsen/grove/internal/storage"
)

const (
	// MinDuration and MaxDuration bound a harvest's randomized length.
	MinDuration = 3 * time.Second
	MaxDuration = 10 * time.Second
	// EarlyTolerance is how far before its due time a client may complete a harvest.
	EarlyTolerance = 500 * time.Millisecond
	// scheduledTimeout bounds the work done by a timer-driven completion.
	scheduledTimeout = 5 * time.Second
	// maxSaveAttempts bounds the reload-and-save loop when adding a berry.
	maxSaveAttempts = 3
)

var (
	// ErrHarvestNotFound is returned when no live harvest exists for the
	// tree and player, including when another completion claimed it first.
	ErrHarvestNotFound = errors.New("harvest: not found")
	// ErrHarvestInProgress is returned when the player is already harvesting the tree.
	ErrHarvestInProgress = errors.New("harvest: already in progress")
	// ErrTooEarly is returned when a client completes a harvest before it is due.
	ErrTooEarly = errors.New("harvest: completed too early")
	// ErrUnknownBerry is returned for a berry type with no catalog item.
	ErrUnknownBerry = errors.New("harvest: unknown berry type")
)

// Record is a pending harvest.
type Record struct {
	TreeID    string `json:"treeId"`
	PlayerID  string `json:"playerId"`
	RoomID    string `json:"roomId"`
	BerryType string `json:"berryType"`
	// StartTime is Unix ms.
	StartTime int64 `json:"startTime"`
	// Duration is in ms.
	Duration int64 `json:"duration"`
}

// DueAt returns the time the harvest completes.
func (r Record) DueAt() time.Time {
	return time.UnixMilli(r.StartTime + r.Duration)
}

// Completion is the outcome of a finished harvest.
type Completion struct {
	Record
	ItemID string
	// Added is false when the inventory had no room for the berry.
	Added     bool
	Inventory json.RawMessage
	// Scheduled is true when the completion was driven by the timer.
	Scheduled bool
}

// CompletedFunc observes every finished harvest.
type CompletedFunc func(ctx context.Context, c Completion)

// Service starts, completes, and cancels harvests.
type Service struct {
	store   storage.Store
	players *session.Repository
	catalog *item.Catalog
	roller  *dice.Roller
	sched   *Scheduler
	ttl     time.Duration
	logger  *zap.Logger

	minDuration time.Duration
	maxDuration time.Duration

	mu         sync.RWMutex
	onComplete CompletedFunc
}

// NewService creates a Service with its own Scheduler.
//
// Precondition: all arguments must be non-nil; ttl must exceed MaxDuration.
func NewService(store storage.Store, players *session.Repository, catalog *item.Catalog, roller *dice.Roller, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		players: players,
		catalog: catalog,
		roller:  roller,
		sched:   NewScheduler(),
		ttl:     ttl,
		logger:  logger,

		minDuration: MinDuration,
		maxDuration: MaxDuration,
	}
}

// OnComplete registers fn to observe completions.
func (s *Service) OnComplete(fn CompletedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Stop cancels every pending timer-driven completion.
func (s *Service) Stop() {
	s.sched.Stop()
}

// Pending returns the number of harvests awaiting their timer.
func (s *Service) Pending() int {
	return s.sched.Pending()
}

func schedKey(roomID, treeID, playerID string) string {
	return storage.HarvestKey(roomID, treeID, playerID).String()
}

// Start begins a harvest of treeID by playerID.
//
// Postcondition: a Record with a duration in [MinDuration, MaxDuration] is
// stored with the service TTL and a timer completes it when due.
func (s *Service) Start(ctx context.Context, roomID, playerID, treeID, berryType string, now time.Time) (Record, error) {
	if _, ok := item.CanonicalBerryItem(berryType); !ok {
		observability.HarvestsTotal.WithLabelValues(observability.OutcomeRejected).Inc()
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownBerry, berryType)
	}
	key := storage.HarvestKey(roomID, treeID, playerID)
	if _, err := s.store.Get(ctx, key); err == nil {
		observability.HarvestsTotal.WithLabelValues(observability.OutcomeRejected).Inc()
		return Record{}, ErrHarvestInProgress
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Record{}, fmt.Errorf("checking harvest: %w", err)
	}

	duration := s.roller.Between("harvest_duration", int(s.minDuration.Milliseconds()), int(s.maxDuration.Milliseconds())).Value
	rec := Record{
		TreeID:    treeID,
		PlayerID:  playerID,
		RoomID:    roomID,
		BerryType: berryType,
		StartTime: now.UnixMilli(),
		Duration:  int64(duration),
	}
	if err := s.store.Put(ctx, key, rec, s.ttl); err != nil {
		return Record{}, fmt.Errorf("storing harvest: %w", err)
	}
	s.sched.Schedule(schedKey(roomID, treeID, playerID), time.Duration(duration)*time.Millisecond, func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduledTimeout)
		defer cancel()
		if _, err := s.CompleteScheduled(ctx, roomID, playerID, treeID); err != nil && !errors.Is(err, ErrHarvestNotFound) {
			s.logger.Warn("scheduled harvest completion failed",
				zap.String("room_id", roomID),
				zap.String("connection_id", playerID),
				zap.String("tree_id", treeID),
				zap.Error(err))
		}
	})
	observability.HarvestsTotal.WithLabelValues(observability.OutcomeStarted).Inc()
	s.logger.Debug("harvest started",
		zap.String("room_id", roomID),
		zap.String("connection_id", playerID),
		zap.String("tree_id", treeID),
		zap.Int("duration_ms", duration))
	return rec, nil
}

// Get returns the pending harvest for the tree and player.
func (s *Service) Get(ctx context.Context, roomID, playerID, treeID string) (Record, error) {
	it, err := s.store.Get(ctx, storage.HarvestKey(roomID, treeID, playerID))
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, ErrHarvestNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("loading harvest: %w", err)
	}
	var rec Record
	if err := it.Decode(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Complete finishes a harvest at the client's request.
//
// Precondition: now is no earlier than EarlyTolerance before the harvest is due.
// Postcondition: on success the record is gone and exactly one completion
// was reported, however many callers raced.
func (s *Service) Complete(ctx context.Context, roomID, playerID, treeID string, now time.Time) (Completion, error) {
	rec, err := s.Get(ctx, roomID, playerID, treeID)
	if err != nil {
		return Completion{}, err
	}
	if now.Before(rec.DueAt().Add(-EarlyTolerance)) {
		observability.HarvestsTotal.WithLabelValues(observability.OutcomeRejected).Inc()
		return Completion{}, ErrTooEarly
	}
	return s.finish(ctx, rec, false)
}

// CompleteScheduled finishes a harvest from its timer.
func (s *Service) CompleteScheduled(ctx context.Context, roomID, playerID, treeID string) (Completion, error) {
	rec, err := s.Get(ctx, roomID, playerID, treeID)
	if err != nil {
		return Completion{}, err
	}
	return s.finish(ctx, rec, true)
}

func (s *Service) finish(ctx context.Context, rec Record, scheduled bool) (Completion, error) {
	if err := s.store.Delete(ctx, storage.HarvestKey(rec.RoomID, rec.TreeID, rec.PlayerID)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Completion{}, ErrHarvestNotFound
		}
		return Completion{}, fmt.Errorf("claiming harvest: %w", err)
	}
	if !scheduled {
		s.sched.Cancel(schedKey(rec.RoomID, rec.TreeID, rec.PlayerID))
	}

	itemID, ok := item.CanonicalBerryItem(rec.BerryType)
	if !ok {
		return Completion{}, fmt.Errorf("%w: %q", ErrUnknownBerry, rec.BerryType)
	}
	c := Completion{Record: rec, ItemID: itemID, Scheduled: scheduled}

	if err := s.addBerry(ctx, &c); err != nil {
		return Completion{}, err
	}

	observability.HarvestsTotal.WithLabelValues(observability.OutcomeCompleted).Inc()
	s.mu.RLock()
	fn := s.onComplete
	s.mu.RUnlock()
	if fn != nil {
		fn(ctx, c)
	}
	return c, nil
}

// addBerry puts one unit of c.ItemID into the harvester's inventory, reloading
// and retrying when the save loses to a concurrent inventory write such as a
// death drop.
func (s *Service) addBerry(ctx context.Context, c *Completion) error {
	rec := c.Record
	for attempt := 1; ; attempt++ {
		player, err := s.players.Load(ctx, rec.RoomID, rec.PlayerID)
		if err != nil {
			return fmt.Errorf("loading harvester: %w", err)
		}
		inv, err := inventory.Restore(s.catalog, player.Inventory)
		if err != nil {
			return err
		}
		res := inv.AddItem(c.ItemID, 1, nil)
		if !res.Success {
			c.Inventory = player.Inventory
			s.logger.Debug("harvested berry discarded",
				zap.String("connection_id", rec.PlayerID), zap.String("reason", res.Error))
			return nil
		}
		saved, err := s.players.SaveInventory(ctx, player, inv)
		if errors.Is(err, session.ErrStaleRecord) && attempt < maxSaveAttempts {
			continue
		}
		if err != nil {
			return fmt.Errorf("saving harvested berry: %w", err)
		}
		c.Added = true
		c.Inventory = saved.Inventory
		return nil
	}
}

// Cancel abandons a pending harvest.
//
// Postcondition: the record is gone and its timer will not fire.
func (s *Service) Cancel(ctx context.Context, roomID, playerID, treeID string) (Record, error) {
	rec, err := s.Get(ctx, roomID, playerID, treeID)
	if err != nil {
		return Record{}, err
	}
	if err := s.store.Delete(ctx, storage.HarvestKey(roomID, treeID, playerID)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Record{}, ErrHarvestNotFound
		}
		return Record{}, fmt.Errorf("deleting harvest: %w", err)
	}
	s.sched.Cancel(schedKey(roomID, treeID, playerID))
	observability.HarvestsTotal.WithLabelValues(observability.OutcomeCancelled).Inc()
	return rec, nil
}
