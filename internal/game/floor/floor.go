// Package floor manages ground items: stacks dropped into a room by players
// or on death, which expire unless picked up.
package floor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/storage"
)

// ErrGroundItemNotFound is returned when a ground item is absent, expired,
// or already claimed by another pickup.
var ErrGroundItemNotFound = errors.New("floor: ground item not found")

// GroundItem is one stack lying in a room.
type GroundItem struct {
	ID             string          `json:"id"`
	RoomID         string          `json:"roomId"`
	ItemID         string          `json:"itemId"`
	Quantity       int             `json:"quantity"`
	Position       session.Vector3 `json:"position"`
	DroppedBy      string          `json:"droppedBy"`
	DroppedAt      int64           `json:"droppedAt"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	InstanceID     string          `json:"instanceId,omitempty"`
	DroppedOnDeath bool            `json:"droppedOnDeath"`
	// ExpiresAt is the Unix ms time the item disappears.
	ExpiresAt int64 `json:"expiresAt"`
}

// Manager stores ground items with a fixed lifetime.
type Manager struct {
	store storage.Store
	ttl   time.Duration
}

// NewManager creates a Manager.
//
// Precondition: store must be non-nil; ttl must be > 0.
func NewManager(store storage.Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// Drop places gi in its room. An empty ID is replaced with a new uuid.
//
// Precondition: gi.RoomID and gi.ItemID are non-empty; gi.Quantity > 0.
// Postcondition: the stored item expires ttl after now.
func (m *Manager) Drop(ctx context.Context, gi GroundItem, now time.Time) (GroundItem, error) {
	if gi.ID == "" {
		gi.ID = uuid.NewString()
	}
	gi.DroppedAt = now.UnixMilli()
	gi.ExpiresAt = now.Add(m.ttl).UnixMilli()
	if err := m.store.Put(ctx, storage.GroundItemKey(gi.RoomID, gi.ID), gi, m.ttl); err != nil {
		return GroundItem{}, fmt.Errorf("dropping ground item %s: %w", gi.ID, err)
	}
	return gi, nil
}

// Get returns one ground item.
func (m *Manager) Get(ctx context.Context, roomID, id string) (GroundItem, error) {
	it, err := m.store.Get(ctx, storage.GroundItemKey(roomID, id))
	if errors.Is(err, storage.ErrNotFound) {
		return GroundItem{}, ErrGroundItemNotFound
	}
	if err != nil {
		return GroundItem{}, fmt.Errorf("loading ground item %s: %w", id, err)
	}
	var gi GroundItem
	if err := it.Decode(&gi); err != nil {
		return GroundItem{}, err
	}
	return gi, nil
}

// Pickup claims a ground item. Exactly one of several concurrent callers
// succeeds; the others get ErrGroundItemNotFound.
func (m *Manager) Pickup(ctx context.Context, roomID, id string) (GroundItem, error) {
	gi, err := m.Get(ctx, roomID, id)
	if err != nil {
		return GroundItem{}, err
	}
	err = m.store.Delete(ctx, storage.GroundItemKey(roomID, id))
	if errors.Is(err, storage.ErrNotFound) {
		return GroundItem{}, ErrGroundItemNotFound
	}
	if err != nil {
		return GroundItem{}, fmt.Errorf("claiming ground item %s: %w", id, err)
	}
	return gi, nil
}

// Restore puts a claimed item back, keeping its original expiry. Used when
// only part of a stack fits in the picker's inventory.
//
// Postcondition: an item whose expiry has passed is not restored.
func (m *Manager) Restore(ctx context.Context, gi GroundItem, now time.Time) error {
	left := time.Duration(gi.ExpiresAt-now.UnixMilli()) * time.Millisecond
	if left <= 0 {
		return nil
	}
	if err := m.store.Put(ctx, storage.GroundItemKey(gi.RoomID, gi.ID), gi, left); err != nil {
		return fmt.Errorf("restoring ground item %s: %w", gi.ID, err)
	}
	return nil
}

// ItemsInRoom returns every live ground item in room, ordered by id.
func (m *Manager) ItemsInRoom(ctx context.Context, roomID string) ([]GroundItem, error) {
	items, err := m.store.Query(ctx, storage.RoomPartition(roomID), storage.KindGroundItem)
	if err != nil {
		return nil, fmt.Errorf("listing ground items in %s: %w", roomID, err)
	}
	out := make([]GroundItem, 0, len(items))
	for _, it := range items {
		var gi GroundItem
		if err := it.Decode(&gi); err != nil {
			return nil, err
		}
		out = append(out, gi)
	}
	return out, nil
}
