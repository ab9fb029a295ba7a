package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/grove/internal/storage"
)

// ErrPlayerNotFound is returned when no record exists for a room+connection.
var ErrPlayerNotFound = errors.New("session: player not found")

// ErrStaleRecord is returned by inventory saves when the stored inventory
// changed after the record was loaded. The caller should reload and retry.
var ErrStaleRecord = errors.New("session: player record changed since load")

// Stored field names, used in field-level updates.
const (
	FieldHealth             = "health"
	FieldInventory          = "inventory"
	FieldPosition           = "position"
	FieldRotation           = "rotation"
	FieldLastValidPosition  = "lastValidPosition"
	FieldLastPositionUpdate = "lastPositionUpdate"
	FieldPositionHistory    = "positionHistory"
	FieldUpdateCount        = "updateCount"
	FieldViolationCount     = "violationCount"
	FieldLastViolationTime  = "lastViolationTime"
	FieldLastViolationType  = "lastViolationType"
	FieldBanUntil           = "banUntil"
	FieldLastAttackTime     = "lastAttackTime"
	FieldVersion            = "version"
)

// roomLink is the body of the connection -> room reverse index entry.
type roomLink struct {
	RoomID string `json:"roomId"`
}

// Repository persists PlayerRecords. Records expire ttl after the last join;
// field updates keep the existing expiry.
type Repository struct {
	store storage.Store
	ttl   time.Duration
}

// NewRepository creates a Repository.
//
// Precondition: store must be non-nil; ttl must be > 0.
func NewRepository(store storage.Store, ttl time.Duration) *Repository {
	return &Repository{store: store, ttl: ttl}
}

// Join creates the record for conn in room, or refreshes the expiry of an
// existing one, and writes the reverse index used on disconnect.
//
// Postcondition: the returned record is stored with a fresh TTL.
func (r *Repository) Join(ctx context.Context, roomID, connID string, now time.Time) (PlayerRecord, error) {
	rec, err := r.Load(ctx, roomID, connID)
	switch {
	case errors.Is(err, ErrPlayerNotFound):
		rec = NewRecord(roomID, connID, now)
	case err != nil:
		return PlayerRecord{}, err
	}
	if err := r.Put(ctx, rec); err != nil {
		return PlayerRecord{}, err
	}
	if err := r.store.Put(ctx, storage.ConnectionRoomKey(connID, roomID), roomLink{RoomID: roomID}, r.ttl); err != nil {
		return PlayerRecord{}, fmt.Errorf("indexing connection %s: %w", connID, err)
	}
	return rec, nil
}

// Put writes rec in full with a fresh TTL.
func (r *Repository) Put(ctx context.Context, rec PlayerRecord) error {
	if err := r.store.Put(ctx, storage.ConnectionKey(rec.RoomID, rec.ConnectionID), rec, r.ttl); err != nil {
		return fmt.Errorf("saving player %s: %w", rec.ConnectionID, err)
	}
	return nil
}

// Load returns the record for conn in room.
//
// Postcondition: returns ErrPlayerNotFound when absent or expired.
func (r *Repository) Load(ctx context.Context, roomID, connID string) (PlayerRecord, error) {
	it, err := r.store.Get(ctx, storage.ConnectionKey(roomID, connID))
	if errors.Is(err, storage.ErrNotFound) {
		return PlayerRecord{}, ErrPlayerNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("loading player %s: %w", connID, err)
	}
	return decode(it)
}

// Update applies field mutations to the stored record atomically.
//
// Postcondition: returns the updated record, or ErrPlayerNotFound.
func (r *Repository) Update(ctx context.Context, roomID, connID string, muts ...storage.Mutation) (PlayerRecord, error) {
	it, err := r.store.Update(ctx, storage.ConnectionKey(roomID, connID), muts...)
	if errors.Is(err, storage.ErrNotFound) {
		return PlayerRecord{}, ErrPlayerNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("updating player %s: %w", connID, err)
	}
	return decode(it)
}

// Touch extends the record and its reverse index entry by another ttl. The
// router calls it on activity only when activity refresh is enabled.
//
// Postcondition: returns ErrPlayerNotFound when the record has expired.
func (r *Repository) Touch(ctx context.Context, roomID, connID string) error {
	err := r.store.Touch(ctx, storage.ConnectionKey(roomID, connID), r.ttl)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrPlayerNotFound
	}
	if err != nil {
		return fmt.Errorf("touching player %s: %w", connID, err)
	}
	err = r.store.Touch(ctx, storage.ConnectionRoomKey(connID, roomID), r.ttl)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("touching room index for %s: %w", connID, err)
	}
	return nil
}

// ApplyDamage subtracts damage from health without clamping.
//
// Postcondition: the returned health may be negative.
func (r *Repository) ApplyDamage(ctx context.Context, roomID, connID string, damage int) (int, error) {
	rec, err := r.Update(ctx, roomID, connID, storage.Add(FieldHealth, -float64(damage)))
	if err != nil {
		return 0, err
	}
	return rec.Health, nil
}

// SetLastAttack records the attacker's last attack time.
func (r *Repository) SetLastAttack(ctx context.Context, roomID, connID string, now time.Time) error {
	_, err := r.Update(ctx, roomID, connID, storage.Set(FieldLastAttackTime, now.UnixMilli()))
	return err
}

// ResetForRespawn restores full health, moves the player to Spawn, and empties
// the inventory in a single atomic update. Inventory saves based on the record
// before the reset fail with ErrStaleRecord.
func (r *Repository) ResetForRespawn(ctx context.Context, roomID, connID string, now time.Time) (PlayerRecord, error) {
	return r.Update(ctx, roomID, connID,
		storage.Set(FieldHealth, MaxHealth),
		storage.Set(FieldPosition, Spawn),
		storage.Set(FieldRotation, Vector3{}),
		storage.Set(FieldLastValidPosition, Spawn),
		storage.Set(FieldLastPositionUpdate, now.UnixMilli()),
		storage.Set(FieldPositionHistory, []HistoryEntry{}),
		storage.Set(FieldInventory, json.RawMessage("[]")),
		storage.Add(FieldVersion, 1),
	)
}

// SaveInventory replaces the inventory of the player rec was loaded for.
//
// Precondition: inv was derived from rec.Inventory.
// Postcondition: returns ErrStaleRecord, writing nothing, when another
// inventory write landed after rec was loaded.
func (r *Repository) SaveInventory(ctx context.Context, rec PlayerRecord, inv json.Marshaler) (PlayerRecord, error) {
	return r.saveVersioned(ctx, rec, storage.Set(FieldInventory, inv))
}

// SaveInventoryAndHeal replaces the inventory and adds restored to the
// current health in one update. Health is added rather than set so damage
// taken since the load is kept.
//
// Postcondition: as SaveInventory.
func (r *Repository) SaveInventoryAndHeal(ctx context.Context, rec PlayerRecord, inv json.Marshaler, restored int) (PlayerRecord, error) {
	return r.saveVersioned(ctx, rec,
		storage.Set(FieldInventory, inv),
		storage.Add(FieldHealth, float64(restored)),
	)
}

func (r *Repository) saveVersioned(ctx context.Context, rec PlayerRecord, muts ...storage.Mutation) (PlayerRecord, error) {
	all := make([]storage.Mutation, 0, len(muts)+2)
	all = append(all, storage.Expect(FieldVersion, float64(rec.Version)))
	all = append(all, muts...)
	all = append(all, storage.Add(FieldVersion, 1))
	saved, err := r.Update(ctx, rec.RoomID, rec.ConnectionID, all...)
	if errors.Is(err, storage.ErrPreconditionFailed) {
		return PlayerRecord{}, ErrStaleRecord
	}
	return saved, err
}

// Delete removes the record and its reverse index entry. Missing entries are
// not an error.
func (r *Repository) Delete(ctx context.Context, roomID, connID string) error {
	for _, k := range []storage.Key{
		storage.ConnectionKey(roomID, connID),
		storage.ConnectionRoomKey(connID, roomID),
	} {
		if err := r.store.Delete(ctx, k); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("deleting %s: %w", k, err)
		}
	}
	return nil
}

// ListConnections returns the connection ids with a live record in room,
// ordered by id.
func (r *Repository) ListConnections(ctx context.Context, roomID string) ([]string, error) {
	items, err := r.store.Query(ctx, storage.RoomPartition(roomID), storage.KindConnection)
	if err != nil {
		return nil, fmt.Errorf("listing connections in %s: %w", roomID, err)
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Key.ID())
	}
	return ids, nil
}

// RoomsForConnection returns the rooms conn has joined.
func (r *Repository) RoomsForConnection(ctx context.Context, connID string) ([]string, error) {
	items, err := r.store.Query(ctx, storage.ConnectionPartition(connID), storage.KindRoom)
	if err != nil {
		return nil, fmt.Errorf("listing rooms for %s: %w", connID, err)
	}
	rooms := make([]string, 0, len(items))
	for _, it := range items {
		rooms = append(rooms, it.Key.ID())
	}
	return rooms, nil
}

func decode(it storage.Item) (PlayerRecord, error) {
	var rec PlayerRecord
	if err := it.Decode(&rec); err != nil {
		return PlayerRecord{}, err
	}
	return rec, nil
}
