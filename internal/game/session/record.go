// Package session holds the per-connection PlayerRecord and its repository
// over the shared store.
package session

import (
	"encoding/json"
	"math"
	"time"
)

// MaxHealth is the health every player joins and respawns with.
const MaxHealth = 30

// HistoryLimit bounds PlayerRecord.PositionHistory.
const HistoryLimit = 5

// Vector3 is a position or rotation in world space.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Spawn is the fixed spawn location.
var Spawn = Vector3{X: 0, Y: 0, Z: 0}

// Distance returns the Euclidean distance between v and o.
func (v Vector3) Distance(o Vector3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Finite reports whether every component is a finite number.
func (v Vector3) Finite() bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// HistoryEntry is one accepted position with its timestamp in Unix ms.
type HistoryEntry struct {
	Position  Vector3 `json:"position"`
	Timestamp int64   `json:"timestamp"`
}

// PlayerRecord is the stored state of one connection in one room. Timestamps
// are Unix milliseconds; zero means never.
type PlayerRecord struct {
	ConnectionID string          `json:"connectionId"`
	RoomID       string          `json:"roomId"`
	Health       int             `json:"health"`
	MaxHealth    int             `json:"maxHealth"`
	Inventory    json.RawMessage `json:"inventory"`
	Position     Vector3         `json:"position"`
	Rotation     Vector3         `json:"rotation"`

	LastValidPosition  Vector3        `json:"lastValidPosition"`
	LastPositionUpdate int64          `json:"lastPositionUpdate"`
	PositionHistory    []HistoryEntry `json:"positionHistory"`
	UpdateCount        int            `json:"updateCount"`

	ViolationCount    int    `json:"violationCount"`
	LastViolationTime int64  `json:"lastViolationTime"`
	LastViolationType string `json:"lastViolationType"`
	BanUntil          int64  `json:"banUntil"`

	LastAttackTime int64 `json:"lastAttackTime"`
	JoinedAt       int64 `json:"joinedAt"`

	// Version counts inventory writes. A save carries the version it loaded
	// and is refused once another write has moved it on.
	Version int64 `json:"version"`
}

// NewRecord returns the defaults a connection joins a room with.
//
// Postcondition: Health == MaxHealth, inventory empty, position at Spawn,
// all counters zero.
func NewRecord(roomID, connID string, now time.Time) PlayerRecord {
	return PlayerRecord{
		ConnectionID:      connID,
		RoomID:            roomID,
		Health:            MaxHealth,
		MaxHealth:         MaxHealth,
		Inventory:         json.RawMessage("[]"),
		Position:          Spawn,
		LastValidPosition: Spawn,
		PositionHistory:   []HistoryEntry{},
		JoinedAt:          now.UnixMilli(),
	}
}

// Initialized reports whether the record has accepted a first position.
func (r PlayerRecord) Initialized() bool {
	return r.LastPositionUpdate != 0
}

// Banned reports whether the record is banned at now.
func (r PlayerRecord) Banned(now time.Time) bool {
	return r.BanUntil > now.UnixMilli()
}

// BanRemaining returns the time left on the ban, or zero.
func (r PlayerRecord) BanRemaining(now time.Time) time.Duration {
	left := r.BanUntil - now.UnixMilli()
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}

// AppendHistory returns history with e appended, keeping at most HistoryLimit
// of the most recent entries.
func AppendHistory(history []HistoryEntry, e HistoryEntry) []HistoryEntry {
	out := append(append(make([]HistoryEntry, 0, len(history)+1), history...), e)
	if len(out) > HistoryLimit {
		out = out[len(out)-HistoryLimit:]
	}
	return out
}
