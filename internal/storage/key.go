// Package storage defines the key-value persistence contract used by the game
// server: keyed documents with per-item expiry, field-level updates, and
// prefix queries inside a partition.
package storage

import (
	"fmt"
	"strings"
)

// Kind is the entity prefix of a sort key. Query-by-prefix is always scoped to
// a single Kind so that entities sharing a partition never collide.
type Kind string

// Entity kinds stored by the game server.
const (
	KindConnection Kind = "CONNECTION"
	KindGroundItem Kind = "GROUND_ITEM"
	KindHarvest    Kind = "HARVEST"
	KindRoom       Kind = "ROOM"
)

const (
	partitionRoom       = "ROOM"
	partitionConnection = "CONNECTION"
	keySep              = "#"
)

// Key addresses one stored item.
//
// Invariant: Key values are only built through the typed constructors below,
// so every component of an id is separated from its kind prefix.
type Key struct {
	Partition string
	Sort      string
}

// String renders the key as "partition|sort".
func (k Key) String() string {
	return k.Partition + "|" + k.Sort
}

// Kind returns the entity kind encoded in the sort key.
func (k Key) Kind() Kind {
	kind, _, _ := strings.Cut(k.Sort, keySep)
	return Kind(kind)
}

// ID returns the sort key with its kind prefix removed.
func (k Key) ID() string {
	_, id, _ := strings.Cut(k.Sort, keySep)
	return id
}

// RoomPartition returns the partition holding all per-room entities.
func RoomPartition(roomID string) string {
	return partitionRoom + keySep + roomID
}

// ConnectionPartition returns the partition holding the reverse index of the
// rooms a connection has joined.
func ConnectionPartition(connID string) string {
	return partitionConnection + keySep + connID
}

func sortKey(kind Kind, parts ...string) string {
	return string(kind) + keySep + strings.Join(parts, keySep)
}

// ConnectionKey addresses the PlayerRecord of connID in roomID.
func ConnectionKey(roomID, connID string) Key {
	return Key{Partition: RoomPartition(roomID), Sort: sortKey(KindConnection, connID)}
}

// GroundItemKey addresses a ground item in roomID.
func GroundItemKey(roomID, groundItemID string) Key {
	return Key{Partition: RoomPartition(roomID), Sort: sortKey(KindGroundItem, groundItemID)}
}

// HarvestKey addresses the harvest of treeID by playerID in roomID.
func HarvestKey(roomID, treeID, playerID string) Key {
	return Key{Partition: RoomPartition(roomID), Sort: sortKey(KindHarvest, treeID, playerID)}
}

// ConnectionRoomKey addresses the reverse index entry recording that connID
// joined roomID.
func ConnectionRoomKey(connID, roomID string) Key {
	return Key{Partition: ConnectionPartition(connID), Sort: sortKey(KindRoom, roomID)}
}

// SortPrefix returns the sort key prefix matched by a query for kind.
func SortPrefix(kind Kind) string {
	return string(kind) + keySep
}

// ParseKey is the inverse of Key.String.
//
// Postcondition: returns an error if s does not contain the "|" separator.
func ParseKey(s string) (Key, error) {
	partition, sort, ok := strings.Cut(s, "|")
	if !ok || partition == "" || sort == "" {
		return Key{}, fmt.Errorf("storage: malformed key %q", s)
	}
	return Key{Partition: partition, Sort: sort}, nil
}
