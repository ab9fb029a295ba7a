package gameserver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/cache"
	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/push"
)

// Rooms resolves a room's connections, through the connection cache, and
// pushes messages to them.
type Rooms struct {
	players *session.Repository
	push    *push.Broadcaster
	conns   cache.ConnectionCache
	logger  *zap.Logger
}

// NewRooms creates a Rooms.
//
// Precondition: all arguments must be non-nil.
func NewRooms(players *session.Repository, broadcaster *push.Broadcaster, conns cache.ConnectionCache, logger *zap.Logger) *Rooms {
	return &Rooms{players: players, push: broadcaster, conns: conns, logger: logger}
}

// Connections returns roomID's connection ids, from the cache when fresh.
func (r *Rooms) Connections(ctx context.Context, roomID string) ([]string, error) {
	if ids, ok := r.conns.Get(roomID); ok {
		return ids, nil
	}
	ids, err := r.players.ListConnections(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing connections of %s: %w", roomID, err)
	}
	r.conns.Set(roomID, ids)
	return ids, nil
}

// Invalidate drops the cached connection list of roomID.
func (r *Rooms) Invalidate(roomID string) {
	r.conns.Invalidate(roomID)
}

// NotifyRoom sends msg to every connection in roomID and waits for the sends
// to settle. Per-connection failures are logged by the broadcaster and never
// returned.
func (r *Rooms) NotifyRoom(ctx context.Context, roomID string, msg any) error {
	ids, err := r.Connections(ctx, roomID)
	if err != nil {
		return err
	}
	_, err = r.push.Broadcast(ctx, ids, msg)
	return err
}

// NotifyOthers sends msg to every connection in roomID except connID.
func (r *Rooms) NotifyOthers(ctx context.Context, roomID, connID string, msg any) {
	ids, err := r.Connections(ctx, roomID)
	if err != nil {
		r.logger.Warn("room broadcast skipped", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	r.Broadcast(ctx, roomID, without(ids, connID), msg)
}

// Broadcast sends msg to ids, logging rather than returning failures.
func (r *Rooms) Broadcast(ctx context.Context, roomID string, ids []string, msg any) {
	if len(ids) == 0 {
		return
	}
	if _, err := r.push.Broadcast(ctx, ids, msg); err != nil {
		r.logger.Warn("room broadcast failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

// Send pushes msg to one connection. Failures are logged; a gone
// connection has already been purged by the broadcaster's callback.
func (r *Rooms) Send(ctx context.Context, connID string, msg any) {
	if err := r.push.Send(ctx, connID, msg); err != nil {
		r.logger.Debug("push to connection failed", zap.String("connection_id", connID), zap.Error(err))
	}
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// restrictTo returns the members of requested that are also in room, in
// requested order, excluding sender.
func restrictTo(requested, room []string, sender string) []string {
	members := make(map[string]struct{}, len(room))
	for _, id := range room {
		members[id] = struct{}{}
	}
	out := make([]string, 0, len(requested))
	for _, id := range requested {
		if _, ok := members[id]; ok && id != sender {
			out = append(out, id)
		}
	}
	return out
}
