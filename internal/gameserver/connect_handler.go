package gameserver

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/game/event"
	"github.com/cory-johannsen/grove/internal/game/floor"
	"github.com/cory-johannsen/grove/internal/game/inventory"
	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/observability"
)

// handleConnect joins the sender to a room, replies with its id and the
// room's connections, then syncs its inventory and the room's ground items.
func (r *Router) handleConnect(ctx context.Context, connID string, raw []byte) error {
	var req roomRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	rec, err := r.svc.Players.Join(ctx, req.ChatRoomID, connID, r.now())
	if err != nil {
		return fmt.Errorf("joining room: %w", err)
	}
	r.rooms.Invalidate(req.ChatRoomID)
	ids, err := r.rooms.Connections(ctx, req.ChatRoomID)
	if err != nil {
		return err
	}
	observability.ForConnection(r.logger, req.ChatRoomID, connID).
		Info("player joined", zap.Int("room_size", len(ids)))

	r.rooms.Send(ctx, connID, event.Connected{
		Type:         event.TypeConnected,
		ConnectionID: connID,
		RoomID:       req.ChatRoomID,
		Connections:  ids,
	})
	if err := r.syncInventory(ctx, rec); err != nil {
		return err
	}

	items, err := r.svc.Floor.ItemsInRoom(ctx, req.ChatRoomID)
	if err != nil {
		return fmt.Errorf("listing ground items: %w", err)
	}
	if items == nil {
		items = []floor.GroundItem{}
	}
	r.rooms.Send(ctx, connID, event.GroundItemsSync{Type: event.TypeGroundItemsSync, GroundItems: items})
	return nil
}

// inventoryOf decodes rec's stored inventory.
func (r *Router) inventoryOf(rec session.PlayerRecord) (*inventory.Inventory, error) {
	inv, err := inventory.Restore(r.svc.Catalog, rec.Inventory)
	if err != nil {
		return nil, fmt.Errorf("restoring inventory of %s: %w", rec.ConnectionID, err)
	}
	return inv, nil
}

// syncInventory pushes the full inventory and health of rec to its connection.
func (r *Router) syncInventory(ctx context.Context, rec session.PlayerRecord) error {
	inv, err := r.inventoryOf(rec)
	if err != nil {
		return err
	}
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}
	r.rooms.Send(ctx, rec.ConnectionID, event.InventorySync{
		Type:      event.TypeInventorySync,
		Inventory: body,
		Health:    rec.Health,
		MaxHealth: rec.MaxHealth,
	})
	return nil
}
