package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/game/event"
	"github.com/cory-johannsen/grove/internal/game/floor"
	"github.com/cory-johannsen/grove/internal/game/inventory"
	"github.com/cory-johannsen/grove/internal/game/item"
	"github.com/cory-johannsen/grove/internal/observability"
)

// Rejection messages for item actions.
const (
	msgTooFar          = "Too far away"
	msgItemUnavailable = "Item no longer available"
	msgUnknownItem     = "Unknown item"
)

// handleConsumeBerry eats one berry, replying with the health restored and
// telling the rest of the room the eater's new health.
func (r *Router) handleConsumeBerry(ctx context.Context, connID string, raw []byte) error {
	var req consumeBerryRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	itemID, _ := item.CanonicalBerryItem(req.BerryType)
	rec, err := r.loadPlayer(ctx, req.ChatRoomID, connID)
	if err != nil {
		return err
	}
	inv, err := r.inventoryOf(rec)
	if err != nil {
		return err
	}
	res := inv.ConsumeItem(itemID, rec.Health, rec.MaxHealth)
	if !res.Success {
		return reject(res.Error)
	}
	saved, err := r.svc.Players.SaveInventoryAndHeal(ctx, rec, inv, res.HealthRestored)
	if err != nil {
		return fmt.Errorf("saving consumption: %w", err)
	}
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}
	r.rooms.Send(ctx, connID, event.BerryConsumed{
		Type:           event.TypeBerryConsumed,
		ItemID:         itemID,
		HealthRestored: res.HealthRestored,
		Health:         saved.Health,
		Inventory:      body,
	})
	r.rooms.NotifyOthers(ctx, req.ChatRoomID, connID, event.HealthUpdate{
		Type:     event.TypeHealthUpdate,
		PlayerID: connID,
		Health:   saved.Health,
	})
	return nil
}

// handleDropItem moves quantity of an item from the sender's inventory to a
// ground item at the sender's position.
func (r *Router) handleDropItem(ctx context.Context, connID string, raw []byte) error {
	var req dropItemRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	if _, ok := r.svc.Catalog.Definition(req.ItemID); !ok {
		return reject(msgUnknownItem)
	}
	rec, err := r.loadPlayer(ctx, req.ChatRoomID, connID)
	if err != nil {
		return err
	}
	inv, err := r.inventoryOf(rec)
	if err != nil {
		return err
	}
	if !inv.HasItem(req.ItemID, req.Quantity) {
		return reject(inventory.ErrMsgNotEnoughItems)
	}

	now := r.now()
	gi, err := r.svc.Floor.Drop(ctx, floor.GroundItem{
		RoomID:    req.ChatRoomID,
		ItemID:    req.ItemID,
		Quantity:  req.Quantity,
		Position:  rec.Position,
		DroppedBy: connID,
	}, now)
	if err != nil {
		return fmt.Errorf("dropping item: %w", err)
	}
	if res := inv.RemoveItem(req.ItemID, req.Quantity); !res.Success {
		r.retractDrop(ctx, gi)
		return reject(res.Error)
	}
	saved, err := r.svc.Players.SaveInventory(ctx, rec, inv)
	if err != nil {
		r.retractDrop(ctx, gi)
		return fmt.Errorf("saving inventory after drop: %w", err)
	}

	if err := r.rooms.NotifyRoom(ctx, req.ChatRoomID, event.GroundItemCreated{
		Type: event.TypeGroundItemCreated, GroundItem: gi,
	}); err != nil {
		r.logger.Warn("announcing drop failed", zap.String("room_id", req.ChatRoomID), zap.Error(err))
	}
	return r.syncInventory(ctx, saved)
}

// retractDrop removes a ground item whose inventory side failed.
func (r *Router) retractDrop(ctx context.Context, gi floor.GroundItem) {
	if _, err := r.svc.Floor.Pickup(ctx, gi.RoomID, gi.ID); err != nil {
		r.logger.Error("retracting ground item failed",
			zap.String("room_id", gi.RoomID), zap.String("ground_item_id", gi.ID), zap.Error(err))
	}
}

// handlePickupItem claims a ground item within pickup range. What does not
// fit in the inventory stays on the ground.
func (r *Router) handlePickupItem(ctx context.Context, connID string, raw []byte) error {
	var req pickupItemRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	rec, err := r.loadPlayer(ctx, req.ChatRoomID, connID)
	if err != nil {
		return err
	}
	gi, err := r.svc.Floor.Get(ctx, req.ChatRoomID, req.GroundItemID)
	if errors.Is(err, floor.ErrGroundItemNotFound) {
		return reject(msgItemUnavailable)
	}
	if err != nil {
		return err
	}
	if rec.Position.Distance(gi.Position) > r.pickupRange {
		return reject(msgTooFar)
	}
	inv, err := r.inventoryOf(rec)
	if err != nil {
		return err
	}

	gi, err = r.svc.Floor.Pickup(ctx, req.ChatRoomID, req.GroundItemID)
	if errors.Is(err, floor.ErrGroundItemNotFound) {
		return reject(msgItemUnavailable)
	}
	if err != nil {
		return err
	}

	now := r.now()
	add := inv.AddItem(gi.ItemID, gi.Quantity, gi.Metadata)
	placed := gi.Quantity - add.RemainingQuantity
	if placed == 0 {
		r.restoreGroundItem(ctx, gi, now)
		return reject(inventory.ErrMsgInventoryFull)
	}
	saved, err := r.svc.Players.SaveInventory(ctx, rec, inv)
	if err != nil {
		r.restoreGroundItem(ctx, gi, now)
		return fmt.Errorf("saving inventory after pickup: %w", err)
	}

	var announce any = event.GroundItemRemoved{
		Type:         event.TypeGroundItemRemoved,
		GroundItemID: gi.ID,
		PickedUpBy:   connID,
	}
	if add.RemainingQuantity > 0 {
		gi.Quantity = add.RemainingQuantity
		r.restoreGroundItem(ctx, gi, now)
		announce = event.GroundItemUpdated{Type: event.TypeGroundItemUpdated, GroundItem: gi}
	}
	if err := r.rooms.NotifyRoom(ctx, req.ChatRoomID, announce); err != nil {
		r.logger.Warn("announcing pickup failed", zap.String("room_id", req.ChatRoomID), zap.Error(err))
	}
	observability.ForConnection(r.logger, req.ChatRoomID, connID).Debug("item picked up",
		zap.String("item_id", gi.ItemID), zap.Int("quantity", placed))
	return r.syncInventory(ctx, saved)
}

func (r *Router) restoreGroundItem(ctx context.Context, gi floor.GroundItem, now time.Time) {
	if err := r.svc.Floor.Restore(ctx, gi, now); err != nil {
		r.logger.Error("restoring ground item failed",
			zap.String("room_id", gi.RoomID), zap.String("ground_item_id", gi.ID), zap.Error(err))
	}
}

func (r *Router) handleMoveItem(ctx context.Context, connID string, raw []byte) error {
	var req moveItemRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	if !validSlot(*req.FromSlot) || !validSlot(*req.ToSlot) {
		return reject(inventory.ErrMsgInvalidSlot)
	}
	rec, err := r.loadPlayer(ctx, req.ChatRoomID, connID)
	if err != nil {
		return err
	}
	inv, err := r.inventoryOf(rec)
	if err != nil {
		return err
	}
	if res := inv.MoveItem(*req.FromSlot, *req.ToSlot); !res.Success {
		return reject(res.Error)
	}
	saved, err := r.svc.Players.SaveInventory(ctx, rec, inv)
	if err != nil {
		return fmt.Errorf("saving inventory after move: %w", err)
	}
	return r.syncInventory(ctx, saved)
}

func (r *Router) handleValidateInventory(ctx context.Context, connID string, raw []byte) error {
	var req roomRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	rec, err := r.loadPlayer(ctx, req.ChatRoomID, connID)
	if err != nil {
		return err
	}
	inv, err := r.inventoryOf(rec)
	if err != nil {
		return err
	}
	res := inv.Validate()
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	r.rooms.Send(ctx, connID, event.InventoryValidation{
		Type:      event.TypeInventoryValidation,
		IsValid:   res.IsValid,
		Errors:    errs,
		Inventory: body,
	})
	return nil
}

func (r *Router) handleRequestInventory(ctx context.Context, connID string, raw []byte) error {
	var req roomRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	rec, err := r.loadPlayer(ctx, req.ChatRoomID, connID)
	if err != nil {
		return err
	}
	return r.syncInventory(ctx, rec)
}

func (r *Router) handleValidateGameState(ctx context.Context, connID string, raw []byte) error {
	var req roomRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	rec, err := r.loadPlayer(ctx, req.ChatRoomID, connID)
	if err != nil {
		return err
	}
	inv, err := r.inventoryOf(rec)
	if err != nil {
		return err
	}
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}
	r.rooms.Send(ctx, connID, event.GameStateValidation{
		Type:      event.TypeGameStateValidation,
		Health:    rec.Health,
		MaxHealth: rec.MaxHealth,
		Position:  rec.Position,
		Inventory: body,
		Banned:    rec.Banned(r.now()),
	})
	return nil
}
