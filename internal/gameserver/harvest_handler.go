package gameserver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/game/event"
	"github.com/cory-johannsen/grove/internal/game/harvest"
)

func (r *Router) handleStartHarvest(ctx context.Context, connID string, raw []byte) error {
	var req startHarvestRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	if _, err := r.loadPlayer(ctx, req.ChatRoomID, connID); err != nil {
		return err
	}
	rec, err := r.svc.Harvests.Start(ctx, req.ChatRoomID, connID, req.TreeID, req.BerryType, r.now())
	if err != nil {
		return harvestError(err)
	}
	return r.rooms.NotifyRoom(ctx, req.ChatRoomID, event.HarvestStarted{
		Type:      event.TypeHarvestStarted,
		TreeID:    rec.TreeID,
		PlayerID:  rec.PlayerID,
		BerryType: rec.BerryType,
		StartTime: rec.StartTime,
		Duration:  rec.Duration,
	})
}

// handleCompleteHarvest finishes a harvest early at the client's request.
// The completion is announced by harvestCompleted.
func (r *Router) handleCompleteHarvest(ctx context.Context, connID string, raw []byte) error {
	var req harvestRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	if _, err := r.svc.Harvests.Complete(ctx, req.ChatRoomID, connID, req.TreeID, r.now()); err != nil {
		return harvestError(err)
	}
	return nil
}

func (r *Router) handleCancelHarvest(ctx context.Context, connID string, raw []byte) error {
	var req harvestRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	rec, err := r.svc.Harvests.Cancel(ctx, req.ChatRoomID, connID, req.TreeID)
	if err != nil {
		return harvestError(err)
	}
	return r.rooms.NotifyRoom(ctx, req.ChatRoomID, event.HarvestCancelled{
		Type:     event.TypeHarvestCancelled,
		TreeID:   rec.TreeID,
		PlayerID: rec.PlayerID,
	})
}

// harvestCompleted announces every completion, whether driven by the client
// or by the harvest timer, and syncs the harvester's inventory.
func (r *Router) harvestCompleted(ctx context.Context, c harvest.Completion) {
	if err := r.rooms.NotifyRoom(ctx, c.RoomID, event.HarvestCompleted{
		Type:      event.TypeHarvestCompleted,
		TreeID:    c.TreeID,
		PlayerID:  c.PlayerID,
		BerryType: c.BerryType,
		ItemID:    c.ItemID,
		Added:     c.Added,
	}); err != nil {
		r.logger.Warn("announcing harvest failed", zap.String("room_id", c.RoomID), zap.Error(err))
	}
	rec, err := r.svc.Players.Load(ctx, c.RoomID, c.PlayerID)
	if err != nil {
		r.logger.Debug("harvester gone before sync", zap.String("connection_id", c.PlayerID), zap.Error(err))
		return
	}
	if err := r.syncInventory(ctx, rec); err != nil {
		r.logger.Warn("harvest inventory sync failed", zap.String("connection_id", c.PlayerID), zap.Error(err))
	}
}

// harvestError maps expected harvest failures to rejections.
func harvestError(err error) error {
	switch {
	case errors.Is(err, harvest.ErrHarvestNotFound):
		return reject("No harvest in progress")
	case errors.Is(err, harvest.ErrHarvestInProgress):
		return reject("Already harvesting")
	case errors.Is(err, harvest.ErrTooEarly):
		return reject("Harvest not ready")
	case errors.Is(err, harvest.ErrUnknownBerry):
		return reject("Unknown berry type")
	default:
		return fmt.Errorf("harvest: %w", err)
	}
}
