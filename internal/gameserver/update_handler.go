package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/game/combat"
	"github.com/cory-johannsen/grove/internal/game/event"
	"github.com/cory-johannsen/grove/internal/game/position"
	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/observability"
	"github.com/cory-johannsen/grove/internal/storage"
)

// handleSendUpdate validates the sender's position, resolves any attack it
// carries, and relays the resulting state to the requested connections.
// Rate-limited updates are dropped after the sender is corrected.
func (r *Router) handleSendUpdate(ctx context.Context, connID string, raw []byte) error {
	var req sendUpdateRequest
	if err := decode(r.validate, raw, &req); err != nil {
		return err
	}
	var msg updateMessage
	if err := json.Unmarshal(req.Message, &msg); err != nil {
		return fmt.Errorf("%w: message: %v", errMalformed, err)
	}
	if err := r.validate.Struct(&msg); err != nil {
		return fmt.Errorf("%w: message: %s", errMalformed, describeValidation(err))
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(req.Message, &fields); err != nil {
		return fmt.Errorf("%w: message: %v", errMalformed, err)
	}

	log := observability.ForConnection(r.logger, req.ChatRoomID, connID)
	now := r.now()
	res := r.svc.Validator.Validate(ctx, req.ChatRoomID, connID, *msg.Position, now)

	if !res.Valid || res.CorrectedPosition != *msg.Position {
		r.rooms.Send(ctx, connID, event.PositionCorrection{
			Type:             event.TypePositionCorrection,
			Position:         res.CorrectedPosition,
			Reason:           res.Reason,
			BanTimeRemaining: res.BanTimeRemaining.Milliseconds(),
		})
	}
	if res.Reason == position.ReasonRateLimitExceeded {
		return nil
	}

	var damage *event.DamageGiven
	if res.Valid {
		if r.refreshOnActivity {
			if err := r.svc.Players.Touch(ctx, req.ChatRoomID, connID); err != nil {
				log.Warn("refreshing player expiry failed", zap.Error(err))
			}
		}
		if msg.Rotation != nil && msg.Rotation.Finite() {
			if _, err := r.svc.Players.Update(ctx, req.ChatRoomID, connID,
				storage.Set(session.FieldRotation, *msg.Rotation)); err != nil {
				log.Warn("storing rotation failed", zap.Error(err))
			}
		}
		if msg.AttackingPlayer != "" && msg.AttackingPlayer != connID {
			attack, err := r.svc.Combat.Attack(ctx, req.ChatRoomID, connID, msg.AttackingPlayer, now)
			switch {
			case err == nil:
				damage = attack.DamageGiven()
			case errors.Is(err, combat.ErrTargetNotFound):
				log.Debug("attack target not in room", zap.String("target", msg.AttackingPlayer))
			default:
				log.Warn("attack failed", zap.Error(err))
			}
		}
	}

	pos, err := json.Marshal(res.CorrectedPosition)
	if err != nil {
		return fmt.Errorf("encoding position: %w", err)
	}
	fields["position"] = pos
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}

	room, err := r.rooms.Connections(ctx, req.ChatRoomID)
	if err != nil {
		return err
	}
	targets := without(room, connID)
	if len(req.Connections) > 0 {
		targets = restrictTo(req.Connections, room, connID)
	}
	r.rooms.Broadcast(ctx, req.ChatRoomID, targets, event.Update{
		Type:         event.TypeUpdate,
		ConnectionID: connID,
		Message:      body,
		DamageGiven:  damage,
	})
	return nil
}
