// Package gameserver routes inbound client actions to the game services and
// pushes the resulting messages back out.
package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/game/combat"
	"github.com/cory-johannsen/grove/internal/game/event"
	"github.com/cory-johannsen/grove/internal/game/floor"
	"github.com/cory-johannsen/grove/internal/game/harvest"
	"github.com/cory-johannsen/grove/internal/game/item"
	"github.com/cory-johannsen/grove/internal/game/position"
	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/observability"
)

// rejection is a handler outcome the sender is told about with an
// actionError message. It is not logged as a failure.
type rejection struct {
	msg string
}

func (r *rejection) Error() string { return r.msg }

func reject(msg string) error { return &rejection{msg: msg} }

type handlerFunc func(ctx context.Context, connID string, raw []byte) error

// maxStaleAttempts bounds how often a handler is rerun after its inventory
// save lost to a concurrent write.
const maxStaleAttempts = 3

// Services groups the game services the Router dispatches to.
type Services struct {
	Players   *session.Repository
	Validator *position.Validator
	Combat    *combat.Resolver
	Harvests  *harvest.Service
	Floor     *floor.Manager
	Catalog   *item.Catalog
}

// Router decodes inbound actions and runs them against the game services.
// A Router holds no per-player state; every action reads and writes the
// store. Callers must dispatch one connection's messages sequentially.
type Router struct {
	svc         Services
	rooms       *Rooms
	validate    *validator.Validate
	pickupRange float64
	now         func() time.Time
	logger      *zap.Logger
	handlers    map[string]handlerFunc

	// refreshOnActivity extends the sender's record on valid position
	// updates. Off, records live PlayerTTL from the last join.
	refreshOnActivity bool
}

// NewRouter creates a Router and registers it for harvest completions.
//
// Precondition: every field of svc, rooms, and logger must be non-nil;
// pickupRange must be > 0.
func NewRouter(svc Services, rooms *Rooms, pickupRange float64, logger *zap.Logger) *Router {
	r := &Router{
		svc:         svc,
		rooms:       rooms,
		validate:    newValidator(),
		pickupRange: pickupRange,
		now:         time.Now,
		logger:      logger,
	}
	r.handlers = map[string]handlerFunc{
		ActionConnect:           r.handleConnect,
		ActionSendUpdate:        r.handleSendUpdate,
		ActionStartHarvest:      r.handleStartHarvest,
		ActionCompleteHarvest:   r.handleCompleteHarvest,
		ActionCancelHarvest:     r.handleCancelHarvest,
		ActionConsumeBerry:      r.handleConsumeBerry,
		ActionDropItem:          r.handleDropItem,
		ActionPickupItem:        r.handlePickupItem,
		ActionMoveItem:          r.handleMoveItem,
		ActionValidateInventory: r.handleValidateInventory,
		ActionRequestInventory:  r.handleRequestInventory,
		ActionValidateGameState: r.handleValidateGameState,
	}
	svc.Harvests.OnComplete(r.harvestCompleted)
	return r
}

// SetActivityRefresh turns the refresh of player records on valid position
// updates on or off.
func (r *Router) SetActivityRefresh(on bool) {
	r.refreshOnActivity = on
}

// SetClock replaces the time source used to stamp actions.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// Dispatch handles one raw inbound message from connID. Malformed messages,
// unknown actions, and handler failures are logged and otherwise ignored; a
// panicking handler is recovered.
func (r *Router) Dispatch(ctx context.Context, connID string, raw []byte) {
	log := r.logger.With(zap.String("connection_id", connID))

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		observability.MessagesTotal.WithLabelValues(actionLabelMalformed).Inc()
		log.Debug("discarding malformed message", zap.Error(err))
		return
	}
	h, ok := r.handlers[env.Action]
	if !ok {
		observability.MessagesTotal.WithLabelValues(actionLabelUnknown).Inc()
		log.Debug("discarding unknown action", zap.String("action", env.Action))
		return
	}
	observability.MessagesTotal.WithLabelValues(env.Action).Inc()
	log = log.With(zap.String("action", env.Action))

	defer func() {
		if p := recover(); p != nil {
			log.Error("handler panicked", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()

	var err error
	for attempt := 1; ; attempt++ {
		err = h(ctx, connID, raw)
		if !errors.Is(err, session.ErrStaleRecord) || attempt == maxStaleAttempts {
			break
		}
		log.Debug("record changed during action, retrying", zap.Int("attempt", attempt))
	}
	var rej *rejection
	switch {
	case err == nil:
	case errors.As(err, &rej):
		log.Debug("action rejected", zap.String("reason", rej.msg))
		r.rooms.Send(ctx, connID, event.ActionError{Type: event.TypeActionError, Action: env.Action, Error: rej.msg})
	case errors.Is(err, errMalformed):
		log.Debug("discarding invalid request", zap.Error(err))
	default:
		log.Warn("action failed", zap.Error(err))
	}
}

// Disconnect removes connID from every room it joined and tells the rooms.
func (r *Router) Disconnect(ctx context.Context, connID string) {
	rooms := r.Purge(ctx, connID)
	for _, roomID := range rooms {
		if err := r.rooms.NotifyRoom(ctx, roomID, event.PlayerLeft{Type: event.TypePlayerLeft, PlayerID: connID}); err != nil {
			r.logger.Warn("announcing departure failed",
				zap.String("room_id", roomID), zap.String("connection_id", connID), zap.Error(err))
		}
	}
}

// Purge deletes every record of connID without announcing it. It serves as
// the push.GoneFunc for connections found gone mid-broadcast.
//
// Postcondition: returns the rooms the connection was removed from.
func (r *Router) Purge(ctx context.Context, connID string) []string {
	rooms, err := r.svc.Players.RoomsForConnection(ctx, connID)
	if err != nil {
		r.logger.Warn("listing rooms for connection failed", zap.String("connection_id", connID), zap.Error(err))
		return nil
	}
	for _, roomID := range rooms {
		if err := r.svc.Players.Delete(ctx, roomID, connID); err != nil {
			r.logger.Warn("deleting player record failed",
				zap.String("room_id", roomID), zap.String("connection_id", connID), zap.Error(err))
		}
		r.rooms.Invalidate(roomID)
	}
	if len(rooms) > 0 {
		r.logger.Info("connection purged", zap.String("connection_id", connID), zap.Strings("rooms", rooms))
	}
	return rooms
}

// loadPlayer fetches the sender's record, rejecting senders that never joined.
func (r *Router) loadPlayer(ctx context.Context, roomID, connID string) (session.PlayerRecord, error) {
	rec, err := r.svc.Players.Load(ctx, roomID, connID)
	if errors.Is(err, session.ErrPlayerNotFound) {
		return rec, reject("Not connected to room")
	}
	return rec, err
}
