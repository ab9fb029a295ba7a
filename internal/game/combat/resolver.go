// Package combat resolves player-versus-player attacks and the deaths they
// cause.
package combat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/grove/internal/game/dice"
	"github.com/cory-johannsen/grove/internal/game/event"
	"github.com/cory-johannsen/grove/internal/game/floor"
	"github.com/cory-johannsen/grove/internal/game/inventory"
	"github.com/cory-johannsen/grove/internal/game/item"
	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/observability"
)

const (
	// AttackCooldown is the minimum time between two attacks by one player.
	AttackCooldown = 1000 * time.Millisecond
	// MinDamage and MaxDamage bound a damage roll, inclusive.
	MinDamage = 0
	MaxDamage = 3
	// DropScatter is the largest x/z offset applied to a death drop.
	DropScatter = 1.0
)

// ErrTargetNotFound is returned when the attack target has no record.
var ErrTargetNotFound = errors.New("combat: target not found")

// RoomNotifier delivers a message to every connection in a room and waits
// for the deliveries to settle.
type RoomNotifier interface {
	NotifyRoom(ctx context.Context, roomID string, msg any) error
}

// AttackResult holds the outcome of one attack attempt.
type AttackResult struct {
	// TargetID is the connection that was attacked.
	TargetID string
	// AttackAllowed is false when the attacker was still on cooldown.
	AttackAllowed bool
	// CooldownRemaining is the time left on the cooldown when blocked.
	CooldownRemaining time.Duration
	// Damage is the rolled damage; zero when blocked.
	Damage int
	// NewHealth is the target's health after damage; nil when no damage was applied.
	NewHealth *int
	// Died is true when this attack killed the target.
	Died bool
	// Death describes the death when Died is true.
	Death *DeathResult
}

// DamageGiven renders the result as the payload merged into an update.
func (r AttackResult) DamageGiven() *event.DamageGiven {
	return &event.DamageGiven{
		TargetID:          r.TargetID,
		Damage:            r.Damage,
		AttackAllowed:     r.AttackAllowed,
		CooldownRemaining: r.CooldownRemaining.Milliseconds(),
		NewHealth:         r.NewHealth,
		Died:              r.Died,
	}
}

// DeathResult describes a resolved death.
type DeathResult struct {
	PlayerID     string
	KillerID     string
	DroppedItems []floor.GroundItem
	Respawned    session.PlayerRecord
}

// CheckCooldown reports whether an attacker whose last attack was at
// lastAttack (Unix ms, zero for never) may attack at now.
//
// Postcondition: when blocked, remaining is in (0, AttackCooldown].
func CheckCooldown(lastAttack int64, now time.Time) (allowed bool, remaining time.Duration) {
	if lastAttack == 0 {
		return true, 0
	}
	elapsed := time.Duration(now.UnixMilli()-lastAttack) * time.Millisecond
	if elapsed >= AttackCooldown {
		return true, 0
	}
	if elapsed < 0 {
		return false, AttackCooldown
	}
	return false, AttackCooldown - elapsed
}

// Resolver applies attacks and deaths to player records.
type Resolver struct {
	players *session.Repository
	floor   *floor.Manager
	catalog *item.Catalog
	roller  *dice.Roller
	notify  RoomNotifier
	logger  *zap.Logger
}

// NewResolver creates a Resolver.
//
// Precondition: all arguments must be non-nil.
func NewResolver(players *session.Repository, fl *floor.Manager, catalog *item.Catalog, roller *dice.Roller, notify RoomNotifier, logger *zap.Logger) *Resolver {
	return &Resolver{
		players: players,
		floor:   fl,
		catalog: catalog,
		roller:  roller,
		notify:  notify,
		logger:  logger,
	}
}

// RollDamage returns a uniformly distributed damage value in
// [MinDamage, MaxDamage].
func (r *Resolver) RollDamage() int {
	d := r.roller.Between("damage", MinDamage, MaxDamage).Value
	observability.DamageRolled.Observe(float64(d))
	return d
}

// Attack resolves attackerID striking targetID at now.
//
// Postcondition: a blocked attack mutates nothing; an allowed attack records
// the attacker's attack time; zero damage leaves the target untouched; a
// target brought to zero health or below is killed and respawned.
func (r *Resolver) Attack(ctx context.Context, roomID, attackerID, targetID string, now time.Time) (AttackResult, error) {
	res := AttackResult{TargetID: targetID}

	attacker, err := r.players.Load(ctx, roomID, attackerID)
	if err != nil {
		return res, fmt.Errorf("loading attacker: %w", err)
	}
	allowed, remaining := CheckCooldown(attacker.LastAttackTime, now)
	if !allowed {
		res.CooldownRemaining = remaining
		observability.AttacksTotal.WithLabelValues(observability.OutcomeBlocked).Inc()
		return res, nil
	}
	if _, err := r.players.Load(ctx, roomID, targetID); err != nil {
		if errors.Is(err, session.ErrPlayerNotFound) {
			return res, ErrTargetNotFound
		}
		return res, fmt.Errorf("loading target: %w", err)
	}

	res.AttackAllowed = true
	res.Damage = r.RollDamage()
	if err := r.players.SetLastAttack(ctx, roomID, attackerID, now); err != nil {
		return res, fmt.Errorf("recording attack time: %w", err)
	}

	if res.Damage == 0 {
		observability.AttacksTotal.WithLabelValues(observability.OutcomeMiss).Inc()
		return res, nil
	}
	observability.AttacksTotal.WithLabelValues(observability.OutcomeHit).Inc()

	health, err := r.players.ApplyDamage(ctx, roomID, targetID, res.Damage)
	if err != nil {
		if errors.Is(err, session.ErrPlayerNotFound) {
			return res, ErrTargetNotFound
		}
		return res, fmt.Errorf("applying damage: %w", err)
	}
	res.NewHealth = &health

	r.logger.Debug("attack resolved",
		zap.String("room_id", roomID),
		zap.String("attacker", attackerID),
		zap.String("target", targetID),
		zap.Int("damage", res.Damage),
		zap.Int("health", health),
	)

	if health > 0 {
		return res, nil
	}
	death, err := r.ResolveDeath(ctx, roomID, targetID, attackerID, now)
	if err != nil {
		return res, err
	}
	res.Died = true
	res.Death = &death
	return res, nil
}

// ResolveDeath drops every occupied inventory slot of playerID as a ground
// item near its death position, respawns it, and announces the death.
//
// Postcondition: one ground item exists per occupied slot; the player is at
// Spawn with full health and an empty inventory.
func (r *Resolver) ResolveDeath(ctx context.Context, roomID, playerID, killerID string, now time.Time) (DeathResult, error) {
	rec, err := r.players.Load(ctx, roomID, playerID)
	if err != nil {
		return DeathResult{}, fmt.Errorf("loading dead player: %w", err)
	}
	inv, err := inventory.Restore(r.catalog, rec.Inventory)
	if err != nil {
		r.logger.Warn("dead player's inventory unreadable; dropping nothing",
			zap.String("player", playerID), zap.Error(err))
		inv = inventory.New(r.catalog)
	}

	death := DeathResult{PlayerID: playerID, KillerID: killerID, DroppedItems: []floor.GroundItem{}}
	for _, slot := range inv.OccupiedSlots() {
		pos := rec.Position
		pos.X += r.roller.Jitter("drop_x") * DropScatter
		pos.Z += r.roller.Jitter("drop_z") * DropScatter
		gi, err := r.floor.Drop(ctx, floor.GroundItem{
			RoomID:         roomID,
			ItemID:         slot.Item.ItemID,
			Quantity:       slot.Item.Quantity,
			Position:       pos,
			DroppedBy:      playerID,
			Metadata:       slot.Item.Metadata,
			InstanceID:     slot.Item.InstanceID,
			DroppedOnDeath: true,
		}, now)
		if err != nil {
			return death, fmt.Errorf("dropping death item: %w", err)
		}
		death.DroppedItems = append(death.DroppedItems, gi)
	}

	respawned, err := r.players.ResetForRespawn(ctx, roomID, playerID, now)
	if err != nil {
		return death, fmt.Errorf("respawning player: %w", err)
	}
	death.Respawned = respawned
	observability.DeathsTotal.Inc()

	r.logger.Info("player died",
		zap.String("room_id", roomID),
		zap.String("player", playerID),
		zap.String("killer", killerID),
		zap.Int("dropped", len(death.DroppedItems)),
	)

	r.announce(ctx, roomID, death)
	return death, nil
}

// announce broadcasts the death, the respawn, and every dropped item in
// parallel. Delivery failures are logged and never fail the death.
func (r *Resolver) announce(ctx context.Context, roomID string, death DeathResult) {
	msgs := []any{
		event.PlayerDeath{
			Type:            event.TypePlayerDeath,
			PlayerID:        death.PlayerID,
			KillerID:        death.KillerID,
			RespawnPosition: session.Spawn,
			DroppedItems:    death.DroppedItems,
		},
		event.PlayerRespawn{
			Type:     event.TypePlayerRespawn,
			PlayerID: death.PlayerID,
			Health:   death.Respawned.Health,
			Position: death.Respawned.Position,
		},
	}
	for _, gi := range death.DroppedItems {
		msgs = append(msgs, event.GroundItemCreated{Type: event.TypeGroundItemCreated, GroundItem: gi})
	}

	var g errgroup.Group
	for _, msg := range msgs {
		g.Go(func() error {
			if err := r.notify.NotifyRoom(ctx, roomID, msg); err != nil {
				r.logger.Warn("death announcement failed",
					zap.String("room_id", roomID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
