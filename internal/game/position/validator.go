// Package position validates client position updates against world bounds,
// update rate, and movement speed, recording violations and issuing
// temporary bans.
package position

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/observability"
	"github.com/cory-johannsen/grove/internal/storage"
)

// Reason codes.
const (
	ReasonNewPlayer         = "new_player_initialized"
	ReasonPlayerBanned      = "player_banned"
	ReasonBoundaryViolation = "boundary_violation"
	ReasonRateLimitExceeded = "rate_limit_exceeded"
	ReasonTeleportDetected  = "teleportation_detected"
	ReasonSpeedViolation    = "speed_violation"
	ReasonInvalidTimestamp  = "invalid_timestamp"
	ReasonValidMovement     = "valid_movement"
	ReasonValidationError   = "validation_error"
)

// Ban policy.
const (
	BanThreshold = 5
	BanDuration  = 60 * time.Second
)

// State is the validator's view of one player.
type State int

const (
	Uninitialized State = iota
	Active
	Banned
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Active:
		return "ACTIVE"
	case Banned:
		return "BANNED"
	default:
		return "UNKNOWN"
	}
}

// StateOf returns the state of rec at now.
func StateOf(rec session.PlayerRecord, now time.Time) State {
	switch {
	case !rec.Initialized():
		return Uninitialized
	case rec.Banned(now):
		return Banned
	default:
		return Active
	}
}

// Result is the outcome of one validated update.
type Result struct {
	Valid             bool
	CorrectedPosition session.Vector3
	Reason            string
	// BanTimeRemaining is set only with ReasonPlayerBanned.
	BanTimeRemaining time.Duration
}

// Validator runs a Policy's checks over stored player state.
type Validator struct {
	repo   *session.Repository
	policy Policy
	logger *zap.Logger
}

// NewValidator creates a Validator.
//
// Precondition: repo, policy, and logger must be non-nil.
func NewValidator(repo *session.Repository, policy Policy, logger *zap.Logger) *Validator {
	return &Validator{repo: repo, policy: policy, logger: logger}
}

// Validate checks pos for connID in roomID at now and persists the outcome.
// Checks run in order and stop at the first failure. Any internal error
// yields an invalid result at Spawn with ReasonValidationError.
//
// Postcondition: CorrectedPosition is always a defined position.
func (v *Validator) Validate(ctx context.Context, roomID, connID string, pos session.Vector3, now time.Time) Result {
	log := observability.ForConnection(v.logger, roomID, connID)
	res, err := v.validate(ctx, roomID, connID, pos, now, log)
	if err != nil {
		log.Error("position validation failed", zap.Error(err))
		res = Result{CorrectedPosition: session.Spawn, Reason: ReasonValidationError}
	}
	observability.PositionResults.WithLabelValues(res.Reason).Inc()
	return res
}

func (v *Validator) validate(ctx context.Context, roomID, connID string, pos session.Vector3, now time.Time, log *zap.Logger) (Result, error) {
	if !pos.Finite() {
		return Result{}, errors.New("position has non-finite component")
	}

	rec, err := v.repo.Load(ctx, roomID, connID)
	missing := errors.Is(err, session.ErrPlayerNotFound)
	if err != nil && !missing {
		return Result{}, err
	}
	if missing || !rec.Initialized() {
		if err := v.initialize(ctx, roomID, connID, rec, missing, now); err != nil {
			return Result{}, err
		}
		log.Debug("player initialized at spawn")
		return Result{Valid: true, CorrectedPosition: session.Spawn, Reason: ReasonNewPlayer}, nil
	}

	for _, c := range v.policy.checks() {
		rej := c(&rec, pos, now)
		if rej == nil {
			continue
		}
		log.Debug("position rejected",
			zap.String("reason", rej.reason),
			zap.String("policy", v.policy.Name()),
		)
		if rej.violation {
			if _, err := v.RecordViolation(ctx, roomID, connID, rej.reason, now, map[string]any{
				"attempted": pos,
				"last":      rec.LastValidPosition,
			}); err != nil {
				return Result{}, err
			}
		}
		return Result{
			CorrectedPosition: rej.corrected,
			Reason:            rej.reason,
			BanTimeRemaining:  rej.banRemaining,
		}, nil
	}

	_, err = v.repo.Update(ctx, roomID, connID,
		storage.Set(session.FieldLastValidPosition, pos),
		storage.Set(session.FieldPosition, pos),
		storage.Set(session.FieldLastPositionUpdate, now.UnixMilli()),
		storage.Set(session.FieldPositionHistory, session.AppendHistory(rec.PositionHistory, session.HistoryEntry{
			Position:  pos,
			Timestamp: now.UnixMilli(),
		})),
		storage.Add(session.FieldUpdateCount, 1),
	)
	if err != nil {
		return Result{}, err
	}
	return Result{Valid: true, CorrectedPosition: pos, Reason: ReasonValidMovement}, nil
}

func (v *Validator) initialize(ctx context.Context, roomID, connID string, rec session.PlayerRecord, missing bool, now time.Time) error {
	history := []session.HistoryEntry{{Position: session.Spawn, Timestamp: now.UnixMilli()}}
	if missing {
		rec = session.NewRecord(roomID, connID, now)
		rec.LastPositionUpdate = now.UnixMilli()
		rec.PositionHistory = history
		return v.repo.Put(ctx, rec)
	}
	_, err := v.repo.Update(ctx, roomID, connID,
		storage.Set(session.FieldLastValidPosition, session.Spawn),
		storage.Set(session.FieldPosition, session.Spawn),
		storage.Set(session.FieldLastPositionUpdate, now.UnixMilli()),
		storage.Set(session.FieldPositionHistory, history),
	)
	return err
}

// RecordViolation counts one violation of violationType against the player.
// The BanThreshold-th violation bans the player for BanDuration and resets
// the count.
//
// Postcondition: banned is true iff this call issued a ban.
func (v *Validator) RecordViolation(ctx context.Context, roomID, connID, violationType string, now time.Time, details map[string]any) (banned bool, err error) {
	rec, err := v.repo.Update(ctx, roomID, connID,
		storage.Add(session.FieldViolationCount, 1),
		storage.Set(session.FieldLastViolationTime, now.UnixMilli()),
		storage.Set(session.FieldLastViolationType, violationType),
	)
	if err != nil {
		return false, err
	}
	observability.ViolationsTotal.WithLabelValues(violationType).Inc()
	log := observability.ForConnection(v.logger, roomID, connID)
	log.Warn("violation recorded",
		zap.String("type", violationType),
		zap.Int("count", rec.ViolationCount),
		zap.Any("details", details),
	)
	if rec.ViolationCount < BanThreshold {
		return false, nil
	}

	until := now.Add(BanDuration)
	if _, err := v.repo.Update(ctx, roomID, connID,
		storage.Set(session.FieldBanUntil, until.UnixMilli()),
		storage.Set(session.FieldViolationCount, 0),
	); err != nil {
		return false, err
	}
	observability.BansTotal.Inc()
	log.Warn("player banned",
		zap.Time("until", until),
		zap.String("last_violation", violationType),
	)
	return true, nil
}
