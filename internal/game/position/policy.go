package position

import (
	"fmt"
	"math"
	"time"

	"github.com/cory-johannsen/grove/internal/config"
	"github.com/cory-johannsen/grove/internal/game/session"
)

// World bounds.
const (
	MinX, MaxX = -25.0, 25.0
	MinY, MaxY = -1.0, 10.0
	MinZ, MaxZ = -25.0, 25.0
)

// Movement and rate limits.
const (
	MaxSpeed          = 2.5 // units per second
	TeleportDistance  = 5.0
	TeleportWindow    = 500 * time.Millisecond
	MinUpdateInterval = 100 * time.Millisecond
	MaxUpdateRate     = 10.0 // updates per second
)

// rejection is the outcome of a failed check.
type rejection struct {
	reason    string
	corrected session.Vector3
	// violation marks rejections that count toward a ban.
	violation    bool
	banRemaining time.Duration
}

// check inspects one proposed position against the player's stored state.
// A nil return lets the next check run.
type check func(rec *session.PlayerRecord, pos session.Vector3, now time.Time) *rejection

// Policy selects which checks run on an initialized player's update. It is
// chosen once, when the Validator is built.
type Policy interface {
	Name() string
	checks() []check
}

// StrictPolicy runs every check: ban, bounds, rate limit, and movement.
type StrictPolicy struct{}

// Name implements Policy.
func (StrictPolicy) Name() string { return config.ValidationStrict }

func (StrictPolicy) checks() []check {
	return []check{checkBan, checkBounds, checkRate, checkMovement}
}

// BoundsOnlyPolicy runs only the world-bounds check. It exists for
// development servers and is refused by NewPolicy in production.
type BoundsOnlyPolicy struct{}

// Name implements Policy.
func (BoundsOnlyPolicy) Name() string { return config.ValidationBoundsOnly }

func (BoundsOnlyPolicy) checks() []check {
	return []check{checkBounds}
}

// NewPolicy returns the policy named by validation.
//
// Postcondition: returns an error for bounds_only unless mode is development.
func NewPolicy(mode, validation string) (Policy, error) {
	switch validation {
	case config.ValidationStrict:
		return StrictPolicy{}, nil
	case config.ValidationBoundsOnly:
		if mode != config.ModeDevelopment {
			return nil, fmt.Errorf("position: %s validation is not permitted in %s mode", validation, mode)
		}
		return BoundsOnlyPolicy{}, nil
	default:
		return nil, fmt.Errorf("position: unknown validation policy %q", validation)
	}
}

func checkBan(rec *session.PlayerRecord, _ session.Vector3, now time.Time) *rejection {
	if !rec.Banned(now) {
		return nil
	}
	return &rejection{
		reason:       ReasonPlayerBanned,
		corrected:    rec.LastValidPosition,
		banRemaining: rec.BanRemaining(now),
	}
}

func checkBounds(_ *session.PlayerRecord, pos session.Vector3, _ time.Time) *rejection {
	clamped := Clamp(pos)
	if clamped == pos {
		return nil
	}
	return &rejection{reason: ReasonBoundaryViolation, corrected: clamped, violation: true}
}

func checkRate(rec *session.PlayerRecord, _ session.Vector3, now time.Time) *rejection {
	nowMs := now.UnixMilli()
	if nowMs-rec.LastPositionUpdate < MinUpdateInterval.Milliseconds() {
		return &rejection{reason: ReasonRateLimitExceeded, corrected: rec.LastValidPosition}
	}
	if len(rec.PositionHistory) > 0 {
		span := nowMs - rec.PositionHistory[0].Timestamp
		if span > 0 && float64(len(rec.PositionHistory))*1000/float64(span) > MaxUpdateRate {
			return &rejection{reason: ReasonRateLimitExceeded, corrected: rec.LastValidPosition}
		}
	}
	return nil
}

// checkMovement rejects teleports, excess speed, and non-positive elapsed
// time. Under StrictPolicy checkRate runs first and already turns away any
// elapsed time below MinUpdateInterval, so ReasonInvalidTimestamp is only
// reached by a check list that omits checkRate.
func checkMovement(rec *session.PlayerRecord, pos session.Vector3, now time.Time) *rejection {
	distance := pos.Distance(rec.LastValidPosition)
	elapsedMs := now.UnixMilli() - rec.LastPositionUpdate
	elapsed := float64(elapsedMs) / 1000

	reason := ""
	switch {
	case distance > TeleportDistance && elapsedMs < TeleportWindow.Milliseconds():
		reason = ReasonTeleportDetected
	case distance/elapsed > MaxSpeed:
		reason = ReasonSpeedViolation
	case elapsed <= 0:
		reason = ReasonInvalidTimestamp
	default:
		return nil
	}
	return &rejection{reason: reason, corrected: rec.LastValidPosition, violation: true}
}

// Clamp moves pos to the nearest point inside the world bounds.
func Clamp(pos session.Vector3) session.Vector3 {
	return session.Vector3{
		X: math.Min(math.Max(pos.X, MinX), MaxX),
		Y: math.Min(math.Max(pos.Y, MinY), MaxY),
		Z: math.Min(math.Max(pos.Z, MinZ), MaxZ),
	}
}
