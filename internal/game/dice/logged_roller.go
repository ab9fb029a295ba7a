package dice

import "go.uber.org/zap"

// Roller wraps a Source and logger to provide logged bounded rolls.
// Every roll is logged at debug level with its purpose, bounds, and value.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that rolls with src and logs each roll to logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// Between returns a uniformly distributed integer in [min, max] inclusive.
//
// Precondition: min <= max.
// Postcondition: min <= result.Value <= max; the roll is logged.
func (r *Roller) Between(purpose string, min, max int) Roll {
	if max < min {
		panic("dice: Between called with max < min")
	}
	roll := Roll{
		Purpose: purpose,
		Min:     min,
		Max:     max,
		Value:   min + r.src.Intn(max-min+1),
	}
	r.logger.Debug("dice roll",
		zap.String("purpose", roll.Purpose),
		zap.Int("min", roll.Min),
		zap.Int("max", roll.Max),
		zap.Int("value", roll.Value),
	)
	return roll
}

// Jitter returns a value in [-1, 1] with millesimal resolution.
func (r *Roller) Jitter(purpose string) float64 {
	return float64(r.Between(purpose, -1000, 1000).Value) / 1000
}
