package config

import (
	"math"

	"github.com/pkg/errors"

	"github.com/vechain/dposcore/errs"
)

// MissingReveal selects the value substituted for a slot that did not reveal
// when the next round's seed is aggregated.
type MissingReveal string

const (
	// MissingRevealZero substitutes the zero hash.
	MissingRevealZero MissingReveal = "zero"
	// MissingRevealDerived substitutes Blake2b(round seed, miner).
	MissingRevealDerived MissingReveal = "derived"
)

// Params are the consensus parameters every validator must share.
type Params struct {
	MaxMiners     int    `json:"maxMiners"`
	RoundsPerTerm uint64 `json:"roundsPerTerm"`
	SlotInterval  uint64 `json:"slotInterval"` // seconds
	// MaxRoundDuration is the hard deadline of a round in seconds. Zero means
	// (len(slots)+1) * SlotInterval.
	MaxRoundDuration uint64        `json:"maxRoundDuration"`
	MinLockDays      uint64        `json:"minLockDays"`
	MaxLockDays      uint64        `json:"maxLockDays"`
	WeightDivisor    uint64        `json:"weightDivisor"`
	BlockReward      uint64        `json:"blockReward"`
	MissingReveal    MissingReveal `json:"missingReveal"`
	RoundCacheSize   int           `json:"roundCacheSize"`
}

func DefaultParams() Params {
	return Params{
		MaxMiners:      DefaultMaxMiners,
		RoundsPerTerm:  DefaultRoundsPerTerm,
		SlotInterval:   BlockIntervalSeconds,
		MinLockDays:    DefaultMinLockDays,
		MaxLockDays:    DefaultMaxLockDays,
		WeightDivisor:  DefaultWeightDivisor,
		BlockReward:    DefaultBlockReward,
		MissingReveal:  MissingRevealZero,
		RoundCacheSize: DefaultRoundCacheSize,
	}
}

// Validate reports a ConfigurationError describing the first invalid field.
func (p *Params) Validate() error {
	switch {
	case p.MaxMiners <= 0:
		return errors.Wrap(errs.ErrInvalidParams, "maxMiners must be positive")
	case p.RoundsPerTerm == 0:
		return errors.Wrap(errs.ErrInvalidParams, "roundsPerTerm must be positive")
	case p.SlotInterval == 0 || p.SlotInterval > MaxSlotInterval:
		return errors.Wrapf(errs.ErrInvalidParams, "slotInterval %d outside [1, %d]", p.SlotInterval, MaxSlotInterval)
	case uint64(p.MaxMiners)+1 > MaxRoundDurationCap/p.SlotInterval:
		return errors.Wrapf(errs.ErrInvalidParams, "%d slots of %d seconds exceed the round duration cap %d", p.MaxMiners+1, p.SlotInterval, MaxRoundDurationCap)
	case p.MaxRoundDuration > MaxRoundDurationCap:
		return errors.Wrapf(errs.ErrInvalidParams, "maxRoundDuration %d above cap %d", p.MaxRoundDuration, MaxRoundDurationCap)
	case p.MaxRoundDuration != 0 && p.MaxRoundDuration < uint64(p.MaxMiners)*p.SlotInterval:
		return errors.Wrapf(errs.ErrInvalidParams, "maxRoundDuration %d shorter than a full round of %d slots", p.MaxRoundDuration, p.MaxMiners)
	case p.MinLockDays == 0 || p.MinLockDays > p.MaxLockDays || p.MaxLockDays > MaxLockDaysCap:
		return errors.Wrapf(errs.ErrInvalidParams, "lock days bounds [%d, %d] are invalid", p.MinLockDays, p.MaxLockDays)
	case p.WeightDivisor == 0:
		return errors.Wrap(errs.ErrInvalidParams, "weightDivisor must be positive")
	case p.MissingReveal != MissingRevealZero && p.MissingReveal != MissingRevealDerived:
		return errors.Wrapf(errs.ErrInvalidParams, "unknown missingReveal policy %q", p.MissingReveal)
	case p.RoundCacheSize <= 0:
		return errors.Wrap(errs.ErrInvalidParams, "roundCacheSize must be positive")
	}
	return nil
}

// RoundDeadline returns the hard deadline of a round with the given number of
// slots that started at start.
func (p *Params) RoundDeadline(start uint64, slots int) uint64 {
	if p.MaxRoundDuration > 0 {
		return AddSeconds(start, p.MaxRoundDuration)
	}
	return AddSeconds(start, uint64(slots+1)*p.SlotInterval)
}

// AddSeconds returns ts+d, saturating at the largest timestamp.
func AddSeconds(ts, d uint64) uint64 {
	if ts > math.MaxUint64-d {
		return math.MaxUint64
	}
	return ts + d
}
