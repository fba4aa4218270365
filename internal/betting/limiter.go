package betting

import (
	"errors"
)

var (
	// ErrMatchStakeLimit is returned when a bet would push the bettor's
	// stake on a single match beyond the per-match maximum.
	ErrMatchStakeLimit = errors.New("betting: per-match stake limit exceeded")

	// ErrOpenStakeLimit is returned when a bet would push the bettor's
	// aggregate stake across open matches beyond the open-stake maximum.
	ErrOpenStakeLimit = errors.New("betting: open stake limit exceeded")
)

// StakeLimiter caps how much a single bettor can have at risk: per match,
// and in aggregate across all matches still open for betting. A correlated
// run of bets on one night's card cannot drain a wallet past the cap.
type StakeLimiter struct {
	// MaxPerMatch is the maximum total stake on any single match. Zero
	// disables the check.
	MaxPerMatch int64

	// MaxOpen is the maximum aggregate stake across open matches. Zero
	// disables the check.
	MaxOpen int64
}

// NewStakeLimiter creates a limiter with the given caps.
func NewStakeLimiter(maxPerMatch, maxOpen int64) *StakeLimiter {
	return &StakeLimiter{MaxPerMatch: maxPerMatch, MaxOpen: maxOpen}
}

// CheckLimit validates a new stake against the bettor's existing open
// stakes, keyed by match id. Returns nil when the bet fits.
func (l *StakeLimiter) CheckLimit(matchID string, stake int64, openStakes map[string]int64) error {
	if l.MaxPerMatch > 0 && openStakes[matchID]+stake > l.MaxPerMatch {
		return ErrMatchStakeLimit
	}

	if l.MaxOpen > 0 {
		total := stake
		for _, s := range openStakes {
			total += s
		}
		if total > l.MaxOpen {
			return ErrOpenStakeLimit
		}
	}
	return nil
}
