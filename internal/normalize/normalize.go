// Package normalize converts absolute leaderboard scores (times, points) into
// rating-equivalent values via population statistics.
//
// Z = (score − μ)/σ for HIGH-direction events, (μ − score)/σ for LOW.
// Rating-equivalent = BaseRating + Z·EloPerSigma. A σ=0 population (singleton
// or all-equal scores) defines Z = 0 for every member.
//
// Mean and variance use Welford's streaming algorithm for numerical
// stability on a single pass.
package normalize

import (
	"errors"
	"fmt"
	"math"

	"github.com/lbarena/scoring-engine/internal/model"
)

var (
	// ErrEmptyPopulation is returned when no scores have been submitted yet.
	// Callers fall back to the baseline rating.
	ErrEmptyPopulation = errors.New("normalize: empty population")

	// ErrInvalidScoreDirection is returned for a direction other than HIGH or LOW.
	ErrInvalidScoreDirection = errors.New("normalize: unknown score direction")
)

// Welford accumulates mean and variance in one pass.
type Welford struct {
	count int
	mean  float64
	m2    float64
}

// Add folds one observation into the accumulator.
func (w *Welford) Add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (x - w.mean)
}

// Count returns the number of observations.
func (w *Welford) Count() int { return w.count }

// Mean returns the running mean.
func (w *Welford) Mean() float64 { return w.mean }

// StdDev returns the population standard deviation. Zero for fewer than two
// observations.
func (w *Welford) StdDev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}

// Params holds the normalization constants.
type Params struct {
	BaseRating  float64
	EloPerSigma float64
}

// ZScore converts one score into standard-deviation units, direction-aware.
// σ=0 defines Z=0 for every member of the population.
func ZScore(score, mean, sigma float64, dir model.ScoreDirection) (float64, error) {
	if sigma == 0 {
		return 0, nil
	}
	switch dir {
	case model.DirectionHigh:
		return (score - mean) / sigma, nil
	case model.DirectionLow:
		return (mean - score) / sigma, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidScoreDirection, dir)
	}
}

// RatingEquivalent maps a Z-score onto the rating scale.
func (p Params) RatingEquivalent(z float64) float64 {
	return p.BaseRating + z*p.EloPerSigma
}

// RatePopulation converts a full score population into rating-equivalents,
// keyed by player. The whole population is recomputed on every call — ratings
// shift for everyone whenever any member's score changes.
func RatePopulation(scores map[string]float64, dir model.ScoreDirection, p Params) (map[string]float64, error) {
	if len(scores) == 0 {
		return nil, ErrEmptyPopulation
	}
	if dir != model.DirectionHigh && dir != model.DirectionLow {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScoreDirection, dir)
	}

	var w Welford
	for _, s := range scores {
		w.Add(s)
	}
	mean, sigma := w.Mean(), w.StdDev()

	out := make(map[string]float64, len(scores))
	for player, s := range scores {
		z, err := ZScore(s, mean, sigma, dir)
		if err != nil {
			return nil, err
		}
		out[player] = p.RatingEquivalent(z)
	}
	return out, nil
}

// WeeklyAverage averages weekly ratings over the weeks elapsed this season.
// A week with no submission contributes 0, not a skip — the divisor is always
// weeksElapsed, so skipping weeks drags the average down.
func WeeklyAverage(weeklyRatings []float64, weeksElapsed int) float64 {
	if weeksElapsed <= 0 {
		return 0
	}
	var sum float64
	for _, r := range weeklyRatings {
		sum += r
	}
	return sum / float64(weeksElapsed)
}

// Blend combines the all-time component and the rolling weekly-average
// component into the final event rating for leaderboard events.
func Blend(allTimeRating, weeklyAverage float64) float64 {
	return 0.5*allTimeRating + 0.5*weeklyAverage
}
