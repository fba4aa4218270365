// Package hierarchy derives cluster-level and overall ratings from current
// per-event ratings. Nothing here is stored: every call is a fresh fold over
// the leaf ratings, so recomputation is idempotent and cannot drift.
//
// Cluster rating: the player's event ratings within the cluster sorted
// descending, weighted by rank-dependent prestige multipliers, then
// Σ(rating·weight)/Σ(weight). Overall rating: a tiered weighted average over
// all clusters sorted descending, with unplayed clusters contributing the
// baseline rating.
package hierarchy

import (
	"errors"
	"sort"
	"time"

	"github.com/lbarena/scoring-engine/internal/model"
)

// ErrNoRatings is returned when a cluster rating is requested with zero rated
// events. The caller substitutes the baseline as a single default input
// rather than omitting the cluster.
var ErrNoRatings = errors.New("hierarchy: no rated events in cluster")

// Weights holds the aggregation parameters. The three tier counts must sum
// to TotalClusters and the three tier weights to 1.
type Weights struct {
	PrestigeMultipliers []float64
	Baseline            float64
	TotalClusters       int
	TopCount            int
	TopWeight           float64
	MidCount            int
	MidWeight           float64
	TailCount           int
	TailWeight          float64
}

// ClusterRating computes the prestige-weighted average of one player's event
// ratings within one cluster. Ratings beyond the multiplier list take the
// final multiplier (1.0 in the default scheme).
func ClusterRating(ratings []float64, multipliers []float64) (float64, error) {
	if len(ratings) == 0 {
		return 0, ErrNoRatings
	}

	sorted := make([]float64, len(ratings))
	copy(sorted, ratings)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var weightedSum, weightTotal float64
	for i, r := range sorted {
		w := multipliers[len(multipliers)-1]
		if i < len(multipliers) {
			w = multipliers[i]
		}
		weightedSum += r * w
		weightTotal += w
	}
	return weightedSum / weightTotal, nil
}

// OverallRating computes the tiered weighted average over cluster ratings.
// Missing clusters (fewer than TotalClusters inputs) are filled with the
// baseline before partitioning into top/mid/tail bands.
func OverallRating(clusterRatings []float64, w Weights) float64 {
	padded := make([]float64, 0, w.TotalClusters)
	padded = append(padded, clusterRatings...)
	for len(padded) < w.TotalClusters {
		padded = append(padded, w.Baseline)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(padded)))

	top := average(padded[:w.TopCount])
	mid := average(padded[w.TopCount : w.TopCount+w.MidCount])
	tail := average(padded[w.TopCount+w.MidCount : w.TopCount+w.MidCount+w.TailCount])

	return top*w.TopWeight + mid*w.MidWeight + tail*w.TailWeight
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Aggregator computes full hierarchy snapshots. It runs the identical logic
// independently over the raw track and the floored scoring track.
type Aggregator struct {
	w Weights
}

// NewAggregator creates an aggregator with the given weights.
func NewAggregator(w Weights) *Aggregator {
	return &Aggregator{w: w}
}

// Snapshot derives the player's cluster and overall ratings from their
// current event ratings. eventCluster maps event id → cluster id; clusterIDs
// lists every cluster in the deployment (played or not). Clusters without a
// rated event take the baseline as a single default input.
func (a *Aggregator) Snapshot(playerID string, ratings []model.PlayerEventRating, eventCluster map[string]string, clusterIDs []string) model.HierarchySnapshot {
	rawByCluster := make(map[string][]float64)
	scoringByCluster := make(map[string][]float64)
	for _, r := range ratings {
		cid, ok := eventCluster[r.EventID]
		if !ok {
			continue
		}
		rawByCluster[cid] = append(rawByCluster[cid], r.RawRating)
		scoringByCluster[cid] = append(scoringByCluster[cid], r.ScoringRating)
	}

	sortedClusters := make([]string, len(clusterIDs))
	copy(sortedClusters, clusterIDs)
	sort.Strings(sortedClusters)

	clusters := make([]model.ClusterRating, 0, len(sortedClusters))
	rawValues := make([]float64, 0, len(sortedClusters))
	scoringValues := make([]float64, 0, len(sortedClusters))

	for _, cid := range sortedClusters {
		raw := a.clusterOrBaseline(rawByCluster[cid])
		scoring := a.clusterOrBaseline(scoringByCluster[cid])
		clusters = append(clusters, model.ClusterRating{
			ClusterID:   cid,
			Raw:         raw,
			Scoring:     scoring,
			RatedEvents: len(rawByCluster[cid]),
		})
		rawValues = append(rawValues, raw)
		scoringValues = append(scoringValues, scoring)
	}

	return model.HierarchySnapshot{
		PlayerID: playerID,
		Clusters: clusters,
		Overall: model.OverallRating{
			Raw:     OverallRating(rawValues, a.w),
			Scoring: OverallRating(scoringValues, a.w),
		},
		ComputedAt: time.Now().UTC(),
	}
}

func (a *Aggregator) clusterOrBaseline(ratings []float64) float64 {
	v, err := ClusterRating(ratings, a.w.PrestigeMultipliers)
	if err != nil {
		// Unplayed cluster: baseline as the default single-event input.
		return a.w.Baseline
	}
	return v
}
