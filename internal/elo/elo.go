// Package elo implements the Elo update law and the match outcome resolver
// that converts head-to-head, free-for-all, and team results into per-player
// rating delta contributions.
//
// The resolver is stateless — current ratings and match counts are passed as
// arguments, not stored. Output deltas are pre-scaled: free-for-all pairs use
// K/(N−1) to bound aggregate volatility, so the caller only needs to sum
// contributions per player before writing.
//
// Expected score: E = 1 / (1 + 10^((R_opp − R_self)/400))
package elo

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/lbarena/scoring-engine/internal/model"
)

// Base is the rating difference giving 10-to-1 expected odds.
const Base = 400.0

var (
	// ErrInvalidScoringMode is returned for a mode the resolver cannot handle.
	ErrInvalidScoringMode = errors.New("elo: unsupported scoring mode")

	// ErrDrawNotSupported is returned for a head-to-head draw. Draws are
	// rejected; the caller cancels and replays the match.
	ErrDrawNotSupported = errors.New("elo: draws are not supported, cancel and replay the match")

	// ErrDuplicatePlacement is returned when two free-for-all participants
	// share a placement.
	ErrDuplicatePlacement = errors.New("elo: duplicate placement")

	// ErrTeamCount is returned when a team match does not have exactly two teams.
	ErrTeamCount = errors.New("elo: team matches require exactly two teams")

	// ErrTooFewParticipants is returned for matches with fewer than two entrants.
	ErrTooFewParticipants = errors.New("elo: at least two participants required")
)

// Params selects the K-factor. Players below ProvisionalThreshold matches use
// the higher provisional K so early ratings converge quickly.
type Params struct {
	KProvisional         float64
	KStandard            float64
	ProvisionalThreshold int
}

// KFactor returns the K-factor for a player with the given match count.
func (p Params) KFactor(matchesPlayed int) float64 {
	if matchesPlayed < p.ProvisionalThreshold {
		return p.KProvisional
	}
	return p.KStandard
}

// ExpectedScore returns the probability of self beating opponent.
func ExpectedScore(self, opponent float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (opponent-self)/Base))
}

// PlayerState is the resolver's view of one participant.
type PlayerState struct {
	PlayerID      string
	Rating        float64 // current raw rating
	MatchesPlayed int
	Placement     int    // 1-based, 1 = first
	TeamID        string // team matches only
}

// Contribution is one signed, pre-scaled delta contribution for one player.
// A player may receive several contributions from one match (one per
// free-for-all pairing); the engine sums them before writing.
type Contribution struct {
	PlayerID string
	Delta    float64
}

// Resolver converts match results into delta contributions.
type Resolver struct {
	params Params
}

// NewResolver creates a resolver with the given K-factor parameters.
func NewResolver(params Params) *Resolver {
	return &Resolver{params: params}
}

// Resolve dispatches on scoring mode. Returns one contribution list covering
// every participant, or an error with no partial output.
func (r *Resolver) Resolve(mode model.ScoringMode, players []PlayerState) ([]Contribution, error) {
	if len(players) < 2 {
		return nil, ErrTooFewParticipants
	}
	switch mode {
	case model.ModeHeadToHead:
		return r.resolveHeadToHead(players)
	case model.ModeFreeForAll:
		return r.resolveFreeForAll(players)
	case model.ModeTeam:
		return r.resolveTeam(players)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidScoringMode, mode)
	}
}

func (r *Resolver) resolveHeadToHead(players []PlayerState) ([]Contribution, error) {
	if len(players) != 2 {
		return nil, fmt.Errorf("%w: head_to_head needs exactly 2 players, got %d",
			ErrInvalidScoringMode, len(players))
	}
	a, b := players[0], players[1]
	if a.Placement == b.Placement {
		return nil, ErrDrawNotSupported
	}

	sa := 0.0
	if a.Placement < b.Placement {
		sa = 1.0
	}

	ea := ExpectedScore(a.Rating, b.Rating)
	eb := ExpectedScore(b.Rating, a.Rating)

	return []Contribution{
		{PlayerID: a.PlayerID, Delta: r.params.KFactor(a.MatchesPlayed) * (sa - ea)},
		{PlayerID: b.PlayerID, Delta: r.params.KFactor(b.MatchesPlayed) * ((1 - sa) - eb)},
	}, nil
}

// resolveFreeForAll generates all N(N−1)/2 pairwise comparisons. Each pair is
// scored from relative placement with K scaled by 1/(N−1).
func (r *Resolver) resolveFreeForAll(players []PlayerState) ([]Contribution, error) {
	seen := make(map[int]string, len(players))
	for _, p := range players {
		if prev, ok := seen[p.Placement]; ok {
			return nil, fmt.Errorf("%w: players %s and %s both placed %d",
				ErrDuplicatePlacement, prev, p.PlayerID, p.Placement)
		}
		seen[p.Placement] = p.PlayerID
	}

	n := len(players)
	scale := 1.0 / float64(n-1)
	contribs := make([]Contribution, 0, n*(n-1))

	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			a, b := players[i], players[j]

			sa := 0.0
			if a.Placement < b.Placement {
				sa = 1.0
			}

			ea := ExpectedScore(a.Rating, b.Rating)
			eb := ExpectedScore(b.Rating, a.Rating)

			ka := r.params.KFactor(a.MatchesPlayed) * scale
			kb := r.params.KFactor(b.MatchesPlayed) * scale

			contribs = append(contribs,
				Contribution{PlayerID: a.PlayerID, Delta: ka * (sa - ea)},
				Contribution{PlayerID: b.PlayerID, Delta: kb * ((1 - sa) - eb)},
			)
		}
	}
	return contribs, nil
}

// resolveTeam averages each team's current rating, runs one head-to-head
// computation between the two averages, and applies the resulting delta
// identically to every member of each team. The K-factor for a team is chosen
// from its members' average match count.
func (r *Resolver) resolveTeam(players []PlayerState) ([]Contribution, error) {
	byTeam := make(map[string][]PlayerState)
	order := make([]string, 0, 2)
	for _, p := range players {
		if _, ok := byTeam[p.TeamID]; !ok {
			order = append(order, p.TeamID)
		}
		byTeam[p.TeamID] = append(byTeam[p.TeamID], p)
	}
	if len(byTeam) != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTeamCount, len(byTeam))
	}
	sort.Strings(order) // deterministic output ordering

	teamA, teamB := byTeam[order[0]], byTeam[order[1]]

	avgA, matchesA := teamAverages(teamA)
	avgB, matchesB := teamAverages(teamB)

	placeA, placeB := teamA[0].Placement, teamB[0].Placement
	if placeA == placeB {
		return nil, ErrDrawNotSupported
	}
	sa := 0.0
	if placeA < placeB {
		sa = 1.0
	}

	ea := ExpectedScore(avgA, avgB)
	eb := ExpectedScore(avgB, avgA)
	deltaA := r.params.KFactor(matchesA) * (sa - ea)
	deltaB := r.params.KFactor(matchesB) * ((1 - sa) - eb)

	contribs := make([]Contribution, 0, len(players))
	for _, p := range teamA {
		contribs = append(contribs, Contribution{PlayerID: p.PlayerID, Delta: deltaA})
	}
	for _, p := range teamB {
		contribs = append(contribs, Contribution{PlayerID: p.PlayerID, Delta: deltaB})
	}
	return contribs, nil
}

func teamAverages(team []PlayerState) (avgRating float64, avgMatches int) {
	var ratingSum float64
	var matchSum int
	for _, p := range team {
		ratingSum += p.Rating
		matchSum += p.MatchesPlayed
	}
	return ratingSum / float64(len(team)), matchSum / len(team)
}

// SumByPlayer folds a contribution list into one net delta per player.
func SumByPlayer(contribs []Contribution) map[string]float64 {
	totals := make(map[string]float64)
	for _, c := range contribs {
		totals[c.PlayerID] += c.Delta
	}
	return totals
}
