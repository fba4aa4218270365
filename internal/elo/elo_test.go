package elo

import (
	"errors"
	"math"
	"testing"

	"github.com/lbarena/scoring-engine/internal/model"
)

var testParams = Params{KProvisional: 40, KStandard: 20, ProvisionalThreshold: 5}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// --- Expected score ---

func TestExpectedScore_EqualRatings(t *testing.T) {
	if e := ExpectedScore(1000, 1000); !approxEqual(e, 0.5) {
		t.Errorf("equal ratings should give E=0.5, got %f", e)
	}
}

func TestExpectedScore_SymmetricSum(t *testing.T) {
	tests := []struct{ a, b float64 }{
		{1000, 1000},
		{1200, 1000},
		{1000, 1400},
		{2000, 800},
	}
	for _, tt := range tests {
		sum := ExpectedScore(tt.a, tt.b) + ExpectedScore(tt.b, tt.a)
		if !approxEqual(sum, 1.0) {
			t.Errorf("E(a,b)+E(b,a) should be 1 for %v vs %v, got %f", tt.a, tt.b, sum)
		}
	}
}

func TestExpectedScore_FourHundredPointGap(t *testing.T) {
	// A 400-point gap gives 10-to-1 odds: E = 10/11.
	e := ExpectedScore(1400, 1000)
	if !approxEqual(e, 10.0/11.0) {
		t.Errorf("expected 10/11, got %f", e)
	}
}

// --- K-factor selection ---

func TestKFactor_ProvisionalBoundary(t *testing.T) {
	tests := []struct {
		matches int
		want    float64
	}{
		{0, 40},
		{4, 40},
		{5, 20},
		{100, 20},
	}
	for _, tt := range tests {
		if got := testParams.KFactor(tt.matches); got != tt.want {
			t.Errorf("KFactor(%d) = %v, want %v", tt.matches, got, tt.want)
		}
	}
}

// --- Head-to-head ---

func TestResolve_HeadToHead_EqualRatings(t *testing.T) {
	r := NewResolver(testParams)
	contribs, err := r.Resolve(model.ModeHeadToHead, []PlayerState{
		{PlayerID: "a", Rating: 1000, MatchesPlayed: 10, Placement: 1},
		{PlayerID: "b", Rating: 1000, MatchesPlayed: 10, Placement: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contribs) != 2 {
		t.Fatalf("expected 2 contributions, got %d", len(contribs))
	}
	// Equal ratings, standard K=20: winner gets +10, loser -10.
	if !approxEqual(contribs[0].Delta, 10) {
		t.Errorf("winner delta should be +10, got %f", contribs[0].Delta)
	}
	if !approxEqual(contribs[1].Delta, -10) {
		t.Errorf("loser delta should be -10, got %f", contribs[1].Delta)
	}
}

func TestResolve_HeadToHead_ProvisionalK(t *testing.T) {
	r := NewResolver(testParams)
	contribs, err := r.Resolve(model.ModeHeadToHead, []PlayerState{
		{PlayerID: "rookie", Rating: 1000, MatchesPlayed: 0, Placement: 1},
		{PlayerID: "vet", Rating: 1000, MatchesPlayed: 50, Placement: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Provisional K=40 for the rookie, standard K=20 for the veteran.
	if !approxEqual(contribs[0].Delta, 20) {
		t.Errorf("rookie delta should be +20, got %f", contribs[0].Delta)
	}
	if !approxEqual(contribs[1].Delta, -10) {
		t.Errorf("veteran delta should be -10, got %f", contribs[1].Delta)
	}
}

func TestResolve_HeadToHead_UpsetGainsMore(t *testing.T) {
	r := NewResolver(testParams)
	contribs, err := r.Resolve(model.ModeHeadToHead, []PlayerState{
		{PlayerID: "underdog", Rating: 1000, MatchesPlayed: 10, Placement: 1},
		{PlayerID: "favorite", Rating: 1400, MatchesPlayed: 10, Placement: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Underdog win against 10-to-1 odds: delta = 20 * (1 - 1/11) = 200/11.
	if !approxEqual(contribs[0].Delta, 20*(1-1.0/11.0)) {
		t.Errorf("underdog delta wrong: %f", contribs[0].Delta)
	}
	if contribs[0].Delta <= 10 {
		t.Errorf("upset win should exceed the even-match gain, got %f", contribs[0].Delta)
	}
}

func TestResolve_HeadToHead_DrawRejected(t *testing.T) {
	r := NewResolver(testParams)
	_, err := r.Resolve(model.ModeHeadToHead, []PlayerState{
		{PlayerID: "a", Rating: 1000, Placement: 1},
		{PlayerID: "b", Rating: 1000, Placement: 1},
	})
	if !errors.Is(err, ErrDrawNotSupported) {
		t.Errorf("expected ErrDrawNotSupported, got %v", err)
	}
}

func TestResolve_HeadToHead_WrongCount(t *testing.T) {
	r := NewResolver(testParams)
	_, err := r.Resolve(model.ModeHeadToHead, []PlayerState{
		{PlayerID: "a", Placement: 1},
		{PlayerID: "b", Placement: 2},
		{PlayerID: "c", Placement: 3},
	})
	if !errors.Is(err, ErrInvalidScoringMode) {
		t.Errorf("expected ErrInvalidScoringMode, got %v", err)
	}
}

// --- Free-for-all ---

func TestResolve_FreeForAll_PairCountAndScaling(t *testing.T) {
	r := NewResolver(testParams)
	contribs, err := r.Resolve(model.ModeFreeForAll, []PlayerState{
		{PlayerID: "a", Rating: 1000, MatchesPlayed: 10, Placement: 1},
		{PlayerID: "b", Rating: 1000, MatchesPlayed: 10, Placement: 2},
		{PlayerID: "c", Rating: 1000, MatchesPlayed: 10, Placement: 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// N=3: exactly 3 pairwise comparisons, 2 contributions each.
	if len(contribs) != 6 {
		t.Fatalf("expected 6 contributions from 3 pairs, got %d", len(contribs))
	}

	totals := SumByPlayer(contribs)
	// Equal ratings, K=20 scaled by 1/2 → each pair moves ±5.
	// a beats b and c: +10. b beats c, loses to a: 0. c loses both: -10.
	if !approxEqual(totals["a"], 10) {
		t.Errorf("first place total should be +10, got %f", totals["a"])
	}
	if !approxEqual(totals["b"], 0) {
		t.Errorf("middle place total should be 0, got %f", totals["b"])
	}
	if !approxEqual(totals["c"], -10) {
		t.Errorf("last place total should be -10, got %f", totals["c"])
	}
}

func TestResolve_FreeForAll_ZeroSumAtEqualRatings(t *testing.T) {
	r := NewResolver(testParams)
	players := []PlayerState{
		{PlayerID: "a", Rating: 1000, MatchesPlayed: 10, Placement: 2},
		{PlayerID: "b", Rating: 1000, MatchesPlayed: 10, Placement: 4},
		{PlayerID: "c", Rating: 1000, MatchesPlayed: 10, Placement: 1},
		{PlayerID: "d", Rating: 1000, MatchesPlayed: 10, Placement: 3},
	}
	contribs, err := r.Resolve(model.ModeFreeForAll, players)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sum float64
	for _, c := range contribs {
		sum += c.Delta
	}
	if !approxEqual(sum, 0) {
		t.Errorf("equal-rating equal-K FFA should be zero-sum, got %f", sum)
	}
}

func TestResolve_FreeForAll_TieRejected(t *testing.T) {
	r := NewResolver(testParams)
	_, err := r.Resolve(model.ModeFreeForAll, []PlayerState{
		{PlayerID: "a", Rating: 1000, Placement: 1},
		{PlayerID: "b", Rating: 1000, Placement: 2},
		{PlayerID: "c", Rating: 1000, Placement: 2},
	})
	if !errors.Is(err, ErrDuplicatePlacement) {
		t.Errorf("expected ErrDuplicatePlacement, got %v", err)
	}
}

// --- Team ---

func TestResolve_Team_SharedDelta(t *testing.T) {
	r := NewResolver(testParams)
	contribs, err := r.Resolve(model.ModeTeam, []PlayerState{
		{PlayerID: "a1", Rating: 1100, MatchesPlayed: 10, Placement: 1, TeamID: "red"},
		{PlayerID: "a2", Rating: 900, MatchesPlayed: 10, Placement: 1, TeamID: "red"},
		{PlayerID: "b1", Rating: 1000, MatchesPlayed: 10, Placement: 2, TeamID: "blue"},
		{PlayerID: "b2", Rating: 1000, MatchesPlayed: 10, Placement: 2, TeamID: "blue"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contribs) != 4 {
		t.Fatalf("expected 4 contributions, got %d", len(contribs))
	}

	totals := SumByPlayer(contribs)
	// Team averages are 1000 vs 1000: winners +10, losers -10, identical
	// within a team despite unequal individual ratings.
	if !approxEqual(totals["a1"], totals["a2"]) {
		t.Errorf("teammates should share one delta: %f vs %f", totals["a1"], totals["a2"])
	}
	if !approxEqual(totals["a1"], 10) {
		t.Errorf("winning team delta should be +10, got %f", totals["a1"])
	}
	if !approxEqual(totals["b1"], -10) {
		t.Errorf("losing team delta should be -10, got %f", totals["b1"])
	}
}

func TestResolve_Team_WrongTeamCount(t *testing.T) {
	r := NewResolver(testParams)
	_, err := r.Resolve(model.ModeTeam, []PlayerState{
		{PlayerID: "a", Placement: 1, TeamID: "red"},
		{PlayerID: "b", Placement: 2, TeamID: "blue"},
		{PlayerID: "c", Placement: 3, TeamID: "green"},
	})
	if !errors.Is(err, ErrTeamCount) {
		t.Errorf("expected ErrTeamCount, got %v", err)
	}
}

func TestResolve_Team_DrawRejected(t *testing.T) {
	r := NewResolver(testParams)
	_, err := r.Resolve(model.ModeTeam, []PlayerState{
		{PlayerID: "a", Rating: 1000, Placement: 1, TeamID: "red"},
		{PlayerID: "b", Rating: 1000, Placement: 1, TeamID: "blue"},
	})
	if !errors.Is(err, ErrDrawNotSupported) {
		t.Errorf("expected ErrDrawNotSupported, got %v", err)
	}
}

// --- Mode dispatch ---

func TestResolve_UnknownMode(t *testing.T) {
	r := NewResolver(testParams)
	_, err := r.Resolve(model.ScoringMode("chess960"), []PlayerState{
		{PlayerID: "a", Placement: 1},
		{PlayerID: "b", Placement: 2},
	})
	if !errors.Is(err, ErrInvalidScoringMode) {
		t.Errorf("expected ErrInvalidScoringMode, got %v", err)
	}
}

func TestResolve_TooFewParticipants(t *testing.T) {
	r := NewResolver(testParams)
	_, err := r.Resolve(model.ModeHeadToHead, []PlayerState{{PlayerID: "solo", Placement: 1}})
	if !errors.Is(err, ErrTooFewParticipants) {
		t.Errorf("expected ErrTooFewParticipants, got %v", err)
	}
}
