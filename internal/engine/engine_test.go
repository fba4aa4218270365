package engine

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/lbarena/scoring-engine/internal/betting"
	"github.com/lbarena/scoring-engine/internal/config"
	"github.com/lbarena/scoring-engine/internal/ledger"
	"github.com/lbarena/scoring-engine/internal/model"
	"github.com/lbarena/scoring-engine/internal/store"
)

type fixture struct {
	store   *store.MemoryStore
	ledger  *ledger.Service
	betting *betting.Service
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	st := store.NewMemoryStore()
	lg := ledger.NewService(st, cfg.Betting.HouseAccount)
	bt := betting.NewService(st, lg, cfg.Betting.VigRate, cfg.Betting.VigSinkAccount, nil)
	f := &fixture{
		store:   st,
		ledger:  lg,
		betting: bt,
		engine:  New(st, config.Static(cfg), lg, bt),
	}
	if err := st.PutEvent(context.Background(), &model.Event{
		ID:        "e1",
		ClusterID: "c1",
		Mode:      model.ModeHeadToHead,
	}); err != nil {
		t.Fatalf("put event: %v", err)
	}
	return f
}

func (f *fixture) h2h(t *testing.T, winner, loser string) *model.MatchRecord {
	t.Helper()
	m, err := f.engine.CreateMatch(context.Background(), "e1", model.ModeHeadToHead, []model.Participant{
		{PlayerID: winner, Placement: 1},
		{PlayerID: loser, Placement: 2},
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m
}

func (f *fixture) rating(t *testing.T, playerID string) *model.PlayerEventRating {
	t.Helper()
	r, err := f.store.GetRating(context.Background(), playerID, "e1")
	if err != nil {
		t.Fatalf("get rating %s: %v", playerID, err)
	}
	return r
}

func TestApply_FirstMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.h2h(t, "alice", "bob")

	res, err := f.engine.Apply(ctx, m.ID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.WinnerID != "alice" {
		t.Errorf("winner should be alice, got %s", res.WinnerID)
	}

	// Both start at 1000 and are provisional (K=40): winner +20, loser -20.
	alice := f.rating(t, "alice")
	bob := f.rating(t, "bob")
	if math.Abs(alice.RawRating-1020) > 1e-9 {
		t.Errorf("alice raw should be 1020, got %f", alice.RawRating)
	}
	if math.Abs(bob.RawRating-980) > 1e-9 {
		t.Errorf("bob raw should be 980, got %f", bob.RawRating)
	}
	// Scoring track is floored at 1000; raw keeps the true value.
	if bob.ScoringRating != 1000 {
		t.Errorf("bob scoring should be floored at 1000, got %f", bob.ScoringRating)
	}
	if alice.MatchesPlayed != 1 || bob.MatchesPlayed != 1 {
		t.Errorf("matches played should be 1/1, got %d/%d", alice.MatchesPlayed, bob.MatchesPlayed)
	}
	if alice.Streak != 1 || bob.Streak != -1 {
		t.Errorf("streaks should be +1/-1, got %d/%d", alice.Streak, bob.Streak)
	}
	if len(res.Changes) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(res.Changes))
	}
}

func TestApply_ParticipationRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.h2h(t, "alice", "bob")

	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	reward := config.Default().Ledger.ParticipationReward
	for _, player := range []string{"alice", "bob"} {
		b, err := f.ledger.Balance(ctx, player)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if b != reward {
			t.Errorf("%s should hold the participation reward %d, got %d", player, reward, b)
		}
	}
}

func TestApply_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.h2h(t, "alice", "bob")

	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := f.engine.Apply(ctx, m.ID)
	if !errors.Is(err, ErrMatchAlreadyApplied) {
		t.Fatalf("expected ErrMatchAlreadyApplied, got %v", err)
	}
	// Second attempt must not have moved anything.
	if got := f.rating(t, "alice").MatchesPlayed; got != 1 {
		t.Errorf("matches played should still be 1, got %d", got)
	}
}

func TestApply_StreakAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m := f.h2h(t, "alice", "bob")
		if _, err := f.engine.Apply(ctx, m.ID); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	if got := f.rating(t, "alice").Streak; got != 3 {
		t.Errorf("alice streak should be 3, got %d", got)
	}
	if got := f.rating(t, "bob").Streak; got != -3 {
		t.Errorf("bob streak should be -3, got %d", got)
	}

	// Bob wins one: streak flips to +1.
	m := f.h2h(t, "bob", "alice")
	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := f.rating(t, "bob").Streak; got != 1 {
		t.Errorf("bob streak should flip to 1, got %d", got)
	}
}

func TestApply_SettlesBets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.h2h(t, "alice", "bob")

	if _, err := f.ledger.Credit(ctx, "carol", 100, ledger.GrantRef("seed"), "seed", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := f.betting.PlaceBet(ctx, m.ID, "carol", "alice", 100); err != nil {
		t.Fatalf("bet: %v", err)
	}

	res, err := f.engine.Apply(ctx, m.ID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Settlement == nil {
		t.Fatal("settlement missing from apply result")
	}
	// Sole winner: vig 10, payout 90.
	if res.Settlement.Vig != 10 || len(res.Settlement.Payouts) != 1 || res.Settlement.Payouts[0].Amount != 90 {
		t.Errorf("settlement wrong: %+v", res.Settlement)
	}
	b, err := f.ledger.Balance(ctx, "carol")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b != 90 {
		t.Errorf("carol should hold 90 after payout, got %d", b)
	}
}

func TestApply_LeaderboardRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateMatch(context.Background(), "e1", model.ModeLeaderboard, []model.Participant{
		{PlayerID: "a"}, {PlayerID: "b"},
	})
	if !errors.Is(err, ErrLeaderboardMatch) {
		t.Errorf("expected ErrLeaderboardMatch, got %v", err)
	}
}

func TestUndo_ExactInverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Build up some history first so the undo is not just a reset to zero.
	warmup := f.h2h(t, "alice", "bob")
	if _, err := f.engine.Apply(ctx, warmup.ID); err != nil {
		t.Fatalf("warmup apply: %v", err)
	}
	aliceBefore := *f.rating(t, "alice")
	bobBefore := *f.rating(t, "bob")

	m := f.h2h(t, "bob", "alice")
	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	res, err := f.engine.Undo(ctx, m.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !reflect.DeepEqual(res.AffectedPlayers, []string{"alice", "bob"}) {
		t.Errorf("affected players wrong: %v", res.AffectedPlayers)
	}

	// undo(apply(match)) restores the exact prior state, streaks included.
	aliceAfter := *f.rating(t, "alice")
	bobAfter := *f.rating(t, "bob")
	if !reflect.DeepEqual(aliceBefore, aliceAfter) {
		t.Errorf("alice not restored: before=%+v after=%+v", aliceBefore, aliceAfter)
	}
	if !reflect.DeepEqual(bobBefore, bobAfter) {
		t.Errorf("bob not restored: before=%+v after=%+v", bobBefore, bobAfter)
	}
}

func TestUndo_ReversesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.h2h(t, "alice", "bob")

	if _, err := f.ledger.Credit(ctx, "carol", 100, ledger.GrantRef("seed"), "seed", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := f.betting.PlaceBet(ctx, m.ID, "carol", "bob", 100); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Carol backed the loser and forfeited the stake.
	if b, _ := f.ledger.Balance(ctx, "carol"); b != 0 {
		t.Fatalf("carol should be at 0 after forfeit, got %d", b)
	}

	res, err := f.engine.Undo(ctx, m.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if res.ReversedAmount == 0 {
		t.Error("reversed amount should be nonzero")
	}

	// Escrow reversed: the stake comes back.
	if b, _ := f.ledger.Balance(ctx, "carol"); b != 100 {
		t.Errorf("carol stake should be refunded to 100, got %d", b)
	}
	// Participation rewards reversed too.
	for _, player := range []string{"alice", "bob"} {
		if b, _ := f.ledger.Balance(ctx, player); b != 0 {
			t.Errorf("%s reward should be clawed back to 0, got %d", player, b)
		}
	}
}

func TestUndo_OlderMatchKeepsLaterDeltas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m1 := f.h2h(t, "alice", "bob")
	if _, err := f.engine.Apply(ctx, m1.ID); err != nil {
		t.Fatalf("apply m1: %v", err)
	}
	m2 := f.h2h(t, "alice", "bob")
	if _, err := f.engine.Apply(ctx, m2.ID); err != nil {
		t.Fatalf("apply m2: %v", err)
	}
	afterBoth := f.rating(t, "alice").RawRating

	var d1 float64
	hist, err := f.store.ListHistoryByMatch(ctx, m1.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, h := range hist {
		if h.PlayerID == "alice" {
			d1 = h.Delta
		}
	}

	// Undoing the older match removes only its own delta; m2 keeps its
	// effect on the current rating.
	if _, err := f.engine.Undo(ctx, m1.ID); err != nil {
		t.Fatalf("undo m1: %v", err)
	}
	alice := f.rating(t, "alice")
	if math.Abs(alice.RawRating-(afterBoth-d1)) > 1e-9 {
		t.Errorf("alice raw should be %f, got %f", afterBoth-d1, alice.RawRating)
	}
	if math.Abs(alice.RawRating-1000) < 1e-9 {
		t.Error("undoing m1 erased m2's delta")
	}
	if alice.MatchesPlayed != 1 {
		t.Errorf("matches played should be 1, got %d", alice.MatchesPlayed)
	}
}

func TestUndo_AppendsInverseHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.h2h(t, "alice", "bob")

	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := f.engine.Undo(ctx, m.ID); err != nil {
		t.Fatalf("undo: %v", err)
	}

	// The audit trail explains the post-undo state: forward entry plus one
	// inverse entry applying the negated delta.
	entries, err := f.store.ListHistoryByPlayerEvent(ctx, "alice", "e1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected forward + inverse entries, got %d", len(entries))
	}
	fwd, inv := entries[0], entries[1]
	if inv.MatchID != m.ID {
		t.Errorf("inverse entry should reference the match, got %s", inv.MatchID)
	}
	if math.Abs(inv.Delta+fwd.Delta) > 1e-9 {
		t.Errorf("inverse delta should be %f, got %f", -fwd.Delta, inv.Delta)
	}
	if math.Abs(inv.Before-fwd.After) > 1e-9 || math.Abs(inv.After-fwd.Before) > 1e-9 {
		t.Errorf("inverse entry should mirror the forward one: fwd=%+v inv=%+v", fwd, inv)
	}
}

func TestUndo_StreakIgnoresUndoneMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m1 := f.h2h(t, "alice", "bob")
	if _, err := f.engine.Apply(ctx, m1.ID); err != nil {
		t.Fatalf("apply m1: %v", err)
	}
	for i := 0; i < 2; i++ {
		m := f.h2h(t, "alice", "bob")
		if _, err := f.engine.Apply(ctx, m.ID); err != nil {
			t.Fatalf("apply: %v", err)
		}
		if _, err := f.engine.Undo(ctx, m.ID); err != nil {
			t.Fatalf("undo: %v", err)
		}
	}

	// Only m1 survives; undone matches contribute nothing to the run.
	if got := f.rating(t, "alice").Streak; got != 1 {
		t.Errorf("alice streak should be 1, got %d", got)
	}
	if got := f.rating(t, "bob").Streak; got != -1 {
		t.Errorf("bob streak should be -1, got %d", got)
	}
}

func TestUndo_RetryAfterPartialReversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.h2h(t, "alice", "bob")

	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Simulate an undo that reversed alice, then crashed before reversing
	// bob and before the status transition.
	var fwd model.RatingHistoryEntry
	hist, err := f.store.ListHistoryByMatch(ctx, m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, h := range hist {
		if h.PlayerID == "alice" {
			fwd = h
		}
	}
	if err := f.store.InsertHistoryEntry(ctx, &model.RatingHistoryEntry{
		ID:       "inv-alice",
		PlayerID: "alice",
		EventID:  "e1",
		MatchID:  m.ID,
		Before:   fwd.After,
		After:    fwd.Before,
		Delta:    -fwd.Delta,
	}); err != nil {
		t.Fatalf("insert inverse: %v", err)
	}
	alice := f.rating(t, "alice")
	alice.RawRating = fwd.Before
	alice.ScoringRating = fwd.Before
	alice.MatchesPlayed = 0
	alice.Streak = 0
	if err := f.store.PutRating(ctx, alice); err != nil {
		t.Fatalf("put rating: %v", err)
	}

	// The retry completes the reversal without reversing alice twice.
	if _, err := f.engine.Undo(ctx, m.ID); err != nil {
		t.Fatalf("retry undo: %v", err)
	}
	alice = f.rating(t, "alice")
	if math.Abs(alice.RawRating-1000) > 1e-9 || alice.MatchesPlayed != 0 {
		t.Errorf("alice reversed twice: %+v", alice)
	}
	bob := f.rating(t, "bob")
	if math.Abs(bob.RawRating-1000) > 1e-9 || bob.MatchesPlayed != 0 {
		t.Errorf("bob not restored: %+v", bob)
	}
	current, err := f.store.GetMatch(ctx, m.ID)
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	if current.Status != model.MatchUndone {
		t.Errorf("status should be undone, got %s", current.Status)
	}
}

func TestUndo_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.h2h(t, "alice", "bob")

	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := f.engine.Undo(ctx, m.ID); err != nil {
		t.Fatalf("first undo: %v", err)
	}
	if _, err := f.engine.Undo(ctx, m.ID); !errors.Is(err, ErrMatchUndone) {
		t.Errorf("expected ErrMatchUndone, got %v", err)
	}
}

func TestUndo_PendingMatch(t *testing.T) {
	f := newFixture(t)
	m := f.h2h(t, "alice", "bob")

	if _, err := f.engine.Undo(context.Background(), m.ID); !errors.Is(err, ErrMatchNotApplied) {
		t.Errorf("expected ErrMatchNotApplied, got %v", err)
	}
}

func TestUndo_TerminalNoReapply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.h2h(t, "alice", "bob")

	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := f.engine.Undo(ctx, m.ID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if _, err := f.engine.Apply(ctx, m.ID); !errors.Is(err, ErrMatchUndone) {
		t.Errorf("undone match must not reapply, got %v", err)
	}
}

func TestApply_FreeForAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.PutEvent(ctx, &model.Event{ID: "ffa", ClusterID: "c1", Mode: model.ModeFreeForAll}); err != nil {
		t.Fatalf("put event: %v", err)
	}
	m, err := f.engine.CreateMatch(ctx, "ffa", model.ModeFreeForAll, []model.Participant{
		{PlayerID: "a", Placement: 1},
		{PlayerID: "b", Placement: 2},
		{PlayerID: "c", Placement: 3},
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	if _, err := f.engine.Apply(ctx, m.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Equal provisional ratings (K=40) scaled by 1/(N-1): each pair win is
	// worth 10, so first place nets +20, middle 0, last -20.
	var sum float64
	for player, want := range map[string]float64{"a": 1020, "b": 1000, "c": 980} {
		r, err := f.store.GetRating(ctx, player, "ffa")
		if err != nil {
			t.Fatalf("get rating: %v", err)
		}
		if math.Abs(r.RawRating-want) > 1e-9 {
			t.Errorf("%s raw should be %f, got %f", player, want, r.RawRating)
		}
		sum += r.RawRating - 1000
	}
	if math.Abs(sum) > 1e-9 {
		t.Errorf("free-for-all should be zero-sum, drift %f", sum)
	}
}

func TestApply_TeamSharedDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.PutEvent(ctx, &model.Event{ID: "team", ClusterID: "c1", Mode: model.ModeTeam}); err != nil {
		t.Fatalf("put event: %v", err)
	}
	m, err := f.engine.CreateMatch(ctx, "team", model.ModeTeam, []model.Participant{
		{PlayerID: "a", Placement: 1, TeamID: "red"},
		{PlayerID: "b", Placement: 1, TeamID: "red"},
		{PlayerID: "c", Placement: 2, TeamID: "blue"},
		{PlayerID: "d", Placement: 2, TeamID: "blue"},
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	res, err := f.engine.Apply(ctx, m.ID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Every red member gains the same shared delta; blue loses it.
	for _, player := range []string{"a", "b"} {
		r, _ := f.store.GetRating(ctx, player, "team")
		if math.Abs(r.RawRating-1020) > 1e-9 {
			t.Errorf("%s raw should be 1020, got %f", player, r.RawRating)
		}
	}
	for _, player := range []string{"c", "d"} {
		r, _ := f.store.GetRating(ctx, player, "team")
		if math.Abs(r.RawRating-980) > 1e-9 {
			t.Errorf("%s raw should be 980, got %f", player, r.RawRating)
		}
	}
	// Betting winner covers the whole winning team.
	if res.WinnerID != "a" {
		t.Errorf("primary winner should be a, got %s", res.WinnerID)
	}
}
