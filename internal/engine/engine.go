// Package engine applies match results to ratings and reverses them. It
// coordinates the Elo resolver, the rating floor, the history trail, match
// lifecycle transitions, participation rewards, and pool settlement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lbarena/scoring-engine/internal/betting"
	"github.com/lbarena/scoring-engine/internal/config"
	"github.com/lbarena/scoring-engine/internal/elo"
	"github.com/lbarena/scoring-engine/internal/ledger"
	"github.com/lbarena/scoring-engine/internal/model"
	"github.com/lbarena/scoring-engine/internal/store"
)

var (
	// ErrMatchAlreadyApplied is returned when applying a match twice.
	ErrMatchAlreadyApplied = errors.New("engine: match already applied")

	// ErrMatchUndone is returned when operating on an undone match; undone
	// is terminal.
	ErrMatchUndone = errors.New("engine: match has been undone")

	// ErrMatchNotApplied is returned when undoing a match that was never
	// applied.
	ErrMatchNotApplied = errors.New("engine: match not applied")

	// ErrLeaderboardMatch is returned when a match is submitted against a
	// leaderboard event; those take score submissions, not matches.
	ErrLeaderboardMatch = errors.New("engine: leaderboard events do not take matches")
)

// playerLocks hands out one mutex per player id. Locks are always acquired
// in sorted id order so two overlapping matches cannot deadlock.
type playerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPlayerLocks() *playerLocks {
	return &playerLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *playerLocks) acquire(playerIDs []string) (release func()) {
	ids := append([]string(nil), playerIDs...)
	sort.Strings(ids)
	ids = dedupe(ids)

	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		l.mu.Lock()
		m, ok := l.locks[id]
		if !ok {
			m = &sync.Mutex{}
			l.locks[id] = m
		}
		l.mu.Unlock()
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}

// Engine applies and reverses matches.
type Engine struct {
	store   store.Store
	cfg     *config.Provider
	ledger  *ledger.Service
	betting *betting.Service
	locks   *playerLocks
}

// New creates an engine.
func New(st store.Store, cfg *config.Provider, lg *ledger.Service, bt *betting.Service) *Engine {
	return &Engine{
		store:   st,
		cfg:     cfg,
		ledger:  lg,
		betting: bt,
		locks:   newPlayerLocks(),
	}
}

// ApplyResult reports one match application.
type ApplyResult struct {
	MatchID    string                     `json:"match_id"`
	WinnerID   string                     `json:"winner_id"`
	Changes    []model.RatingHistoryEntry `json:"changes"`
	Settlement *model.SettlementResult    `json:"settlement,omitempty"`
}

// CreateMatch records a new pending match. Betting stays open until the
// match is applied.
func (e *Engine) CreateMatch(ctx context.Context, eventID string, mode model.ScoringMode, participants []model.Participant) (*model.MatchRecord, error) {
	if mode == model.ModeLeaderboard {
		return nil, ErrLeaderboardMatch
	}
	if len(participants) < 2 {
		return nil, elo.ErrTooFewParticipants
	}
	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}

	m := &model.MatchRecord{
		ID:           uuid.New().String(),
		EventID:      eventID,
		ScoringMode:  mode,
		Participants: append([]model.Participant(nil), participants...),
		Status:       model.MatchPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.CreateMatch(ctx, m); err != nil {
		return nil, err
	}
	slog.Info("match created", "match", m.ID, "event", eventID, "mode", mode, "players", len(participants))
	return m, nil
}

// Apply resolves a pending match: computes Elo deltas, writes history and
// updated ratings, pays participation rewards, and settles the betting pool.
// A match applies exactly once; reapplying fails and changes nothing.
func (e *Engine) Apply(ctx context.Context, matchID string) (*ApplyResult, error) {
	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	playerIDs := make([]string, 0, len(match.Participants))
	for _, p := range match.Participants {
		playerIDs = append(playerIDs, p.PlayerID)
	}
	release := e.locks.acquire(playerIDs)
	defer release()

	cfg := e.cfg.Get()
	resolver := elo.NewResolver(elo.Params{
		KProvisional:         cfg.Rating.KProvisional,
		KStandard:            cfg.Rating.KStandard,
		ProvisionalThreshold: cfg.Rating.ProvisionalThreshold,
	})

	// Load or initialize ratings before committing the status transition.
	states := make([]elo.PlayerState, 0, len(match.Participants))
	ratings := make(map[string]*model.PlayerEventRating, len(match.Participants))
	for _, p := range match.Participants {
		r, err := e.store.GetRating(ctx, p.PlayerID, match.EventID)
		if errors.Is(err, store.ErrNotFound) {
			r = &model.PlayerEventRating{
				PlayerID:      p.PlayerID,
				EventID:       match.EventID,
				RawRating:     cfg.Rating.Floor,
				ScoringRating: cfg.Rating.Floor,
			}
		} else if err != nil {
			return nil, err
		}
		ratings[p.PlayerID] = r
		states = append(states, elo.PlayerState{
			PlayerID:      p.PlayerID,
			Rating:        r.RawRating,
			MatchesPlayed: r.MatchesPlayed,
			Placement:     p.Placement,
			TeamID:        p.TeamID,
		})
	}

	contribs, err := resolver.Resolve(match.ScoringMode, states)
	if err != nil {
		return nil, err
	}
	deltas := elo.SumByPlayer(contribs)

	// Claim the match. This is the idempotency gate: only one caller wins
	// the pending→applied transition.
	if err := e.store.UpdateMatchStatus(ctx, matchID, model.MatchPending, model.MatchApplied); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			current, getErr := e.store.GetMatch(ctx, matchID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, statusError(current.Status, matchID)
		}
		return nil, err
	}

	now := time.Now().UTC()
	result := &ApplyResult{MatchID: matchID}
	for _, id := range sortedKeys(deltas) {
		r := ratings[id]
		delta := deltas[id]
		entry := model.RatingHistoryEntry{
			ID:        uuid.New().String(),
			PlayerID:  id,
			EventID:   match.EventID,
			MatchID:   matchID,
			Before:    r.RawRating,
			After:     r.RawRating + delta,
			Delta:     delta,
			Timestamp: now,
		}
		if err := e.store.InsertHistoryEntry(ctx, &entry); err != nil {
			return nil, err
		}

		r.RawRating = entry.After
		r.ScoringRating = scoringRating(r.RawRating, cfg.Rating.Floor)
		r.MatchesPlayed++
		r.Streak = nextStreak(r.Streak, delta)
		if err := e.store.PutRating(ctx, r); err != nil {
			return nil, err
		}
		result.Changes = append(result.Changes, entry)
	}

	// Participation rewards, one per (match, player); the ref makes a
	// replay harmless.
	if cfg.Ledger.ParticipationReward > 0 {
		for _, id := range playerIDs {
			ref := ledger.ParticipationRef(matchID, id)
			if _, err := e.ledger.Credit(ctx, id, cfg.Ledger.ParticipationReward, ref, "match participation", matchID); err != nil {
				return nil, err
			}
		}
	}

	winnerList := matchWinners(match)
	if len(winnerList) > 0 {
		result.WinnerID = winnerList[0]
		if err := e.store.SetMatchWinner(ctx, matchID, winnerList[0]); err != nil {
			return nil, err
		}
		settlement, err := e.betting.Settle(ctx, matchID, winnerList...)
		if err != nil {
			return nil, err
		}
		result.Settlement = settlement
	}

	slog.Info("match applied",
		"match", matchID,
		"event", match.EventID,
		"mode", match.ScoringMode,
		"winner", result.WinnerID,
	)
	return result, nil
}

// matchWinners returns every player on the winning side: the placement-1
// player for head-to-head and free-for-all, the whole placement-1 team for
// team matches.
func matchWinners(m *model.MatchRecord) []string {
	var winningTeam string
	var out []string
	for _, p := range m.Participants {
		if p.Placement == 1 {
			if m.ScoringMode == model.ModeTeam {
				winningTeam = p.TeamID
				break
			}
			out = append(out, p.PlayerID)
		}
	}
	if m.ScoringMode == model.ModeTeam && winningTeam != "" {
		for _, p := range m.Participants {
			if p.TeamID == winningTeam {
				out = append(out, p.PlayerID)
			}
		}
	}
	sort.Strings(out)
	return out
}

// nextStreak extends or flips the win/loss streak based on the delta sign.
func nextStreak(current int, delta float64) int {
	switch {
	case delta > 0:
		if current > 0 {
			return current + 1
		}
		return 1
	case delta < 0:
		if current < 0 {
			return current - 1
		}
		return -1
	default:
		return current
	}
}

// scoringRating clamps the raw rating at the floor. Raw keeps the true
// value; only the scoring track is clamped.
func scoringRating(raw, floor float64) float64 {
	if raw < floor {
		return floor
	}
	return raw
}

func statusError(status model.MatchStatus, matchID string) error {
	switch status {
	case model.MatchApplied:
		return fmt.Errorf("match %s: %w", matchID, ErrMatchAlreadyApplied)
	case model.MatchUndone:
		return fmt.Errorf("match %s: %w", matchID, ErrMatchUndone)
	default:
		return fmt.Errorf("match %s: %w", matchID, ErrMatchNotApplied)
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
