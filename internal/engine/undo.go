package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lbarena/scoring-engine/internal/ledger"
	"github.com/lbarena/scoring-engine/internal/model"
	"github.com/lbarena/scoring-engine/internal/store"
)

// Undo reverses an applied match. Each affected rating takes the negated
// delta recorded in the match's history trail, applied against current
// state, so matches applied after the undone one keep their effect. Every
// reversal appends an inverse history entry, matches played decrement,
// streaks recompute from the surviving history, and every match-linked
// ledger transaction is reversed under a fresh undo ref.
//
// The applied→undone transition commits last. Every step before it replays
// cleanly — rating reversals are skipped once their inverse entry exists and
// ledger reversals replay by ref — so a crashed undo can be retried until
// the terminal status lands. Undone is terminal: the match cannot be
// reapplied or undone again.
func (e *Engine) Undo(ctx context.Context, matchID string) (*model.UndoResult, error) {
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

	// Re-read under the locks; a concurrent undo may have finished already.
	match, err = e.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	switch match.Status {
	case model.MatchApplied:
	case model.MatchUndone:
		return nil, fmt.Errorf("match %s: %w", matchID, ErrMatchUndone)
	default:
		return nil, fmt.Errorf("match %s: %w", matchID, ErrMatchNotApplied)
	}

	cfg := e.cfg.Get()
	history, err := e.store.ListHistoryByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	// Group the match's entries per player. A single forward entry means the
	// reversal is still owed; a forward+inverse pair means a prior attempt
	// already reversed this player before crashing.
	entries := make(map[string][]model.RatingHistoryEntry)
	for _, entry := range history {
		entries[entry.PlayerID] = append(entries[entry.PlayerID], entry)
	}
	affected := make([]string, 0, len(entries))
	for id := range entries {
		affected = append(affected, id)
	}
	sort.Strings(affected)

	result := &model.UndoResult{MatchID: matchID, AffectedPlayers: affected}
	now := time.Now().UTC()
	for _, playerID := range affected {
		if len(entries[playerID]) != 1 {
			continue
		}
		fwd := entries[playerID][0]

		r, err := e.store.GetRating(ctx, playerID, fwd.EventID)
		if err != nil {
			return nil, err
		}

		newRaw := r.RawRating - fwd.Delta
		if r.RawRating == fwd.After {
			// No later match has touched this rating: restore the recorded
			// value bit-exactly rather than accepting float round-off.
			newRaw = fwd.Before
		}
		inverse := model.RatingHistoryEntry{
			ID:        uuid.New().String(),
			PlayerID:  playerID,
			EventID:   fwd.EventID,
			MatchID:   matchID,
			Before:    r.RawRating,
			After:     newRaw,
			Delta:     -fwd.Delta,
			Timestamp: now,
		}
		if err := e.store.InsertHistoryEntry(ctx, &inverse); err != nil {
			return nil, err
		}

		r.RawRating = newRaw
		r.ScoringRating = scoringRating(r.RawRating, cfg.Rating.Floor)
		if r.MatchesPlayed > 0 {
			r.MatchesPlayed--
		}
		streak, err := e.survivingStreak(ctx, playerID, fwd.EventID, matchID)
		if err != nil {
			return nil, err
		}
		r.Streak = streak

		if err := e.store.PutRating(ctx, r); err != nil {
			return nil, err
		}
	}

	reversed, err := e.reverseLedger(ctx, matchID)
	if err != nil {
		return nil, err
	}
	result.ReversedAmount = reversed

	// Terminal transition, after all reversals have landed.
	if err := e.store.UpdateMatchStatus(ctx, matchID, model.MatchApplied, model.MatchUndone); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("match %s: %w", matchID, ErrMatchUndone)
		}
		return nil, err
	}

	slog.Info("match undone",
		"match", matchID,
		"players", len(result.AffectedPlayers),
		"reversed", reversed,
	)
	return result, nil
}

// reverseLedger reverses every distinct external ref written against the
// match. Refs that are themselves reversals are skipped, and each reversal
// replays by its undo ref, so a crashed undo can be retried safely.
func (e *Engine) reverseLedger(ctx context.Context, matchID string) (int64, error) {
	entries, err := e.store.ListEntriesByMatch(ctx, matchID)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	var refs []string
	for _, entry := range entries {
		if ledger.IsUndoRef(entry.ExternalRef) || seen[entry.ExternalRef] {
			continue
		}
		seen[entry.ExternalRef] = true
		refs = append(refs, entry.ExternalRef)
	}
	sort.Strings(refs)

	var total int64
	for _, ref := range refs {
		amount, err := e.ledger.Reverse(ctx, ref, "match undo")
		if err != nil {
			return 0, err
		}
		total += amount
	}
	return total, nil
}

// survivingStreak recomputes a player's streak from the entries of matches
// that are still applied. Undone matches contribute nothing: neither their
// forward entries nor their inverses.
func (e *Engine) survivingStreak(ctx context.Context, playerID, eventID, undoneMatchID string) (int, error) {
	entries, err := e.store.ListHistoryByPlayerEvent(ctx, playerID, eventID)
	if err != nil {
		return 0, err
	}

	statuses := map[string]model.MatchStatus{undoneMatchID: model.MatchUndone}
	var deltas []float64
	for _, entry := range entries {
		status, ok := statuses[entry.MatchID]
		if !ok {
			m, err := e.store.GetMatch(ctx, entry.MatchID)
			if err != nil {
				return 0, err
			}
			status = m.Status
			statuses[entry.MatchID] = status
		}
		if status != model.MatchApplied {
			continue
		}
		deltas = append(deltas, entry.Delta)
	}
	return tailStreak(deltas), nil
}

// tailStreak is the run of same-sign deltas at the tail of the sequence.
func tailStreak(deltas []float64) int {
	streak := 0
	for i := len(deltas) - 1; i >= 0; i-- {
		d := deltas[i]
		switch {
		case d > 0:
			if streak < 0 {
				return streak
			}
			streak++
		case d < 0:
			if streak > 0 {
				return streak
			}
			streak--
		default:
			return streak
		}
	}
	return streak
}
