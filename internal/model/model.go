// Package model defines the core domain types shared across the scoring engine.
// Ticket amounts are int64 minor units — never float64 for money.
package model

import (
	"time"
)

// ScoringMode selects how a match result is converted into rating deltas.
type ScoringMode string

const (
	ModeHeadToHead  ScoringMode = "head_to_head"
	ModeFreeForAll  ScoringMode = "free_for_all"
	ModeTeam        ScoringMode = "team"
	ModeLeaderboard ScoringMode = "leaderboard"
)

// MatchStatus is the lifecycle state of a match. Applied exactly once;
// undone is terminal.
type MatchStatus string

const (
	MatchPending MatchStatus = "pending"
	MatchApplied MatchStatus = "applied"
	MatchUndone  MatchStatus = "undone"
)

// ScoreDirection declares whether higher or lower absolute scores are better
// for a leaderboard event.
type ScoreDirection string

const (
	DirectionHigh ScoreDirection = "HIGH"
	DirectionLow  ScoreDirection = "LOW"
)

// PlayerEventRating is the per-player, per-event rating record.
// Invariant: ScoringRating = max(RawRating, floor). Rows are created on a
// player's first rated match in an event and never deleted.
type PlayerEventRating struct {
	PlayerID      string  `json:"player_id" db:"player_id"`
	EventID       string  `json:"event_id" db:"event_id"`
	RawRating     float64 `json:"raw_rating" db:"raw_rating"`
	ScoringRating float64 `json:"scoring_rating" db:"scoring_rating"`
	MatchesPlayed int     `json:"matches_played" db:"matches_played"`
	Streak        int     `json:"streak" db:"streak"` // +N win streak, -N loss streak
}

// RatingHistoryEntry is an immutable, append-only record of one rating change.
// It is the sole source of truth for match reversal: undo reads Before/After
// from here and never re-derives the delta from live state.
type RatingHistoryEntry struct {
	ID        string    `json:"id" db:"id"`
	PlayerID  string    `json:"player_id" db:"player_id"`
	EventID   string    `json:"event_id" db:"event_id"`
	MatchID   string    `json:"match_id" db:"match_id"`
	Before    float64   `json:"before" db:"before"`
	After     float64   `json:"after" db:"after"`
	Delta     float64   `json:"delta" db:"delta"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Event describes a rated event and its position in the hierarchy.
type Event struct {
	ID        string         `json:"id" db:"id"`
	ClusterID string         `json:"cluster_id" db:"cluster_id"`
	Mode      ScoringMode    `json:"mode" db:"mode"`
	Direction ScoreDirection `json:"direction,omitempty" db:"direction"` // leaderboard events only
}

// ClusterRating is a derived per-player rating for one cluster. Never stored
// as mutable state — always recomputed from current PlayerEventRating rows.
type ClusterRating struct {
	ClusterID   string  `json:"cluster_id"`
	Raw         float64 `json:"raw"`
	Scoring     float64 `json:"scoring"`
	RatedEvents int     `json:"rated_events"`
}

// OverallRating is the derived top-level rating pair for a player.
type OverallRating struct {
	Raw     float64 `json:"raw"`
	Scoring float64 `json:"scoring"`
}

// HierarchySnapshot bundles a player's derived cluster and overall ratings.
type HierarchySnapshot struct {
	PlayerID   string          `json:"player_id"`
	Clusters   []ClusterRating `json:"clusters"`
	Overall    OverallRating   `json:"overall"`
	ComputedAt time.Time       `json:"computed_at"`
}

// LeaderboardSubmission is one absolute-score submission. WeekNumber nil marks
// the all-time personal-best row; at most one such row exists per
// (player, event), and at most one row per (player, event, week).
type LeaderboardSubmission struct {
	PlayerID   string    `json:"player_id" db:"player_id"`
	EventID    string    `json:"event_id" db:"event_id"`
	Score      float64   `json:"score" db:"score"`
	WeekNumber *int      `json:"week_number" db:"week_number"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}

// Account is a ticket account. Balance is always the sum of the account's
// ledger entries, never a separately mutated counter.
type Account struct {
	ID             string    `json:"id" db:"id"`
	AllowOverdraft bool      `json:"allow_overdraft" db:"allow_overdraft"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// LedgerEntry is one immutable half of a double-entry transfer. All entries
// sharing a TxID sum to zero. ExternalRef is unique per logical operation;
// replaying the same ref is a no-op.
type LedgerEntry struct {
	ID          string    `json:"id" db:"id"`
	TxID        string    `json:"tx_id" db:"tx_id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	Amount      int64     `json:"amount" db:"amount"` // signed minor units
	ExternalRef string    `json:"external_ref" db:"external_ref"`
	Reason      string    `json:"reason" db:"reason"`
	MatchID     string    `json:"match_id,omitempty" db:"match_id"` // links match-scoped transfers for undo
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// TransferResult is returned from a ledger transfer. Replayed is true when the
// external ref had already been applied and no new entries were written.
type TransferResult struct {
	TxID        string `json:"tx_id"`
	ExternalRef string `json:"external_ref"`
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Amount      int64  `json:"amount"`
	Replayed    bool   `json:"replayed"`
}

// Bet is one pari-mutuel stake. Immutable once the betting window for its
// match has closed.
type Bet struct {
	ID             string    `json:"id" db:"id"`
	MatchID        string    `json:"match_id" db:"match_id"`
	BettorID       string    `json:"bettor_id" db:"bettor_id"`
	ChosenWinnerID string    `json:"chosen_winner_id" db:"chosen_winner_id"`
	Amount         int64     `json:"amount" db:"amount"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

// Participant is one entrant in a match. Placement is 1-based (1 = first);
// TeamID is set for team matches.
type Participant struct {
	PlayerID  string `json:"player_id"`
	Placement int    `json:"placement,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
}

// MatchRecord is the durable record of one submitted match.
type MatchRecord struct {
	ID           string        `json:"id" db:"id"`
	EventID      string        `json:"event_id" db:"event_id"`
	ScoringMode  ScoringMode   `json:"scoring_mode" db:"scoring_mode"`
	Participants []Participant `json:"participants"`
	Status       MatchStatus   `json:"status" db:"status"`
	WinnerID     string        `json:"winner_id,omitempty" db:"winner_id"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// Payout is one bettor's share of a settled pool.
type Payout struct {
	BetID    string `json:"bet_id"`
	BettorID string `json:"bettor_id"`
	Amount   int64  `json:"amount"`
}

// SettlementResult summarizes a pari-mutuel settlement. Remainder is the
// integer-rounding residue absorbed by the vig sink; payouts + Vig +
// Remainder = TotalPool always holds.
type SettlementResult struct {
	MatchID     string   `json:"match_id"`
	WinnerID    string   `json:"winner_id"`
	TotalPool   int64    `json:"total_pool"`
	Vig         int64    `json:"vig"`
	PrizePool   int64    `json:"prize_pool"`
	WinningPool int64    `json:"winning_pool"`
	Remainder   int64    `json:"remainder"`
	Payouts     []Payout `json:"payouts"`
}

// UndoResult reports the effects of a match reversal.
type UndoResult struct {
	MatchID         string   `json:"match_id"`
	AffectedPlayers []string `json:"affected_players"`
	ReversedAmount  int64    `json:"reversed_amount"` // total absolute ticket volume reversed
}
