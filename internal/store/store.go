// Package store defines the persistence interface for the scoring engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for player-keyed reads), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/lbarena/scoring-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateRef is returned by AppendTransaction when the external ref
	// has already been applied. The check is atomic with the append.
	ErrDuplicateRef = errors.New("store: external ref already applied")

	// ErrDuplicateMatch is returned when creating a match whose id exists.
	ErrDuplicateMatch = errors.New("store: match already exists")

	// ErrStatusConflict is returned by UpdateMatchStatus when the match is not
	// in the expected prior status.
	ErrStatusConflict = errors.New("store: match not in expected status")
)

// Store is the persistence interface. All mutating methods are atomic per
// call; multi-row operations (AppendTransaction) are all-or-nothing.
type Store interface {
	// --- Player event ratings ---

	// GetRating retrieves one rating row. ErrNotFound if the player has no
	// rated history in the event.
	GetRating(ctx context.Context, playerID, eventID string) (*model.PlayerEventRating, error)

	// PutRating inserts or replaces a rating row.
	PutRating(ctx context.Context, r *model.PlayerEventRating) error

	// ListRatingsByPlayer returns all of a player's event ratings.
	ListRatingsByPlayer(ctx context.Context, playerID string) ([]model.PlayerEventRating, error)

	// ListRatingsByEvent returns all ratings within one event.
	ListRatingsByEvent(ctx context.Context, eventID string) ([]model.PlayerEventRating, error)

	// --- Rating history (immutable, append-only) ---

	// InsertHistoryEntry appends an immutable rating change record.
	InsertHistoryEntry(ctx context.Context, e *model.RatingHistoryEntry) error

	// ListHistoryByMatch returns every history entry written for a match.
	ListHistoryByMatch(ctx context.Context, matchID string) ([]model.RatingHistoryEntry, error)

	// ListHistoryByPlayerEvent returns a player's history in one event,
	// oldest first.
	ListHistoryByPlayerEvent(ctx context.Context, playerID, eventID string) ([]model.RatingHistoryEntry, error)

	// --- Events ---

	// PutEvent inserts or replaces an event definition.
	PutEvent(ctx context.Context, e *model.Event) error

	// GetEvent retrieves an event definition.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// ListEvents returns all event definitions.
	ListEvents(ctx context.Context) ([]model.Event, error)

	// --- Matches ---

	// CreateMatch persists a new match record. ErrDuplicateMatch on id reuse.
	CreateMatch(ctx context.Context, m *model.MatchRecord) error

	// GetMatch retrieves a match by id.
	GetMatch(ctx context.Context, id string) (*model.MatchRecord, error)

	// UpdateMatchStatus transitions a match from one status to another.
	// ErrStatusConflict if the match is not currently in from.
	UpdateMatchStatus(ctx context.Context, id string, from, to model.MatchStatus) error

	// SetMatchWinner records the resolved winner for a match.
	SetMatchWinner(ctx context.Context, id, winnerID string) error

	// --- Leaderboard submissions ---

	// UpsertSubmission inserts or replaces the (player, event, week) row.
	// A nil week targets the all-time personal-best row.
	UpsertSubmission(ctx context.Context, s *model.LeaderboardSubmission) error

	// ListSubmissions returns the submissions for one event and period.
	// A nil week selects the all-time personal-best population.
	ListSubmissions(ctx context.Context, eventID string, week *int) ([]model.LeaderboardSubmission, error)

	// --- Accounts & ledger ---

	// PutAccount inserts or replaces an account.
	PutAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// AppendTransaction appends one transaction's entries. The duplicate-ref
	// check is atomic with the append: ErrDuplicateRef means the ref was
	// applied before and nothing was written.
	AppendTransaction(ctx context.Context, ref string, entries []model.LedgerEntry) error

	// GetTransactionByRef returns the entries previously applied under ref.
	GetTransactionByRef(ctx context.Context, ref string) ([]model.LedgerEntry, error)

	// ListEntriesByAccount returns an account's entries, oldest first.
	ListEntriesByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error)

	// ListEntriesByMatch returns every entry linked to a match.
	ListEntriesByMatch(ctx context.Context, matchID string) ([]model.LedgerEntry, error)

	// AccountBalance computes the balance as the sum of the account's entries.
	AccountBalance(ctx context.Context, accountID string) (int64, error)

	// --- Bets ---

	// InsertBet appends an immutable bet record.
	InsertBet(ctx context.Context, b *model.Bet) error

	// ListBetsByMatch returns all bets placed on a match.
	ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error)

	// ListBetsByBettor returns all bets a bettor has placed.
	ListBetsByBettor(ctx context.Context, bettorID string) ([]model.Bet, error)
}
