package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lbarena/scoring-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Only the hot paths are
// cached: single ratings, per-player rating lists, event definitions, and
// account balances.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Ratings (read-through; writes invalidate) ---

func (s *CachedStore) GetRating(ctx context.Context, playerID, eventID string) (*model.PlayerEventRating, error) {
	data, err := s.rdb.Get(ctx, ratingCacheKey(playerID, eventID)).Bytes()
	if err == nil {
		var r model.PlayerEventRating
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetRating(ctx, playerID, eventID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, ratingCacheKey(playerID, eventID), data, s.ttl)
	}
	return r, nil
}

func (s *CachedStore) PutRating(ctx context.Context, r *model.PlayerEventRating) error {
	if err := s.primary.PutRating(ctx, r); err != nil {
		return err
	}
	// Invalidate both the single-rating key and the player's list; next read
	// re-populates from the primary.
	s.rdb.Del(ctx, ratingCacheKey(r.PlayerID, r.EventID), playerRatingsKey(r.PlayerID))
	return nil
}

func (s *CachedStore) ListRatingsByPlayer(ctx context.Context, playerID string) ([]model.PlayerEventRating, error) {
	data, err := s.rdb.Get(ctx, playerRatingsKey(playerID)).Bytes()
	if err == nil {
		var ratings []model.PlayerEventRating
		if json.Unmarshal(data, &ratings) == nil {
			return ratings, nil
		}
	}

	ratings, err := s.primary.ListRatingsByPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(ratings); err == nil {
		s.rdb.Set(ctx, playerRatingsKey(playerID), data, s.ttl)
	}
	return ratings, nil
}

func (s *CachedStore) ListRatingsByEvent(ctx context.Context, eventID string) ([]model.PlayerEventRating, error) {
	return s.primary.ListRatingsByEvent(ctx, eventID)
}

// --- History (append-only, not cached) ---

func (s *CachedStore) InsertHistoryEntry(ctx context.Context, e *model.RatingHistoryEntry) error {
	return s.primary.InsertHistoryEntry(ctx, e)
}

func (s *CachedStore) ListHistoryByMatch(ctx context.Context, matchID string) ([]model.RatingHistoryEntry, error) {
	return s.primary.ListHistoryByMatch(ctx, matchID)
}

func (s *CachedStore) ListHistoryByPlayerEvent(ctx context.Context, playerID, eventID string) ([]model.RatingHistoryEntry, error) {
	return s.primary.ListHistoryByPlayerEvent(ctx, playerID, eventID)
}

// --- Events (read-through; writes invalidate) ---

func (s *CachedStore) PutEvent(ctx context.Context, e *model.Event) error {
	if err := s.primary.PutEvent(ctx, e); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventCacheKey(e.ID))
	return nil
}

func (s *CachedStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	data, err := s.rdb.Get(ctx, eventCacheKey(id)).Bytes()
	if err == nil {
		var e model.Event
		if json.Unmarshal(data, &e) == nil {
			return &e, nil
		}
	}

	e, err := s.primary.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(e); err == nil {
		s.rdb.Set(ctx, eventCacheKey(id), data, s.ttl)
	}
	return e, nil
}

func (s *CachedStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.primary.ListEvents(ctx)
}

// --- Matches (passthrough; status drives money, never served stale) ---

func (s *CachedStore) CreateMatch(ctx context.Context, m *model.MatchRecord) error {
	return s.primary.CreateMatch(ctx, m)
}

func (s *CachedStore) GetMatch(ctx context.Context, id string) (*model.MatchRecord, error) {
	return s.primary.GetMatch(ctx, id)
}

func (s *CachedStore) UpdateMatchStatus(ctx context.Context, id string, from, to model.MatchStatus) error {
	return s.primary.UpdateMatchStatus(ctx, id, from, to)
}

func (s *CachedStore) SetMatchWinner(ctx context.Context, id, winnerID string) error {
	return s.primary.SetMatchWinner(ctx, id, winnerID)
}

// --- Leaderboard submissions (passthrough) ---

func (s *CachedStore) UpsertSubmission(ctx context.Context, sub *model.LeaderboardSubmission) error {
	return s.primary.UpsertSubmission(ctx, sub)
}

func (s *CachedStore) ListSubmissions(ctx context.Context, eventID string, week *int) ([]model.LeaderboardSubmission, error) {
	return s.primary.ListSubmissions(ctx, eventID, week)
}

// --- Accounts & ledger ---

func (s *CachedStore) PutAccount(ctx context.Context, a *model.Account) error {
	return s.primary.PutAccount(ctx, a)
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) AppendTransaction(ctx context.Context, ref string, entries []model.LedgerEntry) error {
	if err := s.primary.AppendTransaction(ctx, ref, entries); err != nil {
		return err
	}
	// Invalidate every touched balance; next read re-populates.
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, balanceCacheKey(e.AccountID))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

func (s *CachedStore) GetTransactionByRef(ctx context.Context, ref string) ([]model.LedgerEntry, error) {
	return s.primary.GetTransactionByRef(ctx, ref)
}

func (s *CachedStore) ListEntriesByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	return s.primary.ListEntriesByAccount(ctx, accountID)
}

func (s *CachedStore) ListEntriesByMatch(ctx context.Context, matchID string) ([]model.LedgerEntry, error) {
	return s.primary.ListEntriesByMatch(ctx, matchID)
}

func (s *CachedStore) AccountBalance(ctx context.Context, accountID string) (int64, error) {
	data, err := s.rdb.Get(ctx, balanceCacheKey(accountID)).Result()
	if err == nil {
		var balance int64
		if json.Unmarshal([]byte(data), &balance) == nil {
			return balance, nil
		}
	}

	balance, err := s.primary.AccountBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}

	s.rdb.Set(ctx, balanceCacheKey(accountID), balance, s.ttl)
	return balance, nil
}

// --- Bets (passthrough) ---

func (s *CachedStore) InsertBet(ctx context.Context, b *model.Bet) error {
	return s.primary.InsertBet(ctx, b)
}

func (s *CachedStore) ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error) {
	return s.primary.ListBetsByMatch(ctx, matchID)
}

func (s *CachedStore) ListBetsByBettor(ctx context.Context, bettorID string) ([]model.Bet, error) {
	return s.primary.ListBetsByBettor(ctx, bettorID)
}

// --- Cache keys ---

func ratingCacheKey(playerID, eventID string) string {
	return fmt.Sprintf("rating:%s:%s", playerID, eventID)
}
func playerRatingsKey(playerID string) string { return fmt.Sprintf("ratings:%s", playerID) }
func eventCacheKey(id string) string          { return fmt.Sprintf("event:%s", id) }
func balanceCacheKey(id string) string        { return fmt.Sprintf("balance:%s", id) }
