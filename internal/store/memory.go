package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lbarena/scoring-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	ratings     map[string]*model.PlayerEventRating // playerID|eventID
	history     []model.RatingHistoryEntry
	events      map[string]*model.Event
	matches     map[string]*model.MatchRecord
	submissions map[string]*model.LeaderboardSubmission // eventID|playerID|week
	accounts    map[string]*model.Account
	ledger      []model.LedgerEntry
	refs        map[string][]int // external ref → ledger indices
	bets        []model.Bet
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ratings:     make(map[string]*model.PlayerEventRating),
		events:      make(map[string]*model.Event),
		matches:     make(map[string]*model.MatchRecord),
		submissions: make(map[string]*model.LeaderboardSubmission),
		accounts:    make(map[string]*model.Account),
		refs:        make(map[string][]int),
	}
}

func ratingKey(playerID, eventID string) string { return playerID + "|" + eventID }

func submissionKey(s *model.LeaderboardSubmission) string {
	week := "alltime"
	if s.WeekNumber != nil {
		week = fmt.Sprintf("w%d", *s.WeekNumber)
	}
	return s.EventID + "|" + s.PlayerID + "|" + week
}

// --- Ratings ---

func (s *MemoryStore) GetRating(_ context.Context, playerID, eventID string) (*model.PlayerEventRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.ratings[ratingKey(playerID, eventID)]
	if !ok {
		return nil, fmt.Errorf("rating %s/%s: %w", playerID, eventID, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) PutRating(_ context.Context, r *model.PlayerEventRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.ratings[ratingKey(r.PlayerID, r.EventID)] = &cp
	return nil
}

func (s *MemoryStore) ListRatingsByPlayer(_ context.Context, playerID string) ([]model.PlayerEventRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PlayerEventRating
	for _, r := range s.ratings {
		if r.PlayerID == playerID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (s *MemoryStore) ListRatingsByEvent(_ context.Context, eventID string) ([]model.PlayerEventRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PlayerEventRating
	for _, r := range s.ratings {
		if r.EventID == eventID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

// --- History ---

func (s *MemoryStore) InsertHistoryEntry(_ context.Context, e *model.RatingHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, *e)
	return nil
}

func (s *MemoryStore) ListHistoryByMatch(_ context.Context, matchID string) ([]model.RatingHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RatingHistoryEntry
	for _, e := range s.history {
		if e.MatchID == matchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListHistoryByPlayerEvent(_ context.Context, playerID, eventID string) ([]model.RatingHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RatingHistoryEntry
	for _, e := range s.history {
		if e.PlayerID == playerID && e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Events ---

func (s *MemoryStore) PutEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Matches ---

func (s *MemoryStore) CreateMatch(_ context.Context, m *model.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[m.ID]; ok {
		return fmt.Errorf("match %s: %w", m.ID, ErrDuplicateMatch)
	}
	cp := *m
	cp.Participants = append([]model.Participant(nil), m.Participants...)
	s.matches[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id string) (*model.MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	cp := *m
	cp.Participants = append([]model.Participant(nil), m.Participants...)
	return &cp, nil
}

func (s *MemoryStore) UpdateMatchStatus(_ context.Context, id string, from, to model.MatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	if m.Status != from {
		return fmt.Errorf("match %s is %s, expected %s: %w", id, m.Status, from, ErrStatusConflict)
	}
	m.Status = to
	return nil
}

func (s *MemoryStore) SetMatchWinner(_ context.Context, id, winnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	m.WinnerID = winnerID
	return nil
}

// --- Leaderboard submissions ---

func (s *MemoryStore) UpsertSubmission(_ context.Context, sub *model.LeaderboardSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sub
	if sub.WeekNumber != nil {
		w := *sub.WeekNumber
		cp.WeekNumber = &w
	}
	s.submissions[submissionKey(sub)] = &cp
	return nil
}

func (s *MemoryStore) ListSubmissions(_ context.Context, eventID string, week *int) ([]model.LeaderboardSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LeaderboardSubmission
	for _, sub := range s.submissions {
		if sub.EventID != eventID {
			continue
		}
		if week == nil && sub.WeekNumber != nil {
			continue
		}
		if week != nil && (sub.WeekNumber == nil || *sub.WeekNumber != *week) {
			continue
		}
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

// --- Accounts & ledger ---

func (s *MemoryStore) PutAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

// AppendTransaction holds the write lock across the duplicate check and the
// append, making the idempotency check atomic with the write.
func (s *MemoryStore) AppendTransaction(_ context.Context, ref string, entries []model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refs[ref]; ok {
		return fmt.Errorf("ref %s: %w", ref, ErrDuplicateRef)
	}
	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		indices = append(indices, len(s.ledger))
		s.ledger = append(s.ledger, e)
	}
	s.refs[ref] = indices
	return nil
}

func (s *MemoryStore) GetTransactionByRef(_ context.Context, ref string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indices, ok := s.refs[ref]
	if !ok {
		return nil, fmt.Errorf("ref %s: %w", ref, ErrNotFound)
	}
	out := make([]model.LedgerEntry, 0, len(indices))
	for _, i := range indices {
		out = append(out, s.ledger[i])
	}
	return out, nil
}

func (s *MemoryStore) ListEntriesByAccount(_ context.Context, accountID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LedgerEntry
	for _, e := range s.ledger {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEntriesByMatch(_ context.Context, matchID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.LedgerEntry
	for _, e := range s.ledger {
		if e.MatchID == matchID {
			out = append(out, e)
		}
	}
	return out, nil
}

// AccountBalance aggregates from the ledger under one lock — balance and
// audit trail cannot diverge because there is no separate counter.
func (s *MemoryStore) AccountBalance(_ context.Context, accountID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var balance int64
	for _, e := range s.ledger {
		if e.AccountID == accountID {
			balance += e.Amount
		}
	}
	return balance, nil
}

// --- Bets ---

func (s *MemoryStore) InsertBet(_ context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bets = append(s.bets, *b)
	return nil
}

func (s *MemoryStore) ListBetsByMatch(_ context.Context, matchID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Bet
	for _, b := range s.bets {
		if b.MatchID == matchID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListBetsByBettor(_ context.Context, bettorID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Bet
	for _, b := range s.bets {
		if b.BettorID == bettorID {
			out = append(out, b)
		}
	}
	return out, nil
}
