package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lbarena/scoring-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Ledger idempotency relies on the unique index over
// (external_ref, account_id): a replayed transaction violates it and the
// enclosing transaction rolls back, so the check is atomic with the write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Ratings ---

func (s *PostgresStore) GetRating(ctx context.Context, playerID, eventID string) (*model.PlayerEventRating, error) {
	var r model.PlayerEventRating
	err := s.pool.QueryRow(ctx,
		`SELECT player_id, event_id, raw_rating, scoring_rating, matches_played, streak
		 FROM player_event_ratings WHERE player_id = $1 AND event_id = $2`,
		playerID, eventID).
		Scan(&r.PlayerID, &r.EventID, &r.RawRating, &r.ScoringRating, &r.MatchesPlayed, &r.Streak)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("rating %s/%s: %w", playerID, eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get rating %s/%s: %w", playerID, eventID, err)
	}
	return &r, nil
}

func (s *PostgresStore) PutRating(ctx context.Context, r *model.PlayerEventRating) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO player_event_ratings (player_id, event_id, raw_rating, scoring_rating, matches_played, streak)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (player_id, event_id) DO UPDATE
		 SET raw_rating = $3, scoring_rating = $4, matches_played = $5, streak = $6`,
		r.PlayerID, r.EventID, r.RawRating, r.ScoringRating, r.MatchesPlayed, r.Streak)
	return err
}

func (s *PostgresStore) ListRatingsByPlayer(ctx context.Context, playerID string) ([]model.PlayerEventRating, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, event_id, raw_rating, scoring_rating, matches_played, streak
		 FROM player_event_ratings WHERE player_id = $1 ORDER BY event_id`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRatings(rows)
}

func (s *PostgresStore) ListRatingsByEvent(ctx context.Context, eventID string) ([]model.PlayerEventRating, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, event_id, raw_rating, scoring_rating, matches_played, streak
		 FROM player_event_ratings WHERE event_id = $1 ORDER BY player_id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRatings(rows)
}

func scanRatings(rows pgx.Rows) ([]model.PlayerEventRating, error) {
	var out []model.PlayerEventRating
	for rows.Next() {
		var r model.PlayerEventRating
		if err := rows.Scan(&r.PlayerID, &r.EventID, &r.RawRating, &r.ScoringRating, &r.MatchesPlayed, &r.Streak); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- History ---

func (s *PostgresStore) InsertHistoryEntry(ctx context.Context, e *model.RatingHistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rating_history (id, player_id, event_id, match_id, before, after, delta, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.PlayerID, e.EventID, e.MatchID, e.Before, e.After, e.Delta, e.Timestamp)
	return err
}

func (s *PostgresStore) ListHistoryByMatch(ctx context.Context, matchID string) ([]model.RatingHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, player_id, event_id, match_id, before, after, delta, timestamp
		 FROM rating_history WHERE match_id = $1 ORDER BY timestamp`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistory(rows)
}

func (s *PostgresStore) ListHistoryByPlayerEvent(ctx context.Context, playerID, eventID string) ([]model.RatingHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, player_id, event_id, match_id, before, after, delta, timestamp
		 FROM rating_history WHERE player_id = $1 AND event_id = $2 ORDER BY timestamp`,
		playerID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistory(rows)
}

func scanHistory(rows pgx.Rows) ([]model.RatingHistoryEntry, error) {
	var out []model.RatingHistoryEntry
	for rows.Next() {
		var e model.RatingHistoryEntry
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.EventID, &e.MatchID, &e.Before, &e.After, &e.Delta, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Events ---

func (s *PostgresStore) PutEvent(ctx context.Context, e *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, cluster_id, mode, direction)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET cluster_id = $2, mode = $3, direction = $4`,
		e.ID, e.ClusterID, e.Mode, e.Direction)
	return err
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := s.pool.QueryRow(ctx,
		`SELECT id, cluster_id, mode, direction FROM events WHERE id = $1`, id).
		Scan(&e.ID, &e.ClusterID, &e.Mode, &e.Direction)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return &e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cluster_id, mode, direction FROM events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.ClusterID, &e.Mode, &e.Direction); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Matches ---

func (s *PostgresStore) CreateMatch(ctx context.Context, m *model.MatchRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO matches (id, event_id, scoring_mode, status, winner_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.EventID, m.ScoringMode, m.Status, m.WinnerID, m.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("match %s: %w", m.ID, ErrDuplicateMatch)
	}
	if err != nil {
		return err
	}

	for _, p := range m.Participants {
		if _, err := tx.Exec(ctx,
			`INSERT INTO match_participants (match_id, player_id, placement, team_id)
			 VALUES ($1, $2, $3, $4)`,
			m.ID, p.PlayerID, p.Placement, p.TeamID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetMatch(ctx context.Context, id string) (*model.MatchRecord, error) {
	var m model.MatchRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, event_id, scoring_mode, status, winner_id, created_at
		 FROM matches WHERE id = $1`, id).
		Scan(&m.ID, &m.EventID, &m.ScoringMode, &m.Status, &m.WinnerID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT player_id, placement, team_id FROM match_participants WHERE match_id = $1
		 ORDER BY placement, player_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.PlayerID, &p.Placement, &p.TeamID); err != nil {
			return nil, err
		}
		m.Participants = append(m.Participants, p)
	}
	return &m, rows.Err()
}

func (s *PostgresStore) UpdateMatchStatus(ctx context.Context, id string, from, to model.MatchStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetMatch(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("match %s not in status %s: %w", id, from, ErrStatusConflict)
	}
	return nil
}

func (s *PostgresStore) SetMatchWinner(ctx context.Context, id, winnerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET winner_id = $2 WHERE id = $1`, id, winnerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Leaderboard submissions ---

func (s *PostgresStore) UpsertSubmission(ctx context.Context, sub *model.LeaderboardSubmission) error {
	// COALESCE(week_number, -1) backs the uniqueness index so the all-time
	// row (NULL week) is also unique per (player, event).
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leaderboard_submissions (player_id, event_id, score, week_number, timestamp)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (player_id, event_id, COALESCE(week_number, -1)) DO UPDATE
		 SET score = $3, timestamp = $5`,
		sub.PlayerID, sub.EventID, sub.Score, sub.WeekNumber, sub.Timestamp)
	return err
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, eventID string, week *int) ([]model.LeaderboardSubmission, error) {
	var rows pgx.Rows
	var err error
	if week == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT player_id, event_id, score, week_number, timestamp
			 FROM leaderboard_submissions WHERE event_id = $1 AND week_number IS NULL
			 ORDER BY player_id`, eventID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT player_id, event_id, score, week_number, timestamp
			 FROM leaderboard_submissions WHERE event_id = $1 AND week_number = $2
			 ORDER BY player_id`, eventID, *week)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LeaderboardSubmission
	for rows.Next() {
		var sub model.LeaderboardSubmission
		if err := rows.Scan(&sub.PlayerID, &sub.EventID, &sub.Score, &sub.WeekNumber, &sub.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// --- Accounts & ledger ---

func (s *PostgresStore) PutAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, allow_overdraft, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET allow_overdraft = $2`,
		a.ID, a.AllowOverdraft, a.CreatedAt)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, allow_overdraft, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.AllowOverdraft, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return &a, nil
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, ref string, entries []model.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, tx_id, account_id, amount, external_ref, reason, match_id, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.TxID, e.AccountID, e.Amount, e.ExternalRef, e.Reason, e.MatchID, e.Timestamp)
		if isUniqueViolation(err) {
			return fmt.Errorf("ref %s: %w", ref, ErrDuplicateRef)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetTransactionByRef(ctx context.Context, ref string) ([]model.LedgerEntry, error) {
	entries, err := s.queryEntries(ctx,
		`SELECT id, tx_id, account_id, amount, external_ref, reason, match_id, timestamp
		 FROM ledger_entries WHERE external_ref = $1 ORDER BY timestamp, id`, ref)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("ref %s: %w", ref, ErrNotFound)
	}
	return entries, nil
}

func (s *PostgresStore) ListEntriesByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	return s.queryEntries(ctx,
		`SELECT id, tx_id, account_id, amount, external_ref, reason, match_id, timestamp
		 FROM ledger_entries WHERE account_id = $1 ORDER BY timestamp, id`, accountID)
}

func (s *PostgresStore) ListEntriesByMatch(ctx context.Context, matchID string) ([]model.LedgerEntry, error) {
	return s.queryEntries(ctx,
		`SELECT id, tx_id, account_id, amount, external_ref, reason, match_id, timestamp
		 FROM ledger_entries WHERE match_id = $1 ORDER BY timestamp, id`, matchID)
}

func (s *PostgresStore) queryEntries(ctx context.Context, sql string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TxID, &e.AccountID, &e.Amount, &e.ExternalRef, &e.Reason, &e.MatchID, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AccountBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`,
		accountID).Scan(&balance)
	return balance, err
}

// --- Bets ---

func (s *PostgresStore) InsertBet(ctx context.Context, b *model.Bet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bets (id, match_id, bettor_id, chosen_winner_id, amount, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.MatchID, b.BettorID, b.ChosenWinnerID, b.Amount, b.Timestamp)
	return err
}

func (s *PostgresStore) ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error) {
	return s.queryBets(ctx,
		`SELECT id, match_id, bettor_id, chosen_winner_id, amount, timestamp
		 FROM bets WHERE match_id = $1 ORDER BY timestamp, id`, matchID)
}

func (s *PostgresStore) ListBetsByBettor(ctx context.Context, bettorID string) ([]model.Bet, error) {
	return s.queryBets(ctx,
		`SELECT id, match_id, bettor_id, chosen_winner_id, amount, timestamp
		 FROM bets WHERE bettor_id = $1 ORDER BY timestamp, id`, bettorID)
}

func (s *PostgresStore) queryBets(ctx context.Context, sql string, args ...any) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Bet
	for rows.Next() {
		var b model.Bet
		if err := rows.Scan(&b.ID, &b.MatchID, &b.BettorID, &b.ChosenWinnerID, &b.Amount, &b.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
