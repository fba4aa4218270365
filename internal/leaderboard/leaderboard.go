// Package leaderboard manages absolute-score events: submissions, the weekly
// cadence, and the conversion of scores into event ratings via population
// normalization.
//
// Each player carries two tracks: an all-time personal best (week number nil)
// and one score per week. The event rating is an even blend of the all-time
// rating-equivalent and the average of the weekly rating-equivalents, where a
// skipped week contributes zero.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lbarena/scoring-engine/internal/config"
	"github.com/lbarena/scoring-engine/internal/model"
	"github.com/lbarena/scoring-engine/internal/normalize"
	"github.com/lbarena/scoring-engine/internal/store"
)

var (
	// ErrNotLeaderboard is returned when the event does not take score
	// submissions.
	ErrNotLeaderboard = errors.New("leaderboard: event is not a leaderboard event")

	// ErrInvalidWeek is returned for a non-positive week number.
	ErrInvalidWeek = errors.New("leaderboard: week number must be positive")
)

// Service handles score submissions and rating recomputation.
type Service struct {
	store store.Store
	cfg   *config.Provider
}

// NewService creates a leaderboard service.
func NewService(st store.Store, cfg *config.Provider) *Service {
	return &Service{store: st, cfg: cfg}
}

// SubmitScore records a score. A nil week targets the all-time track, where
// only personal bests stick: a worse score than the existing one is silently
// kept out. Weekly submissions always overwrite that week's row.
//
// Ratings for the whole event shift on every submission, so the event is
// recomputed before returning.
func (s *Service) SubmitScore(ctx context.Context, playerID, eventID string, score float64, week *int, currentWeek int) error {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Mode != model.ModeLeaderboard {
		return fmt.Errorf("%w: %s is %s", ErrNotLeaderboard, eventID, event.Mode)
	}
	if week != nil && *week <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWeek, *week)
	}

	sub := &model.LeaderboardSubmission{
		PlayerID:  playerID,
		EventID:   eventID,
		Score:     score,
		Timestamp: time.Now().UTC(),
	}
	if week != nil {
		w := *week
		sub.WeekNumber = &w
	} else if keep, err := s.keepsPersonalBest(ctx, event, playerID, score); err != nil {
		return err
	} else if !keep {
		slog.Debug("all-time submission below personal best, ignored",
			"player", playerID, "event", eventID, "score", score)
		return nil
	}

	if err := s.store.UpsertSubmission(ctx, sub); err != nil {
		return err
	}
	slog.Info("score submitted",
		"player", playerID,
		"event", eventID,
		"score", score,
		"week", weekLabel(week),
	)
	return s.Recompute(ctx, eventID, currentWeek)
}

func (s *Service) keepsPersonalBest(ctx context.Context, event *model.Event, playerID string, score float64) (bool, error) {
	existing, err := s.store.ListSubmissions(ctx, event.ID, nil)
	if err != nil {
		return false, err
	}
	for _, sub := range existing {
		if sub.PlayerID != playerID {
			continue
		}
		if event.Direction == model.DirectionLow {
			return score < sub.Score, nil
		}
		return score > sub.Score, nil
	}
	return true, nil
}

// Recompute rebuilds every player's rating for one leaderboard event from
// the current submission populations. Pure recomputation: running it twice
// yields identical rows.
func (s *Service) Recompute(ctx context.Context, eventID string, currentWeek int) error {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Mode != model.ModeLeaderboard {
		return fmt.Errorf("%w: %s is %s", ErrNotLeaderboard, eventID, event.Mode)
	}

	cfg := s.cfg.Get()
	params := normalize.Params{
		BaseRating:  cfg.Leaderboard.BaseRating,
		EloPerSigma: cfg.Leaderboard.EloPerSigma,
	}

	// All-time rating-equivalents from the personal-best population.
	allTime, err := s.ratePeriod(ctx, event, nil, params)
	if err != nil {
		return err
	}

	// One rating-equivalent population per elapsed week.
	weekly := make(map[string][]float64)
	for w := 1; w <= currentWeek; w++ {
		week := w
		rated, err := s.ratePeriod(ctx, event, &week, params)
		if err != nil {
			return err
		}
		for player, r := range rated {
			weekly[player] = append(weekly[player], r)
		}
	}

	players := make(map[string]bool)
	for p := range allTime {
		players[p] = true
	}
	for p := range weekly {
		players[p] = true
	}

	for player := range players {
		at, ok := allTime[player]
		if !ok {
			at = params.BaseRating
		}
		final := normalize.Blend(at, normalize.WeeklyAverage(weekly[player], currentWeek))

		existing, err := s.store.GetRating(ctx, player, eventID)
		if errors.Is(err, store.ErrNotFound) {
			existing = &model.PlayerEventRating{PlayerID: player, EventID: eventID}
		} else if err != nil {
			return err
		}
		existing.RawRating = final
		existing.ScoringRating = final
		if existing.ScoringRating < cfg.Rating.Floor {
			existing.ScoringRating = cfg.Rating.Floor
		}
		if err := s.store.PutRating(ctx, existing); err != nil {
			return err
		}
	}

	slog.Info("leaderboard recomputed", "event", eventID, "players", len(players), "weeks", currentWeek)
	return nil
}

// ratePeriod converts one period's submissions into rating-equivalents.
func (s *Service) ratePeriod(ctx context.Context, event *model.Event, week *int, params normalize.Params) (map[string]float64, error) {
	subs, err := s.store.ListSubmissions(ctx, event.ID, week)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return map[string]float64{}, nil
	}

	scores := make(map[string]float64, len(subs))
	for _, sub := range subs {
		scores[sub.PlayerID] = sub.Score
	}
	rated, err := normalize.RatePopulation(scores, event.Direction, params)
	if err != nil {
		if errors.Is(err, normalize.ErrEmptyPopulation) {
			return map[string]float64{}, nil
		}
		return nil, err
	}
	return rated, nil
}

// Standings lists one period's submissions best-first.
func (s *Service) Standings(ctx context.Context, eventID string, week *int) ([]model.LeaderboardSubmission, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Mode != model.ModeLeaderboard {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotLeaderboard, eventID, event.Mode)
	}

	subs, err := s.store.ListSubmissions(ctx, eventID, week)
	if err != nil {
		return nil, err
	}
	sortSubmissions(subs, event.Direction)
	return subs, nil
}

func sortSubmissions(subs []model.LeaderboardSubmission, dir model.ScoreDirection) {
	sort.SliceStable(subs, func(i, j int) bool {
		if dir == model.DirectionLow {
			return subs[i].Score < subs[j].Score
		}
		return subs[i].Score > subs[j].Score
	})
}

func weekLabel(week *int) string {
	if week == nil {
		return "all-time"
	}
	return fmt.Sprintf("week %d", *week)
}
