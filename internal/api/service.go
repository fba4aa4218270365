// Package api provides the HTTP surface of the scoring engine: match
// lifecycle, score submissions, hierarchy snapshots, the ticket ledger, and
// pari-mutuel betting.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lbarena/scoring-engine/internal/betting"
	"github.com/lbarena/scoring-engine/internal/config"
	"github.com/lbarena/scoring-engine/internal/elo"
	"github.com/lbarena/scoring-engine/internal/engine"
	"github.com/lbarena/scoring-engine/internal/hierarchy"
	"github.com/lbarena/scoring-engine/internal/leaderboard"
	"github.com/lbarena/scoring-engine/internal/ledger"
	"github.com/lbarena/scoring-engine/internal/metrics"
	"github.com/lbarena/scoring-engine/internal/model"
	"github.com/lbarena/scoring-engine/internal/normalize"
	"github.com/lbarena/scoring-engine/internal/store"
)

// Service wires the domain services behind HTTP handlers.
type Service struct {
	store       store.Store
	cfg         *config.Provider
	engine      *engine.Engine
	betting     *betting.Service
	ledger      *ledger.Service
	leaderboard *leaderboard.Service
	hub         *WSHub // optional, nil disables broadcasting
}

// NewService creates the API service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, cfg *config.Provider, eng *engine.Engine, bt *betting.Service, lg *ledger.Service, lb *leaderboard.Service, hub *WSHub) *Service {
	return &Service{
		store:       st,
		cfg:         cfg,
		engine:      eng,
		betting:     bt,
		ledger:      lg,
		leaderboard: lb,
		hub:         hub,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"scoring-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", s.PutEvent)
		r.Get("/events", s.ListEvents)
		r.Get("/events/{eventID}/ratings", s.ListEventRatings)
		r.Get("/events/{eventID}/standings", s.Standings)
		r.Post("/events/{eventID}/recompute", s.RecomputeEvent)

		r.Post("/matches", s.CreateMatch)
		r.Get("/matches/{matchID}", s.GetMatch)
		r.Post("/matches/{matchID}/apply", s.ApplyMatch)
		r.Post("/matches/{matchID}/undo", s.UndoMatch)
		r.Get("/matches/{matchID}/bets", s.ListMatchBets)

		r.Post("/bets", s.PlaceBet)
		r.Post("/scores", s.SubmitScore)

		r.Get("/players/{playerID}/ratings", s.ListPlayerRatings)
		r.Get("/players/{playerID}/hierarchy", s.HierarchySnapshot)

		r.Post("/transfers", s.Transfer)
		r.Get("/accounts/{accountID}/balance", s.Balance)
		r.Get("/accounts/{accountID}/entries", s.Entries)

		r.Post("/admin/grants", s.GrantTickets)
		r.Post("/admin/events/{eventID}/reset", s.ResetEventRatings)
		r.Post("/admin/players/{playerID}/reset", s.ResetPlayerRatings)

		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
	})
	return r
}

// --- Events ---

// PutEventRequest is the JSON body for event creation.
type PutEventRequest struct {
	ID        string               `json:"id"`
	ClusterID string               `json:"cluster_id"`
	Mode      model.ScoringMode    `json:"mode"`
	Direction model.ScoreDirection `json:"direction,omitempty"`
}

// PutEvent handles POST /api/v1/events
func (s *Service) PutEvent(w http.ResponseWriter, r *http.Request) {
	var req PutEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.ClusterID == "" {
		writeError(w, "id and cluster_id are required", http.StatusBadRequest)
		return
	}
	switch req.Mode {
	case model.ModeHeadToHead, model.ModeFreeForAll, model.ModeTeam:
	case model.ModeLeaderboard:
		if req.Direction != model.DirectionHigh && req.Direction != model.DirectionLow {
			writeError(w, "leaderboard events need direction HIGH or LOW", http.StatusBadRequest)
			return
		}
	default:
		writeError(w, "unknown scoring mode", http.StatusBadRequest)
		return
	}

	event := &model.Event{ID: req.ID, ClusterID: req.ClusterID, Mode: req.Mode, Direction: req.Direction}
	if err := s.store.PutEvent(r.Context(), event); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /api/v1/events
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListEventRatings handles GET /api/v1/events/{eventID}/ratings
func (s *Service) ListEventRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := s.store.ListRatingsByEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if ratings == nil {
		ratings = []model.PlayerEventRating{}
	}
	writeJSON(w, http.StatusOK, ratings)
}

// --- Matches ---

// CreateMatchRequest is the JSON body for match creation.
type CreateMatchRequest struct {
	EventID      string              `json:"event_id"`
	Mode         model.ScoringMode   `json:"mode"`
	Participants []model.Participant `json:"participants"`
}

// CreateMatch handles POST /api/v1/matches
func (s *Service) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	match, err := s.engine.CreateMatch(r.Context(), req.EventID, req.Mode, req.Participants)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, match)
}

// GetMatch handles GET /api/v1/matches/{matchID}
func (s *Service) GetMatch(w http.ResponseWriter, r *http.Request) {
	match, err := s.store.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

// ApplyMatch handles POST /api/v1/matches/{matchID}/apply
func (s *Service) ApplyMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	start := time.Now()

	result, err := s.engine.Apply(r.Context(), matchID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	match, merr := s.store.GetMatch(r.Context(), matchID)
	if merr == nil {
		mode := string(match.ScoringMode)
		metrics.MatchesApplied.WithLabelValues(mode).Inc()
		metrics.ApplyLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: "match_applied", MatchID: matchID, WinnerID: result.WinnerID})
		if result.Settlement != nil && result.Settlement.TotalPool > 0 {
			s.hub.Broadcast(WSMessage{
				Type:    "pool_settled",
				MatchID: matchID,
				Amount:  result.Settlement.TotalPool,
			})
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// UndoMatch handles POST /api/v1/matches/{matchID}/undo
func (s *Service) UndoMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	result, err := s.engine.Undo(r.Context(), matchID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	metrics.MatchesUndone.Inc()

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: "match_undone", MatchID: matchID, Amount: result.ReversedAmount})
	}
	writeJSON(w, http.StatusOK, result)
}

// ListMatchBets handles GET /api/v1/matches/{matchID}/bets
func (s *Service) ListMatchBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.store.ListBetsByMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// --- Betting ---

// PlaceBetRequest is the JSON body for POST /api/v1/bets.
type PlaceBetRequest struct {
	MatchID        string `json:"match_id"`
	BettorID       string `json:"bettor_id"`
	ChosenWinnerID string `json:"chosen_winner_id"`
	Amount         int64  `json:"amount"`
}

// PlaceBet handles POST /api/v1/bets
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BettorID == "" {
		writeError(w, "bettor_id is required", http.StatusBadRequest)
		return
	}

	bet, err := s.betting.PlaceBet(r.Context(), req.MatchID, req.BettorID, req.ChosenWinnerID, req.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	metrics.BetsPlaced.Inc()
	metrics.BetVolume.Add(float64(bet.Amount))
	writeJSON(w, http.StatusCreated, bet)
}

// --- Leaderboard ---

// SubmitScoreRequest is the JSON body for POST /api/v1/scores.
type SubmitScoreRequest struct {
	PlayerID    string  `json:"player_id"`
	EventID     string  `json:"event_id"`
	Score       float64 `json:"score"`
	WeekNumber  *int    `json:"week_number,omitempty"` // nil targets the all-time track
	CurrentWeek int     `json:"current_week"`
}

// SubmitScore handles POST /api/v1/scores
func (s *Service) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req SubmitScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" || req.EventID == "" {
		writeError(w, "player_id and event_id are required", http.StatusBadRequest)
		return
	}
	if req.CurrentWeek < 0 {
		writeError(w, "current_week must not be negative", http.StatusBadRequest)
		return
	}

	if err := s.leaderboard.SubmitScore(r.Context(), req.PlayerID, req.EventID, req.Score, req.WeekNumber, req.CurrentWeek); err != nil {
		s.writeDomainError(w, err)
		return
	}
	metrics.ScoreSubmissions.Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// RecomputeRequest is the JSON body for POST /api/v1/events/{eventID}/recompute.
type RecomputeRequest struct {
	CurrentWeek int `json:"current_week"`
}

// RecomputeEvent handles POST /api/v1/events/{eventID}/recompute. Used at
// week close to fold the finished week into everyone's blended rating.
func (s *Service) RecomputeEvent(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.leaderboard.Recompute(r.Context(), chi.URLParam(r, "eventID"), req.CurrentWeek); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recomputed"})
}

// Standings handles GET /api/v1/events/{eventID}/standings?week=N
func (s *Service) Standings(w http.ResponseWriter, r *http.Request) {
	var week *int
	if raw := r.URL.Query().Get("week"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "week must be an integer", http.StatusBadRequest)
			return
		}
		week = &n
	}
	subs, err := s.leaderboard.Standings(r.Context(), chi.URLParam(r, "eventID"), week)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if subs == nil {
		subs = []model.LeaderboardSubmission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// --- Players ---

// ListPlayerRatings handles GET /api/v1/players/{playerID}/ratings
func (s *Service) ListPlayerRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := s.store.ListRatingsByPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if ratings == nil {
		ratings = []model.PlayerEventRating{}
	}
	writeJSON(w, http.StatusOK, ratings)
}

// HierarchySnapshot handles GET /api/v1/players/{playerID}/hierarchy
// The snapshot is derived on every call from current ratings; nothing about
// it is stored, so it can never drift out of date.
func (s *Service) HierarchySnapshot(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	ctx := r.Context()

	ratings, err := s.store.ListRatingsByPlayer(ctx, playerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	eventCluster := make(map[string]string, len(events))
	seen := make(map[string]bool)
	var clusterIDs []string
	for _, e := range events {
		eventCluster[e.ID] = e.ClusterID
		if !seen[e.ClusterID] {
			seen[e.ClusterID] = true
			clusterIDs = append(clusterIDs, e.ClusterID)
		}
	}

	cfg := s.cfg.Get()
	agg := hierarchy.NewAggregator(hierarchy.Weights{
		PrestigeMultipliers: cfg.Hierarchy.PrestigeMultipliers,
		Baseline:            cfg.Leaderboard.BaseRating,
		TotalClusters:       cfg.Hierarchy.TotalClusters,
		TopCount:            cfg.Hierarchy.TopCount,
		TopWeight:           cfg.Hierarchy.TopWeight,
		MidCount:            cfg.Hierarchy.MidCount,
		MidWeight:           cfg.Hierarchy.MidWeight,
		TailCount:           cfg.Hierarchy.TailCount,
		TailWeight:          cfg.Hierarchy.TailWeight,
	})
	writeJSON(w, http.StatusOK, agg.Snapshot(playerID, ratings, eventCluster, clusterIDs))
}

// --- Ledger ---

// TransferRequest is the JSON body for POST /api/v1/transfers.
type TransferRequest struct {
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Amount      int64  `json:"amount"`
	ExternalRef string `json:"external_ref"`
	Reason      string `json:"reason"`
}

// Transfer handles POST /api/v1/transfers
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FromAccount == "" || req.ToAccount == "" || req.ExternalRef == "" {
		writeError(w, "from_account, to_account, and external_ref are required", http.StatusBadRequest)
		return
	}

	result, err := s.ledger.Transfer(r.Context(), req.FromAccount, req.ToAccount, req.Amount, req.ExternalRef, req.Reason, "")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if result.Replayed {
		metrics.LedgerReplays.Inc()
	} else {
		metrics.LedgerTransfers.WithLabelValues("transfer").Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

// Balance handles GET /api/v1/accounts/{accountID}/balance
func (s *Service) Balance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	balance, err := s.ledger.Balance(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": accountID, "balance": balance})
}

// Entries handles GET /api/v1/accounts/{accountID}/entries
func (s *Service) Entries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Entries(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Admin ---

// GrantRequest is the JSON body for POST /api/v1/admin/grants.
type GrantRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	GrantID   string `json:"grant_id,omitempty"` // supplied for idempotent retries
	Reason    string `json:"reason,omitempty"`
}

// GrantTickets handles POST /api/v1/admin/grants
func (s *Service) GrantTickets(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if req.GrantID == "" {
		req.GrantID = uuid.New().String()
	}
	reason := req.Reason
	if reason == "" {
		reason = "admin grant"
	}

	result, err := s.ledger.Credit(r.Context(), req.AccountID, req.Amount, ledger.GrantRef(req.GrantID), reason, "")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	metrics.LedgerTransfers.WithLabelValues("grant").Inc()
	writeJSON(w, http.StatusCreated, result)
}

// ResetEventRequest is the JSON body for POST /api/v1/admin/events/{eventID}/reset.
type ResetEventRequest struct {
	PlayerID string `json:"player_id,omitempty"` // empty resets every player
}

// ResetEventRatings handles POST /api/v1/admin/events/{eventID}/reset.
// Ratings return to the floor with zeroed match counts and streaks; the
// history trail is left intact for audit.
func (s *Service) ResetEventRatings(w http.ResponseWriter, r *http.Request) {
	var req ResetEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	eventID := chi.URLParam(r, "eventID")
	ctx := r.Context()

	ratings, err := s.store.ListRatingsByEvent(ctx, eventID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	floor := s.cfg.Get().Rating.Floor
	var reset int
	for i := range ratings {
		if req.PlayerID != "" && ratings[i].PlayerID != req.PlayerID {
			continue
		}
		ratings[i].RawRating = floor
		ratings[i].ScoringRating = floor
		ratings[i].MatchesPlayed = 0
		ratings[i].Streak = 0
		if err := s.store.PutRating(ctx, &ratings[i]); err != nil {
			s.writeDomainError(w, err)
			return
		}
		reset++
	}

	slog.Info("event ratings reset", "event", eventID, "player", req.PlayerID, "count", reset)
	writeJSON(w, http.StatusOK, map[string]any{"event_id": eventID, "reset": reset})
}

// ResetPlayerRatings handles POST /api/v1/admin/players/{playerID}/reset.
// Every event rating the player holds returns to the floor; derived cluster
// and overall ratings follow on the next hierarchy read.
func (s *Service) ResetPlayerRatings(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	ctx := r.Context()

	ratings, err := s.store.ListRatingsByPlayer(ctx, playerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	floor := s.cfg.Get().Rating.Floor
	for i := range ratings {
		ratings[i].RawRating = floor
		ratings[i].ScoringRating = floor
		ratings[i].MatchesPlayed = 0
		ratings[i].Streak = 0
		if err := s.store.PutRating(ctx, &ratings[i]); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}

	slog.Info("player ratings reset", "player", playerID, "count", len(ratings))
	writeJSON(w, http.StatusOK, map[string]any{"player_id": playerID, "reset": len(ratings)})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses.
func (s *Service) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrMatchAlreadyApplied),
		errors.Is(err, engine.ErrMatchUndone),
		errors.Is(err, engine.ErrMatchNotApplied),
		errors.Is(err, betting.ErrBettingClosed),
		errors.Is(err, betting.ErrMatchStakeLimit),
		errors.Is(err, betting.ErrOpenStakeLimit),
		errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, store.ErrDuplicateMatch):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrSameAccount),
		errors.Is(err, ledger.ErrInvalidRef),
		errors.Is(err, betting.ErrInvalidStake),
		errors.Is(err, betting.ErrNotParticipant),
		errors.Is(err, betting.ErrNoWinner),
		errors.Is(err, engine.ErrLeaderboardMatch),
		errors.Is(err, leaderboard.ErrNotLeaderboard),
		errors.Is(err, leaderboard.ErrInvalidWeek),
		errors.Is(err, elo.ErrInvalidScoringMode),
		errors.Is(err, elo.ErrDrawNotSupported),
		errors.Is(err, elo.ErrDuplicatePlacement),
		errors.Is(err, elo.ErrTeamCount),
		errors.Is(err, elo.ErrTooFewParticipants),
		errors.Is(err, normalize.ErrInvalidScoreDirection):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("internal error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
