// Package betting implements pari-mutuel wagering on pending matches. Stakes
// are escrowed into the house account at placement; settlement splits the
// pool among winning bettors proportionally after the vig is taken.
//
// Pool math uses shopspring/decimal — never float64 for money. Payouts floor
// to whole tickets; the vig and the rounding residue settle into the vig
// sink account.
package betting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lbarena/scoring-engine/internal/ledger"
	"github.com/lbarena/scoring-engine/internal/model"
	"github.com/lbarena/scoring-engine/internal/store"
)

var (
	// ErrBettingClosed is returned when the match is no longer pending.
	ErrBettingClosed = errors.New("betting: match not open for bets")

	// ErrInvalidStake is returned for zero or negative stakes.
	ErrInvalidStake = errors.New("betting: stake must be positive")

	// ErrNotParticipant is returned when the chosen winner is not in the match.
	ErrNotParticipant = errors.New("betting: chosen winner is not a participant")

	// ErrNoWinner is returned when settling without a resolved winner.
	ErrNoWinner = errors.New("betting: match has no resolved winner")
)

// Service handles bet placement and settlement.
type Service struct {
	store   store.Store
	ledger  *ledger.Service
	vigRate decimal.Decimal
	vigSink string
	limiter *StakeLimiter // nil disables stake limits
}

// NewService creates a betting service. vigRate is the house take as a
// fraction of the total pool, e.g. 0.10; vigSink is the account the take and
// any rounding remainder settle into (empty or equal to the house account
// leaves them with the house). Pass nil for limiter to leave stakes
// uncapped.
func NewService(st store.Store, lg *ledger.Service, vigRate float64, vigSink string, limiter *StakeLimiter) *Service {
	return &Service{
		store:   st,
		ledger:  lg,
		vigRate: decimal.NewFromFloat(vigRate),
		vigSink: vigSink,
		limiter: limiter,
	}
}

// PlaceBet escrows the stake and records the bet. The stake moves into the
// house account immediately; a bettor cannot stake tickets they do not hold.
func (s *Service) PlaceBet(ctx context.Context, matchID, bettorID, chosenWinnerID string, amount int64) (*model.Bet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStake, amount)
	}

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status != model.MatchPending {
		return nil, fmt.Errorf("%w: match %s is %s", ErrBettingClosed, matchID, match.Status)
	}
	if !hasParticipant(match, chosenWinnerID) {
		return nil, fmt.Errorf("%w: %s not in match %s", ErrNotParticipant, chosenWinnerID, matchID)
	}

	if s.limiter != nil {
		openStakes, err := s.openStakes(ctx, bettorID)
		if err != nil {
			return nil, err
		}
		if err := s.limiter.CheckLimit(matchID, amount, openStakes); err != nil {
			return nil, err
		}
	}

	bet := &model.Bet{
		ID:             uuid.New().String(),
		MatchID:        matchID,
		BettorID:       bettorID,
		ChosenWinnerID: chosenWinnerID,
		Amount:         amount,
		Timestamp:      time.Now().UTC(),
	}

	// Escrow first: if funds are missing nothing is recorded.
	if _, err := s.ledger.Debit(ctx, bettorID, amount, ledger.EscrowRef(bet.ID), "bet escrow", matchID); err != nil {
		return nil, err
	}
	if err := s.store.InsertBet(ctx, bet); err != nil {
		return nil, err
	}

	slog.Info("bet placed",
		"bet_id", bet.ID,
		"match", matchID,
		"bettor", bettorID,
		"on", chosenWinnerID,
		"amount", amount,
	)
	return bet, nil
}

// Settle distributes the pool for a resolved match. A bet wins when its
// chosen player is among the winners (team matches have one winner per
// member of the winning team). Each winning bettor receives
// floor(stake × prizePool / winningPool); the vig and the rounding remainder
// move from the escrow-holding house account into the vig sink. An empty
// winning pool forfeits the entire pool to the sink.
//
// Settlement is idempotent: payout refs are keyed by (match, bet), so a
// repeated settlement replays the same payouts without paying twice.
func (s *Service) Settle(ctx context.Context, matchID string, winners ...string) (*model.SettlementResult, error) {
	if len(winners) == 0 || winners[0] == "" {
		return nil, fmt.Errorf("%w: match %s", ErrNoWinner, matchID)
	}
	winnerSet := make(map[string]bool, len(winners))
	for _, w := range winners {
		winnerSet[w] = true
	}

	bets, err := s.store.ListBetsByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	result := &model.SettlementResult{MatchID: matchID, WinnerID: winners[0]}
	if len(bets) == 0 {
		return result, nil
	}

	var totalPool, winningPool int64
	for _, b := range bets {
		totalPool += b.Amount
		if winnerSet[b.ChosenWinnerID] {
			winningPool += b.Amount
		}
	}

	total := decimal.NewFromInt(totalPool)
	vig := total.Mul(s.vigRate).Floor()
	prize := total.Sub(vig)

	result.TotalPool = totalPool
	result.Vig = vig.IntPart()
	result.PrizePool = prize.IntPart()
	result.WinningPool = winningPool

	if winningPool == 0 {
		// Nobody backed the winner: the whole pool is forfeit to the vig sink.
		result.Vig = totalPool
		result.PrizePool = 0
		if err := s.sinkVig(ctx, matchID, totalPool); err != nil {
			return nil, err
		}
		slog.Info("pool forfeit", "match", matchID, "winner", winners[0], "pool", totalPool)
		return result, nil
	}

	winning := decimal.NewFromInt(winningPool)
	var paid int64
	for _, b := range bets {
		if !winnerSet[b.ChosenWinnerID] {
			continue
		}
		stake := decimal.NewFromInt(b.Amount)
		payout := stake.Mul(prize).Div(winning).Floor().IntPart()
		if payout > 0 {
			ref := ledger.PayoutRef(matchID, b.ID)
			if _, err := s.ledger.Credit(ctx, b.BettorID, payout, ref, "bet payout", matchID); err != nil {
				return nil, err
			}
		}
		paid += payout
		result.Payouts = append(result.Payouts, model.Payout{
			BetID:    b.ID,
			BettorID: b.BettorID,
			Amount:   payout,
		})
	}
	sort.Slice(result.Payouts, func(i, j int) bool { return result.Payouts[i].BetID < result.Payouts[j].BetID })

	// The flooring residue follows the vig into the sink.
	result.Remainder = result.PrizePool - paid
	if err := s.sinkVig(ctx, matchID, result.Vig+result.Remainder); err != nil {
		return nil, err
	}

	slog.Info("pool settled",
		"match", matchID,
		"winner", winners[0],
		"total", totalPool,
		"vig", result.Vig,
		"paid", paid,
		"remainder", result.Remainder,
	)
	return result, nil
}

// sinkVig moves the settlement's take out of the escrow-holding house
// account into the vig sink. One ref per match, so a replayed settlement
// collects once.
func (s *Service) sinkVig(ctx context.Context, matchID string, amount int64) error {
	if amount <= 0 || s.vigSink == "" || s.vigSink == s.ledger.HouseAccount() {
		return nil
	}
	_, err := s.ledger.Transfer(ctx, s.ledger.HouseAccount(), s.vigSink, amount, ledger.VigRef(matchID), "vig", matchID)
	return err
}

// openStakes sums a bettor's existing stakes on matches still open for
// betting, keyed by match id.
func (s *Service) openStakes(ctx context.Context, bettorID string) (map[string]int64, error) {
	bets, err := s.store.ListBetsByBettor(ctx, bettorID)
	if err != nil {
		return nil, err
	}

	open := make(map[string]int64)
	status := make(map[string]model.MatchStatus)
	for _, b := range bets {
		st, ok := status[b.MatchID]
		if !ok {
			match, err := s.store.GetMatch(ctx, b.MatchID)
			if err != nil {
				return nil, err
			}
			st = match.Status
			status[b.MatchID] = st
		}
		if st == model.MatchPending {
			open[b.MatchID] += b.Amount
		}
	}
	return open, nil
}

func hasParticipant(m *model.MatchRecord, playerID string) bool {
	for _, p := range m.Participants {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}
