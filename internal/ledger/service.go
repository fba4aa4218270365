// Package ledger implements the double-entry ticket ledger. Balances are
// never stored as counters; they are always the sum of an account's entries,
// so the audit trail and the balance cannot diverge.
//
// Amounts are int64 minor units — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lbarena/scoring-engine/internal/model"
	"github.com/lbarena/scoring-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a debit would take a
	// no-overdraft account below zero. Nothing is written.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidAmount is returned for zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrSameAccount is returned when source and destination coincide.
	ErrSameAccount = errors.New("ledger: transfer to self")
)

// Service executes ledger transfers. Uses a mutex for serialized execution
// (single-instance); the balance check and the append happen under one lock
// so concurrent debits cannot both pass the funds check.
type Service struct {
	store store.Store
	house string // house account id, created with overdraft allowed
	mu    sync.Mutex
}

// NewService creates a ledger service. The house account backs rewards and
// grants and absorbs vig; it is allowed to go negative.
func NewService(st store.Store, houseAccount string) *Service {
	return &Service{store: st, house: houseAccount}
}

// HouseAccount returns the configured house account id.
func (s *Service) HouseAccount() string { return s.house }

// EnsureAccount creates the account if it does not exist yet. Existing
// accounts are left untouched.
func (s *Service) EnsureAccount(ctx context.Context, id string, allowOverdraft bool) error {
	_, err := s.store.GetAccount(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return s.store.PutAccount(ctx, &model.Account{
		ID:             id,
		AllowOverdraft: allowOverdraft,
		CreatedAt:      time.Now().UTC(),
	})
}

// Transfer moves amount from one account to another as a balanced pair of
// entries sharing a TxID. ref is the idempotency key: if it was applied
// before, the prior transaction is returned with Replayed set and nothing is
// written.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64, ref, reason, matchID string) (*model.TransferResult, error) {
	return s.transfer(ctx, from, to, amount, ref, reason, matchID, false)
}

// force skips the funds check. Reversals use it: an undo must restore the
// ledger even when the payer has already spent the money, leaving them
// negative rather than leaving the books unbalanced.
func (s *Service) transfer(ctx context.Context, from, to string, amount int64, ref, reason, matchID string, force bool) (*model.TransferResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if from == to {
		return nil, fmt.Errorf("%w: %s", ErrSameAccount, from)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replay check before any balance work: a replayed ref must return the
	// original outcome even if balances have since changed.
	if prior, err := s.store.GetTransactionByRef(ctx, ref); err == nil {
		return replayResult(ref, prior), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := s.EnsureAccount(ctx, from, false); err != nil {
		return nil, err
	}
	if err := s.EnsureAccount(ctx, to, false); err != nil {
		return nil, err
	}

	fromAccount, err := s.store.GetAccount(ctx, from)
	if err != nil {
		return nil, err
	}
	if !force && !fromAccount.AllowOverdraft {
		balance, err := s.store.AccountBalance(ctx, from)
		if err != nil {
			return nil, err
		}
		if balance < amount {
			return nil, fmt.Errorf("%w: account %s has %d, needs %d", ErrInsufficientFunds, from, balance, amount)
		}
	}

	txID := uuid.New().String()
	now := time.Now().UTC()
	entries := []model.LedgerEntry{
		{
			ID:          uuid.New().String(),
			TxID:        txID,
			AccountID:   from,
			Amount:      -amount,
			ExternalRef: ref,
			Reason:      reason,
			MatchID:     matchID,
			Timestamp:   now,
		},
		{
			ID:          uuid.New().String(),
			TxID:        txID,
			AccountID:   to,
			Amount:      amount,
			ExternalRef: ref,
			Reason:      reason,
			MatchID:     matchID,
			Timestamp:   now,
		},
	}

	if err := s.store.AppendTransaction(ctx, ref, entries); err != nil {
		if errors.Is(err, store.ErrDuplicateRef) {
			// Lost a race against another writer of the same ref.
			prior, lookupErr := s.store.GetTransactionByRef(ctx, ref)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return replayResult(ref, prior), nil
		}
		return nil, err
	}

	slog.Info("ledger transfer",
		"tx_id", txID,
		"ref", ref,
		"from", from,
		"to", to,
		"amount", amount,
		"reason", reason,
	)

	return &model.TransferResult{
		TxID:        txID,
		ExternalRef: ref,
		FromAccount: from,
		ToAccount:   to,
		Amount:      amount,
	}, nil
}

// Credit pays amount from the house to an account. Used for participation
// rewards, settlement payouts, and admin grants.
func (s *Service) Credit(ctx context.Context, to string, amount int64, ref, reason, matchID string) (*model.TransferResult, error) {
	if err := s.ensureHouse(ctx); err != nil {
		return nil, err
	}
	return s.Transfer(ctx, s.house, to, amount, ref, reason, matchID)
}

// Debit collects amount from an account into the house. Used for bet escrow.
func (s *Service) Debit(ctx context.Context, from string, amount int64, ref, reason, matchID string) (*model.TransferResult, error) {
	if err := s.ensureHouse(ctx); err != nil {
		return nil, err
	}
	return s.Transfer(ctx, from, s.house, amount, ref, reason, matchID)
}

// Reverse appends the inverse of a previously applied transaction under a
// fresh undo ref. Idempotent the same way Transfer is: reversing twice
// replays. Returns the total absolute amount moved back.
func (s *Service) Reverse(ctx context.Context, originalRef, reason string) (int64, error) {
	original, err := s.store.GetTransactionByRef(ctx, originalRef)
	if err != nil {
		return 0, err
	}

	// Reconstruct (from, to, amount) from the original pair. The debit leg
	// carries the negative amount.
	var from, to, matchID string
	var amount int64
	for _, e := range original {
		matchID = e.MatchID
		if e.Amount < 0 {
			from = e.AccountID
			amount = -e.Amount
		} else {
			to = e.AccountID
		}
	}
	if from == "" || to == "" || amount == 0 {
		return 0, fmt.Errorf("ledger: transaction %s is not a reversible pair", originalRef)
	}

	if _, err := s.transfer(ctx, to, from, amount, UndoRef(originalRef), reason, matchID, true); err != nil {
		return 0, err
	}
	return amount, nil
}

// Balance returns the current balance of an account. Unknown accounts have
// balance zero (they simply have no entries yet).
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.store.AccountBalance(ctx, accountID)
}

// Entries returns an account's full entry history, oldest first.
func (s *Service) Entries(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	return s.store.ListEntriesByAccount(ctx, accountID)
}

func (s *Service) ensureHouse(ctx context.Context) error {
	return s.EnsureAccount(ctx, s.house, true)
}

func replayResult(ref string, entries []model.LedgerEntry) *model.TransferResult {
	res := &model.TransferResult{ExternalRef: ref, Replayed: true}
	for _, e := range entries {
		res.TxID = e.TxID
		if e.Amount < 0 {
			res.FromAccount = e.AccountID
			res.Amount = -e.Amount
		} else {
			res.ToAccount = e.AccountID
		}
	}
	return res
}
