package ledger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Ref kinds. The external ref encodes the logical operation that produced a
// transaction, so the same operation always maps to the same ref and replays
// are detected at the store layer.
const (
	KindParticipation = "participation"
	KindEscrow        = "escrow"
	KindPayout        = "payout"
	KindVig           = "vig"
	KindGrant         = "grant"
	KindUndo          = "undo"
)

var (
	ErrInvalidRef = errors.New("ledger: invalid external ref format")

	// match:{matchID}:part:{playerID}
	participationRegex = regexp.MustCompile(`^match:([\w-]+):part:([\w-]+)$`)
	// bet:{betID}:escrow
	escrowRegex = regexp.MustCompile(`^bet:([\w-]+):escrow$`)
	// match:{matchID}:payout:{betID}
	payoutRegex = regexp.MustCompile(`^match:([\w-]+):payout:bet:([\w-]+)$`)
	// match:{matchID}:vig
	vigRegex = regexp.MustCompile(`^match:([\w-]+):vig$`)
	// grant:{grantID}
	grantRegex = regexp.MustCompile(`^grant:([\w-]+)$`)
)

// Ref is a parsed external reference.
type Ref struct {
	Kind     string
	MatchID  string
	BetID    string
	PlayerID string
	GrantID  string
	Reversed string // for undo refs: the original ref being reversed
}

// ParticipationRef builds the ref for a match participation reward.
// One reward per (match, player), so replaying a match application cannot
// double-pay.
func ParticipationRef(matchID, playerID string) string {
	return fmt.Sprintf("match:%s:part:%s", matchID, playerID)
}

// EscrowRef builds the ref for a bet's stake escrow.
func EscrowRef(betID string) string {
	return fmt.Sprintf("bet:%s:escrow", betID)
}

// PayoutRef builds the ref for one settlement payout. Keyed by both match and
// bet so a re-settled match cannot pay the same bet twice.
func PayoutRef(matchID, betID string) string {
	return fmt.Sprintf("match:%s:payout:bet:%s", matchID, betID)
}

// VigRef builds the ref for one settlement's vig collection. One per match,
// so a re-settled match cannot take the cut twice.
func VigRef(matchID string) string {
	return fmt.Sprintf("match:%s:vig", matchID)
}

// GrantRef builds the ref for an admin ticket grant.
func GrantRef(grantID string) string {
	return fmt.Sprintf("grant:%s", grantID)
}

// UndoRef builds the reversal ref for a previously applied ref. Fresh per
// original ref: undoing twice collides on this ref and the second attempt
// replays instead of reversing again.
func UndoRef(original string) string {
	return KindUndo + ":" + original
}

// IsUndoRef reports whether ref is a reversal of an earlier ref.
func IsUndoRef(ref string) bool {
	return strings.HasPrefix(ref, KindUndo+":")
}

// ParseRef parses an external ref back into its components.
func ParseRef(ref string) (*Ref, error) {
	if len(ref) > 5 && ref[:5] == "undo:" {
		inner, err := ParseRef(ref[5:])
		if err != nil {
			return nil, err
		}
		return &Ref{Kind: KindUndo, Reversed: ref[5:], MatchID: inner.MatchID, BetID: inner.BetID, PlayerID: inner.PlayerID}, nil
	}
	if m := participationRegex.FindStringSubmatch(ref); m != nil {
		return &Ref{Kind: KindParticipation, MatchID: m[1], PlayerID: m[2]}, nil
	}
	if m := payoutRegex.FindStringSubmatch(ref); m != nil {
		return &Ref{Kind: KindPayout, MatchID: m[1], BetID: m[2]}, nil
	}
	if m := vigRegex.FindStringSubmatch(ref); m != nil {
		return &Ref{Kind: KindVig, MatchID: m[1]}, nil
	}
	if m := escrowRegex.FindStringSubmatch(ref); m != nil {
		return &Ref{Kind: KindEscrow, BetID: m[1]}, nil
	}
	if m := grantRegex.FindStringSubmatch(ref); m != nil {
		return &Ref{Kind: KindGrant, GrantID: m[1]}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidRef, ref)
}
