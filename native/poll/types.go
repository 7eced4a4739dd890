package poll

import (
	"fmt"
	"math/big"
	"strings"
)

// Phase is the lifecycle position of a poll, derived from the clock and the
// settlement flag rather than stored explicitly. This keeps the phase
// consistent with the external notion of "now" at all times.
type Phase uint8

const (
	PhasePending Phase = iota
	PhaseVoting
	PhaseEnded
	PhaseSettled
)

// String returns the canonical lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseVoting:
		return "voting"
	case PhaseEnded:
		return "ended"
	case PhaseSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Poll captures the immutable parameters and runtime tally/settlement state of
// a single staked poll. Options are 1-indexed; VotesByOption[i] holds the
// stake accumulated by option i+1.
type Poll struct {
	ID           [32]byte
	Creator      [20]byte
	Token        string
	StartTime    int64
	EndTime      int64
	StakePerVote *big.Int
	WinningSlots uint32
	TotalOptions uint32
	CreatedAt    int64

	VotesByOption []*big.Int
	TotalStaked   *big.Int

	WinnersCalculated bool
	WinningOptions    []uint32
	WinningAmount     *big.Int
	FeeAmount         *big.Int
	CreatorClaimed    bool
	FeeClaimed        bool
}

// VoterRecord tracks a single participant's standing within one poll. The
// StakeSettled flag marks that the voter's stake has already been returned,
// either through cancellation or a non-winning refund, and is never cleared
// once set.
type VoterRecord struct {
	Poll         [32]byte
	Voter        [20]byte
	HasVoted     bool
	Option       uint32
	StakeSettled bool
}

// Phase derives the poll's lifecycle phase at the supplied timestamp.
func (p *Poll) Phase(now int64) Phase {
	if p == nil {
		return PhasePending
	}
	switch {
	case now < p.StartTime:
		return PhasePending
	case now < p.EndTime:
		return PhaseVoting
	case p.WinnersCalculated:
		return PhaseSettled
	default:
		return PhaseEnded
	}
}

// IsWinningOption reports whether the option was declared a winner. Always
// false before winners are calculated.
func (p *Poll) IsWinningOption(option uint32) bool {
	if p == nil || !p.WinnersCalculated {
		return false
	}
	for _, winner := range p.WinningOptions {
		if winner == option {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the poll so callers can safely mutate the copy
// without affecting the stored instance.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	clone := *p
	clone.StakePerVote = cloneBigInt(p.StakePerVote)
	clone.TotalStaked = cloneBigInt(p.TotalStaked)
	clone.WinningAmount = cloneBigInt(p.WinningAmount)
	clone.FeeAmount = cloneBigInt(p.FeeAmount)
	clone.VotesByOption = make([]*big.Int, len(p.VotesByOption))
	for i, votes := range p.VotesByOption {
		clone.VotesByOption[i] = cloneBigInt(votes)
	}
	clone.WinningOptions = append([]uint32(nil), p.WinningOptions...)
	return &clone
}

// Clone returns a copy of the voter record.
func (r *VoterRecord) Clone() *VoterRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// NormalizeToken canonicalises a token symbol to uppercase and validates that
// it is a plausible ledger symbol (1-8 ASCII letters).
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if len(trimmed) == 0 || len(trimmed) > 8 {
		return "", fmt.Errorf("%w: unsupported token symbol %q", ErrValidation, symbol)
	}
	for _, r := range trimmed {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: unsupported token symbol %q", ErrValidation, symbol)
		}
	}
	return trimmed, nil
}

// Params carries the caller-supplied poll definition validated at deploy time.
type Params struct {
	StartTime    int64
	EndTime      int64
	StakePerVote *big.Int
	WinningSlots uint32
	TotalOptions uint32
	Token        string
}

// Validate checks the deploy preconditions against the supplied timestamp.
// Every violation is reported as a validation error; no partial acceptance.
func (p Params) Validate(now int64) error {
	if p.StartTime <= now {
		return fmt.Errorf("%w: start time must be in the future", ErrValidation)
	}
	if p.EndTime <= p.StartTime {
		return fmt.Errorf("%w: end time must be after start time", ErrValidation)
	}
	if p.StakePerVote == nil || p.StakePerVote.Sign() <= 0 {
		return fmt.Errorf("%w: stake per vote must be positive", ErrValidation)
	}
	if p.TotalOptions == 0 {
		return fmt.Errorf("%w: poll needs at least one option", ErrValidation)
	}
	if p.WinningSlots == 0 || p.WinningSlots > p.TotalOptions {
		return fmt.Errorf("%w: winning slots must be between 1 and the option count", ErrValidation)
	}
	if _, err := NormalizeToken(p.Token); err != nil {
		return err
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
