package poll

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"pollstake/core/events"
	"pollstake/core/types"
)

var (
	errNilState  = errors.New("poll engine: state not configured")
	errNilLedger = errors.New("poll engine: ledger not configured")
	errNilPolicy = errors.New("poll engine: policy reader not configured")
)

// engineState persists polls and per-voter records.
type engineState interface {
	PollPut(*Poll) error
	PollGet(id [32]byte) (*Poll, bool, error)
	VoterPut(*VoterRecord) error
	VoterGet(poll [32]byte, voter [20]byte) (*VoterRecord, bool, error)
	VoterList(poll [32]byte) ([]*VoterRecord, error)
}

// Ledger moves token value with all-or-nothing semantics. Any error aborts
// the enclosing engine call before bookkeeping is finalised.
type Ledger interface {
	Transfer(from, to [20]byte, token string, amount *big.Int) error
	BalanceOf(addr [20]byte, token string) (*big.Int, error)
}

// PolicyReader exposes the registry's mutable policy tuple. The engine reads
// it live on every settlement-phase call, never caching values at poll
// creation, so a policy change between creation and settlement takes effect.
type PolicyReader interface {
	Admin() ([20]byte, error)
	FeeRecipient() ([20]byte, error)
	RescueRecipient() ([20]byte, error)
	FeeRateBps() (uint32, error)
}

type pollEvent struct {
	evt *types.Event
}

func (e pollEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e pollEvent) Event() *types.Event { return e.evt }

// Engine owns vote tallies, winner computation, and claim bookkeeping for
// every deployed poll. All fund-moving operations run under a per-poll
// reentrancy guard for the duration of the external ledger call.
type Engine struct {
	state   engineState
	ledger  Ledger
	policy  PolicyReader
	emitter events.Emitter
	nowFn   func() int64

	mu       sync.Mutex
	inFlight map[[32]byte]bool
}

// NewEngine creates a poll engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		inFlight: make(map[[32]byte]bool),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token ledger used for stake custody.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetPolicy wires the live policy reader consulted at settlement time.
func (e *Engine) SetPolicy(policy PolicyReader) { e.policy = policy }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(pollEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Now returns the engine's current timestamp so callers can derive phases
// consistent with the engine's own timing decisions.
func (e *Engine) Now() int64 { return e.now() }

// enter acquires the per-poll reentrancy guard. A nested call against the
// same poll fails with a state error rather than deadlocking.
func (e *Engine) enter(id [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight == nil {
		e.inFlight = make(map[[32]byte]bool)
	}
	if e.inFlight[id] {
		return fmt.Errorf("%w: reentrant call", ErrState)
	}
	e.inFlight[id] = true
	return nil
}

func (e *Engine) leave(id [32]byte) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.ledger == nil:
		return errNilLedger
	case e.policy == nil:
		return errNilPolicy
	default:
		return nil
	}
}

func (e *Engine) loadPoll(id [32]byte) (*Poll, error) {
	p, ok, err := e.state.PollGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (e *Engine) loadVoter(pollID [32]byte, voter [20]byte) (*VoterRecord, error) {
	rec, ok, err := e.state.VoterGet(pollID, voter)
	if err != nil {
		return nil, err
	}
	if !ok || rec == nil {
		return &VoterRecord{Poll: pollID, Voter: voter}, nil
	}
	return rec, nil
}

// VaultAddress derives the custody address holding a poll's staked tokens.
func VaultAddress(id [32]byte) [20]byte {
	hash := ethcrypto.Keccak256([]byte("poll/vault"), id[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// Create validates and persists a new poll definition. The identifier is the
// keccak256 hash of the creator and a registry-allocated nonce; callers
// (normally the registry) are responsible for indexing the returned poll.
func (e *Engine) Create(creator [20]byte, nonce uint64, params Params) (*Poll, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()
	if err := params.Validate(now); err != nil {
		return nil, err
	}
	token, err := NormalizeToken(params.Token)
	if err != nil {
		return nil, err
	}
	var nonceBytes [8]byte
	for i := 0; i < 8; i++ {
		nonceBytes[7-i] = byte(nonce >> (8 * i))
	}
	id := ethcrypto.Keccak256Hash(creator[:], nonceBytes[:])
	if _, ok, err := e.state.PollGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: poll identifier already exists", ErrState)
	}
	votes := make([]*big.Int, params.TotalOptions)
	for i := range votes {
		votes[i] = big.NewInt(0)
	}
	p := &Poll{
		ID:            id,
		Creator:       creator,
		Token:         token,
		StartTime:     params.StartTime,
		EndTime:       params.EndTime,
		StakePerVote:  new(big.Int).Set(params.StakePerVote),
		WinningSlots:  params.WinningSlots,
		TotalOptions:  params.TotalOptions,
		CreatedAt:     now,
		VotesByOption: votes,
		TotalStaked:   big.NewInt(0),
		WinningAmount: big.NewInt(0),
		FeeAmount:     big.NewInt(0),
	}
	if err := e.state.PollPut(p); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(p))
	return p.Clone(), nil
}

// Vote commits the caller's fixed stake on the chosen option. The stake pull
// happens before any bookkeeping so a failed transfer leaves the tallies
// untouched.
func (e *Engine) Vote(pollID [32]byte, voter [20]byte, option uint32) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(pollID); err != nil {
		return err
	}
	defer e.leave(pollID)

	p, err := e.loadPoll(pollID)
	if err != nil {
		return err
	}
	if phase := p.Phase(e.now()); phase != PhaseVoting {
		return fmt.Errorf("%w: voting not open (phase %s)", ErrTiming, phase)
	}
	if option == 0 || option > p.TotalOptions {
		return fmt.Errorf("%w: option %d out of range 1..%d", ErrValidation, option, p.TotalOptions)
	}
	rec, err := e.loadVoter(pollID, voter)
	if err != nil {
		return err
	}
	if rec.HasVoted {
		return fmt.Errorf("%w: already voted", ErrState)
	}
	vault := VaultAddress(pollID)
	if err := e.ledger.Transfer(voter, vault, p.Token, p.StakePerVote); err != nil {
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	snapshot := rec.Clone()
	rec.HasVoted = true
	rec.Option = option
	if err := e.state.VoterPut(rec); err != nil {
		// Failed bookkeeping unwinds the pull so the vote stays retryable.
		_ = e.ledger.Transfer(vault, voter, p.Token, p.StakePerVote)
		return err
	}
	p.VotesByOption[option-1] = new(big.Int).Add(p.VotesByOption[option-1], p.StakePerVote)
	p.TotalStaked = new(big.Int).Add(p.TotalStaked, p.StakePerVote)
	if err := e.state.PollPut(p); err != nil {
		_ = e.state.VoterPut(snapshot)
		_ = e.ledger.Transfer(vault, voter, p.Token, p.StakePerVote)
		return err
	}
	e.emit(NewVotedEvent(p, voter, option))
	return nil
}

// CancelVote undoes the caller's outstanding vote and returns the stake.
// The stake-settled flag marks "has ever had stake manually returned" and is
// never cleared, so a voter who cancels and re-votes can neither cancel again
// nor claim a non-winning refund later.
func (e *Engine) CancelVote(pollID [32]byte, voter [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.enter(pollID); err != nil {
		return err
	}
	defer e.leave(pollID)

	p, err := e.loadPoll(pollID)
	if err != nil {
		return err
	}
	if phase := p.Phase(e.now()); phase != PhaseVoting {
		return fmt.Errorf("%w: voting not open (phase %s)", ErrTiming, phase)
	}
	rec, err := e.loadVoter(pollID, voter)
	if err != nil {
		return err
	}
	if !rec.HasVoted {
		return fmt.Errorf("%w: no outstanding vote", ErrState)
	}
	if rec.StakeSettled {
		return fmt.Errorf("%w: stake already settled", ErrState)
	}
	option := rec.Option
	snapshot := rec.Clone()
	pollSnapshot := p.Clone()
	rec.HasVoted = false
	rec.Option = 0
	rec.StakeSettled = true
	if err := e.state.VoterPut(rec); err != nil {
		return err
	}
	p.VotesByOption[option-1] = new(big.Int).Sub(p.VotesByOption[option-1], p.StakePerVote)
	p.TotalStaked = new(big.Int).Sub(p.TotalStaked, p.StakePerVote)
	if err := e.state.PollPut(p); err != nil {
		_ = e.state.VoterPut(snapshot)
		return err
	}
	if err := e.ledger.Transfer(VaultAddress(pollID), voter, p.Token, p.StakePerVote); err != nil {
		// A failed push restores the vote so the cancellation stays retryable.
		_ = e.state.VoterPut(snapshot)
		_ = e.state.PollPut(pollSnapshot)
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	e.emit(NewVoteCancelledEvent(p, voter, option))
	return nil
}

// CalculateWinners ranks options once the voting window has closed. Ranking
// is a stable descending sort on staked votes; equal-vote options keep their
// ascending option order. Zero-vote options never win, so the realized winner
// count can be below the slot count, or zero when nobody voted. The fee rate
// is read live from the registry at this moment.
func (e *Engine) CalculateWinners(pollID [32]byte) (*Poll, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	p, err := e.loadPoll(pollID)
	if err != nil {
		return nil, err
	}
	if p.WinnersCalculated {
		return nil, fmt.Errorf("%w: winners already calculated", ErrState)
	}
	if e.now() < p.EndTime {
		return nil, fmt.Errorf("%w: voting still open", ErrTiming)
	}
	type tally struct {
		option uint32
		votes  *big.Int
	}
	ranked := make([]tally, p.TotalOptions)
	for i := range ranked {
		ranked[i] = tally{option: uint32(i + 1), votes: p.VotesByOption[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].votes.Cmp(ranked[j].votes) > 0
	})
	winners := make([]uint32, 0, p.WinningSlots)
	winningAmount := big.NewInt(0)
	for _, entry := range ranked {
		if uint32(len(winners)) == p.WinningSlots {
			break
		}
		if entry.votes.Sign() == 0 {
			break
		}
		winners = append(winners, entry.option)
		winningAmount = new(big.Int).Add(winningAmount, entry.votes)
	}
	feeRate, err := e.policy.FeeRateBps()
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(winningAmount, new(big.Int).SetUint64(uint64(feeRate)))
	fee.Div(fee, big.NewInt(10_000))
	p.WinnersCalculated = true
	p.WinningOptions = winners
	p.WinningAmount = winningAmount
	p.FeeAmount = fee
	if err := e.state.PollPut(p); err != nil {
		return nil, err
	}
	e.emit(NewWinnersCalculatedEvent(p))
	return p.Clone(), nil
}

// ClaimCreatorFunds pays the creator the winning stake net of the platform
// fee. Callable once, by the creator, only after settlement and only when
// winners attracted stake.
func (e *Engine) ClaimCreatorFunds(pollID [32]byte, caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enter(pollID); err != nil {
		return nil, err
	}
	defer e.leave(pollID)

	p, err := e.loadPoll(pollID)
	if err != nil {
		return nil, err
	}
	if !p.WinnersCalculated {
		return nil, fmt.Errorf("%w: winners not calculated", ErrState)
	}
	if caller != p.Creator {
		return nil, fmt.Errorf("%w: only the creator may claim", ErrAuthorization)
	}
	if p.CreatorClaimed {
		return nil, fmt.Errorf("%w: creator funds already claimed", ErrState)
	}
	if p.WinningAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: nothing to claim", ErrState)
	}
	payout := new(big.Int).Sub(p.WinningAmount, p.FeeAmount)
	p.CreatorClaimed = true
	if err := e.state.PollPut(p); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(VaultAddress(pollID), p.Creator, p.Token, payout); err != nil {
		// A failed push reopens the claim so it can be retried.
		p.CreatorClaimed = false
		_ = e.state.PollPut(p)
		return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	e.emit(NewCreatorClaimedEvent(p, payout))
	return payout, nil
}

// ClaimFee pays the accrued platform fee to the registry's current fee
// recipient. The recipient is read live, so a policy change between
// settlement and claim redirects the payout.
func (e *Engine) ClaimFee(pollID [32]byte, caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enter(pollID); err != nil {
		return nil, err
	}
	defer e.leave(pollID)

	p, err := e.loadPoll(pollID)
	if err != nil {
		return nil, err
	}
	if !p.WinnersCalculated {
		return nil, fmt.Errorf("%w: winners not calculated", ErrState)
	}
	recipient, err := e.policy.FeeRecipient()
	if err != nil {
		return nil, err
	}
	if caller != recipient {
		return nil, fmt.Errorf("%w: only the fee recipient may claim", ErrAuthorization)
	}
	if p.FeeClaimed {
		return nil, fmt.Errorf("%w: fee already claimed", ErrState)
	}
	if p.FeeAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: no fee accrued", ErrState)
	}
	amount := new(big.Int).Set(p.FeeAmount)
	p.FeeClaimed = true
	if err := e.state.PollPut(p); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(VaultAddress(pollID), recipient, p.Token, amount); err != nil {
		p.FeeClaimed = false
		_ = e.state.PollPut(p)
		return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	e.emit(NewFeeClaimedEvent(p, recipient, amount))
	return amount, nil
}

// ClaimRefund returns the stake of a voter whose option did not win. Winning
// voters have no refund path; their stake forms the creator/fee payout.
func (e *Engine) ClaimRefund(pollID [32]byte, voter [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enter(pollID); err != nil {
		return nil, err
	}
	defer e.leave(pollID)

	p, err := e.loadPoll(pollID)
	if err != nil {
		return nil, err
	}
	if !p.WinnersCalculated {
		return nil, fmt.Errorf("%w: winners not calculated", ErrState)
	}
	rec, err := e.loadVoter(pollID, voter)
	if err != nil {
		return nil, err
	}
	if !rec.HasVoted {
		return nil, fmt.Errorf("%w: no vote on record", ErrState)
	}
	if rec.StakeSettled {
		return nil, fmt.Errorf("%w: stake already settled", ErrState)
	}
	if p.IsWinningOption(rec.Option) {
		return nil, fmt.Errorf("%w: winning votes carry no refund", ErrState)
	}
	rec.StakeSettled = true
	if err := e.state.VoterPut(rec); err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(p.StakePerVote)
	if err := e.ledger.Transfer(VaultAddress(pollID), voter, p.Token, amount); err != nil {
		rec.StakeSettled = false
		_ = e.state.VoterPut(rec)
		return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	e.emit(NewRefundClaimedEvent(p, voter, amount))
	return amount, nil
}

// RescueFunds sweeps the poll vault's entire balance to the registry's
// rescue recipient. It deliberately skips every settlement precondition;
// the admin is fully trusted and the sweep covers unclaimed stakes too.
func (e *Engine) RescueFunds(pollID [32]byte, caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.enter(pollID); err != nil {
		return nil, err
	}
	defer e.leave(pollID)

	p, err := e.loadPoll(pollID)
	if err != nil {
		return nil, err
	}
	admin, err := e.policy.Admin()
	if err != nil {
		return nil, err
	}
	if caller != admin {
		return nil, fmt.Errorf("%w: only the admin may rescue funds", ErrAuthorization)
	}
	recipient, err := e.policy.RescueRecipient()
	if err != nil {
		return nil, err
	}
	vault := VaultAddress(pollID)
	balance, err := e.ledger.BalanceOf(vault, p.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	if balance.Sign() > 0 {
		if err := e.ledger.Transfer(vault, recipient, p.Token, balance); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
		}
	}
	e.emit(NewFundsRescuedEvent(p, recipient, balance))
	return balance, nil
}

// Get returns a copy of the stored poll.
func (e *Engine) Get(pollID [32]byte) (*Poll, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, err := e.loadPoll(pollID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Voter returns a copy of the voter's record for the poll. A voter with no
// history yields a zero record.
func (e *Engine) Voter(pollID [32]byte, voter [20]byte) (*VoterRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadPoll(pollID); err != nil {
		return nil, err
	}
	rec, err := e.loadVoter(pollID, voter)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Voters returns every recorded participant of the poll, ordered by voter
// address. Cancelled voters stay listed with the settled-stake flag set.
func (e *Engine) Voters(pollID [32]byte) ([]*VoterRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadPoll(pollID); err != nil {
		return nil, err
	}
	records, err := e.state.VoterList(pollID)
	if err != nil {
		return nil, err
	}
	out := make([]*VoterRecord, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Voter[:], out[j].Voter[:]) < 0
	})
	return out, nil
}

// VotingResults returns the option ids alongside their staked vote totals.
func (e *Engine) VotingResults(pollID [32]byte) ([]uint32, []*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	p, err := e.loadPoll(pollID)
	if err != nil {
		return nil, nil, err
	}
	options := make([]uint32, p.TotalOptions)
	votes := make([]*big.Int, p.TotalOptions)
	for i := range options {
		options[i] = uint32(i + 1)
		votes[i] = cloneBigInt(p.VotesByOption[i])
	}
	return options, votes, nil
}

// WinningOptions returns the settled winners in rank order. Empty before
// settlement and when nobody voted.
func (e *Engine) WinningOptions(pollID [32]byte) ([]uint32, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, err := e.loadPoll(pollID)
	if err != nil {
		return nil, err
	}
	return append([]uint32(nil), p.WinningOptions...), nil
}

// IsWinningOption reports whether the option was declared a winner.
func (e *Engine) IsWinningOption(pollID [32]byte, option uint32) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	p, err := e.loadPoll(pollID)
	if err != nil {
		return false, err
	}
	return p.IsWinningOption(option), nil
}
