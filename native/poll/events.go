package poll

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"pollstake/core/types"
)

const (
	EventTypePollCreated       = "poll.created"
	EventTypeVoted             = "poll.voted"
	EventTypeVoteCancelled     = "poll.vote_cancelled"
	EventTypeWinnersCalculated = "poll.winners_calculated"
	EventTypeCreatorClaimed    = "poll.creator_claimed"
	EventTypeFeeClaimed        = "poll.fee_claimed"
	EventTypeRefundClaimed     = "poll.refund_claimed"
	EventTypeFundsRescued      = "poll.funds_rescued"
)

// NewCreatedEvent returns the canonical event payload for a newly deployed
// poll.
func NewCreatedEvent(p *Poll) *types.Event {
	attrs := basePollAttrs(p)
	if p != nil {
		attrs["creator"] = hex.EncodeToString(p.Creator[:])
		attrs["startTime"] = strconv.FormatInt(p.StartTime, 10)
		attrs["endTime"] = strconv.FormatInt(p.EndTime, 10)
		attrs["stakePerVote"] = p.StakePerVote.String()
		attrs["winningSlots"] = strconv.FormatUint(uint64(p.WinningSlots), 10)
		attrs["totalOptions"] = strconv.FormatUint(uint64(p.TotalOptions), 10)
		attrs["token"] = p.Token
	}
	return &types.Event{Type: EventTypePollCreated, Attributes: attrs}
}

// NewVotedEvent returns the payload emitted when a stake-backed vote lands.
func NewVotedEvent(p *Poll, voter [20]byte, option uint32) *types.Event {
	attrs := basePollAttrs(p)
	attrs["voter"] = hex.EncodeToString(voter[:])
	attrs["optionId"] = strconv.FormatUint(uint64(option), 10)
	if p != nil {
		attrs["amount"] = p.StakePerVote.String()
	}
	return &types.Event{Type: EventTypeVoted, Attributes: attrs}
}

// NewVoteCancelledEvent returns the payload emitted when a voter withdraws an
// outstanding vote during the voting window.
func NewVoteCancelledEvent(p *Poll, voter [20]byte, option uint32) *types.Event {
	attrs := basePollAttrs(p)
	attrs["voter"] = hex.EncodeToString(voter[:])
	attrs["optionId"] = strconv.FormatUint(uint64(option), 10)
	if p != nil {
		attrs["amount"] = p.StakePerVote.String()
	}
	return &types.Event{Type: EventTypeVoteCancelled, Attributes: attrs}
}

// NewWinnersCalculatedEvent returns the payload emitted exactly once when a
// poll settles.
func NewWinnersCalculatedEvent(p *Poll) *types.Event {
	attrs := basePollAttrs(p)
	if p != nil {
		attrs["winningOptions"] = formatOptions(p.WinningOptions)
		attrs["winningAmount"] = p.WinningAmount.String()
		attrs["feeAmount"] = p.FeeAmount.String()
	}
	return &types.Event{Type: EventTypeWinnersCalculated, Attributes: attrs}
}

// NewCreatorClaimedEvent returns the payload for the creator's net payout.
func NewCreatorClaimedEvent(p *Poll, amount *big.Int) *types.Event {
	attrs := basePollAttrs(p)
	if p != nil {
		attrs["creator"] = hex.EncodeToString(p.Creator[:])
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeCreatorClaimed, Attributes: attrs}
}

// NewFeeClaimedEvent returns the payload for the platform fee payout.
func NewFeeClaimedEvent(p *Poll, recipient [20]byte, amount *big.Int) *types.Event {
	attrs := basePollAttrs(p)
	attrs["feeRecipient"] = hex.EncodeToString(recipient[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeFeeClaimed, Attributes: attrs}
}

// NewRefundClaimedEvent returns the payload for a non-winning voter's stake
// return.
func NewRefundClaimedEvent(p *Poll, voter [20]byte, amount *big.Int) *types.Event {
	attrs := basePollAttrs(p)
	attrs["voter"] = hex.EncodeToString(voter[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeRefundClaimed, Attributes: attrs}
}

// NewFundsRescuedEvent returns the payload for an admin sweep of the poll
// vault.
func NewFundsRescuedEvent(p *Poll, recipient [20]byte, amount *big.Int) *types.Event {
	attrs := basePollAttrs(p)
	attrs["rescueRecipient"] = hex.EncodeToString(recipient[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeFundsRescued, Attributes: attrs}
}

func basePollAttrs(p *Poll) map[string]string {
	attrs := make(map[string]string)
	if p != nil {
		attrs["pollId"] = hex.EncodeToString(p.ID[:])
	}
	return attrs
}

func formatOptions(options []uint32) string {
	parts := make([]string, len(options))
	for i, opt := range options {
		parts[i] = strconv.FormatUint(uint64(opt), 10)
	}
	return strings.Join(parts, ",")
}
