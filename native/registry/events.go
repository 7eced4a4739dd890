package registry

import (
	"encoding/hex"
	"strconv"

	"pollstake/core/types"
)

const (
	EventTypeAdminUpdated           = "registry.admin_updated"
	EventTypeFeeRecipientUpdated    = "registry.fee_recipient_updated"
	EventTypeRescueRecipientUpdated = "registry.rescue_recipient_updated"
	EventTypeFeeRateUpdated         = "registry.fee_rate_updated"
)

// NewAdminUpdatedEvent records an admin rotation with both endpoints.
func NewAdminUpdatedEvent(old, updated [20]byte) *types.Event {
	return newAddressUpdateEvent(EventTypeAdminUpdated, old, updated)
}

// NewFeeRecipientUpdatedEvent records a fee recipient change.
func NewFeeRecipientUpdatedEvent(old, updated [20]byte) *types.Event {
	return newAddressUpdateEvent(EventTypeFeeRecipientUpdated, old, updated)
}

// NewRescueRecipientUpdatedEvent records a rescue recipient change.
func NewRescueRecipientUpdatedEvent(old, updated [20]byte) *types.Event {
	return newAddressUpdateEvent(EventTypeRescueRecipientUpdated, old, updated)
}

// NewFeeRateUpdatedEvent records a fee rate change in basis points.
func NewFeeRateUpdatedEvent(old, updated uint32) *types.Event {
	return &types.Event{
		Type: EventTypeFeeRateUpdated,
		Attributes: map[string]string{
			"old": strconv.FormatUint(uint64(old), 10),
			"new": strconv.FormatUint(uint64(updated), 10),
		},
	}
}

func newAddressUpdateEvent(eventType string, old, updated [20]byte) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"old": hex.EncodeToString(old[:]),
			"new": hex.EncodeToString(updated[:]),
		},
	}
}
