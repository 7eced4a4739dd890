package registry

import (
	"fmt"

	"pollstake/native/poll"
)

// MaxFeeRateBps caps the platform fee at 10% of the winning stake.
const MaxFeeRateBps uint32 = 1000

// Policy is the mutable admin/fee tuple read live by every poll at
// settlement time.
type Policy struct {
	Admin           [20]byte
	FeeRecipient    [20]byte
	RescueRecipient [20]byte
	FeeRateBps      uint32
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.Admin == ([20]byte{}) {
		return fmt.Errorf("%w: admin must be set", poll.ErrValidation)
	}
	if p.FeeRateBps > MaxFeeRateBps {
		return fmt.Errorf("%w: fee rate %d exceeds %d bps", poll.ErrValidation, p.FeeRateBps, MaxFeeRateBps)
	}
	return nil
}

// Clone returns a copy of the policy.
func (p Policy) Clone() Policy { return p }
