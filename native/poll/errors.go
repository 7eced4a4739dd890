package poll

import "errors"

// Error kinds shared by the poll engine and registry. Callers match with
// errors.Is; every failure aborts the enclosing operation with no state
// mutation and no value movement.
var (
	// ErrValidation marks malformed parameters (bad deploy arguments,
	// out-of-range option ids).
	ErrValidation = errors.New("poll: validation failed")
	// ErrTiming marks a call issued outside its legal phase window.
	ErrTiming = errors.New("poll: outside allowed time window")
	// ErrAuthorization marks a caller lacking the required role.
	ErrAuthorization = errors.New("poll: unauthorized caller")
	// ErrState marks replays and illegal transitions: double votes,
	// double claims, recalculation, reentrant calls.
	ErrState = errors.New("poll: invalid state transition")
	// ErrTransfer marks a failed token ledger movement.
	ErrTransfer = errors.New("poll: token transfer failed")

	// ErrNotFound is returned when no poll exists under the requested id.
	ErrNotFound = errors.New("poll: not found")
)
