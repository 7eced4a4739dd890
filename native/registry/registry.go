package registry

import (
	"errors"
	"fmt"

	"pollstake/core/events"
	"pollstake/core/types"
	"pollstake/native/poll"
)

var (
	errNilState    = errors.New("registry: state not configured")
	errNilDeployer = errors.New("registry: poll deployer not configured")
	// ErrPolicyNotSet is returned when the registry has not been bootstrapped.
	ErrPolicyNotSet = errors.New("registry: policy not initialised")
)

// registryState persists the policy tuple and the poll indexes.
type registryState interface {
	PolicyGet() (*Policy, bool, error)
	PolicyPut(*Policy) error
	RegistryNextNonce() (uint64, error)
	RegistryAppendPoll(id [32]byte, creator [20]byte) error
	RegistryPolls() ([][32]byte, error)
	RegistryPollsByCreator(creator [20]byte) ([][32]byte, error)
}

// PollDeployer constructs and persists a validated poll. Satisfied by the
// poll engine.
type PollDeployer interface {
	Create(creator [20]byte, nonce uint64, params poll.Params) (*poll.Poll, error)
}

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

// Registry creates and indexes poll instances and holds the mutable
// admin/fee policy that poll settlement reads live. It implements
// poll.PolicyReader.
type Registry struct {
	state    registryState
	deployer PollDeployer
	emitter  events.Emitter
}

// New constructs a registry with a no-op emitter.
func New() *Registry {
	return &Registry{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetDeployer wires the poll engine used to construct new polls.
func (r *Registry) SetDeployer(deployer PollDeployer) { r.deployer = deployer }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) emit(event *types.Event) {
	if r == nil || r.emitter == nil || event == nil {
		return
	}
	r.emitter.Emit(registryEvent{evt: event})
}

func (r *Registry) policy() (*Policy, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	p, ok, err := r.state.PolicyGet()
	if err != nil {
		return nil, err
	}
	if !ok || p == nil {
		return nil, ErrPolicyNotSet
	}
	return p, nil
}

// Bootstrap installs the initial policy if none exists yet. Subsequent calls
// with an existing policy are no-ops so restarts keep the mutated tuple.
func (r *Registry) Bootstrap(policy Policy) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	if _, ok, err := r.state.PolicyGet(); err != nil {
		return err
	} else if ok {
		return nil
	}
	return r.state.PolicyPut(&policy)
}

// Deploy validates the parameters, constructs a new poll bound to the caller
// as creator, and appends it to the global and per-creator indexes.
func (r *Registry) Deploy(creator [20]byte, params poll.Params) (*poll.Poll, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if r.deployer == nil {
		return nil, errNilDeployer
	}
	if _, err := r.policy(); err != nil {
		return nil, err
	}
	nonce, err := r.state.RegistryNextNonce()
	if err != nil {
		return nil, err
	}
	p, err := r.deployer.Create(creator, nonce, params)
	if err != nil {
		return nil, err
	}
	if err := r.state.RegistryAppendPoll(p.ID, creator); err != nil {
		return nil, err
	}
	return p, nil
}

// SetAdmin rotates the admin role. Admin-gated.
func (r *Registry) SetAdmin(caller, admin [20]byte) error {
	return r.mutate(caller, func(p *Policy) (*types.Event, error) {
		if admin == ([20]byte{}) {
			return nil, fmt.Errorf("%w: admin must be set", poll.ErrValidation)
		}
		old := p.Admin
		p.Admin = admin
		return NewAdminUpdatedEvent(old, admin), nil
	})
}

// SetFeeRecipient updates the address entitled to claim platform fees.
func (r *Registry) SetFeeRecipient(caller, recipient [20]byte) error {
	return r.mutate(caller, func(p *Policy) (*types.Event, error) {
		old := p.FeeRecipient
		p.FeeRecipient = recipient
		return NewFeeRecipientUpdatedEvent(old, recipient), nil
	})
}

// SetRescueRecipient updates the address receiving rescued funds.
func (r *Registry) SetRescueRecipient(caller, recipient [20]byte) error {
	return r.mutate(caller, func(p *Policy) (*types.Event, error) {
		old := p.RescueRecipient
		p.RescueRecipient = recipient
		return NewRescueRecipientUpdatedEvent(old, recipient), nil
	})
}

// SetFeeRateBps updates the platform fee rate, capped at MaxFeeRateBps.
func (r *Registry) SetFeeRateBps(caller [20]byte, rate uint32) error {
	return r.mutate(caller, func(p *Policy) (*types.Event, error) {
		if rate > MaxFeeRateBps {
			return nil, fmt.Errorf("%w: fee rate %d exceeds %d bps", poll.ErrValidation, rate, MaxFeeRateBps)
		}
		old := p.FeeRateBps
		p.FeeRateBps = rate
		return NewFeeRateUpdatedEvent(old, rate), nil
	})
}

func (r *Registry) mutate(caller [20]byte, apply func(*Policy) (*types.Event, error)) error {
	p, err := r.policy()
	if err != nil {
		return err
	}
	if caller != p.Admin {
		return fmt.Errorf("%w: admin role required", poll.ErrAuthorization)
	}
	updated := p.Clone()
	evt, err := apply(&updated)
	if err != nil {
		return err
	}
	if err := r.state.PolicyPut(&updated); err != nil {
		return err
	}
	r.emit(evt)
	return nil
}

// ListPolls returns every deployed poll id in creation order.
func (r *Registry) ListPolls() ([][32]byte, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	return r.state.RegistryPolls()
}

// ListPollsByCreator returns the creator's polls in creation order.
func (r *Registry) ListPollsByCreator(creator [20]byte) ([][32]byte, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	return r.state.RegistryPollsByCreator(creator)
}

// PollCount returns the number of deployed polls.
func (r *Registry) PollCount() (int, error) {
	ids, err := r.ListPolls()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Policy returns a copy of the current policy tuple.
func (r *Registry) Policy() (Policy, error) {
	p, err := r.policy()
	if err != nil {
		return Policy{}, err
	}
	return p.Clone(), nil
}

// Admin implements poll.PolicyReader.
func (r *Registry) Admin() ([20]byte, error) {
	p, err := r.policy()
	if err != nil {
		return [20]byte{}, err
	}
	return p.Admin, nil
}

// FeeRecipient implements poll.PolicyReader.
func (r *Registry) FeeRecipient() ([20]byte, error) {
	p, err := r.policy()
	if err != nil {
		return [20]byte{}, err
	}
	return p.FeeRecipient, nil
}

// RescueRecipient implements poll.PolicyReader.
func (r *Registry) RescueRecipient() ([20]byte, error) {
	p, err := r.policy()
	if err != nil {
		return [20]byte{}, err
	}
	return p.RescueRecipient, nil
}

// FeeRateBps implements poll.PolicyReader.
func (r *Registry) FeeRateBps() (uint32, error) {
	p, err := r.policy()
	if err != nil {
		return 0, err
	}
	return p.FeeRateBps, nil
}
