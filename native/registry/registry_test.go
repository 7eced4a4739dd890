package registry

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"pollstake/core/events"
	"pollstake/native/poll"
)

type mockRegistryState struct {
	policy    *Policy
	nonce     uint64
	polls     [][32]byte
	byCreator map[[20]byte][][32]byte
}

func newMockRegistryState() *mockRegistryState {
	return &mockRegistryState{byCreator: make(map[[20]byte][][32]byte)}
}

func (m *mockRegistryState) PolicyGet() (*Policy, bool, error) {
	if m.policy == nil {
		return nil, false, nil
	}
	clone := m.policy.Clone()
	return &clone, true, nil
}

func (m *mockRegistryState) PolicyPut(p *Policy) error {
	if p == nil {
		return fmt.Errorf("nil policy")
	}
	clone := p.Clone()
	m.policy = &clone
	return nil
}

func (m *mockRegistryState) RegistryNextNonce() (uint64, error) {
	m.nonce++
	return m.nonce, nil
}

func (m *mockRegistryState) RegistryAppendPoll(id [32]byte, creator [20]byte) error {
	m.polls = append(m.polls, id)
	m.byCreator[creator] = append(m.byCreator[creator], id)
	return nil
}

func (m *mockRegistryState) RegistryPolls() ([][32]byte, error) {
	return append([][32]byte(nil), m.polls...), nil
}

func (m *mockRegistryState) RegistryPollsByCreator(creator [20]byte) ([][32]byte, error) {
	return append([][32]byte(nil), m.byCreator[creator]...), nil
}

type mockDeployer struct {
	created []uint64
	fail    error
}

func (m *mockDeployer) Create(creator [20]byte, nonce uint64, params poll.Params) (*poll.Poll, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	m.created = append(m.created, nonce)
	p := &poll.Poll{Creator: creator}
	p.ID[0] = byte(nonce)
	return p, nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func validParams() poll.Params {
	return poll.Params{
		StartTime:    100,
		EndTime:      200,
		StakePerVote: big.NewInt(100),
		WinningSlots: 1,
		TotalOptions: 2,
		Token:        "VOTE",
	}
}

func newTestRegistry(t *testing.T) (*Registry, *mockRegistryState, *mockDeployer, *captureEmitter) {
	t.Helper()
	state := newMockRegistryState()
	deployer := &mockDeployer{}
	emitter := &captureEmitter{}
	reg := New()
	reg.SetState(state)
	reg.SetDeployer(deployer)
	reg.SetEmitter(emitter)
	if err := reg.Bootstrap(Policy{
		Admin:           testAddr(0xAD),
		FeeRecipient:    testAddr(0xFE),
		RescueRecipient: testAddr(0xEC),
		FeeRateBps:      500,
	}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return reg, state, deployer, emitter
}

func TestBootstrapValidatesAndRunsOnce(t *testing.T) {
	state := newMockRegistryState()
	reg := New()
	reg.SetState(state)

	if err := reg.Bootstrap(Policy{FeeRateBps: 100}); !errors.Is(err, poll.ErrValidation) {
		t.Fatalf("zero admin: expected validation error, got %v", err)
	}
	if err := reg.Bootstrap(Policy{Admin: testAddr(0xAD), FeeRateBps: 1001}); !errors.Is(err, poll.ErrValidation) {
		t.Fatalf("rate above cap: expected validation error, got %v", err)
	}
	if err := reg.Bootstrap(Policy{Admin: testAddr(0xAD), FeeRateBps: 500}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	// Second bootstrap must not clobber a mutated policy.
	if err := reg.SetFeeRateBps(testAddr(0xAD), 250); err != nil {
		t.Fatalf("set fee rate: %v", err)
	}
	if err := reg.Bootstrap(Policy{Admin: testAddr(0xAD), FeeRateBps: 500}); err != nil {
		t.Fatalf("re-bootstrap: %v", err)
	}
	rate, err := reg.FeeRateBps()
	if err != nil {
		t.Fatalf("fee rate: %v", err)
	}
	if rate != 250 {
		t.Fatalf("fee rate = %d, want mutated 250", rate)
	}
}

func TestDeployIndexesPolls(t *testing.T) {
	reg, _, deployer, _ := newTestRegistry(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	first, err := reg.Deploy(alice, validParams())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := reg.Deploy(alice, validParams()); err != nil {
		t.Fatalf("deploy second: %v", err)
	}
	if _, err := reg.Deploy(bob, validParams()); err != nil {
		t.Fatalf("deploy third: %v", err)
	}

	if len(deployer.created) != 3 || deployer.created[0] != 1 || deployer.created[2] != 3 {
		t.Fatalf("nonces = %v, want sequential from 1", deployer.created)
	}
	all, err := reg.ListPolls()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0] != first.ID {
		t.Fatalf("polls = %d entries, want 3 in creation order", len(all))
	}
	mine, err := reg.ListPollsByCreator(alice)
	if err != nil {
		t.Fatalf("list by creator: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("alice polls = %d, want 2", len(mine))
	}
	count, err := reg.PollCount()
	if err != nil || count != 3 {
		t.Fatalf("count = %d (%v), want 3", count, err)
	}
}

func TestDeployPropagatesEngineRejection(t *testing.T) {
	reg, state, deployer, _ := newTestRegistry(t)
	deployer.fail = fmt.Errorf("%w: bad params", poll.ErrValidation)
	if _, err := reg.Deploy(testAddr(0x01), validParams()); !errors.Is(err, poll.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(state.polls) != 0 {
		t.Fatal("failed deploy must not be indexed")
	}
}

func TestPolicySettersRequireAdmin(t *testing.T) {
	reg, _, _, emitter := newTestRegistry(t)
	admin := testAddr(0xAD)
	stranger := testAddr(0x66)

	if err := reg.SetFeeRateBps(stranger, 100); !errors.Is(err, poll.ErrAuthorization) {
		t.Fatalf("stranger set rate: expected authorization error, got %v", err)
	}
	if err := reg.SetAdmin(stranger, stranger); !errors.Is(err, poll.ErrAuthorization) {
		t.Fatalf("stranger set admin: expected authorization error, got %v", err)
	}
	if err := reg.SetFeeRateBps(admin, 1001); !errors.Is(err, poll.ErrValidation) {
		t.Fatalf("rate above cap: expected validation error, got %v", err)
	}
	if err := reg.SetFeeRateBps(admin, 1000); err != nil {
		t.Fatalf("set rate at cap: %v", err)
	}
	if err := reg.SetFeeRecipient(admin, testAddr(0x77)); err != nil {
		t.Fatalf("set fee recipient: %v", err)
	}
	if err := reg.SetRescueRecipient(admin, testAddr(0x78)); err != nil {
		t.Fatalf("set rescue recipient: %v", err)
	}

	// Admin rotation hands control to the new admin.
	next := testAddr(0x88)
	if err := reg.SetAdmin(admin, next); err != nil {
		t.Fatalf("rotate admin: %v", err)
	}
	if err := reg.SetFeeRateBps(admin, 100); !errors.Is(err, poll.ErrAuthorization) {
		t.Fatalf("old admin after rotation: expected authorization error, got %v", err)
	}
	if err := reg.SetFeeRateBps(next, 100); err != nil {
		t.Fatalf("new admin: %v", err)
	}

	types := make(map[string]int)
	for _, evt := range emitter.events {
		types[evt.EventType()]++
	}
	if types[EventTypeFeeRateUpdated] != 2 {
		t.Fatalf("fee rate update events = %d, want 2", types[EventTypeFeeRateUpdated])
	}
	if types[EventTypeAdminUpdated] != 1 {
		t.Fatalf("admin update events = %d, want 1", types[EventTypeAdminUpdated])
	}
}

func TestPolicyReaderReflectsMutations(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	admin := testAddr(0xAD)

	recipient := testAddr(0x99)
	if err := reg.SetFeeRecipient(admin, recipient); err != nil {
		t.Fatalf("set fee recipient: %v", err)
	}
	got, err := reg.FeeRecipient()
	if err != nil {
		t.Fatalf("fee recipient: %v", err)
	}
	if got != recipient {
		t.Fatal("policy reader must see the mutated recipient")
	}
	policy, err := reg.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if policy.FeeRecipient != recipient {
		t.Fatal("policy copy must carry the mutated recipient")
	}
}
