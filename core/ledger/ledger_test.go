package ledger

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"pollstake/core/types"
)

type mockAccountState struct {
	accounts map[string]*types.Account
	putErr   error
}

func newMockAccountState() *mockAccountState {
	return &mockAccountState{accounts: make(map[string]*types.Account)}
}

func (m *mockAccountState) GetAccount(addr []byte) (*types.Account, error) {
	if acc, ok := m.accounts[hex.EncodeToString(addr)]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{Balances: make(map[string]*big.Int)}, nil
}

func (m *mockAccountState) PutAccount(addr []byte, account *types.Account) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.accounts[hex.EncodeToString(addr)] = account.Clone()
	return nil
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestTransferMovesBalance(t *testing.T) {
	state := newMockAccountState()
	l := New(state)
	alice := addr(0x01)
	bob := addr(0x02)

	if err := l.Mint(alice, "VOTE", big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(alice, bob, "VOTE", big.NewInt(300)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	aliceBal, err := l.BalanceOf(alice, "VOTE")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if aliceBal.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("alice = %s, want 700", aliceBal)
	}
	bobBal, err := l.BalanceOf(bob, "VOTE")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bobBal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("bob = %s, want 300", bobBal)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	state := newMockAccountState()
	l := New(state)
	alice := addr(0x01)
	bob := addr(0x02)

	if err := l.Mint(alice, "VOTE", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(alice, bob, "VOTE", big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	// Neither side may be touched on failure.
	aliceBal, _ := l.BalanceOf(alice, "VOTE")
	if aliceBal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("alice = %s, want untouched 100", aliceBal)
	}
	bobBal, _ := l.BalanceOf(bob, "VOTE")
	if bobBal.Sign() != 0 {
		t.Fatalf("bob = %s, want untouched 0", bobBal)
	}
}

func TestTransferEdgeAmounts(t *testing.T) {
	state := newMockAccountState()
	l := New(state)
	alice := addr(0x01)
	bob := addr(0x02)

	if err := l.Transfer(alice, bob, "VOTE", big.NewInt(0)); err != nil {
		t.Fatalf("zero amount must be a no-op, got %v", err)
	}
	if err := l.Transfer(alice, bob, "VOTE", nil); err != nil {
		t.Fatalf("nil amount must be a no-op, got %v", err)
	}
	if err := l.Transfer(alice, bob, "VOTE", big.NewInt(-1)); err == nil {
		t.Fatal("negative amount must be rejected")
	}
}

func TestSelfTransferPreservesBalance(t *testing.T) {
	state := newMockAccountState()
	l := New(state)
	alice := addr(0x01)

	if err := l.Mint(alice, "VOTE", big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(alice, alice, "VOTE", big.NewInt(200)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	bal, _ := l.BalanceOf(alice, "VOTE")
	if bal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("alice = %s, want unchanged 500", bal)
	}
}

func TestBalancesIsolatedPerToken(t *testing.T) {
	state := newMockAccountState()
	l := New(state)
	alice := addr(0x01)
	bob := addr(0x02)

	if err := l.Mint(alice, "VOTE", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint(alice, "GOLD", big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(alice, bob, "GOLD", big.NewInt(50)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	voteBal, _ := l.BalanceOf(alice, "VOTE")
	if voteBal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("VOTE = %s, want untouched 100", voteBal)
	}
	goldBal, _ := l.BalanceOf(bob, "GOLD")
	if goldBal.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("bob GOLD = %s, want 50", goldBal)
	}
}

func TestMintRejectsNonPositive(t *testing.T) {
	l := New(newMockAccountState())
	if err := l.Mint(addr(0x01), "VOTE", big.NewInt(0)); err == nil {
		t.Fatal("zero mint must be rejected")
	}
	if err := l.Mint(addr(0x01), "VOTE", nil); err == nil {
		t.Fatal("nil mint must be rejected")
	}
}
