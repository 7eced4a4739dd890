package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"pollstake/core/types"
)

var (
	errNilState = errors.New("ledger: account state not configured")
	// ErrInsufficientBalance is returned when a debit exceeds the payer's
	// balance. The enclosing operation must treat this as fatal.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// accountState persists ledger accounts.
type accountState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Ledger moves token balances between accounts with all-or-nothing
// semantics: a transfer either debits and credits in full or returns an
// error with neither side touched.
type Ledger struct {
	state accountState
}

// New constructs a ledger over the supplied account state.
func New(state accountState) *Ledger {
	return &Ledger{state: state}
}

// Transfer debits `from` and credits `to` by the supplied amount. Zero
// amounts are a no-op; negative amounts are rejected.
func (l *Ledger) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative transfer amount")
	}
	if from == to {
		return nil
	}
	fromAcc, err := l.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := l.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromBal := fromAcc.Balance(token)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(fromBal, amount))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amount))
	if err := l.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to[:], toAcc)
}

// BalanceOf returns the holder's balance for the token.
func (l *Ledger) BalanceOf(addr [20]byte, token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	acc, err := l.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance(token)), nil
}

// Mint credits freshly issued tokens to the address. Used for genesis
// funding; the settlement engines never mint.
func (l *Ledger) Mint(to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: mint amount must be positive")
	}
	acc, err := l.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	acc.SetBalance(token, new(big.Int).Add(acc.Balance(token), amount))
	return l.state.PutAccount(to[:], acc)
}
