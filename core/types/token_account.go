package types

import "math/big"

// TokenAccount holds one party's spendable balance for a single token mint.
// A holder may optionally delegate a bounded allowance to another authority;
// delegated transfers draw down both the balance and the remaining allowance.
type TokenAccount struct {
	Owner           [20]byte  `json:"owner"`
	Mint            [20]byte  `json:"mint"`
	Balance         *big.Int  `json:"balance"`
	Delegate        *[20]byte `json:"delegate,omitempty"`
	DelegatedAmount *big.Int  `json:"delegatedAmount"`
}

// Clone returns a deep copy of the token account.
func (a *TokenAccount) Clone() *TokenAccount {
	if a == nil {
		return nil
	}
	clone := &TokenAccount{Owner: a.Owner, Mint: a.Mint}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if a.DelegatedAmount != nil {
		clone.DelegatedAmount = new(big.Int).Set(a.DelegatedAmount)
	}
	if a.Delegate != nil {
		delegate := *a.Delegate
		clone.Delegate = &delegate
	}
	return clone
}

// EnsureTokenAccount returns the account with nil balances replaced by zero
// values, allocating a fresh account for the supplied owner and mint when the
// input is nil.
func EnsureTokenAccount(acc *TokenAccount, owner, mint [20]byte) *TokenAccount {
	if acc == nil {
		return &TokenAccount{Owner: owner, Mint: mint, Balance: big.NewInt(0), DelegatedAmount: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	if acc.DelegatedAmount == nil {
		acc.DelegatedAmount = big.NewInt(0)
	}
	return acc
}
