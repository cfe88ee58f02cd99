package types

import (
	"math/big"

	"loanvault/crypto"
)

// Account tracks the spendable balance for a ledger participant. Balances are
// denominated in wei, the smallest currency unit, and never go negative.
type Account struct {
	Nonce      uint64   `json:"nonce"`
	BalanceWei *big.Int `json:"balanceWei"`
}

// AccountUpdate pairs an address with the account state an operation intends
// to persist. Engines stage every update a transfer produces and apply them
// in one batch, so a failed write never records half of a movement.
type AccountUpdate struct {
	Address crypto.Address
	Account *Account
}

// Clone returns a deep copy so callers can mutate without aliasing stored
// state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceWei != nil {
		clone.BalanceWei = new(big.Int).Set(a.BalanceWei)
	} else {
		clone.BalanceWei = big.NewInt(0)
	}
	return clone
}
