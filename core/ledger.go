package core

import (
	"math/big"
	"sync"

	"loanvault/crypto"
	"loanvault/native/loan"
	"loanvault/native/quorum"
	"loanvault/native/reserve"
)

// Call kinds staged through the quorum authorizer.
const (
	CallKindAcceptLoan = "loan.accept"
	CallKindAddPayment = "loan.payment"
	CallKindLiquidate  = "loan.liquidate"
	CallKindSpend      = "reserve.spend"
)

// Ledger is the entry surface for the loan and reserve state machines. Direct
// operations (deposit, refund, raise, maturity liquidation) are authorized by
// the caller alone; privileged operations are staged through the quorum
// authorizer and execute only once enough owners confirm.
//
// Every mutating call is serialized behind a single mutex, so concurrent
// callers never observe a loan mid-mutation.
type Ledger struct {
	mu         sync.Mutex
	loans      *loan.Engine
	reserve    *reserve.Engine
	authorizer *quorum.Authorizer
}

// NewLedger wires the facade to its engines and authorizer.
func NewLedger(loans *loan.Engine, pool *reserve.Engine, authorizer *quorum.Authorizer) *Ledger {
	return &Ledger{loans: loans, reserve: pool, authorizer: authorizer}
}

// SendCollateral locks the caller's deposit and opens a loan request. No
// quorum is needed; the depositor risks only their own funds.
func (l *Ledger) SendCollateral(depositor crypto.Address, digest [32]byte, receiver crypto.Address, principal, value *big.Int, note string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.SendCollateral(depositor, digest, receiver, principal, value, note)
}

// RefundCollateral returns remaining collateral to the depositor, subject to
// the loan's state and escrow timing gates.
func (l *Ledger) RefundCollateral(caller crypto.Address, loanID uint64, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.RefundCollateral(caller, loanID, note)
}

// LiquidateMatured lets any caller close a loan that is past maturity.
func (l *Ledger) LiquidateMatured(loanID uint64, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.LiquidateMatured(loanID, note)
}

// Raise adds the caller's funds to the reserve pool.
func (l *Ledger) Raise(funder crypto.Address, amount *big.Int, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserve.Raise(funder, amount, note)
}

// ReserveBalance reports the pooled reserve balance.
func (l *Ledger) ReserveBalance() (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserve.Balance()
}

// GetLoan returns a snapshot of the loan.
func (l *Ledger) GetLoan(loanID uint64) (*loan.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.GetLoan(loanID)
}

// ProposeAcceptLoan stages a quorum-gated acceptance revealing the preimage
// key. With a threshold of one the proposal executes immediately.
func (l *Ledger) ProposeAcceptLoan(owner crypto.Address, loanID uint64, key []byte, note string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authorizer.Propose(owner, quorum.Call{
		Kind:    CallKindAcceptLoan,
		Execute: func() error { return l.loans.AcceptLoan(loanID, key, note) },
	})
}

// ProposeAddPayment stages a quorum-gated payment from the payer account.
func (l *Ledger) ProposeAddPayment(owner crypto.Address, loanID uint64, payer crypto.Address, amount *big.Int, note string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount = copyAmount(amount)
	return l.authorizer.Propose(owner, quorum.Call{
		Kind:    CallKindAddPayment,
		Execute: func() error { return l.loans.AddPayment(loanID, payer, amount, note) },
	})
}

// ProposeLiquidate stages a quorum-gated liquidation at the supplied prices.
func (l *Ledger) ProposeLiquidate(owner crypto.Address, loanID uint64, collateralPrice, assetPrice *big.Int, note string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	collateralPrice = copyAmount(collateralPrice)
	assetPrice = copyAmount(assetPrice)
	return l.authorizer.Propose(owner, quorum.Call{
		Kind:    CallKindLiquidate,
		Execute: func() error { return l.loans.Liquidate(loanID, collateralPrice, assetPrice, note) },
	})
}

// ProposeSpend stages a quorum-gated payout from the reserve pool.
func (l *Ledger) ProposeSpend(owner crypto.Address, amount *big.Int, note string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount = copyAmount(amount)
	return l.authorizer.Propose(owner, quorum.Call{
		Kind:    CallKindSpend,
		Execute: func() error { return l.reserve.Spend(amount, note) },
	})
}

// Confirm records an owner's approval and executes the staged call when the
// threshold is reached.
func (l *Ledger) Confirm(owner crypto.Address, txID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authorizer.Confirm(owner, txID)
}

// Revoke withdraws an owner's confirmation from a pending transaction.
func (l *Ledger) Revoke(owner crypto.Address, txID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authorizer.Revoke(owner, txID)
}

// QuorumTransaction returns a snapshot of a staged transaction.
func (l *Ledger) QuorumTransaction(txID uint64) (*quorum.Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authorizer.Transaction(txID)
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
