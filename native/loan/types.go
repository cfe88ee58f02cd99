package loan

import (
	"fmt"
	"math/big"

	"loanvault/crypto"
)

// Status represents the lifecycle states of a collateralized loan. Repaid,
// Liquidated and Refunded are terminal.
type Status uint8

const (
	StatusRequested Status = iota + 1
	StatusAccepted
	StatusRepaid
	StatusLiquidated
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusRepaid, StatusLiquidated, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the loan can no longer transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusRepaid, StatusLiquidated, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusRequested:
		return "requested"
	case StatusAccepted:
		return "accepted"
	case StatusRepaid:
		return "repaid"
	case StatusLiquidated:
		return "liquidated"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Loan captures the full accounting state for a single collateralized loan.
// Identifiers are allocated monotonically by the ledger and never reused.
// Amount values are denominated in wei and expressed as big integers.
type Loan struct {
	ID uint64
	// Depositor posted the collateral and is the only party allowed to
	// reclaim it.
	Depositor crypto.Address
	// Receiver is credited with the principal when the loan is accepted.
	Receiver crypto.Address
	// SecretDigest is the preimage commitment the quorum must reveal a key
	// for during acceptance.
	SecretDigest [32]byte
	// CollateralWei is the collateral still held by the vault. Liquidation
	// and refund both draw it down.
	CollateralWei *big.Int
	// PrincipalWei is the requested principal, fixed at creation.
	PrincipalWei *big.Int
	// OutstandingWei is the unpaid principal. Repaid requires it to be zero.
	OutstandingWei *big.Int
	// InterestWei is the accrued, unpaid interest.
	InterestWei *big.Int
	CreatedAt   int64
	// EscrowDeadline bounds how long the request may sit unaccepted before
	// the depositor can reclaim collateral unilaterally.
	EscrowDeadline int64
	AcceptedAt     int64
	MaturityAt     int64
	// LastAccrualAt records when interest was last accrued.
	LastAccrualAt int64
	Note          string
	Status        Status
}

// Clone returns a deep copy of the loan so callers can safely mutate the copy
// without affecting the stored instance.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.CollateralWei = copyInt(l.CollateralWei)
	clone.PrincipalWei = copyInt(l.PrincipalWei)
	clone.OutstandingWei = copyInt(l.OutstandingWei)
	clone.InterestWei = copyInt(l.InterestWei)
	return &clone
}

// SanitizeLoan validates the supplied loan and returns a cloned instance with
// non-nil amount fields. The original value is not mutated.
func SanitizeLoan(l *Loan) (*Loan, error) {
	if l == nil {
		return nil, fmt.Errorf("nil loan")
	}
	clone := l.Clone()
	if clone.CollateralWei.Sign() < 0 || clone.PrincipalWei.Sign() < 0 ||
		clone.OutstandingWei.Sign() < 0 || clone.InterestWei.Sign() < 0 {
		return nil, fmt.Errorf("loan amounts must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid loan status: %d", clone.Status)
	}
	return clone, nil
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Params groups the term and risk settings governing loan activity. All of
// them are immutable for the lifetime of an engine.
type Params struct {
	// TermSeconds is the repayment term added to the acceptance timestamp to
	// produce the maturity deadline.
	TermSeconds uint64
	// EscrowWindowSeconds is the grace period before an unaccepted request
	// becomes refundable.
	EscrowWindowSeconds uint64
	// MinCollateralRatioBps is the collateral ratio threshold, in basis
	// points, below which an accepted loan becomes liquidatable.
	MinCollateralRatioBps uint64
}
