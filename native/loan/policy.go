package loan

import "math/big"

var basisPoints = big.NewInt(10_000)

const secondsPerYear = 31_536_000

// InterestPolicy computes the interest accrued on an outstanding principal
// over an elapsed interval. The accrual formula differs across deployments, so
// it is pluggable rather than fixed in the engine.
type InterestPolicy interface {
	Accrue(outstanding *big.Int, elapsedSeconds int64) *big.Int
}

// FixedRatePolicy accrues simple interest at a fixed annual rate expressed in
// basis points.
type FixedRatePolicy struct {
	RateBps uint64
}

// Accrue returns outstanding * rate * elapsed / (10_000 * secondsPerYear),
// rounded down.
func (p FixedRatePolicy) Accrue(outstanding *big.Int, elapsedSeconds int64) *big.Int {
	if outstanding == nil || outstanding.Sign() <= 0 || elapsedSeconds <= 0 || p.RateBps == 0 {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(outstanding, new(big.Int).SetUint64(p.RateBps))
	interest.Mul(interest, big.NewInt(elapsedSeconds))
	interest.Quo(interest, basisPoints)
	interest.Quo(interest, big.NewInt(secondsPerYear))
	return interest
}

// CommissionPolicy determines the commission carved out of the collateral
// seized during liquidation.
type CommissionPolicy interface {
	Commission(seized *big.Int) *big.Int
}

// FlatBpsCommission takes a fixed basis-point share of the seized collateral.
type FlatBpsCommission struct {
	Bps uint64
}

func (p FlatBpsCommission) Commission(seized *big.Int) *big.Int {
	if seized == nil || seized.Sign() <= 0 || p.Bps == 0 {
		return big.NewInt(0)
	}
	commission := new(big.Int).Mul(seized, new(big.Int).SetUint64(p.Bps))
	return commission.Quo(commission, basisPoints)
}
