package loan

import "errors"

var (
	ErrNilState            = errors.New("loan engine: state not configured")
	ErrUnauthorized        = errors.New("loan engine: caller lacks required role")
	ErrNotFound            = errors.New("loan engine: unknown loan id")
	ErrInvalidState        = errors.New("loan engine: operation illegal for loan status")
	ErrBadPreimage         = errors.New("loan engine: key does not match commitment")
	ErrTooEarly            = errors.New("loan engine: escrow window has not elapsed")
	ErrNotLiquidatable     = errors.New("loan engine: neither maturity nor collateral condition met")
	ErrInsufficientBalance = errors.New("loan engine: insufficient balance")
	ErrOverpayment         = errors.New("loan engine: payment exceeds interest plus principal")
	ErrInvalidAmount       = errors.New("loan engine: amount must be positive")
	ErrZeroDebt            = errors.New("loan engine: collateral ratio undefined for zero debt")
)
