package reserve

import (
	"errors"
	"math/big"

	"loanvault/core/events"
	"loanvault/core/types"
	"loanvault/crypto"
	nativecommon "loanvault/native/common"
)

const moduleName = "reserve"

const (
	EventTypeRaised = "reserve.raised"
	EventTypeSpent  = "reserve.spent"
)

var (
	ErrNilState            = errors.New("reserve engine: state not configured")
	ErrInvalidAmount       = errors.New("reserve engine: amount must be positive")
	ErrInsufficientBalance = errors.New("reserve engine: insufficient balance")
)

type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	// ApplyAccounts persists both sides of a transfer all-or-nothing.
	ApplyAccounts(updates []types.AccountUpdate) error
}

// Engine tracks a single pooled balance held by the reserve module account.
// Anyone may raise the pool; spending is quorum-gated by the facade and pays
// the configured recipient.
type Engine struct {
	state     engineState
	poolAddr  crypto.Address
	recipient crypto.Address
	emitter   events.Emitter
	pauses    nativecommon.PauseView
}

// NewEngine constructs a reserve engine paying out to the given recipient.
func NewEngine(poolAddr, recipient crypto.Address) *Engine {
	return &Engine{
		poolAddr:  poolAddr,
		recipient: recipient,
		emitter:   events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Raise moves funds from the caller into the pooled balance.
func (e *Engine) Raise(funder crypto.Address, amount *big.Int, note string) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	funderAcc, err := e.loadAccount(funder)
	if err != nil {
		return err
	}
	if funderAcc.BalanceWei.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	poolAcc, err := e.loadAccount(e.poolAddr)
	if err != nil {
		return err
	}

	funderAcc.BalanceWei = new(big.Int).Sub(funderAcc.BalanceWei, amount)
	poolAcc.BalanceWei = new(big.Int).Add(poolAcc.BalanceWei, amount)

	if err := e.state.ApplyAccounts([]types.AccountUpdate{
		{Address: funder, Account: funderAcc},
		{Address: e.poolAddr, Account: poolAcc},
	}); err != nil {
		return err
	}

	e.emit(EventTypeRaised, amount)
	return nil
}

// Spend transfers funds from the pool to the configured recipient. The facade
// routes this call through the quorum authorizer.
func (e *Engine) Spend(amount *big.Int, note string) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	poolAcc, err := e.loadAccount(e.poolAddr)
	if err != nil {
		return err
	}
	if poolAcc.BalanceWei.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	recipientAcc, err := e.loadAccount(e.recipient)
	if err != nil {
		return err
	}

	poolAcc.BalanceWei = new(big.Int).Sub(poolAcc.BalanceWei, amount)
	recipientAcc.BalanceWei = new(big.Int).Add(recipientAcc.BalanceWei, amount)

	if err := e.state.ApplyAccounts([]types.AccountUpdate{
		{Address: e.poolAddr, Account: poolAcc},
		{Address: e.recipient, Account: recipientAcc},
	}); err != nil {
		return err
	}

	e.emit(EventTypeSpent, amount)
	return nil
}

// Balance returns the current pooled balance.
func (e *Engine) Balance() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	poolAcc, err := e.loadAccount(e.poolAddr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(poolAcc.BalanceWei), nil
}

func (e *Engine) emit(eventType string, amount *big.Int) {
	if e == nil || e.emitter == nil {
		return
	}
	attrs := make(map[string]string)
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	e.emitter.Emit(events.Typed{Evt: &types.Event{Type: eventType, Attributes: attrs}})
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	if acc.BalanceWei == nil {
		acc.BalanceWei = big.NewInt(0)
	}
	return acc, nil
}
