package loan

import (
	"fmt"
	"math/big"
	"time"

	"loanvault/core/events"
	"loanvault/core/types"
	"loanvault/crypto"
	nativecommon "loanvault/native/common"
)

const moduleName = "loan"

type engineState interface {
	GetLoan(id uint64) (*Loan, error)
	NextLoanID() (uint64, error)
	GetAccount(addr crypto.Address) (*types.Account, error)
	// ApplyLoan persists the loan and account records of one operation
	// all-or-nothing, so a storage failure never leaves a transfer
	// half-recorded.
	ApplyLoan(l *Loan, updates []types.AccountUpdate) error
}

// Engine is the collateralized-loan state machine. Collateral is held by the
// collateral custody account, principal is paid out of (and repaid into) the
// pool account, and liquidation commissions flow to the collector.
type Engine struct {
	state             engineState
	poolAddress       crypto.Address
	collateralAddress crypto.Address
	collectorAddress  crypto.Address
	params            Params
	interest          InterestPolicy
	commission        CommissionPolicy
	emitter           events.Emitter
	nowFn             func() time.Time
	pauses            nativecommon.PauseView
}

// NewEngine constructs a loan engine wired to the module custody addresses
// and term parameters.
func NewEngine(poolAddr, collateralAddr, collectorAddr crypto.Address, params Params) *Engine {
	return &Engine{
		poolAddress:       poolAddr,
		collateralAddress: collateralAddr,
		collectorAddress:  collectorAddr,
		params:            params,
		emitter:           events.NoopEmitter{},
		nowFn:             func() time.Time { return time.Now().UTC() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used to stamp loans. Nil restores the
// default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// SetInterestPolicy configures the accrual formula. Nil disables accrual.
func (e *Engine) SetInterestPolicy(policy InterestPolicy) {
	if e == nil {
		return
	}
	e.interest = policy
}

// SetCommissionPolicy configures the liquidation commission carve-out. Nil
// disables the commission.
func (e *Engine) SetCommissionPolicy(policy CommissionPolicy) {
	if e == nil {
		return
	}
	e.commission = policy
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Typed{Evt: evt})
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

// SendCollateral locks the deposited value in the vault and records a new
// Requested loan. Callable by anyone; the identifier is assigned by the
// ledger.
func (e *Engine) SendCollateral(depositor crypto.Address, digest [32]byte, receiver crypto.Address, principal, value *big.Int, note string) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if value == nil || value.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if principal == nil || principal.Sign() < 0 {
		return 0, ErrInvalidAmount
	}

	depositorAcc, err := e.loadAccount(depositor)
	if err != nil {
		return 0, err
	}
	if depositorAcc.BalanceWei.Cmp(value) < 0 {
		return 0, ErrInsufficientBalance
	}
	custodyAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return 0, err
	}

	id, err := e.state.NextLoanID()
	if err != nil {
		return 0, err
	}

	now := e.now().Unix()
	l := &Loan{
		ID:             id,
		Depositor:      depositor,
		Receiver:       receiver,
		SecretDigest:   digest,
		CollateralWei:  new(big.Int).Set(value),
		PrincipalWei:   new(big.Int).Set(principal),
		OutstandingWei: big.NewInt(0),
		InterestWei:    big.NewInt(0),
		CreatedAt:      now,
		EscrowDeadline: now + int64(e.params.EscrowWindowSeconds),
		Note:           note,
		Status:         StatusRequested,
	}

	depositorAcc.BalanceWei = new(big.Int).Sub(depositorAcc.BalanceWei, value)
	custodyAcc.BalanceWei = new(big.Int).Add(custodyAcc.BalanceWei, value)

	if err := e.state.ApplyLoan(l, []types.AccountUpdate{
		{Address: depositor, Account: depositorAcc},
		{Address: e.collateralAddress, Account: custodyAcc},
	}); err != nil {
		return 0, err
	}

	e.emit(NewCreatedEvent(l))
	return id, nil
}

// AcceptLoan releases the requested principal to the receiver once the quorum
// reveals the key matching the stored commitment.
func (e *Engine) AcceptLoan(loanID uint64, key []byte, note string) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	l, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if l.Status != StatusRequested {
		return fmt.Errorf("%w: loan %d is %s", ErrInvalidState, loanID, l.Status)
	}
	if !crypto.VerifyPreimage(l.SecretDigest, key) {
		return ErrBadPreimage
	}

	poolAcc, err := e.loadAccount(e.poolAddress)
	if err != nil {
		return err
	}
	if poolAcc.BalanceWei.Cmp(l.PrincipalWei) < 0 {
		return ErrInsufficientBalance
	}
	receiverAcc, err := e.loadAccount(l.Receiver)
	if err != nil {
		return err
	}

	now := e.now().Unix()
	poolAcc.BalanceWei = new(big.Int).Sub(poolAcc.BalanceWei, l.PrincipalWei)
	receiverAcc.BalanceWei = new(big.Int).Add(receiverAcc.BalanceWei, l.PrincipalWei)

	l.OutstandingWei = new(big.Int).Set(l.PrincipalWei)
	l.AcceptedAt = now
	l.MaturityAt = now + int64(e.params.TermSeconds)
	l.LastAccrualAt = now
	l.Status = StatusAccepted
	if note != "" {
		l.Note = note
	}

	if err := e.state.ApplyLoan(l, []types.AccountUpdate{
		{Address: e.poolAddress, Account: poolAcc},
		{Address: l.Receiver, Account: receiverAcc},
	}); err != nil {
		return err
	}

	e.emit(NewAcceptedEvent(l))
	return nil
}

// AddPayment accrues interest and applies the payment, interest first, with
// the remainder reducing outstanding principal. Driving the principal to zero
// marks the loan repaid.
func (e *Engine) AddPayment(loanID uint64, payer crypto.Address, amount *big.Int, note string) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if l.Status != StatusAccepted {
		return fmt.Errorf("%w: loan %d is %s", ErrInvalidState, loanID, l.Status)
	}

	e.accrueInterest(l)

	due := new(big.Int).Add(l.InterestWei, l.OutstandingWei)
	if amount.Cmp(due) > 0 {
		return fmt.Errorf("%w: loan %d owes %s", ErrOverpayment, loanID, due)
	}

	payerAcc, err := e.loadAccount(payer)
	if err != nil {
		return err
	}
	if payerAcc.BalanceWei.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	poolAcc, err := e.loadAccount(e.poolAddress)
	if err != nil {
		return err
	}

	payerAcc.BalanceWei = new(big.Int).Sub(payerAcc.BalanceWei, amount)
	poolAcc.BalanceWei = new(big.Int).Add(poolAcc.BalanceWei, amount)

	// Interest must be fully settled before the payment touches principal.
	remainder := new(big.Int).Set(amount)
	if remainder.Cmp(l.InterestWei) >= 0 {
		remainder.Sub(remainder, l.InterestWei)
		l.InterestWei = big.NewInt(0)
	} else {
		l.InterestWei = new(big.Int).Sub(l.InterestWei, remainder)
		remainder = big.NewInt(0)
	}
	l.OutstandingWei = new(big.Int).Sub(l.OutstandingWei, remainder)
	if l.OutstandingWei.Sign() == 0 {
		l.Status = StatusRepaid
	}
	if note != "" {
		l.Note = note
	}

	if err := e.state.ApplyLoan(l, []types.AccountUpdate{
		{Address: payer, Account: payerAcc},
		{Address: e.poolAddress, Account: poolAcc},
	}); err != nil {
		return err
	}

	e.emit(NewPaymentEvent(l, amount))
	return nil
}

// Liquidate force-closes an accepted loan that is past maturity or
// under-collateralized at the supplied prices. A debt-proportional share of
// the collateral moves to the pool, the commission carve-out to the
// collector, and the remainder stays claimable by the depositor.
func (e *Engine) Liquidate(loanID uint64, collateralPrice, assetPrice *big.Int, note string) error {
	return e.liquidate(loanID, collateralPrice, assetPrice, note, false)
}

// LiquidateMatured is the permissionless variant: anyone may trigger it, but
// only once the maturity deadline has passed. Collateral and debt are valued
// at par.
func (e *Engine) LiquidateMatured(loanID uint64, note string) error {
	return e.liquidate(loanID, big.NewInt(1), big.NewInt(1), note, true)
}

func (e *Engine) liquidate(loanID uint64, collateralPrice, assetPrice *big.Int, note string, maturityOnly bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if collateralPrice == nil || collateralPrice.Sign() <= 0 || assetPrice == nil || assetPrice.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if l.Status != StatusAccepted {
		return fmt.Errorf("%w: loan %d is %s", ErrInvalidState, loanID, l.Status)
	}

	e.accrueInterest(l)

	debt := new(big.Int).Add(l.OutstandingWei, l.InterestWei)
	matured := e.now().Unix() > l.MaturityAt
	underCollateralized := false
	if !maturityOnly && debt.Sign() > 0 {
		debtValue := new(big.Int).Mul(debt, assetPrice)
		ratio := new(big.Int).Mul(l.CollateralWei, collateralPrice)
		ratio.Mul(ratio, basisPoints)
		ratio.Quo(ratio, debtValue)
		underCollateralized = ratio.Cmp(new(big.Int).SetUint64(e.params.MinCollateralRatioBps)) < 0
	}
	if !matured && !underCollateralized {
		return fmt.Errorf("%w: loan %d", ErrNotLiquidatable, loanID)
	}

	// Collateral covering the outstanding debt at the supplied prices.
	seized := new(big.Int).Mul(debt, assetPrice)
	seized.Quo(seized, collateralPrice)
	if seized.Sign() == 0 && debt.Sign() > 0 {
		seized = big.NewInt(1)
	}
	commission := big.NewInt(0)
	if e.commission != nil {
		commission = e.commission.Commission(seized)
	}
	total := new(big.Int).Add(seized, commission)
	if total.Cmp(l.CollateralWei) > 0 {
		total = new(big.Int).Set(l.CollateralWei)
		if commission.Cmp(total) > 0 {
			commission = new(big.Int).Set(total)
		}
		seized = new(big.Int).Sub(total, commission)
	}

	custodyAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return err
	}
	if custodyAcc.BalanceWei.Cmp(total) < 0 {
		return ErrInsufficientBalance
	}
	poolAcc, err := e.loadAccount(e.poolAddress)
	if err != nil {
		return err
	}
	collectorAcc, err := e.loadAccount(e.collectorAddress)
	if err != nil {
		return err
	}

	custodyAcc.BalanceWei = new(big.Int).Sub(custodyAcc.BalanceWei, total)
	poolAcc.BalanceWei = new(big.Int).Add(poolAcc.BalanceWei, seized)
	collectorAcc.BalanceWei = new(big.Int).Add(collectorAcc.BalanceWei, commission)

	l.CollateralWei = new(big.Int).Sub(l.CollateralWei, total)
	l.OutstandingWei = big.NewInt(0)
	l.InterestWei = big.NewInt(0)
	l.Status = StatusLiquidated
	if note != "" {
		l.Note = note
	}

	if err := e.state.ApplyLoan(l, []types.AccountUpdate{
		{Address: e.collateralAddress, Account: custodyAcc},
		{Address: e.poolAddress, Account: poolAcc},
		{Address: e.collectorAddress, Account: collectorAcc},
	}); err != nil {
		return err
	}

	e.emit(NewLiquidatedEvent(l, total, commission))
	return nil
}

// RefundCollateral returns the remaining collateral to the depositor. Legal
// after repayment or liquidation, or for a still-Requested loan once the
// escrow window has elapsed.
func (e *Engine) RefundCollateral(caller crypto.Address, loanID uint64, note string) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	l, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if !caller.Equal(l.Depositor) {
		return fmt.Errorf("%w: only the depositor may refund loan %d", ErrUnauthorized, loanID)
	}

	switch l.Status {
	case StatusRepaid, StatusLiquidated:
	case StatusRequested:
		if e.now().Unix() <= l.EscrowDeadline {
			return fmt.Errorf("%w: loan %d escrow open until %d", ErrTooEarly, loanID, l.EscrowDeadline)
		}
	default:
		return fmt.Errorf("%w: loan %d is %s", ErrInvalidState, loanID, l.Status)
	}

	refund := new(big.Int).Set(l.CollateralWei)

	custodyAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return err
	}
	if custodyAcc.BalanceWei.Cmp(refund) < 0 {
		return ErrInsufficientBalance
	}
	depositorAcc, err := e.loadAccount(l.Depositor)
	if err != nil {
		return err
	}

	custodyAcc.BalanceWei = new(big.Int).Sub(custodyAcc.BalanceWei, refund)
	depositorAcc.BalanceWei = new(big.Int).Add(depositorAcc.BalanceWei, refund)

	l.CollateralWei = big.NewInt(0)
	l.Status = StatusRefunded
	if note != "" {
		l.Note = note
	}

	if err := e.state.ApplyLoan(l, []types.AccountUpdate{
		{Address: e.collateralAddress, Account: custodyAcc},
		{Address: l.Depositor, Account: depositorAcc},
	}); err != nil {
		return err
	}

	e.emit(NewRefundedEvent(l, refund))
	return nil
}

// GetLoan returns a cloned snapshot of the loan, or ErrNotFound.
func (e *Engine) GetLoan(loanID uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	l, err := e.state.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, loanID)
	}
	return l.Clone(), nil
}

// CollateralRatio computes collateral / debt in basis points. Zero debt is an
// error; the caller decides how to render an infinitely collateralized
// position.
func CollateralRatio(collateral, debt *big.Int) (*big.Int, error) {
	if debt == nil || debt.Sign() == 0 {
		return nil, ErrZeroDebt
	}
	if collateral == nil {
		collateral = big.NewInt(0)
	}
	ratio := new(big.Int).Mul(collateral, basisPoints)
	return ratio.Quo(ratio, debt), nil
}

func (e *Engine) accrueInterest(l *Loan) {
	if e.interest == nil || l == nil || l.Status != StatusAccepted {
		return
	}
	now := e.now().Unix()
	elapsed := now - l.LastAccrualAt
	if elapsed <= 0 {
		return
	}
	accrued := e.interest.Accrue(l.OutstandingWei, elapsed)
	if accrued.Sign() > 0 {
		l.InterestWei = new(big.Int).Add(l.InterestWei, accrued)
	}
	l.LastAccrualAt = now
}

func (e *Engine) loadLoan(loanID uint64) (*Loan, error) {
	l, err := e.state.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, loanID)
	}
	if l.CollateralWei == nil {
		l.CollateralWei = big.NewInt(0)
	}
	if l.PrincipalWei == nil {
		l.PrincipalWei = big.NewInt(0)
	}
	if l.OutstandingWei == nil {
		l.OutstandingWei = big.NewInt(0)
	}
	if l.InterestWei == nil {
		l.InterestWei = big.NewInt(0)
	}
	return l, nil
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
