package loan

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"loanvault/core/types"
)

const (
	EventTypeLoanCreated    = "loan.created"
	EventTypeLoanAccepted   = "loan.accepted"
	EventTypeLoanPayment    = "loan.payment"
	EventTypeLoanLiquidated = "loan.liquidated"
	EventTypeLoanRefunded   = "loan.refunded"
)

// NewCreatedEvent returns the canonical event payload for a newly requested
// loan.
func NewCreatedEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanCreated, l) }

// NewAcceptedEvent returns the canonical event payload emitted when the quorum
// accepts a loan and releases the principal.
func NewAcceptedEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanAccepted, l) }

// NewPaymentEvent carries the post-payment principal and interest so
// observers can track amortization without replaying state.
func NewPaymentEvent(l *Loan, paid *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanPayment, l)
	if paid != nil {
		evt.Attributes["paid"] = paid.String()
	}
	return evt
}

// NewLiquidatedEvent reports the collateral transferred out of the vault and
// the commission carved from it.
func NewLiquidatedEvent(l *Loan, seized, commission *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanLiquidated, l)
	if seized != nil {
		evt.Attributes["amount"] = seized.String()
	}
	if commission != nil {
		evt.Attributes["commission"] = commission.String()
	}
	return evt
}

// NewRefundedEvent reports the collateral returned to the depositor.
func NewRefundedEvent(l *Loan, refunded *big.Int) *types.Event {
	evt := newLoanEvent(EventTypeLoanRefunded, l)
	if refunded != nil {
		evt.Attributes["amount"] = refunded.String()
	}
	return evt
}

func newLoanEvent(eventType string, l *Loan) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeLoan(l)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["loanId"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["depositor"] = hex.EncodeToString(sanitized.Depositor.Bytes())
	attrs["receiver"] = hex.EncodeToString(sanitized.Receiver.Bytes())
	attrs["collateral"] = sanitized.CollateralWei.String()
	attrs["principal"] = sanitized.PrincipalWei.String()
	attrs["outstanding"] = sanitized.OutstandingWei.String()
	attrs["interest"] = sanitized.InterestWei.String()
	attrs["status"] = sanitized.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
