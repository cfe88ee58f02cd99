package loan

import (
	"math/big"
	"testing"
)

func TestLoanCloneIsDeep(t *testing.T) {
	original := &Loan{
		ID:             7,
		Depositor:      makeAddress(0xAA),
		Receiver:       makeAddress(0xBB),
		CollateralWei:  big.NewInt(100),
		PrincipalWei:   big.NewInt(50),
		OutstandingWei: big.NewInt(50),
		InterestWei:    big.NewInt(3),
		Status:         StatusAccepted,
	}
	clone := original.Clone()
	clone.CollateralWei.SetInt64(999)
	clone.Status = StatusRepaid

	if original.CollateralWei.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("clone mutation leaked into original collateral: %s", original.CollateralWei)
	}
	if original.Status != StatusAccepted {
		t.Fatalf("clone mutation leaked into original status: %s", original.Status)
	}
}

func TestSanitizeLoanRejectsNegativeAmounts(t *testing.T) {
	l := &Loan{
		ID:             1,
		Depositor:      makeAddress(0xAA),
		Receiver:       makeAddress(0xBB),
		CollateralWei:  big.NewInt(-1),
		PrincipalWei:   big.NewInt(0),
		OutstandingWei: big.NewInt(0),
		InterestWei:    big.NewInt(0),
		Status:         StatusRequested,
	}
	if _, err := SanitizeLoan(l); err == nil {
		t.Fatal("expected error for negative collateral")
	}
	l.CollateralWei = big.NewInt(1)
	l.Status = Status(99)
	if _, err := SanitizeLoan(l); err == nil {
		t.Fatal("expected error for invalid status")
	}
	if _, err := SanitizeLoan(nil); err == nil {
		t.Fatal("expected error for nil loan")
	}
}

func TestSanitizeLoanFillsNilAmounts(t *testing.T) {
	l := &Loan{ID: 1, Depositor: makeAddress(0xAA), Receiver: makeAddress(0xBB), Status: StatusRequested}
	sanitized, err := SanitizeLoan(l)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.CollateralWei == nil || sanitized.OutstandingWei == nil {
		t.Fatal("expected nil amounts replaced with zero")
	}
}

func TestStatusLifecycle(t *testing.T) {
	if StatusRequested.Terminal() || StatusAccepted.Terminal() {
		t.Fatal("active statuses must not be terminal")
	}
	for _, s := range []Status{StatusRepaid, StatusLiquidated, StatusRefunded} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	if Status(0).Valid() || Status(6).Valid() {
		t.Fatal("out-of-range statuses must be invalid")
	}
	if Status(0).String() != "unknown" {
		t.Fatalf("unexpected string for zero status: %s", Status(0))
	}
}
