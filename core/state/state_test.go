package state

import (
	"math/big"
	"testing"

	"loanvault/core/types"
	"loanvault/crypto"
	"loanvault/native/loan"
	"loanvault/storage"
)

func makeAddress(b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.NewAddress(buf)
}

func TestLoanRoundTrip(t *testing.T) {
	ledgerState := NewLedgerState(storage.NewMemDB())

	original := &loan.Loan{
		ID:             3,
		Depositor:      makeAddress(0xAA),
		Receiver:       makeAddress(0xBB),
		SecretDigest:   crypto.Keccak256([]byte("secret")),
		CollateralWei:  big.NewInt(500),
		PrincipalWei:   big.NewInt(1_000),
		OutstandingWei: big.NewInt(750),
		InterestWei:    big.NewInt(25),
		CreatedAt:      1_700_000_000,
		EscrowDeadline: 1_700_604_800,
		AcceptedAt:     1_700_000_100,
		MaturityAt:     1_707_776_100,
		LastAccrualAt:  1_700_000_100,
		Note:           "roundtrip",
		Status:         loan.StatusAccepted,
	}
	if err := ledgerState.PutLoan(original); err != nil {
		t.Fatalf("put loan: %v", err)
	}

	loaded, err := ledgerState.GetLoan(3)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected stored loan")
	}
	if loaded.ID != original.ID || loaded.Status != original.Status || loaded.Note != original.Note {
		t.Fatalf("loaded loan differs: %+v", loaded)
	}
	if !loaded.Depositor.Equal(original.Depositor) || !loaded.Receiver.Equal(original.Receiver) {
		t.Fatal("addresses did not survive the roundtrip")
	}
	if loaded.SecretDigest != original.SecretDigest {
		t.Fatal("digest did not survive the roundtrip")
	}
	if loaded.OutstandingWei.Cmp(original.OutstandingWei) != 0 || loaded.InterestWei.Cmp(original.InterestWei) != 0 {
		t.Fatal("amounts did not survive the roundtrip")
	}
	if loaded.MaturityAt != original.MaturityAt || loaded.LastAccrualAt != original.LastAccrualAt {
		t.Fatal("timestamps did not survive the roundtrip")
	}
}

func TestGetLoanUnknownID(t *testing.T) {
	ledgerState := NewLedgerState(storage.NewMemDB())
	loaded, err := ledgerState.GetLoan(42)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil for unknown loan, got %+v", loaded)
	}
}

func TestNextLoanIDMonotonic(t *testing.T) {
	ledgerState := NewLedgerState(storage.NewMemDB())
	for want := uint64(1); want <= 5; want++ {
		got, err := ledgerState.NextLoanID()
		if err != nil {
			t.Fatalf("next loan id: %v", err)
		}
		if got != want {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}
}

func TestNextLoanIDRejectsCorruptCounter(t *testing.T) {
	db := storage.NewMemDB()
	ledgerState := NewLedgerState(db)

	if _, err := ledgerState.NextLoanID(); err != nil {
		t.Fatalf("next loan id: %v", err)
	}
	if err := db.Put([]byte(nextLoanIDKey), []byte{0x01, 0x02}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := ledgerState.NextLoanID(); err == nil {
		t.Fatal("expected error for a truncated counter record, ids must never restart")
	}
}

func TestApplyLoanWritesAllRecords(t *testing.T) {
	ledgerState := NewLedgerState(storage.NewMemDB())
	depositor := makeAddress(0xAA)
	custody := makeAddress(0x02)

	l := &loan.Loan{
		ID:            7,
		Depositor:     depositor,
		Receiver:      makeAddress(0xBB),
		CollateralWei: big.NewInt(400),
		PrincipalWei:  big.NewInt(100),
		Status:        loan.StatusRequested,
	}
	updates := []types.AccountUpdate{
		{Address: depositor, Account: &types.Account{BalanceWei: big.NewInt(600)}},
		{Address: custody, Account: &types.Account{BalanceWei: big.NewInt(400)}},
	}
	if err := ledgerState.ApplyLoan(l, updates); err != nil {
		t.Fatalf("apply loan: %v", err)
	}

	loaded, err := ledgerState.GetLoan(7)
	if err != nil || loaded == nil {
		t.Fatalf("get loan: %v %v", loaded, err)
	}
	if loaded.CollateralWei.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected collateral %s", loaded.CollateralWei)
	}
	for i, want := range []int64{600, 400} {
		account, err := ledgerState.GetAccount(updates[i].Address)
		if err != nil {
			t.Fatalf("get account: %v", err)
		}
		if account.BalanceWei.Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("expected balance %d, got %s", want, account.BalanceWei)
		}
	}

	if err := ledgerState.ApplyLoan(nil, updates); err == nil {
		t.Fatal("expected error for nil loan")
	}
	if err := ledgerState.ApplyAccounts([]types.AccountUpdate{{Address: depositor}}); err == nil {
		t.Fatal("expected error for nil account")
	}
}

func TestAccountDefaultsToZeroBalance(t *testing.T) {
	ledgerState := NewLedgerState(storage.NewMemDB())
	addr := makeAddress(0xCC)

	account, err := ledgerState.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.BalanceWei.Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", account.BalanceWei)
	}

	if err := ledgerState.PutAccount(addr, &types.Account{Nonce: 2, BalanceWei: big.NewInt(77)}); err != nil {
		t.Fatalf("put account: %v", err)
	}
	account, err = ledgerState.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Nonce != 2 || account.BalanceWei.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("account did not survive the roundtrip: %+v", account)
	}
}
