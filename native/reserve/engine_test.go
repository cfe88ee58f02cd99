package reserve

import (
	"errors"
	"math/big"
	"testing"

	"loanvault/core/types"
	"loanvault/crypto"
	nativecommon "loanvault/native/common"
)

type mockEngineState struct {
	accounts map[string]*types.Account
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{accounts: make(map[string]*types.Account)}
}

func (m *mockEngineState) GetAccount(addr crypto.Address) (*types.Account, error) {
	acc, ok := m.accounts[string(addr.Bytes())]
	if !ok {
		return &types.Account{BalanceWei: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockEngineState) ApplyAccounts(updates []types.AccountUpdate) error {
	for _, update := range updates {
		m.accounts[string(update.Address.Bytes())] = update.Account.Clone()
	}
	return nil
}

func (m *mockEngineState) balance(addr crypto.Address) *big.Int {
	acc, ok := m.accounts[string(addr.Bytes())]
	if !ok {
		return big.NewInt(0)
	}
	return acc.BalanceWei
}

func makeAddress(b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.NewAddress(buf)
}

func TestRaiseMovesFundsIntoPool(t *testing.T) {
	pool := makeAddress(0x01)
	recipient := makeAddress(0x02)
	funder := makeAddress(0xAA)

	engine := NewEngine(pool, recipient)
	state := newMockEngineState()
	state.accounts[string(funder.Bytes())] = &types.Account{BalanceWei: big.NewInt(1_000)}
	engine.SetState(state)

	if err := engine.Raise(funder, big.NewInt(400), "seed"); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if got := state.balance(funder); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("expected funder balance 600, got %s", got)
	}
	balance, err := engine.Balance()
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected pool balance 400, got %s", balance)
	}

	if err := engine.Raise(funder, big.NewInt(0), ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := engine.Raise(funder, big.NewInt(5_000), ""); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSpendPaysRecipient(t *testing.T) {
	pool := makeAddress(0x01)
	recipient := makeAddress(0x02)
	funder := makeAddress(0xAA)

	engine := NewEngine(pool, recipient)
	state := newMockEngineState()
	state.accounts[string(funder.Bytes())] = &types.Account{BalanceWei: big.NewInt(1_000)}
	engine.SetState(state)

	if err := engine.Raise(funder, big.NewInt(800), ""); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if err := engine.Spend(big.NewInt(300), "grant"); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if got := state.balance(recipient); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected recipient balance 300, got %s", got)
	}
	balance, _ := engine.Balance()
	if balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected pool balance 500, got %s", balance)
	}

	if err := engine.Spend(big.NewInt(501), ""); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := engine.Spend(nil, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

type failingApplyState struct {
	*mockEngineState
}

func (s *failingApplyState) ApplyAccounts([]types.AccountUpdate) error {
	return errors.New("write failed")
}

func TestRaiseWriteFailureLeavesBalancesIntact(t *testing.T) {
	pool := makeAddress(0x01)
	funder := makeAddress(0xAA)

	engine := NewEngine(pool, makeAddress(0x02))
	state := newMockEngineState()
	state.accounts[string(funder.Bytes())] = &types.Account{BalanceWei: big.NewInt(1_000)}
	engine.SetState(&failingApplyState{mockEngineState: state})

	if err := engine.Raise(funder, big.NewInt(400), ""); err == nil {
		t.Fatal("expected the storage failure to surface")
	}
	if got := state.balance(funder); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected funder balance unchanged, got %s", got)
	}
	if got := state.balance(pool); got.Sign() != 0 {
		t.Fatalf("expected empty pool, got %s", got)
	}
}

func TestPauseGuardBlocksReserve(t *testing.T) {
	pool := makeAddress(0x01)
	funder := makeAddress(0xAA)

	engine := NewEngine(pool, makeAddress(0x02))
	state := newMockEngineState()
	state.accounts[string(funder.Bytes())] = &types.Account{BalanceWei: big.NewInt(1_000)}
	engine.SetState(state)
	engine.SetPauses(nativecommon.NewStaticPauses([]string{"reserve"}))

	if err := engine.Raise(funder, big.NewInt(100), ""); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := engine.Spend(big.NewInt(1), ""); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if got := state.balance(funder); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected funder balance unchanged, got %s", got)
	}
}

func TestEngineRequiresState(t *testing.T) {
	engine := NewEngine(makeAddress(0x01), makeAddress(0x02))
	if err := engine.Raise(makeAddress(0xAA), big.NewInt(1), ""); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
	if _, err := engine.Balance(); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}
