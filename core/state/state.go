package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"loanvault/core/types"
	"loanvault/crypto"
	"loanvault/native/loan"
	"loanvault/storage"
)

const (
	loanKeyPrefix    = "loan/"
	accountKeyPrefix = "account/"
	nextLoanIDKey    = "loan/nextid"
)

// LedgerState persists loans and accounts in a key-value database and
// implements the state interfaces expected by the loan and reserve engines.
// An RWMutex keeps read-only queries on a consistent snapshot while mutations
// are applied.
type LedgerState struct {
	mu sync.RWMutex
	db storage.Database
}

// NewLedgerState wraps the provided database.
func NewLedgerState(db storage.Database) *LedgerState {
	return &LedgerState{db: db}
}

type storedLoan struct {
	ID             uint64   `json:"id"`
	Depositor      []byte   `json:"depositor"`
	Receiver       []byte   `json:"receiver"`
	SecretDigest   []byte   `json:"secretDigest"`
	CollateralWei  *big.Int `json:"collateralWei"`
	PrincipalWei   *big.Int `json:"principalWei"`
	OutstandingWei *big.Int `json:"outstandingWei"`
	InterestWei    *big.Int `json:"interestWei"`
	CreatedAt      int64    `json:"createdAt"`
	EscrowDeadline int64    `json:"escrowDeadline"`
	AcceptedAt     int64    `json:"acceptedAt"`
	MaturityAt     int64    `json:"maturityAt"`
	LastAccrualAt  int64    `json:"lastAccrualAt"`
	Note           string   `json:"note,omitempty"`
	Status         uint8    `json:"status"`
}

// GetLoan returns the stored loan, or nil when the id is unknown.
func (s *LedgerState) GetLoan(id uint64) (*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := loanKey(id)
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	var stored storedLoan
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode loan %d: %w", id, err)
	}
	return decodeLoan(&stored)
}

// PutLoan persists the loan record.
func (s *LedgerState) PutLoan(l *loan.Loan) error {
	if l == nil {
		return fmt.Errorf("state: nil loan")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(encodeLoan(l))
	if err != nil {
		return err
	}
	return s.db.Put(loanKey(l.ID), raw)
}

// NextLoanID allocates the next monotonically increasing loan identifier.
// Identifiers are never reused, even when a later write fails.
func (s *LedgerState) NextLoanID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next uint64 = 1
	ok, err := s.db.Has([]byte(nextLoanIDKey))
	if err != nil {
		return 0, err
	}
	if ok {
		raw, err := s.db.Get([]byte(nextLoanIDKey))
		if err != nil {
			return 0, err
		}
		if len(raw) != 8 {
			return 0, fmt.Errorf("state: loan id counter corrupted (%d bytes)", len(raw))
		}
		next = binary.BigEndian.Uint64(raw) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := s.db.Put([]byte(nextLoanIDKey), buf); err != nil {
		return 0, err
	}
	return next, nil
}

// GetAccount returns the account for the address, defaulting to a zero
// balance for addresses that have never been written.
func (s *LedgerState) GetAccount(addr crypto.Address) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := accountKey(addr)
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{BalanceWei: big.NewInt(0)}, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr, err)
	}
	if account.BalanceWei == nil {
		account.BalanceWei = big.NewInt(0)
	}
	return account, nil
}

// PutAccount persists the account record.
func (s *LedgerState) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return s.db.Put(accountKey(addr), raw)
}

// ApplyLoan persists a loan record together with the account movements of a
// single operation in one atomic batch. Either every record lands or none do.
func (s *LedgerState) ApplyLoan(l *loan.Loan, updates []types.AccountUpdate) error {
	if l == nil {
		return fmt.Errorf("state: nil loan")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(encodeLoan(l))
	if err != nil {
		return err
	}
	kvs := make([]storage.KV, 0, len(updates)+1)
	kvs = append(kvs, storage.KV{Key: loanKey(l.ID), Value: raw})
	accountKVs, err := encodeAccountUpdates(updates)
	if err != nil {
		return err
	}
	return s.db.WriteBatch(append(kvs, accountKVs...))
}

// ApplyAccounts persists a set of account movements atomically.
func (s *LedgerState) ApplyAccounts(updates []types.AccountUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kvs, err := encodeAccountUpdates(updates)
	if err != nil {
		return err
	}
	return s.db.WriteBatch(kvs)
}

func encodeAccountUpdates(updates []types.AccountUpdate) ([]storage.KV, error) {
	kvs := make([]storage.KV, 0, len(updates))
	for _, update := range updates {
		if update.Account == nil {
			return nil, fmt.Errorf("state: nil account for %s", update.Address)
		}
		raw, err := json.Marshal(update.Account)
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, storage.KV{Key: accountKey(update.Address), Value: raw})
	}
	return kvs, nil
}

func loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", loanKeyPrefix, id))
}

func accountKey(addr crypto.Address) []byte {
	return []byte(accountKeyPrefix + hex.EncodeToString(addr.Bytes()))
}

func encodeLoan(l *loan.Loan) *storedLoan {
	clone := l.Clone()
	return &storedLoan{
		ID:             clone.ID,
		Depositor:      clone.Depositor.Bytes(),
		Receiver:       clone.Receiver.Bytes(),
		SecretDigest:   clone.SecretDigest[:],
		CollateralWei:  clone.CollateralWei,
		PrincipalWei:   clone.PrincipalWei,
		OutstandingWei: clone.OutstandingWei,
		InterestWei:    clone.InterestWei,
		CreatedAt:      clone.CreatedAt,
		EscrowDeadline: clone.EscrowDeadline,
		AcceptedAt:     clone.AcceptedAt,
		MaturityAt:     clone.MaturityAt,
		LastAccrualAt:  clone.LastAccrualAt,
		Note:           clone.Note,
		Status:         uint8(clone.Status),
	}
}

func decodeLoan(stored *storedLoan) (*loan.Loan, error) {
	if len(stored.Depositor) != 20 || len(stored.Receiver) != 20 {
		return nil, fmt.Errorf("state: loan %d has malformed addresses", stored.ID)
	}
	var digest [32]byte
	copy(digest[:], stored.SecretDigest)
	l := &loan.Loan{
		ID:             stored.ID,
		Depositor:      crypto.NewAddress(stored.Depositor),
		Receiver:       crypto.NewAddress(stored.Receiver),
		SecretDigest:   digest,
		CollateralWei:  stored.CollateralWei,
		PrincipalWei:   stored.PrincipalWei,
		OutstandingWei: stored.OutstandingWei,
		InterestWei:    stored.InterestWei,
		CreatedAt:      stored.CreatedAt,
		EscrowDeadline: stored.EscrowDeadline,
		AcceptedAt:     stored.AcceptedAt,
		MaturityAt:     stored.MaturityAt,
		LastAccrualAt:  stored.LastAccrualAt,
		Note:           stored.Note,
		Status:         loan.Status(stored.Status),
	}
	return loan.SanitizeLoan(l)
}
