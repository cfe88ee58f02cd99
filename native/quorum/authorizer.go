package quorum

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"loanvault/core/events"
	"loanvault/core/types"
	"loanvault/crypto"
)

var (
	ErrUnauthorized     = errors.New("quorum: caller is not an owner")
	ErrNotFound         = errors.New("quorum: unknown transaction id")
	ErrAlreadyExecuted  = errors.New("quorum: transaction already executed")
	ErrInvalidThreshold = errors.New("quorum: threshold must be between 1 and the owner count")
	ErrDuplicateOwner   = errors.New("quorum: duplicate owner")
	ErrNilCall          = errors.New("quorum: call must carry an execute function")
)

// Call is the staged operation a quorum transaction executes once enough
// owners have confirmed. Kind names the underlying ledger operation for
// observers.
type Call struct {
	Kind    string
	Execute func() error
}

type transaction struct {
	id            uint64
	call          Call
	proposer      crypto.Address
	confirmations map[string]crypto.Address
	executed      bool
	createdAt     int64
}

// Transaction is the externally visible snapshot of a pending or executed
// quorum transaction.
type Transaction struct {
	ID            uint64
	Kind          string
	Proposer      crypto.Address
	Confirmations []crypto.Address
	Executed      bool
	CreatedAt     int64
}

// Authorizer requires threshold-of-owners agreement before executing a
// privileged ledger operation exactly once. The owner set and threshold are
// fixed at construction. It holds no funds of its own; on success it only
// delegates to the staged call.
type Authorizer struct {
	mu        sync.Mutex
	owners    map[string]struct{}
	threshold int
	nextID    uint64
	txs       map[uint64]*transaction
	emitter   events.Emitter
	nowFn     func() time.Time
}

// NewAuthorizer validates the owner set and threshold and returns a ready
// authorizer.
func NewAuthorizer(owners []crypto.Address, threshold int) (*Authorizer, error) {
	if threshold < 1 || threshold > len(owners) {
		return nil, ErrInvalidThreshold
	}
	set := make(map[string]struct{}, len(owners))
	for _, owner := range owners {
		key := string(owner.Bytes())
		if _, ok := set[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOwner, owner)
		}
		set[key] = struct{}{}
	}
	return &Authorizer{
		owners:    set,
		threshold: threshold,
		txs:       make(map[uint64]*transaction),
		emitter:   events.NoopEmitter{},
		nowFn:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (a *Authorizer) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

// SetNowFunc overrides the time source used to stamp transactions.
func (a *Authorizer) SetNowFunc(now func() time.Time) {
	if now == nil {
		a.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	a.nowFn = now
}

// Threshold returns the confirmation count required for execution.
func (a *Authorizer) Threshold() int { return a.threshold }

// IsOwner reports whether the address belongs to the fixed owner set.
func (a *Authorizer) IsOwner(addr crypto.Address) bool {
	_, ok := a.owners[string(addr.Bytes())]
	return ok
}

// Propose stages a call with the proposer's confirmation already recorded.
// When the threshold is one the call executes immediately; an execution
// failure is returned to the caller while the transaction stays open for a
// retried confirmation.
func (a *Authorizer) Propose(owner crypto.Address, call Call) (uint64, error) {
	if call.Execute == nil {
		return 0, ErrNilCall
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.IsOwner(owner) {
		return 0, ErrUnauthorized
	}

	a.nextID++
	tx := &transaction{
		id:            a.nextID,
		call:          call,
		proposer:      owner,
		confirmations: map[string]crypto.Address{string(owner.Bytes()): owner},
		createdAt:     a.nowFn().Unix(),
	}
	a.txs[tx.id] = tx

	a.emit(newProposedEvent(tx))
	if err := a.maybeExecute(tx); err != nil {
		return tx.id, err
	}
	return tx.id, nil
}

// Confirm records an owner's approval. Repeated confirmations by the same
// owner are a no-op. The confirmation that reaches the threshold executes the
// staged call synchronously; a failed execution leaves the transaction open.
func (a *Authorizer) Confirm(owner crypto.Address, txID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.IsOwner(owner) {
		return ErrUnauthorized
	}
	tx, ok := a.txs[txID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, txID)
	}
	if tx.executed {
		return fmt.Errorf("%w: %d", ErrAlreadyExecuted, txID)
	}

	key := string(owner.Bytes())
	if _, seen := tx.confirmations[key]; !seen {
		tx.confirmations[key] = owner
		a.emit(newConfirmedEvent(tx, owner))
	}
	return a.maybeExecute(tx)
}

// Revoke withdraws a previously recorded confirmation. Revoking an absent
// confirmation is a no-op; executed transactions can no longer be revoked.
func (a *Authorizer) Revoke(owner crypto.Address, txID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.IsOwner(owner) {
		return ErrUnauthorized
	}
	tx, ok := a.txs[txID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, txID)
	}
	if tx.executed {
		return fmt.Errorf("%w: %d", ErrAlreadyExecuted, txID)
	}
	delete(tx.confirmations, string(owner.Bytes()))
	return nil
}

// Transaction returns a snapshot of the transaction, if known.
func (a *Authorizer) Transaction(txID uint64) (*Transaction, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, ok := a.txs[txID]
	if !ok {
		return nil, false
	}
	confirmations := make([]crypto.Address, 0, len(tx.confirmations))
	for _, addr := range tx.confirmations {
		confirmations = append(confirmations, addr)
	}
	sort.Slice(confirmations, func(i, j int) bool {
		return string(confirmations[i].Bytes()) < string(confirmations[j].Bytes())
	})
	return &Transaction{
		ID:            tx.id,
		Kind:          tx.call.Kind,
		Proposer:      tx.proposer,
		Confirmations: confirmations,
		Executed:      tx.executed,
		CreatedAt:     tx.createdAt,
	}, true
}

// maybeExecute runs the staged call when the confirmation count has reached
// the threshold. The executed flag is tested and set under the authorizer
// lock so two racing confirmations cannot both trigger execution.
func (a *Authorizer) maybeExecute(tx *transaction) error {
	if tx.executed || len(tx.confirmations) < a.threshold {
		return nil
	}
	if err := tx.call.Execute(); err != nil {
		return err
	}
	tx.executed = true
	a.emit(newExecutedEvent(tx))
	return nil
}

func (a *Authorizer) emit(evt *types.Event) {
	if a == nil || a.emitter == nil || evt == nil {
		return
	}
	a.emitter.Emit(events.Typed{Evt: evt})
}
