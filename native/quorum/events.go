package quorum

import (
	"encoding/hex"
	"strconv"

	"loanvault/core/types"
	"loanvault/crypto"
)

const (
	EventTypeProposed  = "quorum.proposed"
	EventTypeConfirmed = "quorum.confirmed"
	EventTypeExecuted  = "quorum.executed"
)

func newProposedEvent(tx *transaction) *types.Event {
	attrs := txAttributes(tx)
	attrs["proposer"] = hex.EncodeToString(tx.proposer.Bytes())
	return &types.Event{Type: EventTypeProposed, Attributes: attrs}
}

func newConfirmedEvent(tx *transaction, owner crypto.Address) *types.Event {
	attrs := txAttributes(tx)
	attrs["owner"] = hex.EncodeToString(owner.Bytes())
	return &types.Event{Type: EventTypeConfirmed, Attributes: attrs}
}

func newExecutedEvent(tx *transaction) *types.Event {
	return &types.Event{Type: EventTypeExecuted, Attributes: txAttributes(tx)}
}

func txAttributes(tx *transaction) map[string]string {
	attrs := make(map[string]string)
	if tx == nil {
		return attrs
	}
	attrs["txId"] = strconv.FormatUint(tx.id, 10)
	attrs["kind"] = tx.call.Kind
	attrs["confirmations"] = strconv.Itoa(len(tx.confirmations))
	return attrs
}
