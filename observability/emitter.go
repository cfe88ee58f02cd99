package observability

import (
	"log/slog"

	"loanvault/core/events"
	"loanvault/core/types"
)

type payloadEvent interface {
	Event() *types.Event
}

// LedgerEmitter bridges engine events into metrics and structured logs. It
// satisfies events.Emitter and optionally forwards to a downstream emitter
// (e.g. an RPC subscription feed).
type LedgerEmitter struct {
	logger *slog.Logger
	next   events.Emitter
}

// NewLedgerEmitter builds an emitter logging through the supplied logger.
func NewLedgerEmitter(logger *slog.Logger, next events.Emitter) *LedgerEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerEmitter{logger: logger, next: next}
}

// Emit implements events.Emitter.
func (e *LedgerEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	Events().RecordEvent(evt.EventType())

	attrs := []any{}
	if payload, ok := evt.(payloadEvent); ok {
		if inner := payload.Event(); inner != nil {
			for key, value := range inner.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	e.logger.Info(evt.EventType(), attrs...)

	if e.next != nil {
		e.next.Emit(evt)
	}
}
