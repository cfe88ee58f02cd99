// Package common holds the pause guard shared by the native ledger modules.
package common

import (
	"errors"
	"strings"
)

// ErrModulePaused is returned when a mutation reaches a module that the
// operators have halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named ledger module is administratively halted.
// The loan and reserve engines consult it before every mutation.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or an empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a fixed pause set, typically loaded from the node
// configuration at startup.
type StaticPauses map[string]struct{}

// NewStaticPauses builds the set from module names, ignoring blanks.
func NewStaticPauses(modules []string) StaticPauses {
	pauses := make(StaticPauses, len(modules))
	for _, module := range modules {
		module = strings.TrimSpace(module)
		if module == "" {
			continue
		}
		pauses[module] = struct{}{}
	}
	return pauses
}

func (s StaticPauses) IsPaused(module string) bool {
	_, ok := s[module]
	return ok
}
