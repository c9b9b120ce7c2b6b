package common

import "errors"

// ErrModulePaused is returned when a mutating operation hits a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is currently paused. The ledger
// consults it before every mutating operation.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or empty
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

// StaticPauses is a fixed PauseView backed by a set of module names, suitable
// for configuration-driven pause switches.
type StaticPauses map[string]bool

// IsPaused implements the PauseView interface.
func (s StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s[module]
}
