package common

import "errors"

// ErrModulePaused is returned by Guard while the administrator holds the
// named module closed.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switchboard to module engines. The voucher
// engine checks it at the top of every action.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects an action when its module is paused. A nil view or an empty
// module name never blocks, so engines without a configured controller keep
// working.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
