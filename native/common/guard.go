// Package common holds helpers shared by the native vault and lending modules.
package common

import (
	"errors"
	"fmt"
)

// ErrModulePaused matches every *PausedError under errors.Is.
var ErrModulePaused = errors.New("module paused")

// PauseView reports operator pause switches by module name.
type PauseView interface {
	IsPaused(module string) bool
}

// PauseFunc lets a plain predicate serve as a PauseView.
type PauseFunc func(module string) bool

func (f PauseFunc) IsPaused(module string) bool { return f != nil && f(module) }

// PausedError names the module whose switch refused the call.
type PausedError struct {
	Module string
}

func (e *PausedError) Error() string { return fmt.Sprintf("%s: %v", e.Module, ErrModulePaused) }

func (e *PausedError) Unwrap() error { return ErrModulePaused }

// Guard fails while module is switched off. A nil view pauses nothing.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" || !p.IsPaused(module) {
		return nil
	}
	return &PausedError{Module: module}
}
