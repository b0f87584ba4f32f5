// Package core implements the access state machine and session/timer
// subsystem for a badge-gated machine-access controller: the finite set of
// operational modes, the triggers that move between them, the concurrent
// timers that meter session time and automatic door relock, the power-down
// interlock, and the training-mode sub-protocol.
package core

import (
	"strings"

	"github.com/iancoleman/strcase"
)

// Mode is the state machine's state.
type Mode int

const (
	ModeInitialized Mode = iota
	ModeIdle
	ModeInUse
	ModeUnlocked
	ModeInTraining
	ModeEstop
	ModeBypassed
	ModeTerminated
)

func (m Mode) String() string {
	switch m {
	case ModeInitialized:
		return "Initialized"
	case ModeIdle:
		return "Idle"
	case ModeInUse:
		return "InUse"
	case ModeUnlocked:
		return "Unlocked"
	case ModeInTraining:
		return "InTraining"
	case ModeEstop:
		return "Estop"
	case ModeBypassed:
		return "Bypassed"
	case ModeTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// StatusFileValue returns the lowercase mode token written to the status
// file; Controller.writeStatus appends the trailing newline.
func (m Mode) StatusFileValue() string {
	return strings.ToLower(strcase.ToSnake(m.String()))
}

// UnboundedExtensions marks RemainingExtensions as never exhausted.
const UnboundedExtensions = -1

// UserContext is present only while a user or trainer is authenticated.
type UserContext struct {
	BadgeCode           string
	UserID              string
	UserName            string
	SessionSeconds      int
	RemainingSeconds    int
	RemainingExtensions int // UnboundedExtensions for "unbounded"
}

func (u *UserContext) hasExtensionsLeft() bool {
	return u.RemainingExtensions == UnboundedExtensions || u.RemainingExtensions > 0
}
