// Package device defines the I/O abstraction the access-control core
// consumes: GPIO pins, RGB LED, 16x2 LCD, and edge-triggered callbacks over
// a badge-reader channel and GPIO pins. Concrete implementations live
// alongside this file (gpio.go, badge.go); tests use an in-memory fake.
package device

import "context"

// Pin identifies a single GPIO line by its line offset on the GPIO chip —
// callers pass config-resolved pin numbers.
type Pin int

// Edge selects which transition(s) a callback fires on.
type Edge int

const (
	EdgeRising Edge = iota
	EdgeFalling
	EdgeBoth
)

// LCDWidth is the fixed character width of both LCD lines.
const LCDWidth = 16

// BadgeHandler is invoked once per fully-scanned badge code.
type BadgeHandler func(badgeCode string)

// PinHandler is invoked once per qualifying pin edge.
type PinHandler func(pin Pin, high bool)

// Device is the §6 external I/O abstraction consumed by internal/core.
// Implementations must serialize their own internal delivery but may
// deliver events from any goroutine; internal/core.Controller serializes
// dispatch on its own.
type Device interface {
	// ReadPin returns the current level of pin.
	ReadPin(pin Pin) (bool, error)
	// WritePin drives pin to level.
	WritePin(pin Pin, level bool) error
	// WriteLED sets the tri-color status LED. The core requests one of the
	// documented combinations (red, green, blue, yellow, magenta), or all
	// off during the off phase of the end-of-session red blink.
	WriteLED(r, g, b bool) error
	// WriteLCD renders up to two lines, each padded/centered to LCDWidth by
	// the caller before this is invoked.
	WriteLCD(line1, line2 string) error

	// OnBadge registers the callback fired when a complete badge code has
	// been scanned on the serial/HID badge reader channel.
	OnBadge(handler BadgeHandler) error
	// OnPinEdge registers the callback fired on the requested edge(s) of pin.
	OnPinEdge(pin Pin, edge Edge, handler PinHandler) error

	// Wait blocks until at least one registered callback has been invoked
	// since the last call to Wait, or ctx is cancelled.
	Wait(ctx context.Context) error

	// Close releases underlying OS resources (GPIO lines, input devices).
	Close() error
}
