package core_test

import (
	"context"
	"sync"

	"tinkeraccess/internal/device"
)

// fakeDevice is an in-memory Device used by core's tests: no goroutines of
// its own, pins are just a map, and Wait only returns once ctx is cancelled
// (tests drive the controller directly via its trigger methods instead of
// simulated I/O edges).
type fakeDevice struct {
	mu   sync.Mutex
	pins map[device.Pin]bool

	led struct{ r, g, b bool }
	lcd struct{ line1, line2 string }

	badgeHandler device.BadgeHandler
	pinHandlers  map[device.Pin]device.PinHandler

	relayHistory []bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		pins:        make(map[device.Pin]bool),
		pinHandlers: make(map[device.Pin]device.PinHandler),
	}
}

func (f *fakeDevice) ReadPin(pin device.Pin) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins[pin], nil
}

func (f *fakeDevice) SetPin(pin device.Pin, level bool) {
	f.mu.Lock()
	f.pins[pin] = level
	f.mu.Unlock()
}

func (f *fakeDevice) WritePin(pin device.Pin, level bool) error {
	f.mu.Lock()
	f.pins[pin] = level
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) WriteLED(r, g, b bool) error {
	f.mu.Lock()
	f.led.r, f.led.g, f.led.b = r, g, b
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) WriteLCD(line1, line2 string) error {
	f.mu.Lock()
	f.lcd.line1, f.lcd.line2 = line1, line2
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) OnBadge(h device.BadgeHandler) error {
	f.mu.Lock()
	f.badgeHandler = h
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) OnPinEdge(pin device.Pin, edge device.Edge, h device.PinHandler) error {
	f.mu.Lock()
	f.pinHandlers[pin] = h
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeDevice) Close() error { return nil }

func (f *fakeDevice) relayOn(pin device.Pin) bool {
	on, _ := f.ReadPin(pin)
	return on
}
