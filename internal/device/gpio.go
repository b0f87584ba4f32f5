package device

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// gpioWantedPrefix selects the Raspberry Pi's on-SoC GPIO controller among
// whatever chips /dev exposes, the way gauthbox's findGpioChip does.
const gpioWantedPrefix = "pinctrl-bcm2"

// gpioDebounce is applied to every input line watched for edges.
const gpioDebounce = 100 * time.Millisecond

// LED pin assignment: the tri-color status LED is three independent output
// lines rather than a single addressable part, matching how gauthbox's
// Blinker treats each LED color as its own GPIO pin.
type LEDPins struct {
	Red, Green, Blue int
}

// GPIODevice is the production Device backed by go-gpiocdev for pins/LED and
// go-evdev for the badge reader (see badge.go). WriteLCD has no concrete
// driver in this implementation — no HD44780/I2C library is part of this
// project's dependency set — so it logs the two lines at debug level; a
// deployment with a real character display swaps this method out.
type GPIODevice struct {
	chip *gpiocdev.Chip
	led  LEDPins
	log  *slog.Logger

	badge *badgeReader

	mu    sync.Mutex
	lines map[Pin]*gpiocdev.Line

	ready chan struct{}
}

// NewGPIODevice opens the on-SoC GPIO chip and the badge reader input
// device. outPins lists every pin the controller ever calls WritePin on;
// they are requested as outputs up front so later WritePin calls never pay
// request latency.
func NewGPIODevice(log *slog.Logger, led LEDPins, outPins []Pin, badgeVendor, badgeProduct uint16) (*GPIODevice, error) {
	chip, err := findGpioChip()
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	d := &GPIODevice{
		chip:  chip,
		led:   led,
		log:   log,
		lines: make(map[Pin]*gpiocdev.Line),
		ready: make(chan struct{}, 1),
	}

	for _, p := range append(append([]Pin{}, outPins...), Pin(led.Red), Pin(led.Green), Pin(led.Blue)) {
		line, err := chip.RequestLine(int(p), gpiocdev.AsOutput(0))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("device: requesting output line %d: %w", p, err)
		}
		d.lines[p] = line
	}

	badge, err := newBadgeReader(log, badgeVendor, badgeProduct)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("device: %w", err)
	}
	d.badge = badge

	return d, nil
}

func findGpioChip() (*gpiocdev.Chip, error) {
	paths, err := filepath.Glob("/dev/gpiochip*")
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		c, err := gpiocdev.NewChip(p, gpiocdev.WithConsumer("tinkeraccess"))
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(c.Label, gpioWantedPrefix) {
			return c, nil
		}
		c.Close()
	}
	return nil, fmt.Errorf("no GPIO chip found amongst %d devices with prefix %q", len(paths), gpioWantedPrefix)
}

func (d *GPIODevice) ReadPin(pin Pin) (bool, error) {
	d.mu.Lock()
	line, ok := d.lines[pin]
	d.mu.Unlock()
	if ok {
		v, err := line.Value()
		return v != 0, err
	}

	// Not pre-requested as an output: request it transiently as an input,
	// read once, and let it go — mirrors the teacher's gpio.setGpioLine
	// request-use-close pattern for one-off accesses.
	line, err := d.chip.RequestLine(int(pin), gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return false, fmt.Errorf("device: requesting input line %d: %w", pin, err)
	}
	defer line.Close()
	v, err := line.Value()
	return v != 0, err
}

func (d *GPIODevice) WritePin(pin Pin, level bool) error {
	d.mu.Lock()
	line, ok := d.lines[pin]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("device: pin %d was not requested as an output", pin)
	}
	v := 0
	if level {
		v = 1
	}
	return line.SetValue(v)
}

func (d *GPIODevice) WriteLED(r, g, b bool) error {
	if err := d.WritePin(Pin(d.led.Red), r); err != nil {
		return err
	}
	if err := d.WritePin(Pin(d.led.Green), g); err != nil {
		return err
	}
	return d.WritePin(Pin(d.led.Blue), b)
}

func (d *GPIODevice) WriteLCD(line1, line2 string) error {
	d.log.Debug("device: lcd", slog.String("line1", line1), slog.String("line2", line2))
	return nil
}

func (d *GPIODevice) OnBadge(handler BadgeHandler) error {
	return d.badge.onBadge(handler, d.signalReady)
}

func (d *GPIODevice) OnPinEdge(pin Pin, edge Edge, handler PinHandler) error {
	var opts []gpiocdev.LineReqOption
	switch edge {
	case EdgeRising:
		opts = append(opts, gpiocdev.WithRisingEdge)
	case EdgeFalling:
		opts = append(opts, gpiocdev.WithFallingEdge)
	default:
		opts = append(opts, gpiocdev.WithBothEdges)
	}
	opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.DebounceOption(gpioDebounce),
		gpiocdev.WithEventHandler(func(le gpiocdev.LineEvent) {
			high := le.Type == gpiocdev.LineEventRisingEdge
			d.signalReady()
			handler(pin, high)
		}))

	line, err := d.chip.RequestLine(int(pin), opts...)
	if err != nil {
		return fmt.Errorf("device: watching pin %d: %w", pin, err)
	}
	d.mu.Lock()
	d.lines[pin] = line
	d.mu.Unlock()
	return nil
}

func (d *GPIODevice) signalReady() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

func (d *GPIODevice) Wait(ctx context.Context) error {
	select {
	case <-d.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *GPIODevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range d.lines {
		l.Close()
	}
	if d.badge != nil {
		d.badge.close()
	}
	if d.chip != nil {
		d.chip.Close()
	}
	return nil
}
