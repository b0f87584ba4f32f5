package core

import (
	"log/slog"
	"time"

	"tinkeraccess/internal/device"
)

// powerDown is the safe power-down sequence (§4.4), invoked from every
// entry action that must guarantee the relay is de-energized: wait for
// current-sense to clear (bounded by MaxPowerDownTimeout, unbounded if
// unset), honor the coast time if the machine was ever seen running, then
// drop the relay. It is synchronous and blocks the transition; this is
// safe because all triggers are serialized by the controller's single
// dispatch goroutine.
func (c *Controller) powerDown() {
	relayPin := device.Pin(c.opts.PinPowerRelay)

	on, err := c.dev.ReadPin(relayPin)
	if err != nil {
		c.log.Warn("core: reading relay pin", slog.Any("error", err))
		return
	}
	if !on {
		return
	}

	wasRunning := c.waitForPowerDown()
	if wasRunning {
		c.waitForLogoutCoastTime()
	}

	on, err = c.dev.ReadPin(relayPin)
	if err != nil {
		c.log.Warn("core: reading relay pin", slog.Any("error", err))
		return
	}
	if on {
		if err := c.dev.WritePin(relayPin, false); err != nil {
			c.log.Warn("core: disabling power relay", slog.Any("error", err))
		}
		c.writeLCD("DISABLING", "POWER...")
	}
}

func (c *Controller) waitForPowerDown() bool {
	currentPin := device.Pin(c.opts.PinCurrentSense)

	var deadline time.Time
	bounded := c.opts.MaxPowerDownTimeout != nil
	if bounded {
		deadline = time.Now().Add(*c.opts.MaxPowerDownTimeout)
	}

	wasRunning := false
	for {
		drawing, err := c.dev.ReadPin(currentPin)
		if err != nil || !drawing {
			break
		}
		if bounded && !time.Now().Before(deadline) {
			break
		}
		wasRunning = true
		c.writeLCD("WAITING FOR ...", "MACHINE TO STOP")
		c.showRedLED()
		time.Sleep(PowerDownPollInterval)
	}
	return wasRunning
}

func (c *Controller) waitForLogoutCoastTime() {
	if c.opts.LogoutCoastTime <= 0 {
		return
	}
	c.writeLCD("COASTING", "DOWN...")
	time.Sleep(c.opts.LogoutCoastTime)
}
