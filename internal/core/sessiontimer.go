package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinkeraccess/internal/device"
)

// sessionTimer meters remaining session time for an authenticated IN_USE
// session: a single-shot repeating 1-second timer that decrements
// UserContext.RemainingSeconds, redraws the LCD, and fires Logout on
// expiry. Cancellation is safe from any goroutine; double-cancel is a
// no-op. The mutex also serializes this timer's ticks against the
// extension path (dispatchLogin's shouldExtendOrOverride), which runs on
// the controller's single dispatch goroutine.
type sessionTimer struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	c         *Controller
}

func newSessionTimer(c *Controller) *sessionTimer {
	return &sessionTimer{c: c, cancelled: true}
}

// start cancels any previous handle (Invariant §3.3: at most one live
// SessionTimer) and arms a fresh one.
func (s *sessionTimer) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = false
	s.arm()
}

// arm must be called with s.mu held.
func (s *sessionTimer) arm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(time.Second, s.tick)
}

func (s *sessionTimer) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *sessionTimer) tick() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}

	c := s.c
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		s.mu.Unlock()
		return
	}
	if c.user.RemainingSeconds <= 0 {
		c.mu.Unlock()
		// Release the lock before firing logout so the transition (which
		// cancels this very timer) never deadlocks against it.
		s.mu.Unlock()
		c.Logout()
		return
	}

	c.user.RemainingSeconds--
	remaining := c.user.RemainingSeconds
	userName := c.user.UserName
	c.mu.Unlock()

	c.renderRemaining(userName, remaining)
	if remaining < 300 {
		c.toggleRedLEDForAlarm()
	} else {
		c.showGreenLED()
	}

	// Refresh path: re-arm without releasing and re-acquiring s.mu.
	s.arm()
	s.mu.Unlock()
}

func (c *Controller) renderRemaining(userName string, remainingSeconds int) {
	h := remainingSeconds / 3600
	m := (remainingSeconds % 3600) / 60
	sec := remainingSeconds % 60
	c.writeLCD(userName, fmt.Sprintf("%02d:%02d:%02d", h, m, sec))
}

// toggleRedLEDForAlarm implements §4.2's "toggle the red LED state each
// tick and assert the alarm output" for the final five minutes of a
// session, reading back the red LED's own pin state the way the teacher's
// __toggle_red_led does.
func (c *Controller) toggleRedLEDForAlarm() {
	wasOn, err := c.dev.ReadPin(device.Pin(c.opts.PinLedRed))
	if err != nil {
		c.log.Warn("core: reading red led pin for toggle", slog.Any("error", err))
		wasOn = false
	}
	c.writeLED(!wasOn, false, false)
	c.setAlarm(true)
}

// extendSession implements the same-badge extension path: cancel, credit
// session_seconds, decrement remaining_extensions (unless unbounded), show
// the appropriate confirmation, then restart the timer. Always run on the
// controller's dispatch goroutine.
func (c *Controller) extendSession() {
	c.sessionTimer.cancel()

	c.mu.Lock()
	u := c.user
	var hadExtensions bool
	if u != nil {
		hadExtensions = u.hasExtensionsLeft()
		if hadExtensions {
			if u.RemainingExtensions != UnboundedExtensions {
				u.RemainingExtensions--
			}
			u.RemainingSeconds += u.SessionSeconds
			c.log.Info("core: session extended", slog.Int("remaining_seconds", u.RemainingSeconds))
		}
	}
	c.mu.Unlock()

	if hadExtensions {
		c.writeLCD("SESSION EXTENDED", "")
		time.Sleep(UIPauseShort)
	} else {
		c.writeLCD("NO EXTENSIONS", "REMAINING...")
		time.Sleep(UIPauseLong)
	}

	_, user := c.Snapshot()
	if user != nil {
		c.renderRemaining(user.UserName, user.RemainingSeconds)
	}
	c.sessionTimer.start()
}
