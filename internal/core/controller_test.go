package core_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"tinkeraccess/internal/authclient"
	"tinkeraccess/internal/config"
	"tinkeraccess/internal/core"
	"tinkeraccess/internal/device"
)

func init() {
	// Shrink every tunable UI/poll delay to milliseconds instead of matching
	// the real device's human-paced timing. The SessionTimer's one-second
	// tick is not tunable, so the session-expiry test still takes seconds.
	core.UIPauseShort = time.Millisecond
	core.UIPauseLong = time.Millisecond
	core.BypassSettleDelay = time.Millisecond
	core.EstopSettleDelay = time.Millisecond
	core.TrainingPollInterval = time.Millisecond
	core.TrainingWaitWindow = 10 * time.Millisecond
	core.PowerDownPollInterval = time.Millisecond
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testOptions() config.Options {
	opts := config.Default()
	opts.StatusFile = "" // skip touching the filesystem in tests
	return opts
}

// newTestController builds a Controller wired to a fake device/auth and
// starts its dispatch loop, returning a cancel func that stops it.
func newTestController(t *testing.T, opts config.Options, dev *fakeDevice, auth *fakeAuth) (*core.Controller, func()) {
	t.Helper()
	c := core.New(opts, dev, auth, testLogger())
	if err := c.Wire(); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	return c, func() {
		cancel()
		<-done
	}
}

func waitForMode(t *testing.T, c *core.Controller, want core.Mode, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if mode, _ := c.Snapshot(); mode == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	mode, _ := c.Snapshot()
	t.Fatalf("timed out waiting for mode %s, currently %s", want, mode)
}

func TestIdleLoginGrantsAccess(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()
	auth.loginResult = &authclient.LoginResult{
		UserID: "u1", UserName: "Alice",
		SessionSeconds: 3600, RemainingSeconds: 3600, RemainingExtensions: 2,
	}

	c, stop := newTestController(t, testOptions(), dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)

	c.Login("A1")
	waitForMode(t, c, core.ModeInUse, time.Second)

	_, user := c.Snapshot()
	if user == nil || user.UserName != "Alice" {
		t.Fatalf("expected Alice's UserContext, got %+v", user)
	}
	if on := dev.relayOn(device.Pin(testOptions().PinPowerRelay)); !on {
		t.Fatalf("expected power relay energized after login")
	}
}

func TestIdleLoginUnauthorizedStaysIdle(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()
	auth.loginErr = authclient.ErrUnauthorized

	c, stop := newTestController(t, testOptions(), dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)

	c.Login("BAD")
	// Mode never leaves Idle; poll briefly then assert.
	time.Sleep(20 * time.Millisecond)
	mode, user := c.Snapshot()
	if mode != core.ModeIdle {
		t.Fatalf("expected Idle after unauthorized login, got %s", mode)
	}
	if user != nil {
		t.Fatalf("expected no UserContext after unauthorized login, got %+v", user)
	}
}

func TestOverrideLoginFailureReentersInUse(t *testing.T) {
	// Documented Open Question (see DESIGN.md): an override-login failure
	// re-enters IN_USE, not IDLE, matching original_source.
	dev := newFakeDevice()
	auth := newFakeAuth()
	auth.loginResult = &authclient.LoginResult{
		UserID: "u1", UserName: "Alice",
		SessionSeconds: 3600, RemainingSeconds: 3600, RemainingExtensions: core.UnboundedExtensions,
	}

	opts := testOptions()
	opts.AllowUserOverride = true
	c, stop := newTestController(t, opts, dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)
	c.Login("A1")
	waitForMode(t, c, core.ModeInUse, time.Second)

	auth.mu.Lock()
	auth.loginErr = authclient.ErrUnauthorized
	auth.mu.Unlock()

	c.Login("B2") // different badge: takes the override path, fails
	time.Sleep(30 * time.Millisecond)

	mode, user := c.Snapshot()
	if mode != core.ModeInUse {
		t.Fatalf("expected override-login failure to re-enter InUse, got %s", mode)
	}
	if user == nil || user.UserName != "Alice" {
		t.Fatalf("expected Alice's session to survive a failed override, got %+v", user)
	}
}

func TestOverrideDisplacesPriorUserLogout(t *testing.T) {
	// spec.md §3/§8 scenario 3: a successful override must fire a best-effort
	// server logout for the badge it displaces.
	dev := newFakeDevice()
	auth := newFakeAuth()
	auth.loginResult = &authclient.LoginResult{
		UserID: "u1", UserName: "Alice",
		SessionSeconds: 3600, RemainingSeconds: 3600, RemainingExtensions: core.UnboundedExtensions,
	}

	opts := testOptions()
	opts.AllowUserOverride = true
	c, stop := newTestController(t, opts, dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)
	c.Login("A1")
	waitForMode(t, c, core.ModeInUse, time.Second)

	auth.mu.Lock()
	auth.loginResult = &authclient.LoginResult{
		UserID: "u2", UserName: "Bob",
		SessionSeconds: 3600, RemainingSeconds: 3600, RemainingExtensions: core.UnboundedExtensions,
	}
	auth.mu.Unlock()

	c.Login("B2") // different badge, successful override: displaces Alice
	time.Sleep(30 * time.Millisecond)

	_, user := c.Snapshot()
	if user == nil || user.UserName != "Bob" {
		t.Fatalf("expected Bob's session after override, got %+v", user)
	}

	badges := auth.logoutBadges()
	found := false
	for _, b := range badges {
		if b == "A1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a server logout call for displaced badge A1, got logouts %v", badges)
	}
}

func TestSameBadgeExtendsSession(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()
	auth.loginResult = &authclient.LoginResult{
		UserID: "u1", UserName: "Alice",
		SessionSeconds: 100, RemainingSeconds: 5, RemainingExtensions: 3,
	}

	c, stop := newTestController(t, testOptions(), dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)
	c.Login("A1")
	waitForMode(t, c, core.ModeInUse, time.Second)

	c.Login("A1") // same badge while in_use: extension, not a new login call
	time.Sleep(20 * time.Millisecond)

	mode, user := c.Snapshot()
	if mode != core.ModeInUse {
		t.Fatalf("expected to remain InUse after same-badge extension, got %s", mode)
	}
	if user == nil || user.RemainingExtensions != 2 {
		t.Fatalf("expected one extension consumed, got %+v", user)
	}
	if user.RemainingSeconds <= 5 {
		t.Fatalf("expected remaining seconds credited by session_seconds, got %d", user.RemainingSeconds)
	}
	if got := auth.loginCount(); got != 1 {
		t.Fatalf("same-badge extension must not re-call Login, got %d calls", got)
	}
}

func TestSessionExpiryLogsOut(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()
	auth.loginResult = &authclient.LoginResult{
		UserID: "u1", UserName: "Alice",
		SessionSeconds: 100, RemainingSeconds: 1, RemainingExtensions: 0,
	}

	c, stop := newTestController(t, testOptions(), dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)
	c.Login("A1")
	waitForMode(t, c, core.ModeInUse, time.Second)

	waitForMode(t, c, core.ModeIdle, 3*time.Second)
	if got := auth.logoutCount(); got != 1 {
		t.Fatalf("expected exactly one Logout call on session expiry, got %d", got)
	}
}

func TestEstopInterruptsInUse(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()
	auth.loginResult = &authclient.LoginResult{
		UserID: "u1", UserName: "Alice",
		SessionSeconds: 3600, RemainingSeconds: 3600, RemainingExtensions: core.UnboundedExtensions,
	}

	c, stop := newTestController(t, testOptions(), dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)
	c.Login("A1")
	waitForMode(t, c, core.ModeInUse, time.Second)

	c.Estop()
	waitForMode(t, c, core.ModeEstop, time.Second)

	_, user := c.Snapshot()
	if user != nil {
		t.Fatalf("expected UserContext cleared on e-stop, got %+v", user)
	}
	if on := dev.relayOn(device.Pin(testOptions().PinPowerRelay)); on {
		t.Fatalf("expected power relay de-energized under e-stop")
	}
}

func TestEstopFromInitialized(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()

	c, stop := newTestController(t, testOptions(), dev, auth)
	defer stop()

	// Estop fires straight from Initialized, with no intervening Idle.
	c.Estop()
	waitForMode(t, c, core.ModeEstop, time.Second)
}

func TestBypassDetectedDuringIdleEntersBypassed(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()
	opts := testOptions()

	c, stop := newTestController(t, opts, dev, auth)
	defer stop()

	dev.SetPin(device.Pin(opts.PinBypassDetect), true)
	c.Idle()
	waitForMode(t, c, core.ModeBypassed, time.Second)
}

func TestUnlockRequiresDoorAndNormalHours(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()
	opts := testOptions()
	opts.IsADoor = true
	now := time.Now()
	opts.DoorNormalHrStart = 0
	opts.DoorNormalHrEnd = 2359
	_ = now

	c, stop := newTestController(t, opts, dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)

	c.Unlock()
	waitForMode(t, c, core.ModeUnlocked, time.Second)
}

func TestUnlockOutsideNormalHoursIsIgnored(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()
	opts := testOptions()
	opts.IsADoor = true
	opts.DoorNormalHrStart = 2358
	opts.DoorNormalHrEnd = 2359

	c, stop := newTestController(t, opts, dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)

	c.Unlock()
	time.Sleep(20 * time.Millisecond)
	mode, _ := c.Snapshot()
	if mode != core.ModeIdle {
		t.Fatalf("expected Unlock outside normal hours to be ignored, got %s", mode)
	}
}

func TestBootEntersEstopWhenHeldAtStartup(t *testing.T) {
	// A held e-stop at power-on raises no edge for Wire's callbacks to
	// observe, so Boot must check it directly rather than defaulting to
	// Idle (see DESIGN.md's Boot entry).
	dev := newFakeDevice()
	auth := newFakeAuth()
	opts := testOptions()

	c, stop := newTestController(t, opts, dev, auth)
	defer stop()

	dev.SetPin(device.Pin(opts.PinEstop), true)
	c.Boot()
	waitForMode(t, c, core.ModeEstop, time.Second)
}

func TestBootEntersBypassedWhenDetectedAtStartup(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()
	opts := testOptions()

	c, stop := newTestController(t, opts, dev, auth)
	defer stop()

	dev.SetPin(device.Pin(opts.PinBypassDetect), true)
	c.Boot()
	waitForMode(t, c, core.ModeBypassed, time.Second)
}

func TestBootEntersIdleWhenNeitherConditionHolds(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()

	c, stop := newTestController(t, testOptions(), dev, auth)
	defer stop()

	c.Boot()
	waitForMode(t, c, core.ModeIdle, time.Second)
}

func TestTerminateIsTerminal(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()

	c, stop := newTestController(t, testOptions(), dev, auth)
	defer stop()

	c.Idle()
	waitForMode(t, c, core.ModeIdle, time.Second)

	c.Terminate()
	waitForMode(t, c, core.ModeTerminated, time.Second)

	c.Idle() // dropped: Run has already returned after Terminate
	time.Sleep(20 * time.Millisecond)
	mode, _ := c.Snapshot()
	if mode != core.ModeTerminated {
		t.Fatalf("expected Terminated to be sticky, got %s", mode)
	}
}

func TestOnTransitionObserverFiresOnEveryTransition(t *testing.T) {
	dev := newFakeDevice()
	auth := newFakeAuth()

	opts := testOptions()
	c := core.New(opts, dev, auth, testLogger())
	seen := make(chan core.Mode, 8)
	c.OnTransition(func(m core.Mode) { seen <- m })
	if err := c.Wire(); err != nil {
		t.Fatalf("Wire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	c.Idle()
	select {
	case m := <-seen:
		if m != core.ModeIdle {
			t.Fatalf("expected first observed transition to be Idle, got %s", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnTransition callback")
	}
}
