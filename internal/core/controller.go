package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"tinkeraccess/internal/authclient"
	"tinkeraccess/internal/config"
	"tinkeraccess/internal/device"
)

// Tunable UI/polling delays. Exported as variables, not constants, so tests
// can shrink them; production wiring leaves them at the spec's literal
// values.
var (
	UIPauseShort         = 1 * time.Second
	UIPauseLong          = 2 * time.Second
	BypassSettleDelay    = 500 * time.Millisecond
	EstopSettleDelay     = 500 * time.Millisecond
	TrainingPollInterval = 100 * time.Millisecond
	TrainingWaitWindow   = 2 * time.Second
	PowerDownPollInterval = 500 * time.Millisecond
)

type eventKind int

const (
	evIdle eventKind = iota
	evEstop
	evBypass
	evUnlock
	evLogin
	evLogout
	evTerminate
)

type event struct {
	kind      eventKind
	badgeCode string
	override  bool
}

// Controller owns the access state machine and dispatches input events to
// triggers, running entry actions to completion before the next trigger is
// considered. All triggers are serialized through a single dispatch
// goroutine started by Run.
type Controller struct {
	opts config.Options
	dev  device.Device
	auth authclient.Client
	log  *slog.Logger

	events chan event

	mu   sync.Mutex // guards mode and user against the SessionTimer tick goroutine
	mode Mode
	user *UserContext

	sessionTimer *sessionTimer
	relockTimer  *relockTimer

	onTransition func(Mode)   // optional ambient hook (telemetry, status console)
	onBadgeScan  func(string) // optional ambient hook (telemetry dashboards)
}

// New builds a Controller in ModeInitialized. Call Wire to register device
// callbacks and Run to start the dispatch loop.
func New(opts config.Options, dev device.Device, auth authclient.Client, log *slog.Logger) *Controller {
	c := &Controller{
		opts:   opts,
		dev:    dev,
		auth:   auth,
		log:    log,
		events: make(chan event, 32),
		mode:   ModeInitialized,
	}
	c.sessionTimer = newSessionTimer(c)
	c.relockTimer = newRelockTimer(c)
	return c
}

// OnTransition registers an ambient observer invoked after every completed
// transition's status-file epilogue. Never gates or delays a transition.
func (c *Controller) OnTransition(fn func(Mode)) {
	c.onTransition = fn
}

// OnBadgeScan registers an ambient observer invoked with every raw badge
// scan, independent of whether it was authorized. Never gates or delays the
// resulting trigger.
func (c *Controller) OnBadgeScan(fn func(badgeCode string)) {
	c.onBadgeScan = fn
}

// Snapshot returns the current mode and a copy of the user context (nil if
// absent) without participating in dispatch serialization.
func (c *Controller) Snapshot() (Mode, *UserContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mode := c.mode
	var user *UserContext
	if c.user != nil {
		u := *c.user
		user = &u
	}
	return mode, user
}

// --- public triggers -------------------------------------------------

// Boot enqueues the appropriate startup trigger, mirroring original_source
// Client.run's precedence before its first idle(): a held e-stop or an
// already-detected bypass at power-on must land the controller in the
// matching mode directly, never in Idle, since neither condition raises an
// edge for Wire's callbacks to observe after the fact.
func (c *Controller) Boot() {
	switch {
	case c.isEstopActivated():
		c.Estop()
	case c.isBypassDetected():
		c.Bypass()
	default:
		c.Idle()
	}
}

func (c *Controller) Idle()      { c.enqueue(event{kind: evIdle}) }
func (c *Controller) Estop()     { c.enqueue(event{kind: evEstop}) }
func (c *Controller) Bypass()    { c.enqueue(event{kind: evBypass}) }
func (c *Controller) Unlock()    { c.enqueue(event{kind: evUnlock}) }
func (c *Controller) Logout()    { c.enqueue(event{kind: evLogout}) }
func (c *Controller) Terminate() { c.enqueue(event{kind: evTerminate}) }
func (c *Controller) Login(badgeCode string) {
	c.enqueue(event{kind: evLogin, badgeCode: badgeCode})
}

func (c *Controller) enqueue(ev event) {
	select {
	case c.events <- ev:
	default:
		// The queue is deep enough that this only trips under a runaway
		// input storm; drop rather than block the caller's goroutine
		// (a device callback) indefinitely.
		c.log.Warn("controller: event queue full, dropping trigger", slog.Any("kind", ev.kind))
	}
}

// --- device input-to-trigger mapping (§4.1) ---------------------------

// Wire registers the device callbacks that feed the dispatch loop. It
// mirrors original_source Client.run's device.on(...) registrations.
func (c *Controller) Wire() error {
	if err := c.dev.OnBadge(c.handleBadgeScanned); err != nil {
		return fmt.Errorf("core: wiring badge reader: %w", err)
	}
	if err := c.dev.OnPinEdge(device.Pin(c.opts.PinLogout), device.EdgeRising, func(device.Pin, bool) {
		c.handleLogoutButton()
	}); err != nil {
		return fmt.Errorf("core: wiring logout button: %w", err)
	}
	if c.opts.UseEstop {
		if err := c.dev.OnPinEdge(device.Pin(c.opts.PinEstop), device.EdgeBoth, func(device.Pin, bool) {
			c.handleEstopChange()
		}); err != nil {
			return fmt.Errorf("core: wiring e-stop: %w", err)
		}
	}
	if c.opts.UseBypassDetect {
		if err := c.dev.OnPinEdge(device.Pin(c.opts.PinBypassDetect), device.EdgeBoth, func(device.Pin, bool) {
			c.handleBypassChange()
		}); err != nil {
			return fmt.Errorf("core: wiring bypass detect: %w", err)
		}
	}
	return nil
}

func (c *Controller) handleBadgeScanned(badgeCode string) {
	if c.onBadgeScan != nil {
		c.onBadgeScan(badgeCode)
	}
	mode, user := c.Snapshot()
	if mode == ModeInTraining {
		if user == nil {
			if c.activateTrainer(badgeCode) {
				c.showScanStudentBadge()
			} else {
				c.showScanTrainerBadge()
			}
			return
		}
		if badgeCode != user.BadgeCode {
			c.registerStudent(badgeCode)
		}
		return
	}
	c.Login(badgeCode)
}

func (c *Controller) handleLogoutButton() {
	mode, _ := c.Snapshot()
	switch {
	case c.isEstopActivated() && mode == ModeInTraining:
		c.Estop()
	case c.isBypassDetected() && mode == ModeInTraining:
		c.Bypass()
	case c.opts.IsADoor && c.opts.DoorContinuousUnlock && (mode == ModeIdle || mode == ModeInUse):
		c.Unlock()
	default:
		c.Logout()
	}
}

func (c *Controller) handleEstopChange() {
	if c.isEstopActivated() {
		mode, _ := c.Snapshot()
		if mode != ModeInTraining {
			c.Estop()
		}
		return
	}
	mode, _ := c.Snapshot()
	if mode == ModeEstop {
		time.Sleep(EstopSettleDelay)
		if c.isBypassDetected() {
			c.Bypass()
		} else {
			c.Idle()
		}
	}
}

func (c *Controller) handleBypassChange() {
	if c.isBypassDetected() {
		mode, _ := c.Snapshot()
		if mode == ModeIdle {
			c.Bypass()
		}
		return
	}
	mode, _ := c.Snapshot()
	if mode == ModeBypassed {
		c.Idle()
	}
}

// --- dispatch loop -----------------------------------------------------

// Run drains the event queue, dispatching one trigger to completion
// (including its entry action) before considering the next. It returns
// when ctx is cancelled or Terminate has completed.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.dispatch(event{kind: evTerminate})
			return ctx.Err()
		case ev := <-c.events:
			c.dispatch(ev)
			if ev.kind == evTerminate {
				return nil
			}
		}
	}
}

// Wait blocks until the device layer has at least one event ready, mirroring
// the §6 Device.Wait contract consumed by the top-level runner's main loop
// in addition to the channel-based Run above.
func (c *Controller) Wait(ctx context.Context) error {
	return c.dev.Wait(ctx)
}

func (c *Controller) dispatch(ev event) {
	from, _ := c.Snapshot()
	switch ev.kind {
	case evIdle:
		c.tryTransition(from, []Mode{ModeInitialized, ModeEstop, ModeBypassed}, ModeIdle, c.enterIdle)
	case evEstop:
		c.tryTransition(from, []Mode{ModeInitialized, ModeBypassed, ModeIdle, ModeInUse, ModeInTraining}, ModeEstop, c.enterEstop)
	case evBypass:
		c.tryTransition(from, []Mode{ModeInitialized, ModeEstop, ModeIdle, ModeInTraining}, ModeBypassed, c.enterBypassed)
	case evUnlock:
		if !oneOf(from, ModeIdle, ModeInUse) {
			return
		}
		if !c.isNormalHours() {
			return
		}
		c.transitionTo(ModeUnlocked, c.enterUnlocked)
	case evLogin:
		c.dispatchLogin(from, ev.badgeCode)
	case evLogout:
		c.dispatchLogout(from)
	case evTerminate:
		c.transitionTo(ModeTerminated, c.enterTerminated)
	}
}

func oneOf(m Mode, candidates ...Mode) bool {
	for _, c := range candidates {
		if m == c {
			return true
		}
	}
	return false
}

// tryTransition performs an unconditional (guardless) transition if from is
// in sources; invalid trigger-from-source pairs are silently ignored.
func (c *Controller) tryTransition(from Mode, sources []Mode, dest Mode, enter func()) {
	if !oneOf(from, sources...) {
		return
	}
	c.transitionTo(dest, enter)
}

// transitionTo cancels any live timers, sets the new mode, runs its entry
// action, then the after-state-change epilogue (status file, ambient hook).
// Invariant §3.5: timers of the mode being left are always cancelled before
// the destination's entry action runs.
func (c *Controller) transitionTo(dest Mode, enter func()) {
	c.sessionTimer.cancel()
	c.relockTimer.cancel()

	c.mu.Lock()
	c.mode = dest
	c.mu.Unlock()

	enter()
	c.afterStateChange(dest)
}

func (c *Controller) afterStateChange(mode Mode) {
	if err := c.writeStatus(mode); err != nil {
		c.log.Error("core: writing status file", slog.Any("error", err))
	}
	if c.onTransition != nil {
		c.onTransition(mode)
	}
}

func (c *Controller) writeStatus(mode Mode) error {
	if c.opts.StatusFile == "" {
		return nil
	}
	return renameio.WriteFile(c.opts.StatusFile, []byte(mode.StatusFileValue()+"\n"), 0o644)
}

// --- login / logout dispatch (the two multi-row trigger table entries) -

func (c *Controller) dispatchLogin(from Mode, badgeCode string) {
	switch from {
	case ModeIdle:
		if c.isAuthorized(badgeCode, false) {
			c.transitionTo(ModeInUse, c.enterInUse)
		}
	case ModeInUse:
		if c.shouldExtendOrOverride(badgeCode) {
			// Destination is IN_USE either way (same-badge extension stays
			// in place; override re-enters in_use per the Open Question
			// preserved from original_source — see DESIGN.md).
			c.transitionTo(ModeInUse, c.enterInUse)
		}
	default:
		// invalid trigger-from-source pair: ignored
	}
}

func (c *Controller) dispatchLogout(from Mode) {
	if oneOf(from, ModeUnlocked, ModeInUse, ModeInTraining) {
		c.transitionTo(ModeIdle, c.enterIdle)
		return
	}
	if oneOf(from, ModeIdle, ModeEstop, ModeBypassed) {
		if c.isWaitingForTraining() {
			c.transitionTo(ModeInTraining, c.enterInTraining)
		}
		// guard failed: no transition, trigger is simply absorbed
	}
}

// --- guards (§4.1 conditions) ------------------------------------------

func (c *Controller) isEstopActivated() bool {
	if !c.opts.UseEstop {
		return false
	}
	high, err := c.dev.ReadPin(device.Pin(c.opts.PinEstop))
	if err != nil {
		c.log.Warn("core: reading e-stop pin", slog.Any("error", err))
		return false
	}
	if c.opts.EstopActiveHi {
		return high
	}
	return !high
}

func (c *Controller) isBypassDetected() bool {
	if !c.opts.UseBypassDetect {
		return false
	}
	high, err := c.dev.ReadPin(device.Pin(c.opts.PinBypassDetect))
	if err != nil {
		c.log.Warn("core: reading bypass pin", slog.Any("error", err))
		return false
	}
	return high
}

func clampHHMM(v int) (hour, minute int) {
	if v < 0 {
		v = 0
	} else if v > 2359 {
		v = 2359
	}
	hour = v / 100
	minute = v % 100
	if minute > 59 {
		minute = 59
	}
	return hour, minute
}

func (c *Controller) isNormalHours() bool {
	startHr, startMin := clampHHMM(c.opts.DoorNormalHrStart)
	endHr, endMin := clampHHMM(c.opts.DoorNormalHrEnd)

	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), startHr, startMin, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), endHr, endMin, 0, 0, now.Location())
	return !now.Before(start) && !now.After(end)
}

func (c *Controller) isWaitingForTraining() bool {
	if (c.opts.IsADoor && c.opts.DoorContinuousUnlock) || c.opts.DisableTrainingMode {
		return false
	}
	deadline := time.Now().Add(TrainingWaitWindow)
	for time.Now().Before(deadline) {
		held, err := c.dev.ReadPin(device.Pin(c.opts.PinLogout))
		if err != nil || !held {
			return false
		}
		time.Sleep(TrainingPollInterval)
	}
	held, err := c.dev.ReadPin(device.Pin(c.opts.PinLogout))
	return err == nil && held
}

// isAuthorized performs the remote login and has user-visible side effects
// even on failure, by design (see DESIGN.md "isAuthorized's blocking call").
// override controls whether a failure re-enters IN_USE (true) or IDLE
// (false).
func (c *Controller) isAuthorized(badgeCode string, override bool) bool {
	c.showAttemptingLogin()
	time.Sleep(UIPauseShort)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := c.auth.Login(ctx, badgeCode)
	if err == nil {
		// An override replaces whoever was previously logged in; that user's
		// UserContext is destroyed here, which §3 DATA MODEL requires to
		// also fire a best-effort logout notification carrying their badge
		// code (see DESIGN.md's "Override displaces the prior user" entry).
		_, outgoing := c.Snapshot()
		if outgoing != nil && outgoing.BadgeCode != badgeCode {
			c.logoutUser(outgoing)
		}
		c.setUser(&UserContext{
			BadgeCode:           badgeCode,
			UserID:              result.UserID,
			UserName:            result.UserName,
			SessionSeconds:      result.SessionSeconds,
			RemainingSeconds:    result.RemainingSeconds,
			RemainingExtensions: result.RemainingExtensions,
		})
		c.showAccessGranted()
		time.Sleep(UIPauseShort)
		return true
	}

	if errors.Is(err, authclient.ErrUnauthorized) {
		c.handleUnauthorized()
	} else {
		c.handleUnexpectedError()
	}

	if !override {
		c.transitionTo(ModeIdle, c.enterIdle)
	} else {
		c.transitionTo(ModeInUse, c.enterInUse)
	}
	return false
}

func (c *Controller) shouldExtendOrOverride(badgeCode string) bool {
	_, user := c.Snapshot()
	if user != nil && user.BadgeCode == badgeCode {
		c.extendSession()
		return true
	}
	if c.opts.AllowUserOverride {
		c.sessionTimer.cancel()
		c.isAuthorized(badgeCode, true)
		return true
	}
	return false
}

func (c *Controller) setUser(u *UserContext) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

// --- entry actions (§4.1) ----------------------------------------------

func (c *Controller) enterIdle() {
	c.ensureIdle()
	// Matches original_source's on_enter_idle: a synchronous settle-and-
	// recheck, not a background goroutine, so Terminate never leaves a late
	// Bypass() enqueued against a dispatch loop that has already returned.
	time.Sleep(BypassSettleDelay)
	if c.isBypassDetected() {
		c.Bypass()
	}
}

// ensureIdle is the logout/power-down/idle-display sequence shared by
// enterIdle and enterTerminated, matching original_source's __ensure_idle
// (on_enter_terminated calls only __ensure_idle, without the bypass
// recheck on_enter_idle performs).
func (c *Controller) ensureIdle() {
	c.doLogout()
	c.powerDown()
	c.showBlueLED()
	c.writeLCD("SCAN BADGE", "TO LOGIN")
}

func (c *Controller) enterInUse() {
	c.enablePower()
	c.showGreenLED()
	c.sessionTimer.start()
}

func (c *Controller) enterUnlocked() {
	c.doLogout()
	c.enablePower()
	c.showGreenLED()
	c.writeLCD("TINKERACCESS", "IS UNLOCKED")
	c.relockTimer.start()
}

func (c *Controller) enterEstop() {
	c.doLogout()
	c.powerDown()
	c.showRedLED()
	c.writeLCD("E-STOP ACTIVATED", "RESET THE SWITCH")
	c.log.Warn("core: emergency stop detected")
}

func (c *Controller) enterBypassed() {
	c.doLogout()
	c.powerDown()
	c.showYellowLED()
	c.writeLCD("TINKERACCESS", "IS BYPASSED")
	c.log.Warn("core: tinkeraccess has been bypassed")
}

func (c *Controller) enterInTraining() {
	c.doLogout()
	c.powerDown()
	c.showMagentaLED()
	c.writeLCD("TRAINING MODE", "ACTIVATED...")
	time.Sleep(UIPauseShort)
	c.showScanTrainerBadge()
}

func (c *Controller) enterTerminated() {
	c.ensureIdle()
}

// doLogout cancels timers, fires a best-effort async server logout, and
// clears UserContext. Called from every entry action that must guarantee
// no authenticated session survives.
func (c *Controller) doLogout() {
	c.sessionTimer.cancel()
	c.relockTimer.cancel()

	c.mu.Lock()
	user := c.user
	c.user = nil
	c.mu.Unlock()

	c.logoutUser(user)
}

// logoutUser fires the best-effort server logout for a UserContext that is
// about to be destroyed. A no-op for nil. Shared by doLogout (the user's own
// logout/mode change) and isAuthorized's override path (a different badge
// displacing the current user).
func (c *Controller) logoutUser(user *UserContext) {
	if user == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c.auth.Logout(ctx, user.BadgeCode)
	cancel()
}

// --- device output helpers ----------------------------------------------

func (c *Controller) writeLCD(line1, line2 string) {
	if err := c.dev.WriteLCD(device.CenterLine(line1), device.CenterLine(line2)); err != nil {
		c.log.Warn("core: writing lcd", slog.Any("error", err))
	}
}

func (c *Controller) showBlueLED()    { c.writeLED(false, false, true); c.setAlarm(false) }
func (c *Controller) showGreenLED()   { c.writeLED(false, true, false); c.setAlarm(false) }
func (c *Controller) showRedLED()     { c.writeLED(true, false, false); c.setAlarm(true) }
func (c *Controller) showYellowLED()  { c.writeLED(true, true, false); c.setAlarm(false) }
func (c *Controller) showMagentaLED() { c.writeLED(true, false, true); c.setAlarm(false) }

func (c *Controller) writeLED(r, g, b bool) {
	if err := c.dev.WriteLED(r, g, b); err != nil {
		c.log.Warn("core: writing led", slog.Any("error", err))
	}
}

func (c *Controller) setAlarm(on bool) {
	if !c.opts.UseAlarm {
		return
	}
	if err := c.dev.WritePin(device.Pin(c.opts.PinAlarm), on); err != nil {
		c.log.Warn("core: writing alarm pin", slog.Any("error", err))
	}
}

func (c *Controller) enablePower() {
	if err := c.dev.WritePin(device.Pin(c.opts.PinPowerRelay), true); err != nil {
		c.log.Warn("core: enabling power relay", slog.Any("error", err))
	}
}

func (c *Controller) showAttemptingLogin() { c.writeLCD("ATTEMPTING", "LOGIN...") }
func (c *Controller) showAccessGranted()   { c.writeLCD("ACCESS GRANTED", "") }

func (c *Controller) handleUnauthorized() {
	c.showRedLED()
	c.writeLCD("ACCESS DENIED", "TAKE THE CLASS")
	time.Sleep(UIPauseLong)
}

func (c *Controller) handleUnexpectedError() {
	c.showRedLED()
	c.writeLCD("THERE WAS AN", "UNEXPECTED ERROR")
	time.Sleep(UIPauseLong)
	c.writeLCD("PLEASE", "TRY AGAIN...")
	time.Sleep(UIPauseLong)
}

func (c *Controller) showScanTrainerBadge() { c.writeLCD("SCAN", "TRAINER BADGE...") }
func (c *Controller) showScanStudentBadge() { c.writeLCD("SCAN", "STUDENT BADGE...") }
