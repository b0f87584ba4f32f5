package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tinkeraccess/internal/authclient"
)

// activateTrainer attempts the first badge scan after entering IN_TRAINING:
// a normal login call whose success the server is trusted to have already
// gated on trainer status (§4.5). Returns true and publishes UserContext as
// the trainer on success.
func (c *Controller) activateTrainer(badgeCode string) bool {
	c.showAttemptingLogin()
	time.Sleep(UIPauseShort)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := c.auth.Login(ctx, badgeCode)
	if err != nil {
		if errors.Is(err, authclient.ErrUnauthorized) {
			c.handleUnauthorized()
		} else {
			c.handleUnexpectedError()
		}
		return false
	}

	c.setUser(&UserContext{
		BadgeCode:           badgeCode,
		UserID:              result.UserID,
		UserName:            result.UserName,
		SessionSeconds:      result.SessionSeconds,
		RemainingSeconds:    result.RemainingSeconds,
		RemainingExtensions: result.RemainingExtensions,
	})
	c.writeLCD("TRAINER", "ACCEPTED...")
	time.Sleep(UIPauseShort)
	return true
}

// registerStudent enrolls a scanned badge under the current trainer via the
// server's register_user call, then always re-prompts for the next student
// (§4.5).
func (c *Controller) registerStudent(badgeCode string) {
	_, trainer := c.Snapshot()
	if trainer == nil {
		return
	}

	c.writeLCD("ATTEMPTING", "REGISTRATION...")
	time.Sleep(UIPauseShort)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.auth.RegisterUser(ctx, trainer.UserID, trainer.BadgeCode, badgeCode)

	switch {
	case err == nil:
		c.writeLCD("STUDENT", "REGISTERED...")
		time.Sleep(UIPauseShort)
	case errors.Is(err, authclient.ErrRegistrationRejected):
		c.showRegistrationFailed()
		c.writeLCD("INVALID", "USER...")
		time.Sleep(UIPauseLong)
	default:
		c.log.Warn("core: unexpected error registering student", slog.Any("error", err))
		c.showRegistrationFailed()
		c.handleUnexpectedError()
	}

	c.showScanStudentBadge()
}

func (c *Controller) showRegistrationFailed() {
	c.showRedLED()
	c.writeLCD("REGISTRATION", "FAILED...")
	time.Sleep(UIPauseLong)
}
