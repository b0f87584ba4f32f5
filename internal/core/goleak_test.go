package core_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

// Verifies SessionTimer and RelockTimer leave no goroutine running once a
// test's Controller has stopped, per DESIGN.md's timer cancellation
// invariants. Grounded on ManuGH-xg2g's goleak_test.go.
func TestMain(m *testing.M) {
	// This short sleep runs before any test starts. The leak check itself
	// runs after the tests, inside goleak.VerifyTestMain, which retries for
	// a while so that a SessionTimer or RelockTimer callback still returning
	// when the last test stops is not reported as a leak.
	time.Sleep(10 * time.Millisecond)
	goleak.VerifyTestMain(m)
}
