package core_test

import (
	"context"
	"sync"

	"tinkeraccess/internal/authclient"
)

// fakeAuth is a scriptable authclient.Client: set loginResult/loginErr to
// control the next Login outcome, and inspect calls after the fact.
type fakeAuth struct {
	mu sync.Mutex

	loginResult *authclient.LoginResult
	loginErr    error

	registerErr error

	logins      []string
	logouts     []string
	registrations []registration
}

type registration struct {
	trainerID, trainerBadge, studentBadge string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{}
}

func (f *fakeAuth) Login(ctx context.Context, badgeCode string) (*authclient.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, badgeCode)
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	res := *f.loginResult
	return &res, nil
}

func (f *fakeAuth) Logout(ctx context.Context, badgeCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, badgeCode)
}

func (f *fakeAuth) RegisterUser(ctx context.Context, trainerID, trainerBadge, studentBadge string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, registration{trainerID, trainerBadge, studentBadge})
	return f.registerErr
}

func (f *fakeAuth) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logins)
}

func (f *fakeAuth) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logouts)
}

func (f *fakeAuth) logoutBadges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.logouts))
	copy(out, f.logouts)
	return out
}
