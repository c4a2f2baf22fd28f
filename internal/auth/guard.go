package auth

import (
	"context"
	"time"
)

// LockState is the lockout state of a credential at a point in time.
type LockState struct {
	Locked bool
	Until  time.Time
}

// LoginGuard tracks consecutive login failures per credential and computes the
// lock state. Lock expiry is evaluated lazily on the next check.
//
// RecordFailure is a read-then-write against the store: the new counter is
// derived from the value read at lookup time, without a row lock. Two failures
// racing on the same credential can both write the same count, so lockout may
// arrive one attempt late. This is accepted.
type LoginGuard struct {
	store    CredentialStore
	settings SettingsProvider
	now      func() time.Time
}

// NewLoginGuard constructs a guard.
func NewLoginGuard(store CredentialStore, settings SettingsProvider, now func() time.Time) *LoginGuard {
	if now == nil {
		now = time.Now
	}
	return &LoginGuard{store: store, settings: settings, now: now}
}

// CheckLockState reports whether rec is locked right now.
func (g *LoginGuard) CheckLockState(rec CredentialRecord) LockState {
	if rec.LockedUntil.IsZero() {
		return LockState{}
	}
	if g.now().Before(rec.LockedUntil) {
		return LockState{Locked: true, Until: rec.LockedUntil}
	}
	return LockState{}
}

// RecordFailure increments the failure counter of rec and locks the credential
// once the configured maximum is reached. A lock that already expired starts a
// fresh count.
func (g *LoginGuard) RecordFailure(ctx context.Context, rec CredentialRecord) (LockState, error) {
	settings, err := g.settings.Settings(ctx)
	if err != nil {
		return LockState{}, err
	}
	now := g.now().UTC()
	attempts := rec.FailedAttempts
	if !rec.LockedUntil.IsZero() && !now.Before(rec.LockedUntil) {
		attempts = 0
	}
	attempts++

	var until time.Time
	if attempts >= settings.MaxLoginAttempts {
		until = now.Add(settings.LockoutDuration)
	}
	if err := g.store.RecordLoginFailure(ctx, rec.UserID, attempts, until); err != nil {
		return LockState{}, err
	}
	return LockState{Locked: !until.IsZero(), Until: until}, nil
}

// RecordSuccess clears the counter and any lock. It skips the write when there
// is nothing to clear.
func (g *LoginGuard) RecordSuccess(ctx context.Context, rec CredentialRecord) error {
	if rec.FailedAttempts == 0 && rec.LockedUntil.IsZero() {
		return nil
	}
	return g.store.ResetLoginFailures(ctx, rec.UserID)
}
