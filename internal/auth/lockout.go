package auth

import (
	"errors"
	"time"
)

// LockoutPolicy controls brute-force protection. MaxAttempts of zero
// disables locking.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// Validate rejects policies that would lock an account without a lock
// window in the future.
func (p LockoutPolicy) Validate() error {
	if p.MaxAttempts < 0 || p.Duration < 0 {
		return errors.New("lockout policy must not be negative")
	}
	if p.MaxAttempts > 0 && p.Duration <= 0 {
		return errors.New("lockout duration must be positive when max attempts is set")
	}
	return nil
}

// LockoutOutcome is the account state after one failed login attempt.
type LockoutOutcome struct {
	Attempts  int
	LockUntil *time.Time

	// Locked is set when this attempt triggered a new lock.
	Locked bool

	// AlreadyLocked is set when the account was inside a lock window and
	// the attempt was not counted.
	AlreadyLocked bool
}

// Apply computes the state after a failed attempt on an account holding
// attempts and lockUntil. Reaching MaxAttempts sets the lock and resets
// the counter to zero, so each lock window starts a fresh count.
func (p LockoutPolicy) Apply(attempts int, lockUntil *time.Time, now time.Time) LockoutOutcome {
	if lockUntil != nil && now.Before(*lockUntil) {
		return LockoutOutcome{Attempts: attempts, LockUntil: lockUntil, AlreadyLocked: true}
	}

	next := attempts + 1
	if p.MaxAttempts > 0 && next >= p.MaxAttempts {
		until := now.Add(p.Duration)
		return LockoutOutcome{Attempts: 0, LockUntil: &until, Locked: true}
	}
	return LockoutOutcome{Attempts: next}
}
