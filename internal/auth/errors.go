package auth

import (
	"errors"
	"fmt"
	"time"
)

// Authentication and authorisation failures. Anything else returned by this
// package is an infrastructure failure wrapped with context.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrAccountLocked      = errors.New("account is locked")
	ErrInvalidToken       = errors.New("invalid token")
	ErrSessionInvalid     = errors.New("session is invalid or expired")
	ErrMissingToken       = errors.New("missing token")
	ErrUserNotFound       = errors.New("user not found")
	ErrPermissionDenied   = errors.New("permission denied")

	ErrUsernameExists  = errors.New("username already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// LockedError is returned while an account sits inside its lock window.
// errors.Is(err, ErrAccountLocked) holds for it.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is locked for another %s", e.Remaining.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

var authErrors = []error{
	ErrInvalidCredentials,
	ErrAccountDisabled,
	ErrAccountLocked,
	ErrInvalidToken,
	ErrSessionInvalid,
	ErrMissingToken,
	ErrUserNotFound,
	ErrPermissionDenied,
}

// IsAuthError reports whether err belongs to the authentication error
// taxonomy rather than being an infrastructure failure.
func IsAuthError(err error) bool {
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
