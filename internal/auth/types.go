package auth

import (
	"regexp"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Role represents an authorisation tier.
type Role string

const (
	// RoleAdmin manages users, reads the audit trail and can force logouts.
	RoleAdmin Role = "admin"

	// RoleMember is a regular family member account.
	RoleMember Role = "member"
)

// ValidRoles is the set of roles a user account may hold.
var ValidRoles = []Role{RoleAdmin, RoleMember}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Status is the account state. Only active accounts may authenticate.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// IsValidStatus returns true for a known account status.
func IsValidStatus(s Status) bool {
	return s == StatusActive || s == StatusDisabled
}

// User represents a human account with credentials and lockout state.
type User struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"` // never serialised
	DisplayName         string     `json:"display_name"`
	Role                Role       `json:"role"`
	Status              Status     `json:"status"`
	FailedLoginAttempts int        `json:"-"`
	LockUntil           *time.Time `json:"lock_until,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
}

// IsLocked reports whether the account is inside a lock window at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && now.Before(*u.LockUntil)
}

// Session is a persisted refresh-token session. The raw token is never
// stored, only its SHA-256 digest.
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	RefreshTokenHash string     `json:"-"` // never serialised
	DeviceLabel      string     `json:"device_label,omitempty"`
	IPAddr           string     `json:"ip_addr,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// IsActive reports whether the session can still be used at now.
func (s *Session) IsActive(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// TokenPair is returned to the client after a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// ClientInfo carries per-request metadata used for sessions and audit.
type ClientInfo struct {
	IPAddr    string
	UserAgent string
	TraceID   string
}

// LoginRequest is the input to Guard.Authenticate.
type LoginRequest struct {
	Username    string
	Password    string
	DeviceLabel string
	Client      ClientInfo
}

// Config is the immutable authentication configuration built at startup.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Lockout    LockoutPolicy
}

// Clock returns the current time. Tests substitute a fixed or stepping clock.
type Clock func() time.Time
