package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/familyhealth/health-core/internal/audit"
)

// AuditRecorder persists audit entries. *audit.Recorder implements it.
type AuditRecorder interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// GuardDeps holds the collaborators of a Guard.
type GuardDeps struct {
	Users    UserRepository
	Sessions SessionRepository
	Codec    *TokenCodec
	Audit    AuditRecorder
	Config   Config
	Logger   *slog.Logger
	Clock    Clock // optional, defaults to time.Now
}

// Guard runs the login, refresh and logout flows. Every Authenticate and
// Refresh call writes exactly one audit entry.
type Guard struct {
	users    UserRepository
	sessions SessionRepository
	codec    *TokenCodec
	audit    AuditRecorder
	cfg      Config
	logger   *slog.Logger
	now      Clock
}

// NewGuard validates deps and returns a Guard.
func NewGuard(deps GuardDeps) (*Guard, error) {
	if deps.Users == nil || deps.Sessions == nil || deps.Codec == nil || deps.Audit == nil {
		return nil, errors.New("guard: users, sessions, codec and audit are required")
	}
	if deps.Config.AccessTTL <= 0 || deps.Config.RefreshTTL <= 0 {
		return nil, errors.New("guard: token ttls must be positive")
	}
	if err := deps.Config.Lockout.Validate(); err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}

	g := &Guard{
		users:    deps.Users,
		sessions: deps.Sessions,
		codec:    deps.Codec,
		audit:    deps.Audit,
		cfg:      deps.Config,
		logger:   deps.Logger,
		now:      deps.Clock,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Authenticate verifies credentials and, on success, opens a session and
// returns a token pair. Unknown usernames and wrong passwords fail with the
// same ErrInvalidCredentials.
func (g *Guard) Authenticate(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	now := g.now()

	user, err := g.users.GetByUsername(ctx, req.Username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, g.fail(ctx, ErrInvalidCredentials, "", audit.ActionLoginFailure, req.Client)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if user.Status != StatusActive {
		return nil, g.fail(ctx, ErrAccountDisabled, user.ID, audit.ActionLoginFailure, req.Client)
	}

	// A locked account is rejected before any password hashing.
	if user.IsLocked(now) {
		locked := &LockedError{Until: *user.LockUntil, Remaining: user.LockUntil.Sub(now)}
		return nil, g.fail(ctx, locked, user.ID, audit.ActionLockout, req.Client)
	}

	if !VerifyPassword(req.Password, user.PasswordHash) {
		outcome, err := g.users.RecordLoginFailure(ctx, user.ID, g.cfg.Lockout, now)
		if err != nil {
			return nil, fmt.Errorf("recording failed login: %w", err)
		}
		if outcome.Locked {
			g.logger.Warn("account locked after repeated failures",
				"user_id", user.ID,
				"lock_until", outcome.LockUntil,
				"trace_id", req.Client.TraceID,
			)
		}
		return nil, g.fail(ctx, ErrInvalidCredentials, user.ID, audit.ActionLoginFailure, req.Client)
	}

	if err := g.users.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}

	access, refresh, err := g.mint(user.ID)
	if err != nil {
		return nil, err
	}
	if _, err := g.sessions.Create(ctx, user.ID, refresh, g.cfg.RefreshTTL, req.DeviceLabel, req.Client.IPAddr); err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}

	if err := g.record(ctx, user.ID, audit.ActionLoginSuccess, audit.ResultSuccess, req.Client); err != nil {
		return nil, err
	}

	g.logger.Info("user logged in", "user_id", user.ID, "trace_id", req.Client.TraceID)
	return g.pair(access, refresh), nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked atomically with the creation of its successor and can never be
// used again.
func (g *Guard) Refresh(ctx context.Context, rawRefresh string, client ClientInfo) (*TokenPair, error) {
	claims, err := g.codec.Decode(rawRefresh)
	if err != nil {
		return nil, g.fail(ctx, ErrInvalidToken, "", audit.ActionRefresh, client)
	}
	if claims.Type != TokenRefresh {
		return nil, g.fail(ctx, ErrInvalidToken, claims.Subject, audit.ActionRefresh, client)
	}

	session, err := g.sessions.FindActiveByToken(ctx, rawRefresh)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, g.fail(ctx, ErrSessionInvalid, claims.Subject, audit.ActionRefresh, client)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	if session.UserID != claims.Subject {
		return nil, g.fail(ctx, ErrSessionInvalid, claims.Subject, audit.ActionRefresh, client)
	}

	user, err := g.users.GetByID(ctx, session.UserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if err != nil || user.Status != StatusActive {
		if rerr := g.sessions.Revoke(ctx, session.ID); rerr != nil {
			return nil, fmt.Errorf("revoking session of inactive user: %w", rerr)
		}
		return nil, g.fail(ctx, ErrAccountDisabled, session.UserID, audit.ActionRefresh, client)
	}

	// Mint first so the rotation transaction is the last fallible step.
	access, refresh, err := g.mint(user.ID)
	if err != nil {
		return nil, err
	}

	if _, err := g.sessions.Rotate(ctx, session.ID, refresh, g.cfg.RefreshTTL, client.IPAddr); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			g.logger.Warn("refresh lost rotation race", "user_id", user.ID, "session_id", session.ID, "trace_id", client.TraceID)
			return nil, g.fail(ctx, ErrSessionInvalid, user.ID, audit.ActionRefresh, client)
		}
		// The old token must not survive a failed rotation.
		if rerr := g.sessions.Revoke(ctx, session.ID); rerr != nil {
			g.logger.Error("revoking session after failed rotation", "session_id", session.ID, "error", rerr)
		}
		return nil, fmt.Errorf("rotating session: %w", err)
	}

	if err := g.record(ctx, user.ID, audit.ActionRefresh, audit.ResultSuccess, client); err != nil {
		return nil, err
	}
	return g.pair(access, refresh), nil
}

// Logout revokes the session of rawRefresh. Unknown, expired or already
// revoked tokens are a successful no-op and are not audited.
func (g *Guard) Logout(ctx context.Context, rawRefresh string, client ClientInfo) error {
	session, err := g.sessions.FindActiveByToken(ctx, rawRefresh)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up session: %w", err)
	}

	if err := g.sessions.Revoke(ctx, session.ID); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return g.record(ctx, session.UserID, audit.ActionLogout, audit.ResultSuccess, client)
}

// LogoutAll revokes every session of userID and returns how many were open.
func (g *Guard) LogoutAll(ctx context.Context, userID string, client ClientInfo) (int64, error) {
	n, err := g.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}
	if err := g.record(ctx, userID, audit.ActionLogoutAll, audit.ResultSuccess, client); err != nil {
		return 0, err
	}
	return n, nil
}

// Sessions lists the active sessions of userID, most recent first.
func (g *Guard) Sessions(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := g.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// DisableUser disables an account and revokes all of its sessions.
func (g *Guard) DisableUser(ctx context.Context, userID string, client ClientInfo) error {
	if err := g.users.SetStatus(ctx, userID, StatusDisabled); err != nil {
		return err
	}
	n, err := g.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	g.logger.Info("account disabled", "user_id", userID, "sessions_revoked", n, "trace_id", client.TraceID)
	return g.record(ctx, userID, audit.ActionAccountDisabled, audit.ResultSuccess, client)
}

func (g *Guard) mint(userID string) (access, refresh string, err error) {
	access, err = g.codec.Issue(userID, TokenAccess, g.cfg.AccessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = g.codec.Issue(userID, TokenRefresh, g.cfg.RefreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (g *Guard) pair(access, refresh string) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(g.cfg.AccessTTL / time.Second),
	}
}

func (g *Guard) record(ctx context.Context, userID string, action audit.Action, result audit.Result, client ClientInfo) error {
	err := g.audit.Record(ctx, &audit.Entry{
		UserID:    userID,
		Action:    action,
		Result:    result,
		IPAddr:    client.IPAddr,
		UserAgent: client.UserAgent,
		TraceID:   client.TraceID,
		CreatedAt: g.now(),
	})
	if err != nil {
		g.logger.Error("writing audit entry", "action", action, "trace_id", client.TraceID, "error", err)
		return fmt.Errorf("auditing %s: %w", action, err)
	}
	return nil
}

// fail audits a failed attempt and returns authErr, or the audit failure
// if the entry could not be written.
func (g *Guard) fail(ctx context.Context, authErr error, userID string, action audit.Action, client ClientInfo) error {
	if err := g.record(ctx, userID, action, audit.ResultFailure, client); err != nil {
		return err
	}
	return authErr
}
