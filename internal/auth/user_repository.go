package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Count(ctx context.Context) (int, error)
	SetStatus(ctx context.Context, id string, status Status) error
	RecordLoginFailure(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (LockoutOutcome, error)
	RecordLoginSuccess(ctx context.Context, id string, now time.Time) error
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = `id, username, password_hash, display_name, role, status,
	failed_login_attempts, lock_until, created_at, updated_at, last_login_at`

// Create inserts a new user account. The ID is generated if empty; role
// and status default to member and active.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if !IsValidUsername(user.Username) {
		return fmt.Errorf("creating user: invalid username %q", user.Username)
	}
	if user.PasswordHash == "" {
		return errors.New("creating user: empty password hash")
	}
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	if user.Role == "" {
		user.Role = RoleMember
	}
	if user.Status == "" {
		user.Status = StatusActive
	}
	if !IsValidRole(user.Role) {
		return fmt.Errorf("creating user: invalid role %q", user.Role)
	}
	if !IsValidStatus(user.Status) {
		return fmt.Errorf("creating user: invalid status %q", user.Status)
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}

	now := time.Now()
	user.CreatedAt = parseTime(formatTime(now))
	user.UpdatedAt = user.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, display_name, role, status,
			failed_login_attempts, lock_until, created_at, updated_at, last_login_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, NULL)`,
		user.ID, user.Username, user.PasswordHash, user.DisplayName,
		string(user.Role), string(user.Status), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}

	user.FailedLoginAttempts = 0
	user.LockUntil = nil
	user.LastLoginAt = nil
	return nil
}

// GetByID retrieves a user by their unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetByUsername retrieves a user by exact, case-sensitive username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// List returns all users ordered by creation date.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC, username ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// SetStatus activates or disables an account.
func (r *SQLiteUserRepository) SetStatus(ctx context.Context, id string, status Status) error {
	if !IsValidStatus(status) {
		return fmt.Errorf("setting status: invalid status %q", status)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("setting user status: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordLoginFailure counts one failed attempt and applies policy inside a
// single write transaction, so concurrent failures for the same user are
// serialised and none is lost.
func (r *SQLiteUserRepository) RecordLoginFailure(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (LockoutOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LockoutOutcome{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var attempts int
	var lockUntil sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT failed_login_attempts, lock_until FROM users WHERE id = ?", id,
	).Scan(&attempts, &lockUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockoutOutcome{}, ErrUserNotFound
		}
		return LockoutOutcome{}, fmt.Errorf("reading lockout state: %w", err)
	}

	outcome := policy.Apply(attempts, timePtr(lockUntil), now)
	if outcome.AlreadyLocked {
		return outcome, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET failed_login_attempts = ?, lock_until = ?, updated_at = ? WHERE id = ?`,
		outcome.Attempts, nullTime(outcome.LockUntil), formatTime(now), id,
	); err != nil {
		return LockoutOutcome{}, fmt.Errorf("recording login failure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LockoutOutcome{}, fmt.Errorf("committing login failure: %w", err)
	}
	return outcome, nil
}

// RecordLoginSuccess clears the failure counter and lock and stamps last_login_at.
func (r *SQLiteUserRepository) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	ts := formatTime(now)
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET failed_login_attempts = 0, lock_until = NULL, last_login_at = ?, updated_at = ? WHERE id = ?`,
		ts, ts, id,
	)
	if err != nil {
		return fmt.Errorf("recording login success: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanUser scans a user from any scanner (Row or Rows).
func scanUser(s scanner) (*User, error) {
	var u User
	var role, status, createdAt, updatedAt string
	var lockUntil, lastLoginAt sql.NullString

	err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &role, &status,
		&u.FailedLoginAttempts, &lockUntil, &createdAt, &updatedAt, &lastLoginAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.Status = Status(status)
	u.LockUntil = timePtr(lockUntil)
	u.LastLoginAt = timePtr(lastLoginAt)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)

	return &u, nil
}
