package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRepository is the session ledger: persisted refresh-token sessions
// keyed by the SHA-256 digest of the raw token.
type SessionRepository interface {
	Create(ctx context.Context, userID, rawToken string, ttl time.Duration, deviceLabel, ipAddr string) (*Session, error)
	FindActiveByToken(ctx context.Context, rawToken string) (*Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	ListActive(ctx context.Context, userID string) ([]Session, error)
	Rotate(ctx context.Context, oldID, rawToken string, ttl time.Duration, ipAddr string) (*Session, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db  *sql.DB
	now Clock
}

// NewSessionRepository creates a new SQLite-backed session ledger.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db, now: time.Now}
}

// SetClock overrides the ledger's time source.
func (r *SQLiteSessionRepository) SetClock(now Clock) {
	if now != nil {
		r.now = now
	}
}

const sessionColumns = `id, user_id, refresh_token_hash, device_label, ip_addr, expires_at, revoked_at, created_at`

// Create persists a new session for rawToken expiring after ttl.
func (r *SQLiteSessionRepository) Create(ctx context.Context, userID, rawToken string, ttl time.Duration, deviceLabel, ipAddr string) (*Session, error) {
	s, err := r.newSession(userID, rawToken, ttl, deviceLabel, ipAddr)
	if err != nil {
		return nil, err
	}
	if err := insertSession(ctx, r.db, s); err != nil {
		return nil, err
	}
	return s, nil
}

// FindActiveByToken returns the usable session for rawToken. Unknown,
// revoked and expired tokens all yield ErrSessionNotFound.
func (r *SQLiteSessionRepository) FindActiveByToken(ctx context.Context, rawToken string) (*Session, error) {
	if rawToken == "" {
		return nil, ErrSessionNotFound
	}

	s, err := scanSession(r.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM user_sessions WHERE refresh_token_hash = ?", HashToken(rawToken)))
	if err != nil {
		return nil, err
	}
	if !s.IsActive(r.now()) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Revoke marks a session revoked. Revoking an already revoked or unknown
// session is a no-op.
func (r *SQLiteSessionRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE user_sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		formatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every unrevoked session of userID and returns
// how many were revoked.
func (r *SQLiteSessionRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE user_sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL",
		formatTime(r.now()), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoking user sessions: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// ListActive returns the usable sessions of userID, most recent first.
func (r *SQLiteSessionRepository) ListActive(ctx context.Context, userID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+sessionColumns+` FROM user_sessions
		 WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		 ORDER BY created_at DESC, rowid DESC`,
		userID, formatTime(r.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Rotate revokes oldID and creates its successor for rawToken in one
// transaction. The revoke only matches a still-usable session, so when two
// callers race on the same session exactly one wins; the other gets
// ErrSessionNotFound. The device label is carried forward.
func (r *SQLiteSessionRepository) Rotate(ctx context.Context, oldID, rawToken string, ttl time.Duration, ipAddr string) (*Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	now := formatTime(r.now())
	result, err := tx.ExecContext(ctx,
		`UPDATE user_sessions SET revoked_at = ?
		 WHERE id = ? AND revoked_at IS NULL AND expires_at > ?`,
		now, oldID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("revoking old session: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return nil, ErrSessionNotFound
	}

	var userID string
	var deviceLabel sql.NullString
	if err := tx.QueryRowContext(ctx,
		"SELECT user_id, device_label FROM user_sessions WHERE id = ?", oldID,
	).Scan(&userID, &deviceLabel); err != nil {
		return nil, fmt.Errorf("reading old session: %w", err)
	}

	next, err := r.newSession(userID, rawToken, ttl, deviceLabel.String, ipAddr)
	if err != nil {
		return nil, err
	}
	if err := insertSession(ctx, tx, next); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rotation: %w", err)
	}
	return next, nil
}

// DeleteExpired removes sessions past their expiry and returns the count.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM user_sessions WHERE expires_at <= ?", formatTime(r.now()))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

func (r *SQLiteSessionRepository) newSession(userID, rawToken string, ttl time.Duration, deviceLabel, ipAddr string) (*Session, error) {
	if userID == "" || rawToken == "" {
		return nil, errors.New("creating session: user id and token are required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("creating session: non-positive ttl %s", ttl)
	}

	now := parseTime(formatTime(r.now()))
	return &Session{
		ID:               "ses-" + uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: HashToken(rawToken),
		DeviceLabel:      deviceLabel,
		IPAddr:           ipAddr,
		ExpiresAt:        parseTime(formatTime(now.Add(ttl))),
		CreatedAt:        now,
	}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSession(ctx context.Context, db execer, s *Session) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, refresh_token_hash, device_label, ip_addr, expires_at, revoked_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`,
		s.ID, s.UserID, s.RefreshTokenHash, nullString(s.DeviceLabel), nullString(s.IPAddr),
		formatTime(s.ExpiresAt), formatTime(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func scanSession(s scanner) (*Session, error) {
	var sess Session
	var deviceLabel, ipAddr, revokedAt sql.NullString
	var expiresAt, createdAt string

	err := s.Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &deviceLabel, &ipAddr,
		&expiresAt, &revokedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.DeviceLabel = deviceLabel.String
	sess.IPAddr = ipAddr.String
	sess.ExpiresAt = parseTime(expiresAt)
	sess.RevokedAt = timePtr(revokedAt)
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}
