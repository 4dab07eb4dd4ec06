package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSessions(t *testing.T) (*SQLiteSessionRepository, *User, *fakeClock) {
	t.Helper()
	db := testDB(t)
	clock := newFakeClock()
	repo := NewSessionRepository(db)
	repo.SetClock(clock.Now)
	return repo, seedTestUser(t, db, "alice", "pw", RoleMember), clock
}

func TestSessionRepository_CreateAndFind(t *testing.T) {
	repo, user, clock := newTestSessions(t)
	ctx := context.Background()

	s, err := repo.Create(ctx, user.ID, "raw-token-1", time.Hour, "phone", "10.0.0.1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(s.ID, "ses-") {
		t.Errorf("ID = %q, want ses- prefix", s.ID)
	}
	if s.RefreshTokenHash != HashToken("raw-token-1") {
		t.Error("stored hash does not match the token digest")
	}
	if !s.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want now+1h", s.ExpiresAt)
	}

	found, err := repo.FindActiveByToken(ctx, "raw-token-1")
	if err != nil {
		t.Fatalf("FindActiveByToken() error = %v", err)
	}
	if found.ID != s.ID || found.DeviceLabel != "phone" || found.IPAddr != "10.0.0.1" {
		t.Errorf("found %+v, want %+v", found, s)
	}
}

func TestSessionRepository_RawTokenNeverStored(t *testing.T) {
	db := testDB(t)
	repo := NewSessionRepository(db)
	user := seedTestUser(t, db, "alice", "pw", RoleMember)

	if _, err := repo.Create(context.Background(), user.ID, "very-secret-raw-token", time.Hour, "", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var n int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM user_sessions WHERE refresh_token_hash LIKE '%very-secret%' OR id LIKE '%very-secret%'",
	).Scan(&n); err != nil {
		t.Fatalf("querying sessions: %v", err)
	}
	if n != 0 {
		t.Error("raw token found in user_sessions")
	}
}

func TestSessionRepository_FindActiveByToken_NotUsable(t *testing.T) {
	repo, user, clock := newTestSessions(t)
	ctx := context.Background()

	revoked, err := repo.Create(ctx, user.ID, "revoked", time.Hour, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Revoke(ctx, revoked.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := repo.Create(ctx, user.ID, "short", time.Minute, "", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(time.Minute)

	for _, raw := range []string{"revoked", "short", "unknown", ""} {
		if _, err := repo.FindActiveByToken(ctx, raw); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("FindActiveByToken(%q) error = %v, want ErrSessionNotFound", raw, err)
		}
	}
}

func TestSessionRepository_RevokeIsIdempotent(t *testing.T) {
	repo, user, clock := newTestSessions(t)
	ctx := context.Background()

	s, err := repo.Create(ctx, user.ID, "tok", time.Hour, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Revoke(ctx, s.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	firstRevokedAt := clock.Now()
	clock.Advance(time.Minute)
	if err := repo.Revoke(ctx, s.ID); err != nil {
		t.Fatalf("second Revoke() error = %v", err)
	}
	if err := repo.Revoke(ctx, "ses-unknown"); err != nil {
		t.Fatalf("Revoke(unknown) error = %v", err)
	}

	var revokedAt string
	if err := repo.db.QueryRow("SELECT revoked_at FROM user_sessions WHERE id = ?", s.ID).Scan(&revokedAt); err != nil {
		t.Fatalf("reading revoked_at: %v", err)
	}
	if !parseTime(revokedAt).Equal(firstRevokedAt) {
		t.Errorf("revoked_at = %s, want the first revocation time", revokedAt)
	}
}

func TestSessionRepository_RevokeAllAndListActive(t *testing.T) {
	db := testDB(t)
	clock := newFakeClock()
	repo := NewSessionRepository(db)
	repo.SetClock(clock.Now)
	alice := seedTestUser(t, db, "alice", "pw", RoleMember)
	bob := seedTestUser(t, db, "bob", "pw", RoleMember)
	ctx := context.Background()

	var ids []string
	for i, label := range []string{"laptop", "phone", "tablet"} {
		s, err := repo.Create(ctx, alice.ID, "alice-"+label, time.Hour, label, "")
		if err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
		ids = append(ids, s.ID)
		clock.Advance(time.Second)
	}
	if _, err := repo.Create(ctx, bob.ID, "bob-phone", time.Hour, "phone", ""); err != nil {
		t.Fatalf("Create(bob) error = %v", err)
	}
	if err := repo.Revoke(ctx, ids[0]); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	active, err := repo.ListActive(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 || active[0].ID != ids[2] || active[1].ID != ids[1] {
		t.Fatalf("ListActive() = %+v, want [tablet, phone]", active)
	}

	n, err := repo.RevokeAllForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RevokeAllForUser() = %d, want 2", n)
	}

	active, err = repo.ListActive(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive() after revoke all = %d sessions, want 0", len(active))
	}

	if _, err := repo.FindActiveByToken(ctx, "bob-phone"); err != nil {
		t.Errorf("bob's session should be untouched, got %v", err)
	}
}

func TestSessionRepository_Rotate(t *testing.T) {
	repo, user, _ := newTestSessions(t)
	ctx := context.Background()

	old, err := repo.Create(ctx, user.ID, "old-token", time.Hour, "phone", "10.0.0.1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	next, err := repo.Rotate(ctx, old.ID, "new-token", 2*time.Hour, "10.0.0.2")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if next.ID == old.ID || next.UserID != user.ID {
		t.Errorf("Rotate() = %+v", next)
	}
	if next.DeviceLabel != "phone" {
		t.Errorf("DeviceLabel = %q, want carried forward", next.DeviceLabel)
	}
	if next.IPAddr != "10.0.0.2" {
		t.Errorf("IPAddr = %q, want the rotating client's address", next.IPAddr)
	}

	if _, err := repo.FindActiveByToken(ctx, "old-token"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("old token still usable: %v", err)
	}
	if _, err := repo.FindActiveByToken(ctx, "new-token"); err != nil {
		t.Errorf("new token not usable: %v", err)
	}

	// A second rotation of the same session loses.
	if _, err := repo.Rotate(ctx, old.ID, "another-token", time.Hour, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Rotate() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := repo.FindActiveByToken(ctx, "another-token"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("losing rotation must not create a session")
	}
}

func TestSessionRepository_RotateExpired(t *testing.T) {
	repo, user, clock := newTestSessions(t)
	ctx := context.Background()

	old, err := repo.Create(ctx, user.ID, "old-token", time.Minute, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(2 * time.Minute)

	if _, err := repo.Rotate(ctx, old.ID, "new-token", time.Hour, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Rotate() of expired session error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	repo, user, clock := newTestSessions(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, user.ID, "short", time.Minute, "", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.Create(ctx, user.ID, "long", time.Hour, "", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Advance(5 * time.Minute)

	n, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}
	if _, err := repo.FindActiveByToken(ctx, "long"); err != nil {
		t.Errorf("unexpired session deleted: %v", err)
	}
}

func TestSessionRepository_CreateRejects(t *testing.T) {
	repo, user, _ := newTestSessions(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, "", "tok", time.Hour, "", ""); err == nil {
		t.Error("Create() without user should fail")
	}
	if _, err := repo.Create(ctx, user.ID, "", time.Hour, "", ""); err == nil {
		t.Error("Create() without token should fail")
	}
	if _, err := repo.Create(ctx, user.ID, "tok", 0, "", ""); err == nil {
		t.Error("Create() with zero ttl should fail")
	}
}
