package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/familyhealth/health-core/internal/audit"
)

// Resilience tests exercise concurrent and failure paths. They use the
// TestResilience_ prefix for easy filtering:
//
//	go test -run TestResilience -race ./internal/auth/...

// TestResilience_ConcurrentRefresh presents the same refresh token from
// several goroutines. Exactly one rotation may win.
func TestResilience_ConcurrentRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedTestUser(t, env.db, "alice", "pw", RoleMember)
	pair := env.login(t, "alice", "pw")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.guard.Refresh(ctx, pair.RefreshToken, testClient)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrSessionInvalid):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successful refreshes = %d, want exactly 1", successes)
	}

	active, err := env.sessions.ListActive(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active sessions = %d, want 1", len(active))
	}
}

// TestResilience_ConcurrentFailuresAreAllCounted fires wrong passwords in
// parallel and expects no lost increments.
func TestResilience_ConcurrentFailuresAreAllCounted(t *testing.T) {
	db := testDB(t)
	clock := newFakeClock()
	users := NewUserRepository(db)
	user := seedTestUser(t, db, "alice", "pw", RoleMember)
	policy := LockoutPolicy{MaxAttempts: 100, Duration: time.Minute}

	const workers = 20
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := users.RecordLoginFailure(context.Background(), user.ID, policy, clock.Now()); err != nil {
				t.Errorf("RecordLoginFailure() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := users.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.FailedLoginAttempts != workers {
		t.Errorf("FailedLoginAttempts = %d, want %d", got.FailedLoginAttempts, workers)
	}
}

// TestResilience_ConcurrentLoginsLockOnce runs more parallel wrong logins
// than the threshold. The account must end up locked with a reset counter
// and every attempt audited once.
func TestResilience_ConcurrentLoginsLockOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedTestUser(t, env.db, "alice", "pw", RoleMember)

	const workers = 12
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.guard.Authenticate(ctx, LoginRequest{Username: "alice", Password: "wrong", Client: testClient})
			if !errors.Is(err, ErrInvalidCredentials) && !errors.Is(err, ErrAccountLocked) {
				t.Errorf("Authenticate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := env.users.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LockUntil == nil || got.FailedLoginAttempts != 0 {
		t.Errorf("state = (%d, %v), want locked with counter 0", got.FailedLoginAttempts, got.LockUntil)
	}
	if n := len(env.auditEntries(t)); n != workers {
		t.Errorf("audit entries = %d, want %d", n, workers)
	}
}

// TestResilience_ContextCancellation checks that repositories honour a
// cancelled context instead of touching the database.
func TestResilience_ContextCancellation(t *testing.T) {
	db := testDB(t)
	users := NewUserRepository(db)
	sessions := NewSessionRepository(db)
	user := seedTestUser(t, db, "alice", "pw", RoleMember)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := users.GetByUsername(ctx, "alice"); err == nil {
		t.Error("GetByUsername() with cancelled context should fail")
	}
	if _, err := users.RecordLoginFailure(ctx, user.ID, testConfig.Lockout, time.Now()); err == nil {
		t.Error("RecordLoginFailure() with cancelled context should fail")
	}
	if _, err := sessions.Create(ctx, user.ID, "tok", time.Hour, "", ""); err == nil {
		t.Error("Create() with cancelled context should fail")
	}
	if _, err := sessions.Rotate(ctx, "ses-x", "tok2", time.Hour, ""); err == nil {
		t.Error("Rotate() with cancelled context should fail")
	}
}

// TestResilience_UserDeletionCascades removes a user row directly and
// expects its sessions to go with it while audit entries remain.
func TestResilience_UserDeletionCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedTestUser(t, env.db, "alice", "pw", RoleMember)
	pair := env.login(t, "alice", "pw")

	if _, err := env.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", user.ID); err != nil {
		t.Fatalf("deleting user: %v", err)
	}

	if _, err := env.sessions.FindActiveByToken(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session survived user deletion: %v", err)
	}
	if _, err := env.gate.Authorize(ctx, pair.AccessToken); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Authorize() for deleted user error = %v, want ErrUserNotFound", err)
	}

	res, err := env.audits.List(ctx, audit.Filter{UserID: user.ID})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total == 0 {
		t.Error("audit entries should outlive the account")
	}
}

// recordingSink collects published entries.
type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *recordingSink) Publish(_ context.Context, e *audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
}

// TestResilience_SinksSeeEveryAttempt wires a sink behind the recorder and
// checks it receives the same entries as the table.
func TestResilience_SinksSeeEveryAttempt(t *testing.T) {
	env := newTestEnv(t)
	sink := &recordingSink{}
	guard, err := NewGuard(GuardDeps{
		Users: env.users, Sessions: env.sessions, Codec: env.codec,
		Audit:  audit.NewRecorder(env.audits, slog.Default(), sink),
		Config: testConfig, Clock: env.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}
	seedTestUser(t, env.db, "alice", "pw", RoleMember)

	ctx := context.Background()
	guard.Authenticate(ctx, LoginRequest{Username: "alice", Password: "wrong"}) //nolint:errcheck // failure expected
	if _, err := guard.Authenticate(ctx, LoginRequest{Username: "alice", Password: "pw"}); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if len(sink.entries) != 2 {
		t.Fatalf("sink received %d entries, want 2", len(sink.entries))
	}
	if sink.entries[0].Action != audit.ActionLoginFailure || sink.entries[1].Action != audit.ActionLoginSuccess {
		t.Errorf("sink entries = %+v", sink.entries)
	}
}
