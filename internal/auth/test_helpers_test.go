package auth

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/familyhealth/health-core/internal/audit"
	"github.com/familyhealth/health-core/internal/infrastructure/database"
	_ "github.com/familyhealth/health-core/migrations" // registers the embedded schema
)

// testDB opens a temporary SQLite database with the real schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// seedTestUser inserts an active user with a cheap password hash.
func seedTestUser(t *testing.T, db *sql.DB, username, password string, role Role) *User {
	t.Helper()

	hash, err := HashPasswordWithParams(password, testArgon2Params)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         role,
	}
	if err := NewUserRepository(db).Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

var testConfig = Config{
	Secret:     testSecret,
	AccessTTL:  15 * time.Minute,
	RefreshTTL: 7 * 24 * time.Hour,
	Lockout:    LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute},
}

// testEnv bundles a guard with the repositories behind it.
type testEnv struct {
	db       *sql.DB
	clock    *fakeClock
	users    *SQLiteUserRepository
	sessions *SQLiteSessionRepository
	audits   *audit.SQLiteRepository
	codec    *TokenCodec
	guard    *Guard
	gate     *Gate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testDB(t)
	clock := newFakeClock()
	env := &testEnv{
		db:       db,
		clock:    clock,
		users:    NewUserRepository(db),
		sessions: NewSessionRepository(db),
		audits:   audit.NewSQLiteRepository(db),
		codec:    newTestCodec(t, clock),
	}
	env.sessions.SetClock(clock.Now)

	guard, err := NewGuard(GuardDeps{
		Users:    env.users,
		Sessions: env.sessions,
		Codec:    env.codec,
		Audit:    audit.NewRecorder(env.audits, slog.Default()),
		Config:   testConfig,
		Logger:   slog.Default(),
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}
	env.guard = guard
	env.gate = NewGate(env.codec, env.users)
	return env
}

// auditEntries returns all audit entries, newest first.
func (e *testEnv) auditEntries(t *testing.T) []audit.Entry {
	t.Helper()
	res, err := e.audits.List(context.Background(), audit.Filter{Limit: 200})
	if err != nil {
		t.Fatalf("listing audit entries: %v", err)
	}
	return res.Entries
}

func (e *testEnv) login(t *testing.T, username, password string) *TokenPair {
	t.Helper()
	pair, err := e.guard.Authenticate(context.Background(), LoginRequest{
		Username: username,
		Password: password,
		Client:   ClientInfo{IPAddr: "10.0.0.1", UserAgent: "test", TraceID: "trace-login"},
	})
	if err != nil {
		t.Fatalf("Authenticate(%s) error = %v", username, err)
	}
	return pair
}

var testClient = ClientInfo{IPAddr: "10.0.0.1", UserAgent: "test-agent", TraceID: "trace-1"}
