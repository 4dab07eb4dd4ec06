package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/familyhealth/health-core/internal/infrastructure/database"
)

func TestEmbeddedMigrationsApply(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "m.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"users", "user_sessions", "auth_audit_logs"} {
		var name string
		if err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	status, err := db.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status.Pending) != 0 {
		t.Errorf("pending migrations after Migrate: %v", status.Pending)
	}
}

func TestEmbeddedMigrationsRollBack(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "m.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('users', 'user_sessions', 'auth_audit_logs')",
	).Scan(&n); err != nil {
		t.Fatalf("querying schema: %v", err)
	}
	if n != 0 {
		t.Errorf("%d auth tables remain after rollback", n)
	}

	// The schema can be re-applied after a rollback.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() after rollback error = %v", err)
	}
}
