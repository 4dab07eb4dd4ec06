// Package database opens the SQLite store and applies the embedded schema
// migrations.
//
// The connection is configured for the auth workload:
//   - WAL mode so readers are not blocked by the single writer
//   - a busy timeout instead of immediate "database is locked" errors
//   - BEGIN IMMEDIATE for every transaction (_txlock=immediate), so a
//     read-modify-write takes the write lock before it reads
//   - foreign keys enforced
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
