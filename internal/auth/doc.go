// Package auth implements password login with brute-force lockout,
// HS256 access and refresh tokens, a session ledger of hashed refresh
// tokens with single-use rotation, and bearer-token authorisation.
//
// Components, leaf first:
//
//	HashPassword / VerifyPassword  Argon2id PHC hashes
//	TokenCodec                     signs and verifies access/refresh tokens
//	SQLiteUserRepository           credential store and lockout counters
//	SQLiteSessionRepository        refresh-token sessions keyed by SHA-256
//	Guard                          authenticate, refresh, logout
//	Gate                           authorize, role checks
//
// Every Guard.Authenticate and Guard.Refresh call writes exactly one audit
// entry through an AuditRecorder. Failures from the taxonomy in errors.go
// are safe to map to client responses; anything else is an infrastructure
// error.
package auth
