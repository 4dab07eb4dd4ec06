// Package api implements the HTTP adapter for Health Core authentication.
//
// This package provides:
//   - Login, refresh, logout and session endpoints backed by auth.Guard
//   - Bearer authorisation on protected routes via auth.Gate
//   - Admin endpoints for the audit trail and disabling accounts
//   - Middleware stack (trace ID, logging, Sentry recovery, CORS, rate limit)
//   - Background housekeeping of expired sessions
//
// # Response Envelope
//
// Every response body has the same shape:
//
//	{"code": "ok", "data": {...}, "message": "", "trace_id": "..."}
//
// Errors carry "data": null and a fixed message per code.
//
// The trace ID is taken from an incoming X-Trace-ID header or generated, is
// echoed back in the X-Trace-ID response header, and is stored on every
// audit entry written while serving the request.
//
// # Error Mapping
//
//	invalid credentials, invalid token, session invalid, missing token  401
//	account disabled, permission denied                                  403
//	account locked (Retry-After set)                                     423
//	rate limited                                                         429
//	anything outside the auth taxonomy                                   500
//
// Infrastructure failures are logged, reported to Sentry, and answered with a
// generic message so internal detail never reaches the client.
//
// # Client Address
//
// The client IP used for rate limiting, sessions and audit entries is the
// connection address. X-Forwarded-For is honoured only when the connection
// comes from a network listed in api.trusted_proxies.
package api
