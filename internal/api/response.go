package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"

	"github.com/familyhealth/health-core/internal/auth"
)

// envelope is the body of every API response. Data is null on errors.
type envelope struct {
	Code    string `json:"code"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
	TraceID string `json:"trace_id"`
}

// Response codes.
const (
	CodeOK                 = "ok"
	CodeBadRequest         = "bad_request"
	CodeNotFound           = "not_found"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidToken       = "invalid_token"
	CodeSessionInvalid     = "session_invalid"
	CodeMissingToken       = "missing_token"
	CodeAccountDisabled    = "account_disabled"
	CodeAccountLocked      = "account_locked"
	CodeForbidden          = "forbidden"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

// writeJSON writes an envelope with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, env envelope) {
	env.TraceID = traceIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(env)
}

// writeOK writes a 200 response carrying data.
func writeOK(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, r, http.StatusOK, envelope{Code: CodeOK, Data: data})
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, envelope{Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusBadRequest, CodeBadRequest, message)
}

// writeInternalError logs err, reports it to Sentry and writes a generic 500.
func (s *Server) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg, "error", err, "path", r.URL.Path, "trace_id", traceIDFromContext(r.Context()))
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
	writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// authMessages are the client-facing texts per auth code. Error strings
// from the auth core may carry token parser detail and never reach clients.
var authMessages = map[string]string{
	CodeInvalidCredentials: "invalid username or password",
	CodeInvalidToken:       "invalid or expired token",
	CodeSessionInvalid:     "session is invalid or expired",
	CodeMissingToken:       "authorization token required",
	CodeAccountLocked:      "account is temporarily locked",
	CodeAccountDisabled:    "account is disabled",
	CodeForbidden:          "permission denied",
}

// authStatus maps an error from the auth taxonomy to a status and code.
// ok is false for infrastructure failures.
func authStatus(err error) (status int, code string, ok bool) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials, true
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, CodeInvalidToken, true
	case errors.Is(err, auth.ErrSessionInvalid):
		return http.StatusUnauthorized, CodeSessionInvalid, true
	case errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, CodeMissingToken, true
	case errors.Is(err, auth.ErrUserNotFound):
		// A token for a deleted account is indistinguishable from a bad token.
		return http.StatusUnauthorized, CodeInvalidToken, true
	case errors.Is(err, auth.ErrAccountLocked):
		return http.StatusLocked, CodeAccountLocked, true
	case errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusForbidden, CodeAccountDisabled, true
	case errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden, CodeForbidden, true
	default:
		return http.StatusInternalServerError, CodeInternal, false
	}
}

// writeAuthError answers with the status for err. Locked accounts get a
// Retry-After header; infrastructure failures become a generic 500.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, ok := authStatus(err)
	if !ok {
		s.writeInternalError(w, r, "auth operation failed", err)
		return
	}

	var locked *auth.LockedError
	if errors.As(err, &locked) {
		secs := int(math.Ceil(locked.Remaining.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	writeError(w, r, status, code, authMessages[code])
}
