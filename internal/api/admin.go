package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/familyhealth/health-core/internal/audit"
	"github.com/familyhealth/health-core/internal/auth"
)

// handleListAudit returns a page of audit entries, newest first.
//
// Query parameters:
//   - user_id: filter by account
//   - action: filter by action (login_success, login_failure, lockout, ...)
//   - result: success or failure
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		UserID: q.Get("user_id"),
		Action: audit.Action(q.Get("action")),
		Result: audit.Result(q.Get("result")),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, r, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, r, "offset must be a non-negative integer")
		return
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.writeInternalError(w, r, "list audit entries failed", err)
		return
	}
	writeOK(w, r, result)
}

// handleDisableUser disables an account and revokes its sessions. Admins
// cannot disable themselves.
func (s *Server) handleDisableUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	caller := userFromContext(r.Context())

	if id == caller.ID {
		writeBadRequest(w, r, "cannot disable your own account")
		return
	}

	if err := s.guard.DisableUser(r.Context(), id, s.clientInfo(r)); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, r, http.StatusNotFound, CodeNotFound, "user not found")
			return
		}
		s.writeAuthError(w, r, err)
		return
	}

	s.logger.Info("user disabled via API", "user_id", id, "by", caller.ID)
	writeOK(w, r, map[string]any{"user_id": id, "status": auth.StatusDisabled})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
