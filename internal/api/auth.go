package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/familyhealth/health-core/internal/auth"
)

// maxDeviceLabelLength bounds the client-supplied session label.
const maxDeviceLabelLength = 100

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DeviceLabel string `json:"device_label,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return false
	}
	return true
}

// handleLogin exchanges username and password for a token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, r, "username and password are required")
		return
	}

	label := strings.TrimSpace(req.DeviceLabel)
	if label == "" {
		label = r.UserAgent()
	}
	if utf8.RuneCountInString(label) > maxDeviceLabelLength {
		label = string([]rune(label)[:maxDeviceLabelLength])
	}

	pair, err := s.guard.Authenticate(r.Context(), auth.LoginRequest{
		Username:    req.Username,
		Password:    req.Password,
		DeviceLabel: label,
		Client:      s.clientInfo(r),
	})
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeOK(w, r, pair)
}

// handleRefresh rotates a refresh token into a new pair.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, r, "refresh_token is required")
		return
	}

	pair, err := s.guard.Refresh(r.Context(), req.RefreshToken, s.clientInfo(r))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeOK(w, r, pair)
}

// handleLogout revokes the session of the presented refresh token. It
// always succeeds for unknown or already revoked tokens.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, r, "refresh_token is required")
		return
	}

	if err := s.guard.Logout(r.Context(), req.RefreshToken, s.clientInfo(r)); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"logged_out": true})
}

// handleLogoutAll revokes every session of the calling user.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	n, err := s.guard.LogoutAll(r.Context(), user.ID, s.clientInfo(r))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"sessions_revoked": n})
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, userFromContext(r.Context()))
}

// handleListSessions returns the caller's active sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	sessions, err := s.guard.Sessions(r.Context(), user.ID)
	if err != nil {
		s.writeInternalError(w, r, "list sessions failed", err)
		return
	}
	writeOK(w, r, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
