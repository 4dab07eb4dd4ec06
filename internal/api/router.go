package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/familyhealth/health-core/internal/auth"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.traceIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "not found")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			// Credential and refresh-token endpoints are rate limited per IP.
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware)
				r.Post("/login", s.handleLogin)
				r.Post("/refresh", s.handleRefresh)
			})
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/me", s.handleMe)
				r.Get("/sessions", s.handleListSessions)
				r.Post("/logout-all", s.handleLogoutAll)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.requireRoles(auth.RoleAdmin))

			r.Get("/audit", s.handleListAudit)
			r.Post("/users/{id}/disable", s.handleDisableUser)
		})
	})

	return r
}

// handleHealth reports the version and the state of each configured
// component. Any failing component makes the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", "component", name, "error", err)
			components[name] = "unhealthy"
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, envelope{
		Code: CodeOK,
		Data: map[string]any{
			"status":     status,
			"version":    s.version,
			"components": components,
		},
	})
}
