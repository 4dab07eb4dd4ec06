package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/familyhealth/health-core/internal/audit"
	"github.com/familyhealth/health-core/internal/auth"
	"github.com/familyhealth/health-core/internal/infrastructure/config"
	"github.com/familyhealth/health-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by infrastructure clients reported on
// /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	RateLimit config.RateLimitConfig
	Logger    *logging.Logger
	Guard     *auth.Guard
	Gate      *auth.Gate
	Sessions  auth.SessionRepository
	Audit     audit.Repository

	// CleanupInterval controls how often expired sessions are deleted.
	// Zero disables housekeeping.
	CleanupInterval time.Duration

	// Checks are optional named components reported by the health endpoint.
	Checks  map[string]HealthChecker
	Version string
}

// Server is the HTTP API server.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg             config.APIConfig
	logger          *logging.Logger
	guard           *auth.Guard
	gate            *auth.Gate
	sessions        auth.SessionRepository
	auditRepo       audit.Repository
	limiter         *ipRateLimiter
	proxies         trustedProxies
	cleanupInterval time.Duration
	checks          map[string]HealthChecker
	version         string

	server *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Guard == nil || deps.Gate == nil {
		return nil, fmt.Errorf("auth guard and gate are required")
	}
	if deps.Sessions == nil || deps.Audit == nil {
		return nil, fmt.Errorf("session and audit repositories are required")
	}

	proxies, err := parseTrustedProxies(deps.Config.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:             deps.Config,
		logger:          deps.Logger,
		guard:           deps.Guard,
		gate:            deps.Gate,
		sessions:        deps.Sessions,
		auditRepo:       deps.Audit,
		proxies:         proxies,
		cleanupInterval: deps.CleanupInterval,
		checks:          deps.Checks,
		version:         deps.Version,
	}
	if deps.RateLimit.Enabled {
		s.limiter = newIPRateLimiter(deps.RateLimit.RequestsPerMinute, deps.RateLimit.Burst)
	}
	return s, nil
}

// Handler returns the fully wired router. Start uses it; tests drive it
// directly with httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start launches the HTTP listener and the session housekeeping loop in
// background goroutines. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.cleanupInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cleanupSessionsLoop(srvCtx)
		}()
	}
	if s.limiter != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.limiter.sweepLoop(srvCtx)
		}()
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// cleanupSessionsLoop deletes expired sessions every cleanupInterval until
// the context is cancelled.
func (s *Server) cleanupSessionsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupSessions(ctx)
		}
	}
}

func (s *Server) cleanupSessions(ctx context.Context) {
	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("session cleanup failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("expired sessions deleted", "count", n)
	}
}
