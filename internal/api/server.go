package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adityarama/sekolah-core/internal/audit"
	"github.com/adityarama/sekolah-core/internal/auth"
	"github.com/adityarama/sekolah-core/internal/infrastructure/config"
	"github.com/adityarama/sekolah-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	AuthService *auth.Service
	UserRepo    auth.UserRepository
	AuditRepo   audit.Repository
	Version     string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	authService *auth.Service
	userRepo    auth.UserRepository
	auditRepo   audit.Repository
	limiter     *rateLimiter
	version     string
	server      *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.AuthService == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.UserRepo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	// AuditRepo is optional — mutations still work, they just go unrecorded

	return &Server{
		cfg:         deps.Config,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		authService: deps.AuthService,
		userRepo:    deps.UserRepo,
		auditRepo:   deps.AuditRepo,
		limiter:     newRateLimiter(),
		version:     deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; the server is stopped
// with Close().
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
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

// HealthCheck verifies the API server is running and responsive.
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

// auditRecord appends an audit entry in a best-effort way: a failed
// write is logged, never surfaced to the client, because the mutation
// it describes has already committed.
func (s *Server) auditRecord(ctx context.Context, entry audit.Entry) {
	if s.auditRepo == nil {
		return
	}
	if err := s.auditRepo.Record(ctx, &entry); err != nil {
		s.logger.Error("audit record failed", "action", entry.Action, "error", err)
	}
}
