package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adityarama/sekolah-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Login (no auth required, rate limited per client IP)
		r.With(s.loginRateLimitMiddleware).Post("/auth/login", s.handleLogin)

		// Logout sits outside the auth middleware: it must succeed even
		// for tokens the middleware would reject.
		r.Post("/auth/logout", s.handleLogout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/change-password", s.handleChangePassword)

			// Admin-only user management and audit trail
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleAdmin))

				r.Route("/users", func(r chi.Router) {
					r.Get("/", s.handleListUsers)
					r.Post("/", s.handleCreateUser)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetUser)
						r.Patch("/", s.handleUpdateUser)
						r.Delete("/", s.handleDeleteUser)
						r.Put("/password", s.handleResetPassword)
					})
				})

				r.Get("/audit", s.handleListAudit)
			})

			// Staff routes: admins and gurus
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleAdmin, auth.RoleGuru))

				r.Get("/staff/overview", s.handleStaffOverview)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
