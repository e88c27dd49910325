package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fmops/gatehouse/internal/auth"
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

	// Unknown routes and wrong methods still answer in JSON
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics: public, but account stats appear only when the
		// caller presents valid admin credentials
		r.With(s.optionalAuth).Get("/metrics", s.handleMetrics)

		// Auth endpoints
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)
				r.Post("/logout", s.handleLogout)
				r.Post("/logout-all", s.handleLogoutAll)
				r.Post("/change-password", s.handleChangePassword)
				// WS ticket requires authentication - the ticket inherits the caller's identity
				r.Post("/ws-ticket", s.handleWSTicket)
			})
		})

		// Security event stream (auth via ticket, validated in handler)
		r.Get("/events", s.handleEvents)

		// Account administration
		r.Route("/accounts", func(r chi.Router) {
			r.Use(s.requireAuth)

			r.With(s.requireRole(auth.RoleAdmin)).Get("/", s.handleListAccounts)
			r.With(s.requireRole(auth.RoleAdmin)).Post("/", s.handleCreateAccount)

			r.Route("/{id}", func(r chi.Router) {
				r.With(s.requireSelfOrRole("id", auth.RoleAdmin)).Get("/", s.handleGetAccount)
				r.With(s.requireSelfOrRole("id", auth.RoleAdmin)).Patch("/", s.handleUpdateAccount)
				r.With(s.requireRole(auth.RoleAdmin)).Delete("/", s.handleDeleteAccount)
				r.With(s.requireRole(auth.RoleAdmin)).Post("/restore", s.handleRestoreAccount)
				r.With(s.requireRole(auth.RoleAdmin)).Put("/role", s.handleChangeRole)
				r.With(s.requireRole(auth.RoleAdmin)).Put("/status", s.handleChangeStatus)
				r.With(s.requireRole(auth.RoleAdmin)).Put("/facilities", s.handleAssignFacilities)
				r.With(s.requireSelfOrRole("id", auth.RoleAdmin)).Get("/sessions", s.handleListSessions)
				r.With(s.requireSelfOrRole("id", auth.RoleAdmin)).Delete("/sessions", s.handleRevokeSessions)
			})
		})

		// Facility-scoped account listings
		r.Route("/facilities/{facilityID}/accounts", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.requireFacilityAccess("facilityID"))
			r.Get("/", s.handleListFacilityAccounts)
		})

		// Audit trail
		r.Route("/audit", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.requireRole(auth.RoleAdmin))
			r.Get("/", s.handleListAuditLogs)
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
