/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/auth/*           Registration, login, profile
  /api/plans            Plan catalog (public)
  /api/investments/*    Investment lifecycle (auth)
  /api/dashboard/*      Wallet and ledger views (auth)
  /api/referrals/*      Downline reporting (auth)
  /api/admin/*          Admin operations (auth + admin)
  /api/health           Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authentication middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)
		r.Get("/plans", h.ListPlans)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.With(h.Authenticate).Get("/me", h.Me)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			r.Route("/investments", func(r chi.Router) {
				r.Post("/", h.CreateInvestment)
				r.Get("/my", h.MyInvestments)
				r.With(h.RequireAdmin).Get("/all", h.AllInvestments)
				r.Put("/cancel/{id}", h.CancelInvestment)
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/data", h.DashboardData)
				r.Get("/history", h.DashboardHistory)
				r.Get("/earnings-summary", h.EarningsSummary)
			})

			r.Route("/referrals", func(r chi.Router) {
				r.Get("/tree", h.ReferralTree)
				r.Get("/stats", h.ReferralStats)
				r.Get("/link", h.ReferralLink)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireAdmin)
				r.Post("/accrual/run", h.TriggerAccrual)
			})
		})
	})

	return r
}
