package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/civicaudit/report-server/internal/middleware"
)

// API groups the handlers served under /api
type API struct {
	Reports       *ReportHandler
	Activity      *ActivityHandler
	Admin         *AdminHandler
	Notifications *NotificationHandler
	Profile       *ProfileHandler
	Health        *HealthHandler
}

// Mount registers every /api route on r. Everything except the health
// probes requires a bearer token and is rate limited per user;
// /api/admin also requires the admin role. rateLimitRPM <= 0 disables
// the limiter.
func (a *API) Mount(r chi.Router, jwtSecret string, rateLimitRPM int) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.Health.Check)
		r.Get("/health/ready", a.Health.Ready)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(jwtSecret))
			if rateLimitRPM > 0 {
				r.Use(middleware.RateLimit(rateLimitRPM))
			}

			r.Route("/reports", func(r chi.Router) {
				r.Post("/", a.Reports.Create)
				r.Get("/nearby", a.Reports.Nearby)
				r.Get("/me", a.Reports.Mine)
				r.Get("/{id}", a.Reports.Get)
				r.Put("/{id}/vote", a.Reports.Vote)
				r.Post("/{id}/verify-resolution", a.Reports.VerifyResolution)
				r.Get("/{id}/activity", a.Activity.ByReport)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", a.Notifications.List)
				r.Put("/read-all", a.Notifications.MarkAllRead)
				r.Put("/{id}/read", a.Notifications.MarkRead)
			})

			r.Put("/profile", a.Profile.Update)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/reports", a.Admin.ListReports)
				r.Put("/reports/{id}/status", a.Admin.SetStatus)
				r.Get("/dashboard/stats", a.Admin.Stats)
				r.Get("/analytics/trends", a.Admin.Trends)
				r.Get("/analytics/categories", a.Admin.Categories)
			})
		})
	})
}
