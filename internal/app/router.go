package app

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"edulms/internal/app/observability"
	"edulms/internal/auth"
	"edulms/internal/importer"
	"edulms/internal/realtime"
	"edulms/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the long-lived services the HTTP layer routes to.
type Deps struct {
	DB       *sql.DB
	Auth     *auth.Service
	Imports  *importer.Service
	Progress *importer.Publisher
	Logger   *slog.Logger
}

func NewRouter(cfg Config, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	collector := observability.NewCollector(deps.DB, deps.Imports, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(collector.Middleware)

	authHandler := auth.NewHandler(deps.Auth)
	importHandler := importer.NewHandler(deps.Imports, cfg.UploadDir)
	progressHandler := realtime.NewProgressHandler(deps.Progress, cfg.AllowedOrigin, logger)
	reportHandler := report.NewHandler(report.NewService(deps.Imports))

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)
	importLimiter := NewIPRateLimiter(cfg.ImportRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/login-password", authHandler.LoginPassword)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Group(func(imports chi.Router) {
				imports.Use(authHandler.RequireRoles("admin", "proktor", "guru"))
				imports.With(RateLimitMiddleware(importLimiter)).Post("/imports", importHandler.Start)
				imports.Post("/imports/validate", importHandler.Validate)
				imports.Post("/imports/preview", importHandler.Preview)
				imports.Get("/imports", importHandler.List)
				imports.Get("/imports/ws", progressHandler.ServeHTTP)
				imports.Get("/imports/{id}", importHandler.Get)
				imports.Get("/imports/{id}/summary", reportHandler.Summary)
				imports.Get("/imports/{id}/report", reportHandler.Download)
			})
		})
	})

	return r
}
