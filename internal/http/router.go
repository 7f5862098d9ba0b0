package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/http/handlers"
	"github.com/phonegate/server/internal/middleware"
)

// RouterConfig carries the dependencies of the HTTP surface.
type RouterConfig struct {
	AuthHandler   *handlers.AuthHandler
	HealthHandler http.Handler
	Authenticator middleware.Authenticator
	// EdgeLimiter, when set, guards every /account route per client IP.
	EdgeLimiter *middleware.EdgeLimiter
	NumProxies  int
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.WithClientIP(cfg.NumProxies))
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", cfg.HealthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	h := cfg.AuthHandler
	requireAccess := middleware.RequireToken(cfg.Authenticator, auth.TokenAccess)
	requireRefresh := middleware.RequireToken(cfg.Authenticator, auth.TokenRefresh)
	requireWorkFlow := middleware.RequireToken(cfg.Authenticator, auth.TokenWorkFlow)

	r.Route("/account", func(r chi.Router) {
		if cfg.EdgeLimiter != nil {
			r.Use(cfg.EdgeLimiter.Middleware)
		}

		r.Post("/check_phone/", h.HandleCheckPhone)
		r.Post("/register/", h.HandleRegister)
		r.Post("/login/", h.HandleLogin)

		r.With(requireWorkFlow).Patch("/update/", h.HandleUpdate)

		r.Group(func(r chi.Router) {
			r.Use(requireRefresh)
			r.Post("/login/refresh/", h.HandleRefresh)
			r.Get("/logout/", h.HandleLogout)
			r.Delete("/delete/", h.HandleDeleteAccount)
		})

		r.With(middleware.RequireToken(cfg.Authenticator, auth.TokenRefresh, auth.TokenAccess)).
			Get("/logout_all/", h.HandleLogoutAll)

		r.Group(func(r chi.Router) {
			r.Use(requireAccess)
			r.Post("/selected_logout/", h.HandleSelectedLogout)
			r.Get("/active_login/", h.HandleActiveLogin)
		})
	})

	return r
}
