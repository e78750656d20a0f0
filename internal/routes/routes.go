package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/sessionguard/internal/auth"
	"github.com/BradenHooton/sessionguard/internal/handlers"
	middlewareCustom "github.com/BradenHooton/sessionguard/internal/middleware"
	pkghttp "github.com/BradenHooton/sessionguard/pkg/http"
)

// Dependencies is everything the router needs from cmd/api
type Dependencies struct {
	Auth    *handlers.AuthHandler
	Reset   *handlers.PasswordResetHandler
	Admin   *handlers.AdminHandler
	Gateway *auth.Gateway
	Health  http.HandlerFunc
	Metrics http.Handler

	IPConfig       *pkghttp.IPConfig
	LoginRateLimit int // requests per minute per IP
	ResetRateLimit int
	AllowedOrigins []string
	Env            string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter builds the HTTP handler with the global middleware stack
func NewRouter(deps Dependencies) http.Handler {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: deps.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(deps.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(deps.Logger, deps.IPConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(timeout))

	RegisterRoutes(router, deps)
	return router
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	loginLimit := middlewareCustom.RateLimitByIP(middlewareCustom.RateLimitConfig{
		RequestsPerMinute: deps.LoginRateLimit,
		IPConfig:          deps.IPConfig,
	})
	resetLimit := middlewareCustom.RateLimitByIP(middlewareCustom.RateLimitConfig{
		RequestsPerMinute: deps.ResetRateLimit,
		IPConfig:          deps.IPConfig,
	})

	router.Get("/health", deps.Health)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	router.Route("/auth", func(r chi.Router) {
		r.With(loginLimit).Post("/login", deps.Auth.Login)
		r.With(deps.Gateway.OptionalAuthenticate).Post("/logout", deps.Auth.Logout)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(deps.Gateway.Authenticate)
			r.Post("/logout-all", deps.Auth.LogoutAll)
			r.Post("/refresh", deps.Auth.Refresh)
			r.Get("/me", deps.Auth.Me)
			r.Post("/change-password", deps.Auth.ChangePassword)
		})
	})

	router.Route("/password-reset", func(r chi.Router) {
		r.Use(resetLimit)
		r.Post("/request", deps.Reset.Request)
		r.Get("/verify", deps.Reset.Verify)
		r.Post("/confirm", deps.Reset.Confirm)
	})

	// Admin-only routes
	router.Route("/admin", func(r chi.Router) {
		r.Use(deps.Gateway.Authenticate)
		r.Use(auth.RequireRole("admin"))
		r.Post("/users/{id}/unlock", deps.Admin.UnlockUser)
	})
}
