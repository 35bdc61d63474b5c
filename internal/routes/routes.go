package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"
	"github.com/posternhq/postern/internal/auth"
	"github.com/posternhq/postern/internal/handlers"
	"github.com/posternhq/postern/internal/middleware"
)

// CSRFConfig holds CSRF protection settings for the login form
type CSRFConfig struct {
	Key    string
	Secure bool
}

// RegisterRoutes registers the SSO routes
func RegisterRoutes(
	router chi.Router,
	ssoHandler *handlers.SSOHandler,
	sessionManager *auth.SessionManager,
	csrfConfig CSRFConfig,
) {
	rateLimitConfig := middleware.DefaultLoginRateLimit()

	router.Route("/sso", func(r chi.Router) {
		// Login: front-door IP cap plus CSRF protection on the form.
		// The federated return leg is a GET and is never CSRF-checked.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig))
			r.Use(csrf.Protect(
				[]byte(csrfConfig.Key),
				csrf.Secure(csrfConfig.Secure),
				csrf.Path("/sso"),
			))
			r.Get("/login", ssoHandler.Login)
			r.Post("/login", ssoHandler.Login)
		})

		// Logout requires an authenticated principal
		r.Group(func(r chi.Router) {
			r.Use(sessionManager.RequireAuth)
			r.Get("/logout", ssoHandler.Logout)
		})

		// Proxy trust: no rate limiting, gated entirely by the allow-list
		r.Get("/proxy", ssoHandler.Proxy)
		r.Get("/proxy/{target}", ssoHandler.Proxy)
	})

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/sso/login", http.StatusSeeOther)
	})
}
