package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-subscription-core/internal/application/auth"
	"github.com/go-subscription-core/internal/application/payment"
	"github.com/go-subscription-core/internal/application/reset"
	"github.com/go-subscription-core/internal/config"
	"github.com/go-subscription-core/internal/domain"
	"github.com/go-subscription-core/internal/transport/http/handler"
	appmiddleware "github.com/go-subscription-core/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Deps holds the application services and auth collaborators the router serves.
type Deps struct {
	Auth     auth.Service
	Resets   reset.Service
	Payments payment.Service
	Tokens   appmiddleware.TokenVerifier
	Sessions appmiddleware.SessionValidator
	Store    handler.Pinger
}

// NewRouter builds the application router. ctx bounds background work such as
// rate limiter cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(appmiddleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10, on credential-bearing public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(5), 10)
	authMw := appmiddleware.Auth(deps.Tokens, deps.Sessions)

	healthH := handler.NewHealthHandler(deps.Store)
	authH := handler.NewAuthHandler(deps.Auth)
	resetH := handler.NewPasswordResetHandler(deps.Resets)
	payH := handler.NewPaymentHandler(deps.Payments)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", healthH.Health)

		r.Route("/auth", func(r chi.Router) {
			r.With(sensitiveRL.Limit).Post("/register", authH.Register)
			r.With(sensitiveRL.Limit).Post("/otp/request", authH.RequestOTP)
			r.With(sensitiveRL.Limit).Post("/otp/verify", authH.VerifyOTP)
			r.With(sensitiveRL.Limit).Post("/admin/login", authH.AdminLogin)
			r.With(sensitiveRL.Limit).Post("/password-reset/redeem", resetH.Redeem)

			r.Group(func(r chi.Router) {
				r.Use(authMw)
				r.Get("/me", authH.Me)
				r.Post("/logout", authH.Logout)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Post("/payments/orders", payH.CreateOrder)
			r.Post("/payments/verify", payH.Verify)
			r.Get("/billing/invoices", payH.ListInvoices)
			r.Get("/billing/invoices/{id}/download", payH.DownloadInvoice)

			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))
				r.Post("/admin/users/{id}/password-reset", resetH.Issue)
			})
		})
	})

	return r
}
