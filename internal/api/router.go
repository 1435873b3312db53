package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/offlinepay/settlement/internal/api/handlers"
	"github.com/offlinepay/settlement/internal/auth"
	"github.com/offlinepay/settlement/internal/config"
	"github.com/offlinepay/settlement/internal/metrics"
	"github.com/offlinepay/settlement/internal/middleware"
	"github.com/offlinepay/settlement/internal/services"
)

type RouterDeps struct {
	Cfg         config.Config
	TM          *auth.TokenManager
	Issuance    *services.IssuanceService
	Redemption  *services.RedemptionService
	Query       *services.QueryService
	HealthCheck func(r *http.Request) error
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.HealthCheck != nil {
			if err := d.HealthCheck(r); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	authH := handlers.NewAuthHandler(d.TM, d.Cfg.Env)
	tokenH := handlers.NewTokenHandler(d.Issuance, d.Query)
	redeemH := handlers.NewRedeemHandler(d.Redemption)
	accountH := handlers.NewAccountHandler(d.Query)
	am := middleware.NewAuthMiddleware(d.TM)

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- auth ----------
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)

		// ---------- public ----------
		r.Get("/issuer/pubkey", tokenH.PublicKey)

		// ---------- authenticated ----------
		r.Group(func(r chi.Router) {
			r.Use(am.Auth)

			r.With(middleware.RequireRole(auth.RoleIssuer)).Post("/tokens/issue", tokenH.Issue)
			r.Get("/tokens", tokenH.List)
			r.Get("/tokens/{id}", tokenH.Get)

			r.Post("/redeem", redeemH.Redeem)

			r.Get("/accounts/{id}/balance", accountH.Balance)
		})
	})

	return r
}
