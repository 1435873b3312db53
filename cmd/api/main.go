package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/offlinepay/settlement/internal/api"
	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/auth"
	"github.com/offlinepay/settlement/internal/config"
	"github.com/offlinepay/settlement/internal/db"
	"github.com/offlinepay/settlement/internal/logger"
	"github.com/offlinepay/settlement/internal/metrics"
	"github.com/offlinepay/settlement/internal/repository/postgres"
	"github.com/offlinepay/settlement/internal/services"
	"github.com/offlinepay/settlement/internal/signing"
	"github.com/offlinepay/settlement/internal/worker"
)

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)
	if err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signer, err := loadSigner(cfg)
	if err != nil {
		log.Error("issuer key", "err", err)
		os.Exit(1)
	}
	if signer == nil {
		log.Warn("SERVER_SK_B64 not set; issuance disabled")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Migrate {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	metrics.Init()
	repos := postgres.NewRepositories(pool, cfg.RedeemLockTimeout)
	wp := worker.NewPool(cfg.Workers)
	defer wp.Stop()
	audit := services.NewAuditor(repos.AuditLogs, wp, log)

	r := api.NewRouter(api.RouterDeps{
		Cfg: cfg,
		TM:  auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL),
		Issuance: services.NewIssuanceService(repos.Store, signer, services.IssuanceConfig{
			DefaultDenomCents: cfg.IssueDenomCents,
			MaxQuantity:       cfg.IssueMaxQuantity,
			Validity:          cfg.TokenValidity,
		}, audit, log),
		Redemption: services.NewRedemptionService(repos.Store, services.RedemptionConfig{
			Currency:    cfg.Currency,
			MaxAttempts: cfg.RedeemMaxAttempts,
		}, audit, log),
		Query:       services.NewQueryService(repos.Store),
		HealthCheck: func(r *http.Request) error { return pool.Ping(r.Context()) },
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env, "currency", cfg.Currency)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// loadSigner returns nil when no secret key is configured. A configured
// public key must match the secret one.
func loadSigner(cfg config.Config) (*signing.Signer, error) {
	if cfg.ServerSKB64 == "" {
		return nil, nil
	}
	s, err := signing.NewSignerFromBase64(cfg.ServerSKB64)
	if err != nil {
		return nil, err
	}
	if cfg.ServerPKB64 != "" && cfg.ServerPKB64 != s.PublicKeyBase64() {
		return nil, apperr.Configuration("SERVER_PK_B64 does not match SERVER_SK_B64")
	}
	return s, nil
}
