package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"kmfx/internal/api"
	"kmfx/internal/auth"
	"kmfx/internal/config"
	"kmfx/internal/db"
	"kmfx/internal/ledger"
	"kmfx/internal/logger"
	"kmfx/internal/notify"
	"kmfx/internal/portal"
	"kmfx/internal/store/postgres"
	"kmfx/internal/vault"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("load config file")
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	lg := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger.SetGlobal(lg)

	pool, err := db.Connect(ctx, db.PoolConfig{URL: cfg.DatabaseURL, ApplicationName: "kmfx-api"})
	if err != nil {
		lg.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool, lg); err != nil {
			lg.Fatal().Err(err).Msg("migrate failed")
		}
	}

	blobs, err := openVault(ctx, cfg.Vault)
	if err != nil {
		lg.Fatal().Err(err).Msg("vault init failed")
	}

	hub := notify.NewHub(pool, lg)
	audit := portal.NewAuditLog(pool, lg)
	ledgerSvc := ledger.NewService(postgres.New(pool), hub, audit, lg)
	portalSvc := portal.NewService(pool, portal.Deps{
		Ledger:            ledgerSvc,
		Notifier:          hub,
		Audit:             audit,
		Blobs:             blobs,
		OwnerUsername:     cfg.OwnerUsername,
		OwnerPasswordHash: cfg.OwnerPasswordHash,
	}, lg)

	server := api.New(cfg, lg, api.Deps{
		Tokens: auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Ledger: ledgerSvc,
		Portal: portalSvc,
		Inbox:  hub,
		Audit:  audit,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	lg.Info().Str("addr", cfg.Addr).Str("vault", cfg.Vault.Backend).Msg("kmfx api listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.Fatal().Err(err).Msg("server failed")
	}
}

func openVault(ctx context.Context, cfg config.VaultConfig) (vault.Blob, error) {
	switch cfg.Backend {
	case "local":
		return vault.NewLocal(cfg.LocalDir)
	case "s3":
		return vault.NewS3(ctx, vault.S3Config{
			Bucket:     cfg.S3Bucket,
			Region:     cfg.S3Region,
			Endpoint:   cfg.S3Endpoint,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			PresignTTL: cfg.PresignTTL,
		})
	default:
		return nil, fmt.Errorf("unknown vault backend %q", cfg.Backend)
	}
}
