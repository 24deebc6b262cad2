// Worker prunes expired token bookkeeping and login sessions every PRUNE_INTERVAL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"command-center/backend/internal/config"
	"command-center/backend/internal/db"
	"command-center/backend/internal/logs"
	"command-center/backend/internal/maintenance"
	"command-center/backend/internal/security"
	sessionrepo "command-center/backend/internal/session/repository"
	tokenrepo "command-center/backend/internal/token/repository"
	tokenservice "command-center/backend/internal/token/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logs.Logger.Fatalf("config: %v", err)
	}
	if err := logs.Init(logs.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile}); err != nil {
		logs.Logger.Fatalf("logs: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logs.Logger.Fatal("worker: DATABASE_URL is required")
	}
	if err := cfg.ValidateSigning(); err != nil {
		logs.Logger.Fatal(err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logs.Logger.Fatalf("db: %v", err)
	}
	defer conn.Close()

	codec, err := security.LoadCodec(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTSigningSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		logs.Logger.Fatalf("jwt: %v", err)
	}
	manager := tokenservice.NewManager(codec, tokenrepo.NewPostgresRepository(conn), cfg.AccessTTL(), cfg.RefreshTTL(), cfg.RecentWindow())
	pruner := maintenance.NewPruner(manager, sessionrepo.NewPostgresRepository(conn), cfg.PruneEvery())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logs.Logger.Info("worker: shutting down...")
		cancel()
	}()

	logs.Logger.WithField("interval", cfg.PruneEvery().String()).Info("worker: pruning expired tokens and sessions")
	pruner.Run(ctx)
	logs.Logger.Info("worker: stopped")
}
