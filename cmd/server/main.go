package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	accesshandler "command-center/backend/internal/access/handler"
	accessrepo "command-center/backend/internal/access/repository"
	accessservice "command-center/backend/internal/access/service"
	accountrepo "command-center/backend/internal/account/repository"
	"command-center/backend/internal/audit"
	auditrepo "command-center/backend/internal/audit/repository"
	"command-center/backend/internal/config"
	"command-center/backend/internal/db"
	healthhandler "command-center/backend/internal/health/handler"
	identityhandler "command-center/backend/internal/identity/handler"
	identityrepo "command-center/backend/internal/identity/repository"
	identityservice "command-center/backend/internal/identity/service"
	"command-center/backend/internal/logs"
	"command-center/backend/internal/oauthstate"
	"command-center/backend/internal/policy/engine"
	"command-center/backend/internal/provider"
	"command-center/backend/internal/security"
	"command-center/backend/internal/server"
	"command-center/backend/internal/server/middleware"
	sessionrepo "command-center/backend/internal/session/repository"
	"command-center/backend/internal/telemetry"
	telemetryotel "command-center/backend/internal/telemetry/otel"
	"command-center/backend/internal/token/cache"
	tokenrepo "command-center/backend/internal/token/repository"
	tokenservice "command-center/backend/internal/token/service"
	"command-center/backend/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logs.Logger.Fatalf("config: %v", err)
	}
	if err := logs.Init(logs.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile}); err != nil {
		logs.Logger.Fatalf("logs: %v", err)
	}
	if err := cfg.ValidateSigning(); err != nil {
		logs.Logger.Fatal(err)
	}
	if cfg.DatabaseURL == "" {
		logs.Logger.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()

	otelProviders, err := telemetryotel.NewProviders(ctx, telemetryotel.OptionsFromConfig(cfg))
	if err != nil {
		logs.Logger.Fatalf("otel: %v", err)
	}
	otelProviders.SetGlobal()
	var emitter telemetry.EventEmitter
	if cfg.OTelEndpoint != "" {
		emitter = telemetryotel.NewEventEmitter(otelProviders.LoggerProvider)
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

	accounts := accountrepo.NewPostgresRepository(conn)
	profiles := accessrepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)
	tokens := tokenrepo.NewPostgresRepository(conn)

	opts := []tokenservice.Option{tokenservice.WithSessions(sessions)}
	if cfg.RedisURL != "" {
		rdb, err := cache.Open(ctx, cfg.RedisURL)
		if err != nil {
			// The database stays authoritative; run without the cache.
			logs.Logger.WithError(err).Warn("redis unavailable; revocation cache disabled")
		} else {
			defer rdb.Close()
			opts = append(opts, tokenservice.WithCache(cache.NewRedisCache(rdb)))
		}
	}
	manager := tokenservice.NewManager(codec, tokens, cfg.AccessTTL(), cfg.RefreshTTL(), cfg.RecentWindow(), opts...)

	policySrc, err := engine.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logs.Logger.Fatalf("policy: %v", err)
	}
	checker, err := engine.NewOPAEvaluator(ctx, policySrc)
	if err != nil {
		logs.Logger.Fatalf("policy: %v", err)
	}

	providers := provider.FromConfig(cfg)
	if len(providers) == 0 {
		logs.Logger.Warn("no identity provider configured; set GOOGLE_CLIENT_ID or AZUREAD_CLIENT_ID")
	}

	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(conn), middleware.ClientIPFrom)
	rc := transport.NewReconciler(transport.OptionsFromConfig(cfg))

	srv := server.New(server.Deps{
		Identity: identityhandler.NewHandler(identityhandler.Deps{
			Providers:   providers,
			States:      oauthstate.NewMemoryStore(),
			StateTTL:    cfg.StateTTL(),
			Resolver:    identityservice.NewResolver(identityrepo.NewPostgresUnitOfWork(conn), accessservice.NewLinker(), cfg.SessionLifetime()),
			Tokens:      manager,
			Accounts:    accounts,
			Profiles:    profiles,
			Sessions:    sessions,
			Reconciler:  rc,
			Auditor:     auditor,
			Emitter:     emitter,
			FrontendURL: cfg.FrontendBaseURL,
			DBTimeout:   cfg.DBTimeoutDuration(),
		}),
		Access:       accesshandler.NewHandler(profiles, profiles, checker, auditor, cfg.DBTimeoutDuration()),
		Health:       healthhandler.NewServer(conn, checker),
		Tokens:       manager,
		Sessions:     sessions,
		Reconciler:   rc,
		Profiles:     profiles,
		Perms:        profiles,
		Checker:      checker,
		Exemptions:   middleware.ExemptionsFromConfig(cfg),
		Auditor:      auditor,
		Emitter:      emitter,
		LoginLimiter: middleware.NewRateLimiter(cfg.LoginRatePerMinute),
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logs.Logger.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Logger.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logs.Logger.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logs.Logger.WithError(err).Warn("HTTP shutdown")
	}
	// Let in-flight async telemetry finish before the exporters stop.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logs.Logger.WithError(err).Warn("otel shutdown")
	}
	logs.Logger.Info("HTTP server stopped")
}
