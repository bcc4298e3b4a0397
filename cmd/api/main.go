package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/events"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/store/pg"
)

const serviceName = "gatehouse-api"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		obs.Logger().Warn().Err(err).Msg("load .env")
	}
	if err := run(); err != nil {
		obs.Logger().Fatal().Err(err).Msg("gatehouse-api stopped")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := obs.InitLogger(obs.LogOptions{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: serviceName})
	obs.Init()
	obs.InitBuildInfo(obs.Version, obs.Commit)

	shutdownTracing, err := obs.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	store, err := pg.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.WaitReady(ctx, cfg.DBConnectWait); err != nil {
		return err
	}

	var verifier *auth.TokenVerifier
	if cfg.JWTSecret != "" {
		verifier, err = auth.NewTokenVerifier(cfg.JWTSecret, auth.WithAudience(cfg.JWTAudience))
		if err != nil {
			return err
		}
	}
	provider, err := identity.NewGoTrue(identityOptions(cfg, verifier))
	if err != nil {
		return err
	}

	auditOpts := []audit.Option{audit.WithTimeout(cfg.AuditTimeout)}
	if cfg.NATSURL != "" {
		pub, err := events.Connect(cfg.NATSURL, cfg.AuditSubject)
		if err != nil {
			return err
		}
		defer pub.Close()
		auditOpts = append(auditOpts, audit.WithPublisher(pub))
		log.Info().Str("subject", cfg.AuditSubject).Msg("publishing audit entries to nats")
	}
	auditLog, err := audit.NewLogger(store, auditOpts...)
	if err != nil {
		return err
	}

	svc, err := admin.New(store, provider, auditLog, admin.Options{
		AdministrationService: cfg.Administration,
		Timeout:               cfg.UpstreamTimeout,
	})
	if err != nil {
		return err
	}

	api, err := httpapi.New(svc, store, httpapi.Options{
		Version:            obs.Version,
		ServiceName:        serviceName,
		AllowedOrigins:     cfg.AllowedOrigins,
		RatePerSec:         cfg.RateLimitRPS,
		RateBurst:          cfg.RateLimitBurst,
		MutationsPerMinute: cfg.MutationLimit,
		MaxBodyBytes:       cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", obs.Version).Msg("starting gatehouse-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

func identityOptions(cfg config.Config, verifier *auth.TokenVerifier) identity.Options {
	return identity.Options{
		BaseURL:    cfg.IdentityURL,
		ServiceKey: cfg.IdentityKey,
		Timeout:    cfg.UpstreamTimeout,
		Verifier:   verifier,
	}
}
