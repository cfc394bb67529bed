package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/cache"
	"github.com/dlddu/tiny-oidc/internal/config"
	"github.com/dlddu/tiny-oidc/internal/crypto"
	"github.com/dlddu/tiny-oidc/internal/handler"
	tokenjwt "github.com/dlddu/tiny-oidc/internal/jwt"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/repository"
	"github.com/dlddu/tiny-oidc/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 45 * time.Second
	idleTimeout       = 60 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("server")

	if cfg.Session.Secret == "" {
		return errors.New("SESSION_SECRET is required")
	}

	key, ephemeral, err := tokenjwt.LoadSigningKey(cfg.JWT.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	if ephemeral {
		log.Warn("no JWT_PRIVATE_KEY_PATH set, using an ephemeral signing key")
	}
	fallback, err := tokenjwt.LoadPublicKeys(cfg.JWT.FallbackPublicKeyPaths)
	if err != nil {
		return fmt.Errorf("failed to load fallback keys: %w", err)
	}
	signer, err := tokenjwt.NewTokenManager(key, cfg.JWT.Issuer, fallback...)
	if err != nil {
		return err
	}

	m := metrics.New()
	checks := map[string]handler.Pinger{}

	var stores *repository.Stores
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := repository.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := m.Register(metrics.NewPoolCollector(pool)); err != nil {
			return fmt.Errorf("failed to register pool metrics: %w", err)
		}
		stores = repository.NewPostgresStores(pool)
		checks["database"] = pool
	case "memory":
		log.Warn("using in-memory storage, state is lost on restart")
		stores = repository.NewMemoryStores(nil)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	pendingCache, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Driver,
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
		Prefix:   cfg.Cache.Prefix,
	})
	if err != nil {
		return err
	}
	defer pendingCache.Close()
	checks["cache"] = pendingCache

	policy := auth.NewPolicy(auth.NewStaticAdmins(cfg.Admin.UserIDs))
	clients := service.NewClientService(stores, crypto.Hasher{}, policy, cfg.OAuth.SupportedScopes, m)
	consents := service.NewConsentService(stores)
	tokens := service.NewTokenService(signer, stores.RefreshTokens, service.TokenConfig{
		AccessTokenTTL:  cfg.OAuth.AccessTokenTTL,
		IDTokenTTL:      cfg.OAuth.IDTokenTTL,
		RefreshTokenTTL: cfg.OAuth.RefreshTokenTTL,
	}, m)
	pending := service.NewPendingStore(pendingCache, cfg.OAuth.ConsentRequestTTL)

	router := handler.NewRouter(handler.Dependencies{
		Authorize:       service.NewAuthorizeService(clients, consents, stores, pending, cfg.JWT.Issuer, cfg.OAuth.AuthorizationCodeTTL),
		OAuth:           service.NewOAuthService(clients, tokens, stores, cfg.JWT.Issuer, m),
		Clients:         clients,
		Consents:        consents,
		Keys:            signer,
		Authenticator:   auth.NewSessionAuthenticator([]byte(cfg.Session.Secret), cfg.Session.CookieName, strings.HasPrefix(cfg.Server.BaseURL, "https://")),
		Metrics:         m,
		Issuer:          cfg.JWT.Issuer,
		BaseURL:         cfg.Server.BaseURL,
		SupportedScopes: cfg.OAuth.SupportedScopes,
		HealthChecks:    checks,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("issuer", cfg.JWT.Issuer),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("cache", cfg.Cache.Driver),
			zap.String("kid", signer.KID()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		log.Info("server exited")
		return nil
	})

	return g.Wait()
}
