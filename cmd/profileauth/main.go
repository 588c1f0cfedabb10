// Command profileauth serves the account, session, OAuth and password
// reset endpoints.
//
//	profileauth [serve]   run the HTTP server (default)
//	profileauth migrate   apply database migrations and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	pa "github.com/panyam/profileauth"
	"github.com/panyam/profileauth/config"
	"github.com/panyam/profileauth/oauth2"
	"github.com/panyam/profileauth/password"
	"github.com/panyam/profileauth/server"
	"github.com/panyam/profileauth/stores/fs"
	"github.com/panyam/profileauth/stores/gae"
	gormstore "github.com/panyam/profileauth/stores/gorm"
	"github.com/panyam/profileauth/stores/redisstore"
)

var builtinProviders = map[string]func() *oauth2.Provider{
	"google":  oauth2.Google,
	"github":  oauth2.Github,
	"discord": oauth2.Discord,
}

func main() {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	switch command {
	case "serve":
		err = serve(cfg, logger)
	case "migrate":
		err = runMigrations(cfg)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [serve|migrate]\n", os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		logger.Error("exiting", "command", command, "error", err)
		os.Exit(1)
	}
}

func runMigrations(cfg *config.Config) error {
	if cfg.StoreBackend != config.BackendGorm {
		slog.Info("nothing to migrate", "store_backend", cfg.StoreBackend)
		return nil
	}
	if err := gormstore.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	slog.Info("migrations applied")
	return nil
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sessionStore, closeSessions, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	metrics := pa.NewMetrics(prometheus.DefaultRegisterer)
	hasher := password.Default()

	sessions := pa.NewSessionManager(sessionStore, store, pa.SessionConfig{
		CookieName:     cfg.SessionCookieName,
		Lifetime:       cfg.SessionLifetime,
		IdleTimeout:    cfg.SessionIdleTimeout,
		Secure:         cfg.CookieSecure,
		APITokenSecret: cfg.JWTSecretKey,
	})
	sessions.Logger = logger

	creds := pa.NewCredentialStore(store, hasher, pa.Policy{MinPasswordLength: cfg.MinPasswordLength})
	creds.Metrics = metrics
	creds.Logger = logger

	resets := &pa.PasswordResets{
		Users:        store,
		Tokens:       store,
		Hasher:       hasher,
		Email:        emailSender(cfg, logger),
		Policy:       pa.Policy{MinPasswordLength: cfg.MinPasswordLength},
		TTL:          cfg.ResetTokenTTL,
		EmailTimeout: cfg.EmailTimeout,
		Metrics:      metrics,
		Logger:       logger,
	}
	go resets.RunCleanup(ctx, cfg.ResetCleanupInterval)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	flow := &oauth2.Flow{
		Registry: registry,
		Sessions: sessions,
		Resolver: &pa.AccountResolver{
			Users:       store,
			Connections: store,
			Hasher:      hasher,
			Prefixes:    registry.Prefixes(),
			Logger:      logger,
		},
		Timeout:    cfg.OAuthTimeout,
		SuccessURL: cfg.LoginSuccessURL,
		FailureURL: cfg.LoginFailureURL,
		Metrics:    metrics,
		Logger:     logger,
	}

	limiter := server.NewRateLimiter(server.RateLimiterConfig{PerMinute: cfg.RateLimitAuth})
	defer limiter.Stop()

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: server.NewRouter(server.Options{
			Sessions: sessions,
			Local: &pa.LocalAuth{
				Credentials: creds,
				Sessions:    sessions,
				Connections: store,
				Metrics:     metrics,
				Logger:      logger,
			},
			Resets:      &pa.ResetHandlers{Resets: resets, Logger: logger, MinResponseTime: cfg.ForgotPasswordFloor},
			Flow:        flow,
			Limiter:     limiter,
			CORSOrigins: cfg.CORSAllowedOrigins,
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting profileauth",
			"addr", srv.Addr,
			"store_backend", cfg.StoreBackend,
			"redis_sessions", cfg.RedisURL != "",
			"providers", registry.Names(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (pa.Store, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case config.BackendGorm:
		if err := gormstore.Migrate(cfg.DatabaseURL); err != nil {
			return nil, noop, err
		}
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, noop, err
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		return gormstore.New(db), func() { sqlDB.Close() }, nil

	case config.BackendDatastore:
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create datastore client: %w", err)
		}
		return gae.New(client, cfg.DatastoreNamespace), func() { client.Close() }, nil

	default:
		store, err := fs.New(cfg.FSStoragePath)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
}

// openSessionStore returns nil, meaning scs's in-memory store, unless
// REDIS_URL is set.
func openSessionStore(cfg *config.Config) (scs.Store, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	return redisstore.New(rdb), func() { rdb.Close() }, nil
}

func emailSender(cfg *config.Config, logger *slog.Logger) pa.EmailSender {
	if cfg.SMTPAddr == "" {
		return &pa.ConsoleEmailSender{BaseURL: cfg.BaseURL, Logger: logger}
	}
	return &pa.SMTPEmailSender{
		Addr:     cfg.SMTPAddr,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		BaseURL:  cfg.BaseURL,
	}
}

func buildRegistry(cfg *config.Config) (*oauth2.Registry, error) {
	registry := oauth2.NewRegistry(cfg.BaseURL)
	for name, creds := range cfg.Providers {
		newProvider, ok := builtinProviders[name]
		if !ok {
			continue
		}
		p := newProvider()
		p.ClientID = creds.ClientID
		p.ClientSecret = creds.ClientSecret
		if err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return registry, nil
}
