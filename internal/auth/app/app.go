// Package app wires configuration, storage, services, and the HTTP surface
// into a runnable credential service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/tanglebox/keywarden/internal/auth/http"
	"github.com/tanglebox/keywarden/internal/auth/service"
	"github.com/tanglebox/keywarden/internal/auth/store"
	"github.com/tanglebox/keywarden/internal/auth/store/drivers/rediscache"
	"github.com/tanglebox/keywarden/internal/auth/store/drivers/sqlite"
	"github.com/tanglebox/keywarden/pkg/cryptox"
	"github.com/tanglebox/keywarden/pkg/jwtx"
	"github.com/tanglebox/keywarden/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application encapsulates the credential service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db    store.Store
	cache *rediscache.Cache

	tokenService        *service.TokenService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "keywarden",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)

	if err := app.initStore(); err != nil {
		return nil, err
	}

	signer, verifier, err := initSigning(cfg)
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices(signer, verifier)
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("keywarden starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down keywarden...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Error("error closing cache", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("keywarden stopped")
	return nil
}

// initStore opens the durable sqlite store, applies migrations, and layers
// the Redis cache over the hot-path repositories when a cache URL is set.
func (app *Application) initStore() error {
	db, err := sqlite.NewStore("file:" + app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.logger.Info("database migrations applied successfully")

	app.db = db

	if app.cfg.CacheURL != "" {
		cache, err := rediscache.New(context.Background(), app.cfg.CacheURL)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to cache: %w", err)
		}
		app.cache = cache
		app.db = store.WithCache(db, cache.RevokedTokens(), cache.RateLimits(app.cfg.RateLimitWindow))
		app.logger.Info("revocation and rate-limit state served from cache")
	}

	return nil
}

func initSigning(cfg Config) (jwtx.Signer, jwtx.Verifier, error) {
	switch cfg.SigningAlg {
	case jwtx.AlgHS256:
		signer, err := jwtx.NewSignerHS256([]byte(cfg.HMACSecret))
		if err != nil {
			return nil, nil, err
		}
		return signer, jwtx.NewVerifierHS256([]byte(cfg.HMACSecret), cfg.Issuer), nil

	case jwtx.AlgEdDSA:
		pemKey, err := os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		signer, err := jwtx.NewSignerEdDSA(pemKey)
		if err != nil {
			return nil, nil, err
		}
		return signer, jwtx.NewVerifierEdDSA(signer.PublicKey(), cfg.Issuer), nil

	default:
		return nil, nil, fmt.Errorf("unsupported signing algorithm %q", cfg.SigningAlg)
	}
}

func (app *Application) initServices(signer jwtx.Signer, verifier jwtx.Verifier) {
	auditor := &service.Auditor{Store: app.db, Logger: app.logger}

	app.tokenService = &service.TokenService{
		Store:    app.db,
		Signer:   signer,
		Verifier: verifier,
		Ledger:   &service.RefreshLedger{Store: app.db, TTL: app.cfg.RefreshTTL},
		Limiter: &service.RateLimiter{
			Store:   app.db,
			Auditor: auditor,
			Max:     app.cfg.RateLimitMax,
			Window:  app.cfg.RateLimitWindow,
		},
		Auditor: auditor,

		Issuer:    app.cfg.Issuer,
		AccessTTL: app.cfg.AccessTTL,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.AuditRetention,
	)
}

func (app *Application) initHTTP() {
	app.router = httpapi.NewRouter(app.cfg.Issuer, BuildVersion, app.db, app.logger)
	app.router.TokenService = app.tokenService
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
