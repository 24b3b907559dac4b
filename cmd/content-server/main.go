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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pdisakar/content-assets/internal/observability"
	"github.com/pdisakar/content-assets/pkg/contentasset/api"
	"github.com/pdisakar/content-assets/pkg/contentasset/config"
)

// Config holds process settings that are not part of the service config
type Config struct {
	EnvPrefix       string        `env:"CONTENT_ENV_PREFIX" env-default:""`
	ApiKeySHA256    string        `env:"API_KEY_SHA256"`
	LogLevel        string        `env:"LOG_LEVEL" env-default:"info"`
	Version         string        `env:"SERVICE_VERSION" env-default:"dev"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	MaxRequestBytes int64         `env:"MAX_REQUEST_BYTES" env-default:"67108864"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" env-default:"0s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to read .env", "err", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverConfig, err := config.Load(config.WithEnv(cfg.EnvPrefix))
	if err != nil {
		return fmt.Errorf("load server configuration: %w", err)
	}
	logger := newLogger(serverConfig.Environment, cfg.LogLevel)
	slog.SetDefault(logger)
	serverConfig.Logger = logger

	shutdownTracing := observability.InitOTel(ctx, logger, observability.Config{
		ServiceName: "content-server",
		Environment: serverConfig.Environment,
		Version:     cfg.Version,
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("Failed to flush traces", "err", err)
		}
	}()

	rt, err := serverConfig.Build(ctx)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Failed to close backends", "err", err)
		}
	}()

	handler, err := routes(cfg, serverConfig, rt)
	if err != nil {
		return err
	}

	if cfg.SweepInterval > 0 {
		go rt.Sweeper.Run(ctx, cfg.SweepInterval, serverConfig.SweepGrace)
		logger.Info("Background sweep enabled", "interval", cfg.SweepInterval, "grace", serverConfig.SweepGrace)
	}

	httpServer := &http.Server{
		Addr:              ":" + serverConfig.Port,
		Handler:           otelhttp.NewHandler(handler, "content-server"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Content server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"storage", serverConfig.DefaultStorageBackend,
			"ledger", serverConfig.LedgerType)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exiting")
	return nil
}

// routes mounts health checks, the API and the stored assets. The API sits
// behind the API key gate when a key is configured; assets stay public.
func routes(cfg Config, serverConfig *config.ServerConfig, rt *config.Runtime) (http.Handler, error) {
	logger := serverConfig.Logger

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(api.RequestIDMiddleware)
	r.Use(api.LoggingMiddleware(logger))
	r.Use(api.RecoveryMiddleware(logger))
	r.Use(api.CORSMiddleware(cfg.AllowedOrigins))

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)

	apiCfg := api.Config{
		Service:         rt.Service,
		SweepGrace:      serverConfig.SweepGrace,
		AssetPrefix:     serverConfig.AssetPrefix,
		MaxRequestBytes: cfg.MaxRequestBytes,
		Logger:          logger,
	}
	if serverConfig.EnableMaintenanceAPI {
		apiCfg.Sweeper = rt.Sweeper
	}

	if cfg.ApiKeySHA256 == "" {
		if serverConfig.Environment == "production" {
			return nil, errors.New("API_KEY_SHA256 is required in production")
		}
		logger.Warn("API key gate disabled")
		api.MountAPI(r, apiCfg)
		api.MountAssets(r, apiCfg)
		return r, nil
	}

	apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
		APIKeys: map[string]string{"admin": cfg.ApiKeySHA256},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize API key middleware: %w", err)
	}
	r.Group(func(r chi.Router) {
		r.Use(apiKeyMiddleware)
		api.MountAPI(r, apiCfg)
	})
	api.MountAssets(r, apiCfg)
	return r, nil
}

func newLogger(environment, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
