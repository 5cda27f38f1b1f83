package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"yieldcredit/config"
	"yieldcredit/core"
	"yieldcredit/gateway/middleware"
	"yieldcredit/gateway/routes"
	"yieldcredit/observability/logging"
	telemetry "yieldcredit/observability/otel"
	"yieldcredit/storage"
)

const (
	configEnv    = "CREDITD_CONFIG"
	envEnv       = "CREDITD_ENV"
	jwtSecretEnv = "CREDITD_JWT_SECRET"
	inMemoryEnv  = "CREDITD_IN_MEMORY"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "creditd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", stringFromEnv(configEnv, ""), "path to creditd config (.toml or .yaml)")
	listen := flag.String("listen", "", "override api.listen")
	logLevel := flag.String("log-level", "", "override logging.level")
	inMemory := flag.Bool("in-memory", boolFromEnv(inMemoryEnv, false), "keep checkpoints in memory")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.API.ListenAddress = *listen
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *inMemory {
		cfg.Storage.InMemory = true
	}
	cfg.API.JWTSecret = stringFromEnv(jwtSecretEnv, cfg.API.JWTSecret)
	env := stringFromEnv(envEnv, cfg.Logging.Env)

	logger, err := logging.Setup("creditd", env, logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, "creditd", env, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := storage.Open(cfg.Storage.DataDir, cfg.Storage.InMemory)
	if err != nil {
		return err
	}
	defer db.Close()

	protocol, err := core.Assemble(cfg.Protocol, cfg.Scheduler, nil, logger)
	if err != nil {
		return err
	}
	if err := protocol.PersistTo(storage.NewCheckpointStore(db)); err != nil {
		return err
	}
	if cfg.Scheduler.Enabled {
		protocol.Scheduler.Start(ctx)
	}

	if strings.TrimSpace(cfg.API.JWTSecret) == "" {
		logger.Warn("no JWT secret configured; write endpoints will reject every request")
	}
	handler := routes.New(routes.Config{
		Service: protocol,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: cfg.API.JWTSecret,
			Issuer:     cfg.API.JWTIssuer,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			routes.LimitReads:  {RatePerSecond: cfg.API.RateLimitPerSec * 4, Burst: cfg.API.RateLimitBurst * 4},
			routes.LimitWrites: {RatePerSecond: cfg.API.RateLimitPerSec, Burst: cfg.API.RateLimitBurst},
		}, logger),
		Observability: middleware.NewObservability("creditd", logger),
		Logger:        logger,
	})
	server := &http.Server{
		Addr:              cfg.API.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: cfg.API.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve api: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	return nil
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		slog.Warn("invalid boolean env value, using default", "key", key, "value", trimmed, "default", fallback)
		return fallback
	}
	return parsed
}
