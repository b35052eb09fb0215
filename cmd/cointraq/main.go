package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"cointraq/internal/aggregate"
	"cointraq/internal/auth"
	"cointraq/internal/backend"
	"cointraq/internal/cache"
	"cointraq/internal/cli"
	"cointraq/internal/core"
	apphttp "cointraq/internal/http"
	"cointraq/internal/log"
	"cointraq/internal/services"
)

// snapshotEntries bounds the dashboard snapshot cache across all users.
const snapshotEntries = 500

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	result, err := backend.NewFactory(logger.Logger).CreateBackend(startCtx, backendCfg)
	cancelStart()
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	logger.Info("Initialized backend",
		log.FieldBackend, cfg.DataBackend,
		"export", result.Publisher != nil)

	var snapshots cache.Cache[[]core.Transaction]
	cacheManager := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
	if cfg.SnapshotTTL > 0 {
		lru := cache.NewLRUCache[[]core.Transaction](snapshotEntries, cfg.SnapshotTTL)
		cacheManager.Register(lru)
		cacheManager.StartCleanup(cfg.SnapshotTTL)
		snapshots = lru
	}

	dashboard := services.NewDashboardService(result.Store, aggregate.New(), snapshots, logger)
	transactions := services.NewTransactionService(result.Store, result.Publisher, dashboard, logger)

	sessions, err := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL, auth.WithSecureCookie(cfg.SecureCookies))
	if err != nil {
		logger.Error("Failed to configure sessions", log.FieldError, err)
		os.Exit(1)
	}

	srv, err := apphttp.NewServer(net.JoinHostPort("", cfg.Port), apphttp.Deps{
		Auth:         result.Auth,
		Transactions: transactions,
		Dashboard:    dashboard,
		Sessions:     sessions,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("Failed to build HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if err := result.Close(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting cointraq server", "port", cfg.Port, log.FieldBackend, cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	<-done
	logger.Info("Server stopped gracefully")
}
