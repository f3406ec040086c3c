package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/commonfund/commonfund/internal/app"
	"github.com/commonfund/commonfund/internal/ledger"
	"github.com/commonfund/commonfund/internal/observability"
	"github.com/commonfund/commonfund/internal/platform/cache"
	"github.com/commonfund/commonfund/internal/platform/db"
	"github.com/commonfund/commonfund/internal/recon"
	reconhttp "github.com/commonfund/commonfund/internal/recon/http"
	"github.com/commonfund/commonfund/internal/rules"
	"github.com/commonfund/commonfund/internal/shared"
	"github.com/commonfund/commonfund/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	reconCache := recon.NewCache(redisClient, cfg.StatementCacheTTL)

	rulesRepo := rules.NewRepository(pool)
	rulesService := rules.NewService(rulesRepo, auditLogger)
	rulesHandler := rules.NewHandler(logger, rulesService)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, rulesService, auditLogger, reconCache, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	reconRepo := recon.NewRepository(pool)
	reconService := recon.NewService(reconRepo, ledgerRepo, rulesRepo, reconCache)
	reconHandler := reconhttp.NewHandler(logger, reconService)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		RulesHandler:  rulesHandler,
		LedgerHandler: ledgerHandler,
		ReconHandler:  reconHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
