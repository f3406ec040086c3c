package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/commonfund/commonfund/internal/app"
	jobmetrics "github.com/commonfund/commonfund/internal/jobs"
	"github.com/commonfund/commonfund/internal/ledger"
	"github.com/commonfund/commonfund/internal/onboarding"
	"github.com/commonfund/commonfund/internal/platform/cache"
	"github.com/commonfund/commonfund/internal/platform/db"
	"github.com/commonfund/commonfund/internal/recon"
	"github.com/commonfund/commonfund/internal/rules"
	"github.com/commonfund/commonfund/internal/shared"
	"github.com/commonfund/commonfund/internal/transfer"
	"github.com/commonfund/commonfund/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
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

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, rulesService, auditLogger, reconCache, logger)

	gate := onboarding.NewClient(cfg.OnboardingURL, cfg.OnboardingTimeout, redisClient, cfg.EligibilityCacheTTL)
	processor := transfer.NewProcessorClient(cfg.ProcessorURL, cfg.ProcessorTimeout)
	transferService := transfer.NewService(ledgerService, gate, processor, cfg.ProcessorTimeout, logger)

	metrics := jobmetrics.NewMetrics(nil)
	sweepJob := transfer.NewSweepJob(transferService, metrics, logger)
	integrityJob := jobs.NewLedgerIntegrityJob(pool, metrics, logger)

	sweepTask, err := jobs.NewTransferSweepTask(cfg.SweepBatchSize)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewLedgerIntegrityTask(cfg.IntegrityWindowHrs)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTransferSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCronSpec, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(0)}},
			{Spec: cfg.IntegrityCronSpec, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
