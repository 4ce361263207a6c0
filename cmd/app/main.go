// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"task-orchestrator/internal/config"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/domain/ports/repository"
	"task-orchestrator/internal/infra/adapters/telegram"
	"task-orchestrator/internal/infra/api"
	"task-orchestrator/internal/infra/api/apiv1"
	"task-orchestrator/internal/infra/db/file"
	"task-orchestrator/internal/infra/db/memory"
	pg "task-orchestrator/internal/infra/db/postgres"
	"task-orchestrator/internal/infra/logging"
	"task-orchestrator/internal/infra/metrics"
	red "task-orchestrator/internal/infra/redis"
	"task-orchestrator/internal/infra/sched"
	"task-orchestrator/internal/infra/worker"
	"task-orchestrator/internal/usecase"
)

// set by -ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "task-orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// ---- Logging & metrics ----
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Store.Backend)
	logger.Info().Str("version", version).Str("store", cfg.Store.Backend).Str("queue_store", cfg.Queue.Store).Msg("starting")

	// ---- Postgres (store and/or queue) ----
	var pool *pgxpool.Pool
	if cfg.Store.Backend == "postgres" || cfg.Queue.Store == "postgres" {
		pool, err = pg.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		go pg.ReportPoolStats(ctx, pool, 15*time.Second, logging.Component(logger, "PgPool"))
	}

	// ---- Redis (store, rate limit, watchdog lock) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
	}

	// ---- Repositories ----
	runRepo, err := openRunStore(cfg, pool, redisClient, logger)
	if err != nil {
		return err
	}
	var jobRepo repository.JobRepository = memory.NewJobRepo()
	if cfg.Queue.Store == "postgres" {
		jobRepo = pg.NewJobRepo(pool)
	}

	// ---- Capabilities & job queue ----
	registry := buildRegistry(ctx, cfg.Capabilities, logger)
	workers := worker.NewPool(cfg.Queue.Workers, cfg.Queue.Backlog, logger)
	queue := worker.NewJobQueue(jobRepo, registry, workers, nil, worker.JobQueueConfig{
		AttemptTimeout: cfg.Queue.AttemptTimeout,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		Backoff:        cfg.Queue.Backoff,
		MaxBackoff:     cfg.Queue.MaxBackoff,
	}, logger)
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("job queue: %w", err)
	}
	defer queue.Stop()

	// ---- Notifiers ----
	var notifiers []adapter.EventNotifier
	if cfg.Notify.Telegram.Token != "" {
		n, err := telegram.NewNotifier(cfg.Notify.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier disabled")
		} else {
			notifiers = append(notifiers, n)
		}
	}

	// ---- Use cases ----
	store := usecase.NewRunStore(runRepo, nil, logger, notifiers...)
	executor := usecase.NewExecutor(store, registry, queue, usecase.NewVerifier(), usecase.ExecutorConfig{
		CallTimeout:    cfg.Executor.CallTimeout,
		StepWait:       cfg.Executor.StepWait,
		JobMaxAttempts: cfg.Queue.MaxAttempts,
	}, logger)
	tasks := usecase.NewTaskUseCase(usecase.NewIntentResolver(), usecase.NewPlanner(), executor, store, nil, usecase.TaskConfig{
		DefaultWait:    cfg.Executor.DefaultWait,
		MaxWait:        cfg.Executor.MaxWait,
		RunMaxAttempts: cfg.Executor.RunMaxAttempts,
	}, logger)
	defer tasks.Close()

	if _, err := tasks.ResumeInterrupted(ctx); err != nil {
		logger.Error().Err(err).Msg("resume interrupted runs")
	}

	// ---- Watchdog ----
	watchdog := sched.NewWatchdog(tasks, nil, cfg.Watchdog.Interval, cfg.Watchdog.StaleAfter, logger)
	if redisClient != nil {
		watchdog.WithLock(red.NewLocker(redisClient))
	}
	go func() { _ = watchdog.Run(ctx) }()

	// ---- HTTP ----
	v1 := apiv1.NewServer(tasks, queue, logging.Component(logger, "APIv1"))
	if redisClient != nil {
		v1.WithRateLimit(red.NewRateLimiter(redisClient), cfg.RateLimit.SubmitPerMinute, red.SubmitKey)
	}
	server := api.NewServer(cfg.HTTP.Port, cfg.HTTP.RequestTimeout, v1, logger)
	if pool != nil {
		server.AddHealthCheck("postgres", func(ctx context.Context) error { return pool.Ping(ctx) })
	}
	if redisClient != nil {
		server.AddHealthCheck("redis", redisClient.Ping)
	}

	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigc:
		logger.Info().Str("signal", sig.String()).Msg("shutdown requested")
	case err := <-errc:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	cancel()
	return nil
}

func openRunStore(cfg *config.Config, pool *pgxpool.Pool, redisClient *red.Client, logger *zerolog.Logger) (repository.TaskRunRepository, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.NewTaskRunRepo(), nil
	case "postgres":
		return pg.NewTaskRunRepo(pool, pg.NewTxManager(pool)), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis store needs redis.url")
		}
		return red.NewTaskRunRepo(redisClient), nil
	default:
		repo, err := file.Open(cfg.Store.Path, cfg.Store.EventLog, logger)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		return repo, nil
	}
}
