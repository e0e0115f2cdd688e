package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rentradar/internal/budget"
	"rentradar/internal/config"
	"rentradar/internal/engine"
	"rentradar/internal/extract"
	"rentradar/internal/fetch"
	"rentradar/internal/pricing"
	"rentradar/internal/queue"
	"rentradar/internal/runner"
	"rentradar/internal/sched"
	"rentradar/internal/storage"
)

// schedulerLockID is the advisory lock key for leader election; only one
// scheduler instance runs cycles at a time.
const schedulerLockID = 7151

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.AppEnv == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	sqlDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("open postgres", zap.Error(err))
	}
	defer sqlDB.Close()
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres pool", zap.Error(err))
	}
	defer pool.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(pool)
	rq := queue.New(rdb)
	governor := budget.New(store, cfg.DailyCostLimitUsd, logger)
	scheduler := sched.New(store, governor, rq, cfg.BatchSize, cfg.MaxAttempts, cfg.EstimatedCostPerCall, logger)
	retrier := runner.New(store, rq, time.Duration(cfg.RateLimitCooldownSec)*time.Second, logger)
	fetcher := fetch.New(time.Duration(cfg.FetchTimeoutSec)*time.Second, cfg.FetchMaxBytes)
	extractor := extract.NewClient(cfg.ExtractionURL, cfg.ExtractionAPIKey, time.Duration(cfg.FetchTimeoutSec)*time.Second, logger)
	pricer := pricing.New(cfg.LeaseTermMonths, cfg.LuxuryAmenities)

	eng := engine.New(scheduler, retrier, governor, rq, store, fetcher, extractor, pricer, engine.Options{
		Concurrency:           cfg.WorkerConcurrency,
		EstCostPerCall:        cfg.EstimatedCostPerCall,
		DeactivateRateFloor:   cfg.DeactivateRateFloor,
		DeactivateMinAttempts: cfg.DeactivateMinAttempts,
	}, logger)

	interval := time.Duration(cfg.CycleIntervalSec) * time.Second
	logger.Info("scheduler started",
		zap.Duration("interval", interval),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Float64("daily_limit_usd", cfg.DailyCostLimitUsd))

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopping")
			return
		case <-tick.C:
		}
		runLeaderCycle(ctx, sqlDB, eng, cfg.BatchSize, logger)
	}
}

// runLeaderCycle takes the advisory lock on a dedicated connection (the lock
// is session-scoped), runs one cycle, and releases it.
func runLeaderCycle(ctx context.Context, db *sql.DB, eng *engine.Engine, batchSize int, logger *zap.Logger) {
	conn, err := db.Conn(ctx)
	if err != nil {
		logger.Error("leader lock connection", zap.Error(err))
		return
	}
	defer conn.Close()

	var leader bool
	if err := conn.QueryRowContext(ctx, "select pg_try_advisory_lock($1)", schedulerLockID).Scan(&leader); err != nil {
		logger.Error("leader lock", zap.Error(err))
		return
	}
	if !leader {
		return
	}
	defer func() {
		if _, err := conn.ExecContext(ctx, "select pg_advisory_unlock($1)", schedulerLockID); err != nil {
			logger.Error("leader unlock", zap.Error(err))
		}
	}()

	if _, err := eng.RunCycle(ctx, batchSize); err != nil {
		logger.Error("cycle aborted", zap.Error(err))
	}
}
