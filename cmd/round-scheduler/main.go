package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/bootstrap"
	"github.com/radieske/pricebet-settlement/internal/pricefeed"
	"github.com/radieske/pricebet-settlement/internal/repo"
	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/roundfeed"
	"github.com/radieske/pricebet-settlement/internal/scheduler"
	"github.com/radieske/pricebet-settlement/internal/shared/cache"
	"github.com/radieske/pricebet-settlement/internal/shared/config"
	"github.com/radieske/pricebet-settlement/internal/shared/db"
	"github.com/radieske/pricebet-settlement/internal/shared/logger"
	"github.com/radieske/pricebet-settlement/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	plan, err := scheduler.NewPlan(cfg.RoundType, cfg.BettingWindow)
	if err != nil {
		log.Fatal("invalid round plan", zap.Error(err))
	}
	log.Info("starting service",
		zap.String("service", cfg.ServiceName),
		zap.String("round_type", plan.Type),
		zap.Duration("betting_window", plan.BettingWindow),
		zap.String("cron", cfg.SchedulerCron),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	bootstrap.EnsureTopics(ctx, cfg, log)
	writers := bootstrap.NewWriters(cfg)
	defer writers.Close()

	m := metrics.NewSettlement(prometheus.DefaultRegisterer)
	store := repo.NewPostgres(pg)
	sui := bootstrap.NewChain(cfg, log)
	machine := bootstrap.Machine(cfg, store, sui.Admin(store, m), round.Notifiers{
		writers.Publisher(log),
		roundfeed.NewRedisBroadcaster(rdb, cfg.RedisRoundChannel, log),
	}, m, log)

	prices := pricefeed.NewReader(rdb, cfg.PriceFeedKeyPrefix, cfg.PriceMaxAge)
	dispatcher := scheduler.NewDispatcher(store, machine, prices, plan, log)

	runner := scheduler.NewRunner(ctx, log)
	if _, err := runner.Add(cfg.SchedulerCron, dispatcher.Tick); err != nil {
		log.Fatal("invalid SCHEDULER_CRON", zap.String("spec", cfg.SchedulerCron), zap.Error(err))
	}

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, log, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return rdb.Ping(ctx).Err()
	})

	runner.Start()
	<-ctx.Done()
	log.Info("shutdown signal received")
	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = msrv.Shutdown(shutdownCtx)
}
