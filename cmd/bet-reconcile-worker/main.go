package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/bootstrap"
	"github.com/radieske/pricebet-settlement/internal/reconcile"
	"github.com/radieske/pricebet-settlement/internal/repo"
	"github.com/radieske/pricebet-settlement/internal/shared/config"
	"github.com/radieske/pricebet-settlement/internal/shared/db"
	"github.com/radieske/pricebet-settlement/internal/shared/kafka"
	"github.com/radieske/pricebet-settlement/internal/shared/logger"
	"github.com/radieske/pricebet-settlement/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	bootstrap.EnsureTopics(ctx, cfg, log)
	writers := bootstrap.NewWriters(cfg)
	defer writers.Close()

	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicBetExecutedDLQ, "bet-reconcile")
	defer reader.Close()

	m := metrics.NewSettlement(prometheus.DefaultRegisterer)
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bet_reconcile_messages_total",
		Help: "mensagens da DLQ processadas por resultado",
	}, []string{"result"})
	prometheus.MustRegister(results)

	// o sponsor só faz o polling de confirmação aqui; nonces não são usados
	sponsorSvc := bootstrap.NewChain(cfg, log).Sponsor(nil, m)

	worker := &reconcile.Worker{
		Log:      log.Named("reconcile"),
		Reader:   reader,
		Confirm:  sponsorSvc.EnsureOnChain,
		Bets:     repo.NewPostgres(pg),
		Events:   writers.Publisher(log),
		Parked:   writers.Manual,
		Attempts: 5,
		Backoff:  2 * time.Second,
		OnResult: func(r string) { results.WithLabelValues(r).Inc() },
	}

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, log, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})

	log.Info("bet-reconcile-worker started", zap.String("consume", cfg.TopicBetExecutedDLQ))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", zap.Error(err))
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = msrv.Shutdown(shutdownCtx)
}
