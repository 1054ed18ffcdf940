package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/pricefeed"
	"github.com/radieske/pricebet-settlement/internal/shared/cache"
	"github.com/radieske/pricebet-settlement/internal/shared/config"
	"github.com/radieske/pricebet-settlement/internal/shared/logger"
	"github.com/radieske/pricebet-settlement/internal/shared/metrics"
)

// Cotações simuladas de GOLD e BTC para ambientes locais, no mesmo layout
// que o ingestor de market data grava no Redis.
var (
	quotesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "price_simulator_quotes_written_total",
		Help: "cotações simuladas gravadas no Redis",
	}, []string{"asset"})
	lastPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "price_simulator_last_price",
		Help: "último preço simulado por ativo",
	}, []string{"asset"})
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Env == "prod" {
		log.Fatal("price-simulator must not run in prod")
	}

	prometheus.MustRegister(quotesWritten, lastPrice)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, log, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	walk := pricefeed.NewWalk(time.Now().UnixNano())
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	log.Info("price simulator started", zap.String("prefix", cfg.PriceFeedKeyPrefix))
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = msrv.Shutdown(shutdownCtx)
			cancel()
			return
		case now := <-ticker.C:
			for asset, q := range walk.Step(now) {
				if err := pricefeed.Write(ctx, rdb, cfg.PriceFeedKeyPrefix, asset, q); err != nil {
					log.Warn("write quote failed", zap.String("asset", asset), zap.Error(err))
					continue
				}
				quotesWritten.WithLabelValues(asset).Inc()
				lastPrice.WithLabelValues(asset).Set(q.Price)
			}
		}
	}
}
