package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/api"
	"github.com/radieske/pricebet-settlement/internal/bootstrap"
	"github.com/radieske/pricebet-settlement/internal/nonce"
	"github.com/radieske/pricebet-settlement/internal/pricefeed"
	"github.com/radieske/pricebet-settlement/internal/repo"
	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/roundfeed"
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

	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// conecta com db Postgres
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	// Redis: nonces, feed de preços e pub/sub das rodadas
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	bootstrap.EnsureTopics(ctx, cfg, log)
	writers := bootstrap.NewWriters(cfg)
	defer writers.Close()
	publisher := writers.Publisher(log)

	m := metrics.NewSettlement(prometheus.DefaultRegisterer)
	store := repo.NewPostgres(pg)
	sui := bootstrap.NewChain(cfg, log)
	sponsorSvc := sui.Sponsor(nonce.NewRedisStore(rdb), m)
	ops := sui.Admin(store, m)
	machine := bootstrap.Machine(cfg, store, ops, round.Notifiers{
		publisher,
		roundfeed.NewRedisBroadcaster(rdb, cfg.RedisRoundChannel, log),
	}, m, log)

	// feed WebSocket: cada instância assina o canal e repassa aos seus clientes
	hub := roundfeed.NewHub(allowOrigin(cfg.AllowOrigin), log)
	if err := roundfeed.StartRedisSubscriber(ctx, rdb, cfg.RedisRoundChannel, hub, log); err != nil {
		log.Fatal("failed to subscribe round feed", zap.Error(err))
	}

	server := api.NewServer(log, api.Deps{
		Sponsor:    sponsorSvc,
		Bets:       store,
		Rounds:     store,
		Lifecycle:  machine,
		Prices:     pricefeed.NewReader(rdb, cfg.PriceFeedKeyPrefix, cfg.PriceMaxAge),
		Rewards:    ops,
		Events:     publisher,
		Feed:       http.HandlerFunc(hub.HandleWS),
		AdminToken: cfg.AdminToken,
	})
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN not set; admin routes are open")
	}

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, log, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("settlement-api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = msrv.Shutdown(shutdownCtx)
}

// allowOrigin vazio aceita qualquer origem (ambiente local)
func allowOrigin(origin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return origin == "" || r.Header.Get("Origin") == origin
	}
}
