// Command api_gateway relays published signal updates from Redis to browser
// clients over WebSocket and serves the latest state over REST.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"macdwatch/config"
	"macdwatch/internal/gateway"
	"macdwatch/internal/logger"
	"macdwatch/internal/metrics"
	"macdwatch/internal/model"
	redisstore "macdwatch/internal/store/redis"
	sqlitestore "macdwatch/internal/store/sqlite"
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "api_gateway: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init("api_gateway", cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "api_gateway: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		logger.Named("main").Errorf("fatal: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("main")

	client, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return err
	}
	reader := redisstore.NewReader(client)
	defer reader.Close()
	log.Infof("redis connected at %s", cfg.RedisAddr)

	m := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.EnableRedis()

	hub := gateway.NewHub(500, gateway.Hooks{
		OnClients:   func(n int) { m.WSClients.Set(float64(n)) },
		OnBroadcast: m.WSBroadcast.Inc,
		OnDrop:      m.WSDrops.Inc,
	})

	snapshot, err := reader.LatestAll(ctx)
	if err != nil {
		log.Warnf("initial snapshot: %v", err)
	}
	hub.Seed(snapshot)
	log.Infof("seeded %d instruments from redis", len(snapshot))

	srv := gateway.NewServer(hub)
	srv.Stream = reader
	srv.Health = health
	if cfg.SQLitePath != "" {
		journal, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			log.Warnf("journal unavailable, /api/signals falls back to redis: %v", err)
		} else {
			defer journal.Close()
			srv.Journal = journal
			health.EnableSQLite()
			health.StartLivenessChecker(ctx, client, journal.DB(), 15*time.Second)
		}
	}
	if srv.Journal == nil {
		health.StartLivenessChecker(ctx, client, nil, 15*time.Second)
	}

	updates := make(chan model.SignalUpdate, 1024)
	go func() {
		// Resubscribe with backoff if the connection drops.
		backoff := time.Second
		for {
			err := reader.Subscribe(ctx, updates)
			if ctx.Err() != nil {
				return
			}
			log.Warnf("subscription ended: %v; retrying in %v", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
		}
	}()
	go hub.Run(ctx, updates)
	go hub.RunMarketStatus(ctx, 30*time.Second, func(open bool) {
		health.SetMarketOpen(open)
		if open {
			m.MarketState.Set(1)
		} else {
			m.MarketState.Set(0)
		}
	})

	httpSrv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Infof("listening on %s", cfg.GatewayAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
