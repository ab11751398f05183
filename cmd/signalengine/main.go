// Command signalengine polls the watchlist, evaluates MACD crossovers and
// publishes every update to the configured sinks.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"macdwatch/config"
	"macdwatch/internal/feed"
	"macdwatch/internal/indicator"
	"macdwatch/internal/logger"
	"macdwatch/internal/markethours"
	"macdwatch/internal/metrics"
	"macdwatch/internal/model"
	"macdwatch/internal/normalize"
	"macdwatch/internal/notification"
	"macdwatch/internal/poller"
	redisstore "macdwatch/internal/store/redis"
	sqlitestore "macdwatch/internal/store/sqlite"
	"macdwatch/pkg/smartconnect"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "signalengine: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init("signalengine", cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "signalengine: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Named("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Errorf("fatal: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("main")
	log.Infow("starting",
		"feed", cfg.FeedMode,
		"instruments", len(cfg.Instruments),
		"macd", cfg.MACD.String(),
		"poll", cfg.PollInterval)

	m := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.StaleAfter = 3 * cfg.PollInterval

	// ---- Feed ----
	src, logout, err := buildFeed(ctx, cfg)
	if err != nil {
		return err
	}
	if logout != nil {
		defer logout()
	}
	fetcher := feed.NewLimited(src, cfg.FeedRateLimit)

	// ---- Sinks ----
	sinks := []model.SignalSink{notification.NewLogSink()}

	var pub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		client, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			// Redis is a presentation collaborator; the engine keeps running
			// and the breaker parks updates until it comes back.
			log.Warnf("redis unavailable, publishing will retry: %v", err)
			client = redisstore.NewClient(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		}
		defer client.Close()

		breaker := redisstore.NewBreaker(5, 10*time.Second)
		breaker.OnStateChange = func(from, to redisstore.State) {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
		}
		pub = redisstore.NewPublisher(client, breaker)
		pub.OnSkip = m.RedisSkippedWrites.Inc
		sinks = append(sinks, pub)
		health.EnableRedis()
	}

	var journal *sqlitestore.Journal
	if cfg.SQLitePath != "" {
		journal, err = sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer journal.Close()
		sinks = append(sinks, journal)
		health.EnableSQLite()
	}

	zone := markethours.LoadZone(cfg.DisplayTZ)
	sinks = append(sinks, notification.NewAlertSink(buildNotifier(cfg), zone))

	// ---- Metrics server ----
	srv := metrics.NewServer(cfg.MetricsAddr, health)
	srv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(shutdownCtx)
	}()

	var (
		rdb   *goredis.Client
		sqlDB *sql.DB
	)
	if pub != nil {
		rdb = pub.Client()
	}
	if journal != nil {
		sqlDB = journal.DB()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)

	// ---- Engine ----
	n := normalize.New(zone)
	engine := indicator.NewEngine(cfg.MACD)

	p := poller.New(poller.Config{
		Instruments:     cfg.Instruments,
		Interval:        cfg.PollInterval,
		Concurrency:     cfg.PollConcurrency,
		ChartWindow:     cfg.ChartWindow,
		MarketHoursOnly: cfg.MarketHoursOnly,
	}, fetcher, n, engine, sinks...)
	p.Hooks = hooks(m, health)

	err = p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildFeed returns the configured price source and, for live sessions, a
// logout func to run on shutdown.
func buildFeed(ctx context.Context, cfg *config.Config) (model.SeriesFetcher, func(), error) {
	switch cfg.FeedMode {
	case config.FeedSim:
		step, err := time.ParseDuration(cfg.FeedInterval)
		if err != nil {
			step = time.Minute
		}
		return feed.NewSim(time.Now().UnixNano(), step, cfg.FeedLookback), nil, nil

	case config.FeedSmartConnect:
		client := smartconnect.New(smartconnect.Config{APIKey: cfg.AngelAPIKey})
		creds := smartconnect.Credentials{
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		}
		if err := client.Login(ctx, creds); err != nil {
			return nil, nil, fmt.Errorf("smartapi login: %w", err)
		}
		logout := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.TerminateSession(ctx, cfg.AngelClientCode); err != nil {
				logger.Named("feed").Warnf("logout: %v", err)
			}
		}
		src, err := feed.NewSmartConnect(client, cfg.FeedInterval, cfg.FeedLookback)
		if err != nil {
			logout()
			return nil, nil, err
		}
		return src, logout, nil
	}
	return nil, nil, fmt.Errorf("unknown feed mode %q", cfg.FeedMode)
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	out := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		out = append(out, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		out = append(out, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	return out
}

func hooks(m *metrics.Metrics, health *metrics.HealthStatus) poller.Hooks {
	return poller.Hooks{
		OnCycle: func(d time.Duration, ok, total int) {
			m.CyclesTotal.Inc()
			m.CycleDur.Observe(d.Seconds())
			now := time.Now()
			open := markethours.IsMarketOpen(now)
			if open {
				m.MarketState.Set(1)
			} else {
				m.MarketState.Set(0)
			}
			health.SetMarketOpen(open)
			health.RecordCycle(now, ok, total)
		},
		OnMarketClosed: func(time.Time) {
			m.CyclesSkipped.Inc()
			m.MarketState.Set(0)
			health.SetMarketOpen(false)
		},
		OnFetch: func(inst model.Instrument, d time.Duration, err error) {
			m.FetchDur.WithLabelValues(inst.Symbol).Observe(d.Seconds())
			if err != nil {
				m.FetchErrors.WithLabelValues(inst.Symbol).Inc()
			}
		},
		OnDropped: func(inst model.Instrument) {
			m.SamplesDropped.WithLabelValues(inst.Symbol).Inc()
		},
		OnDuplicate: func(inst model.Instrument) {
			m.SamplesDuplicate.WithLabelValues(inst.Symbol).Inc()
		},
		OnInsufficient: func(inst model.Instrument) {
			m.InsufficientData.WithLabelValues(inst.Symbol).Inc()
		},
		OnEvaluated: func(inst model.Instrument, sig model.TradeSignal, d time.Duration) {
			m.ComputeDur.Observe(d.Seconds())
			m.SignalsTotal.WithLabelValues(inst.Symbol, sig.Kind.String()).Inc()
			m.LastDifference.WithLabelValues(inst.Symbol).Set(sig.Difference)
		},
		OnSinkError: func(sink string, err error) {
			m.SinkErrors.WithLabelValues(sink).Inc()
		},
	}
}
