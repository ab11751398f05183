package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"macdwatch/internal/indicator"
	"macdwatch/internal/model"
)

// Feed modes.
const (
	FeedSmartConnect = "smartconnect"
	FeedSim          = "sim"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Feed
	FeedMode      string
	FeedInterval  string
	FeedLookback  time.Duration
	FeedRateLimit float64

	// Angel One credentials (smartconnect mode only)
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Watchlist
	Instruments []model.Instrument

	// Scheduling
	PollInterval    time.Duration
	PollConcurrency int
	MarketHoursOnly bool

	// Indicator
	MACD        indicator.MACDConfig
	ChartWindow int
	DisplayTZ   string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string

	// Alerts
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads the signal engine configuration from the environment, after
// loading .env when one exists. Credentials are only required in
// smartconnect mode.
func Load() (*Config, error) {
	cfg := loadCommon()
	cfg.FeedMode = strings.ToLower(getEnv("FEED_MODE", FeedSmartConnect))
	cfg.FeedInterval = getEnv("FEED_INTERVAL", "1m")
	cfg.FeedLookback = durationFromEnv("FEED_LOOKBACK", 24*time.Hour)
	cfg.FeedRateLimit = floatFromEnv("FEED_RATE_LIMIT", 3)

	cfg.PollInterval = durationFromEnv("POLL_INTERVAL", 60*time.Second)
	cfg.PollConcurrency = intFromEnv("POLL_CONCURRENCY", 4)
	cfg.MarketHoursOnly = boolFromEnv("MARKET_HOURS_ONLY", true)

	cfg.MACD = indicator.MACDConfig{
		Short:  intFromEnv("MACD_SHORT", 30),
		Long:   intFromEnv("MACD_LONG", 60),
		Signal: intFromEnv("MACD_SIGNAL", 9),
	}
	if err := cfg.MACD.Validate(); err != nil {
		// The engine still runs; it just produces an inverted MACD.
		log.Printf("[config] WARNING: %v", err)
	}
	cfg.ChartWindow = intFromEnv("CHART_WINDOW", 50)

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")

	if path := os.Getenv("WATCHLIST_FILE"); path != "" {
		insts, err := LoadWatchlist(path)
		if err != nil {
			return nil, err
		}
		cfg.Instruments = insts
	} else {
		insts, err := ParseInstruments(getEnv("WATCH_SYMBOLS", "HDFCBANK:NSE:1333"))
		if err != nil {
			return nil, err
		}
		cfg.Instruments = insts
	}
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("no instruments to watch")
	}

	switch cfg.FeedMode {
	case FeedSmartConnect:
		var err error
		if cfg.AngelAPIKey, err = mustEnv("ANGEL_API_KEY"); err != nil {
			return nil, err
		}
		if cfg.AngelClientCode, err = mustEnv("ANGEL_CLIENT_CODE"); err != nil {
			return nil, err
		}
		if cfg.AngelPassword, err = mustEnv("ANGEL_PASSWORD"); err != nil {
			return nil, err
		}
		if cfg.AngelTOTPSecret, err = mustEnv("ANGEL_TOTP_SECRET"); err != nil {
			return nil, err
		}
	case FeedSim:
	default:
		return nil, fmt.Errorf("unknown FEED_MODE %q", cfg.FeedMode)
	}

	if cfg.PollConcurrency < 1 {
		cfg.PollConcurrency = 1
	}
	return cfg, nil
}

// LoadGateway reads the subset the api_gateway needs: stores, listen
// address, display zone and logging.
func LoadGateway() (*Config, error) {
	cfg := loadCommon()
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required for the gateway")
	}
	return cfg, nil
}

func loadCommon() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] ignoring .env: %v", err)
	}
	return &Config{
		DisplayTZ:     getEnv("DISPLAY_TZ", "Asia/Kolkata"),
		RedisAddr:     optionalEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		SQLitePath:    optionalEnv("SQLITE_PATH", "data/signals.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
	}
}

// ParseInstruments parses "SYMBOL:EXCHANGE:TOKEN,..." entries. EXCHANGE
// defaults to NSE and TOKEN may be omitted for feeds that key on the symbol.
func ParseInstruments(s string) ([]model.Instrument, error) {
	var out []model.Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) > 3 || strings.TrimSpace(fields[0]) == "" {
			return nil, fmt.Errorf("bad instrument %q, want SYMBOL[:EXCHANGE[:TOKEN]]", part)
		}
		inst := model.Instrument{Symbol: strings.ToUpper(strings.TrimSpace(fields[0])), Exchange: "NSE"}
		if len(fields) > 1 && strings.TrimSpace(fields[1]) != "" {
			inst.Exchange = strings.ToUpper(strings.TrimSpace(fields[1]))
		}
		if len(fields) > 2 {
			inst.Token = strings.TrimSpace(fields[2])
		}
		out = append(out, inst)
	}
	return out, nil
}

func mustEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required env var %s not set", key)
	}
	return v, nil
}

// optionalEnv returns fallback only when key is unset; an explicitly empty
// value disables the component.
func optionalEnv(key, fallback string) string {
	if v, set := os.LookupEnv(key); set {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("[config] invalid %s=%q, using %d", key, v, def)
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("[config] invalid %s=%q, using %g", key, v, def)
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("[config] invalid %s=%q, using %v", key, v, def)
	}
	return def
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("[config] invalid %s=%q, using %v", key, v, def)
	}
	return def
}
