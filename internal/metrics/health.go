package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastCycleOK    int       `json:"last_cycle_ok"`
	LastCycleTotal int       `json:"last_cycle_total"`
	MarketOpen     bool      `json:"market_open"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Dependencies left nil at startup are reported but never degrade status.
	redisEnabled  bool
	sqliteEnabled bool

	// StaleAfter marks the engine degraded when the market is open and no
	// cycle completed within this window. Zero disables the check.
	StaleAfter time.Duration

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		now:       time.Now,
	}
}

// EnableRedis marks Redis as a dependency whose loss degrades health.
func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.redisEnabled = true
	h.RedisConnected = true
	h.mu.Unlock()
}

// EnableSQLite marks the journal as a dependency whose loss degrades health.
func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.sqliteEnabled = true
	h.SQLiteOK = true
	h.mu.Unlock()
}

// RecordCycle stores the outcome of a poll cycle: ok instruments out of total.
func (h *HealthStatus) RecordCycle(at time.Time, ok, total int) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastCycleOK = ok
	h.LastCycleTotal = total
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker checks dependencies now and then every interval.
// Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(checkCtx, rdb)
			}
			if sqlDB != nil {
				h.CheckSQLite(checkCtx, sqlDB)
			}
			cancel()

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	overallStatus := "healthy"
	httpCode := http.StatusOK

	stale := h.StaleAfter > 0 && h.MarketOpen && !h.StartedAt.IsZero() &&
		now.Sub(latest(h.LastCycleAt, h.StartedAt)) > h.StaleAfter
	failingFeed := h.LastCycleTotal > 0 && h.LastCycleOK == 0
	if stale || failingFeed ||
		(h.redisEnabled && !h.RedisConnected) ||
		(h.sqliteEnabled && !h.SQLiteOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = now.Sub(h.LastCycleAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastCycleAt     string  `json:"last_cycle_at"`
		CycleAge        string  `json:"cycle_age"`
		LastCycleOK     int     `json:"last_cycle_ok"`
		LastCycleTotal  int     `json:"last_cycle_total"`
		MarketOpen      bool    `json:"market_open"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          now.Sub(h.StartedAt).Round(time.Second).String(),
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		CycleAge:        cycleAge,
		LastCycleOK:     h.LastCycleOK,
		LastCycleTotal:  h.LastCycleTotal,
		MarketOpen:      h.MarketOpen,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
