package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"macdwatch/internal/logger"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	CyclesTotal      prometheus.Counter
	CycleDur         prometheus.Histogram
	CyclesSkipped    prometheus.Counter // market closed
	FetchDur         *prometheus.HistogramVec // labels: symbol
	FetchErrors      *prometheus.CounterVec   // labels: symbol
	SamplesDropped   *prometheus.CounterVec   // labels: symbol
	SamplesDuplicate *prometheus.CounterVec   // labels: symbol
	InsufficientData *prometheus.CounterVec   // labels: symbol
	SignalsTotal     *prometheus.CounterVec   // labels: symbol, kind
	ComputeDur       prometheus.Histogram
	SinkErrors       *prometheus.CounterVec // labels: sink
	LastDifference   *prometheus.GaugeVec   // labels: symbol

	// Circuit breaker on the Redis publisher
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisSkippedWrites       prometheus.Counter

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open

	// Gateway
	WSClients   prometheus.Gauge
	WSBroadcast prometheus.Counter
	WSDrops     prometheus.Counter
}

// NewMetrics registers all metrics on reg (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macdwatch_cycles_total",
			Help: "Completed poll cycles",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "macdwatch_cycle_duration_seconds",
			Help:    "Wall time of one poll cycle across all instruments",
			Buckets: prometheus.DefBuckets,
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macdwatch_cycles_skipped_total",
			Help: "Cycles skipped because the market was closed",
		}),
		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "macdwatch_fetch_duration_seconds",
			Help:    "Feed fetch latency per instrument",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"symbol"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macdwatch_fetch_errors_total",
			Help: "Feed fetch failures per instrument",
		}, []string{"symbol"}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macdwatch_samples_dropped_total",
			Help: "Raw samples dropped for a missing or non-finite close",
		}, []string{"symbol"}),
		SamplesDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macdwatch_samples_duplicate_total",
			Help: "Raw samples superseded by a later sample at the same instant",
		}, []string{"symbol"}),
		InsufficientData: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macdwatch_insufficient_data_total",
			Help: "Evaluations skipped for having fewer than two samples",
		}, []string{"symbol"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macdwatch_signals_total",
			Help: "Evaluations by resulting signal kind",
		}, []string{"symbol", "kind"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "macdwatch_compute_duration_seconds",
			Help:    "Normalize plus MACD evaluation latency per instrument",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macdwatch_sink_errors_total",
			Help: "Publish failures per sink",
		}, []string{"sink"}),
		LastDifference: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "macdwatch_macd_signal_difference",
			Help: "Latest |MACD - signal| per instrument",
		}, []string{"symbol"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "macdwatch_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macdwatch_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisSkippedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macdwatch_redis_skipped_writes_total",
			Help: "Publishes skipped while the Redis circuit breaker was open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "macdwatch_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "macdwatch_gateway_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macdwatch_gateway_broadcasts_total",
			Help: "Signal updates fanned out to WebSocket clients",
		}),
		WSDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macdwatch_gateway_drops_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.CyclesSkipped,
		m.FetchDur,
		m.FetchErrors,
		m.SamplesDropped,
		m.SamplesDuplicate,
		m.InsufficientData,
		m.SignalsTotal,
		m.ComputeDur,
		m.SinkErrors,
		m.LastDifference,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisSkippedWrites,
		m.MarketState,
		m.WSClients,
		m.WSBroadcast,
		m.WSDrops,
	)

	return m
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	log := logger.Named("metrics")
	go func() {
		log.Infof("server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
