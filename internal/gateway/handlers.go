package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"macdwatch/internal/markethours"
	"macdwatch/internal/model"
	"macdwatch/internal/store/sqlite"
)

const (
	defaultSignalLimit = 50
	maxSignalLimit     = 500
)

// SignalHistory is the journal view used by /api/signals.
type SignalHistory interface {
	Recent(ctx context.Context, symbol string, limit int) ([]sqlite.Entry, error)
}

// StreamHistory is the Redis stream view used by /api/signals when no
// journal is configured.
type StreamHistory interface {
	History(ctx context.Context, exchange, symbol string, n int64) ([]model.SignalUpdate, error)
}

// MarketStatus is served on /api/market and pushed as "market" frames.
type MarketStatus struct {
	Open   bool      `json:"open"`
	Status string    `json:"status"`
	Now    time.Time `json:"now"`
	Next   time.Time `json:"next_open"`
}

// MarketStatusAt reports the session state at t in the exchange zone.
func MarketStatusAt(t time.Time) MarketStatus {
	return MarketStatus{
		Open:   markethours.IsMarketOpen(t),
		Status: markethours.StatusString(t),
		Now:    t.In(markethours.IST),
		Next:   markethours.NextOpen(t).In(markethours.IST),
	}
}

// Server wires the hub and the stores to HTTP routes.
type Server struct {
	Hub     *Hub
	Journal SignalHistory // optional
	Stream  StreamHistory // optional
	Health  http.Handler  // optional
	Metrics http.Handler  // defaults to promhttp.Handler()

	// DefaultExchange is assumed when /api/signals gets a bare symbol.
	DefaultExchange string

	now      func() time.Time
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub) *Server {
	return &Server{
		Hub:             hub,
		DefaultExchange: "NSE",
		now:             time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the gateway mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/signals", s.handleSignals)
	mux.HandleFunc("/api/market", s.handleMarket)
	mux.HandleFunc("/api/latency", s.handleLatency)
	mux.HandleFunc("/api/missed", s.handleMissed)
	if s.Health != nil {
		mux.Handle("/healthz", s.Health)
	}
	m := s.Metrics
	if m == nil {
		m = promhttp.Handler()
	}
	mux.Handle("/metrics", m)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWS upgrades the connection. ?symbols=A,B sets the initial filter.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Hub.log.Warnw("ws upgrade failed", "error", err)
		return
	}
	c := NewClient(s.Hub, conn, splitList(r.URL.Query().Get("symbols")))
	s.Hub.log.Infow("ws client connected", "remote", c.remote)
	s.Hub.AddClient(c)
	c.Serve()
}

// handleLatest serves every latest update, or one with ?symbol=.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if sym := r.URL.Query().Get("symbol"); sym != "" {
		ex, symbol := s.splitSymbol(sym)
		u, ok := s.Hub.LatestFor(ex + ":" + symbol)
		if !ok {
			writeError(w, http.StatusNotFound, "no update for "+ex+":"+symbol)
			return
		}
		writeJSON(w, http.StatusOK, u)
		return
	}
	writeJSON(w, http.StatusOK, s.Hub.Latest())
}

// handleSignals serves recent crossovers, newest first.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultSignalLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSignalLimit)
	}
	sym := q.Get("symbol")

	switch {
	case s.Journal != nil:
		symbol := ""
		if sym != "" {
			_, symbol = s.splitSymbol(sym)
		}
		entries, err := s.Journal.Recent(r.Context(), symbol, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if entries == nil {
			entries = []sqlite.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)

	case s.Stream != nil:
		if sym == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		ex, symbol := s.splitSymbol(sym)
		updates, err := s.Stream.History(r.Context(), ex, symbol, int64(limit))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]model.SignalUpdate, 0, len(updates))
		for _, u := range updates {
			if u.Actionable() {
				out = append(out, u)
			}
		}
		writeJSON(w, http.StatusOK, out)

	default:
		writeError(w, http.StatusServiceUnavailable, "no signal history configured")
	}
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MarketStatusAt(s.now()))
}

// handleLatency serves push latency for every instrument, or one with
// ?symbol=.
func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	if sym := r.URL.Query().Get("symbol"); sym != "" {
		ex, symbol := s.splitSymbol(sym)
		l, ok := s.Hub.Latency().For(ex + ":" + symbol)
		if !ok {
			writeError(w, http.StatusNotFound, "no latency samples for "+ex+":"+symbol)
			return
		}
		writeJSON(w, http.StatusOK, l)
		return
	}
	writeJSON(w, http.StatusOK, s.Hub.Latency().Report())
}

// handleMissed serves envelopes after ?seq= for clients that reconnect
// over plain HTTP.
func (s *Server) handleMissed(w http.ResponseWriter, r *http.Request) {
	after, err := strconv.ParseInt(r.URL.Query().Get("seq"), 10, 64)
	if err != nil || after < 0 {
		writeError(w, http.StatusBadRequest, "seq must be a non-negative integer")
		return
	}
	frames, complete := s.Hub.Missed(after)
	msgs := make([]json.RawMessage, len(frames))
	for i, f := range frames {
		msgs[i] = f
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"seq":      s.Hub.Seq(),
		"complete": complete,
		"frames":   msgs,
	})
}

// splitSymbol accepts "SYM" or "EX:SYM".
func (s *Server) splitSymbol(v string) (exchange, symbol string) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if ex, sym, ok := strings.Cut(v, ":"); ok {
		return ex, sym
	}
	return strings.ToUpper(s.DefaultExchange), v
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
