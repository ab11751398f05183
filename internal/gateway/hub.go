// Package gateway fans published signal updates out to browser clients over
// WebSocket and serves the latest state over REST.
package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"macdwatch/internal/logger"
	"macdwatch/internal/model"
)

// Hooks lets the binary wire hub events to Prometheus without the gateway
// importing the metrics package. Nil hooks are skipped.
type Hooks struct {
	OnClients   func(n int)
	OnBroadcast func()
	OnDrop      func()
}

// Hub tracks connected clients, the latest update per instrument and a
// replay buffer of recent envelopes.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]model.SignalUpdate // key: EXCHANGE:SYMBOL
	seq     int64

	replay  *ReplayBuffer
	latency *LatencyTracker
	hooks   Hooks
	now     func() time.Time
	log     *zap.SugaredLogger
}

func NewHub(replaySize int, hooks Hooks) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]model.SignalUpdate),
		replay:  NewReplayBuffer(replaySize),
		latency: NewLatencyTracker(256),
		hooks:   hooks,
		now:     time.Now,
		log:     logger.Named("gateway"),
	}
}

// Envelope is the frame pushed to clients.
type Envelope struct {
	Type    string          `json:"type"` // "signal" or "market"
	Key     string          `json:"key,omitempty"`
	Data    json.RawMessage `json:"data"`
	Seq     int64           `json:"seq,omitempty"`
	TS      string          `json:"ts"`
	Initial bool            `json:"initial,omitempty"`
}

// Seed installs updates as the latest state without broadcasting them. The
// gateway calls it at startup with the Redis snapshot.
func (h *Hub) Seed(updates []model.SignalUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, u := range updates {
		cur, ok := h.latest[u.Key()]
		if ok && cur.At.After(u.At) {
			continue
		}
		h.latest[u.Key()] = u
	}
}

// Run broadcasts every update received on in until ctx is done or in closes.
func (h *Hub) Run(ctx context.Context, in <-chan model.SignalUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				return
			}
			h.Broadcast(u)
		}
	}
}

// Broadcast records u as the latest for its instrument and pushes it to
// every client whose filter admits the symbol. Slow clients drop frames.
func (h *Hub) Broadcast(u model.SignalUpdate) {
	key := u.Key()
	now := h.now()

	h.mu.Lock()
	if cur, ok := h.latest[key]; ok && cur.At.After(u.At) {
		h.mu.Unlock()
		return // out of order
	}
	h.latest[key] = u
	h.seq++
	seq := h.seq
	env, _ := json.Marshal(Envelope{
		Type: "signal",
		Key:  key,
		Data: u.JSON(),
		Seq:  seq,
		TS:   now.Format(time.RFC3339Nano),
	})
	h.replay.Push(seq, env)

	// Sends are non-blocking, so delivering under the lock is safe and keeps
	// RemoveClient from closing a channel mid-send.
	for c := range h.clients {
		if c.wants(u.Symbol) {
			h.deliver(c, env)
		}
	}
	h.mu.Unlock()

	h.latency.Record(u, now)
	if h.hooks.OnBroadcast != nil {
		h.hooks.OnBroadcast()
	}
}

// BroadcastMarket pushes a market status frame to every client.
func (h *Hub) BroadcastMarket(status MarketStatus) {
	data, _ := json.Marshal(status)
	env, _ := json.Marshal(Envelope{
		Type: "market",
		Data: data,
		TS:   h.now().Format(time.RFC3339Nano),
	})

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.deliver(c, env)
	}
}

// RunMarketStatus pushes the session state every interval until ctx is done.
func (h *Hub) RunMarketStatus(ctx context.Context, every time.Duration, onState func(open bool)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		st := MarketStatusAt(h.now())
		if onState != nil {
			onState(st.Open)
		}
		h.BroadcastMarket(st)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Hub) deliver(c *Client, env []byte) {
	select {
	case c.send <- env:
	default:
		if h.hooks.OnDrop != nil {
			h.hooks.OnDrop()
		}
		h.log.Debugw("dropped frame for slow client", "remote", c.remote)
	}
}

// Latest returns the latest update per instrument, sorted by key.
func (h *Hub) Latest() []model.SignalUpdate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.SignalUpdate, 0, len(h.latest))
	for _, u := range h.latest {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// LatestFor returns the latest update for one instrument key.
func (h *Hub) LatestFor(key string) (model.SignalUpdate, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u, ok := h.latest[strings.ToUpper(key)]
	return u, ok
}

// Missed returns envelopes broadcast after seq.
func (h *Hub) Missed(after int64) ([][]byte, bool) {
	return h.replay.Since(after)
}

// Seq returns the last broadcast sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

func (h *Hub) Latency() *LatencyTracker { return h.latency }

// AddClient registers c and queues the initial state for it.
func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.queueInitialLocked(c)
	h.mu.Unlock()

	if h.hooks.OnClients != nil {
		h.hooks.OnClients(n)
	}
}

// queueInitialLocked sends c the latest update of every instrument its
// filter admits, oldest key first. Caller holds h.mu.
func (h *Hub) queueInitialLocked(c *Client) {
	ts := h.now().Format(time.RFC3339Nano)
	keys := make([]string, 0, len(h.latest))
	for k := range h.latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		u := h.latest[k]
		if !c.wants(u.Symbol) {
			continue
		}
		env, _ := json.Marshal(Envelope{
			Type:    "signal",
			Key:     k,
			Data:    u.JSON(),
			TS:      ts,
			Initial: true,
		})
		h.deliver(c, env)
	}
}

// Resend queues the initial state again, used after a client changes its
// symbol filter.
func (h *Hub) Resend(c *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c] {
		h.queueInitialLocked(c)
	}
}

// RemoveClient unregisters c and closes its send channel once.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	if h.hooks.OnClients != nil {
		h.hooks.OnClients(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
