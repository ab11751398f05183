package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"macdwatch/internal/model"
	"macdwatch/internal/store/sqlite"
)

var t0 = time.Date(2025, 3, 3, 4, 0, 0, 0, time.UTC) // Mon 09:30 IST

func update(sym string, kind model.SignalKind, at time.Time) model.SignalUpdate {
	return model.SignalUpdate{
		Symbol:   sym,
		Exchange: "NSE",
		Status:   model.StatusOK,
		Signal:   &model.TradeSignal{Kind: kind, TS: at, MACD: 0.2, Signal: 0.1, Difference: 0.1},
		Samples:  120,
		At:       at,
	}
}

func newTestHub() *Hub {
	h := NewHub(16, Hooks{})
	h.now = func() time.Time { return t0.Add(time.Second) }
	return h
}

func TestHubBroadcastEnvelope(t *testing.T) {
	h := newTestHub()
	c := &Client{send: make(chan []byte, 4), hub: h}
	h.AddClient(c)

	h.Broadcast(update("HDFCBANK", model.SignalBuy, t0))

	var env Envelope
	if err := json.Unmarshal(<-c.send, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if env.Type != "signal" || env.Key != "NSE:HDFCBANK" || env.Seq != 1 {
		t.Errorf("envelope = %+v", env)
	}
	var u model.SignalUpdate
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("data: %v", err)
	}
	if u.Signal == nil || u.Signal.Kind != model.SignalBuy {
		t.Errorf("data signal = %+v", u.Signal)
	}
	if h.Latency().Count() != 1 {
		t.Errorf("latency samples = %d, want 1", h.Latency().Count())
	}
}

func TestHubFilterAndOrdering(t *testing.T) {
	h := newTestHub()
	all := &Client{send: make(chan []byte, 8), hub: h}
	tcs := &Client{send: make(chan []byte, 8), hub: h}
	tcs.setFilter([]string{"tcs"})
	h.AddClient(all)
	h.AddClient(tcs)

	h.Broadcast(update("HDFCBANK", model.SignalBuy, t0))
	h.Broadcast(update("TCS", model.SignalSell, t0))
	// Stale update for HDFCBANK is ignored.
	h.Broadcast(update("HDFCBANK", model.SignalSell, t0.Add(-time.Minute)))

	if len(all.send) != 2 {
		t.Errorf("unfiltered client got %d frames, want 2", len(all.send))
	}
	if len(tcs.send) != 1 {
		t.Errorf("filtered client got %d frames, want 1", len(tcs.send))
	}
	u, ok := h.LatestFor("nse:hdfcbank")
	if !ok || u.Signal.Kind != model.SignalBuy {
		t.Errorf("latest HDFCBANK = %+v", u)
	}
	if h.Seq() != 2 {
		t.Errorf("seq = %d, want 2", h.Seq())
	}
}

func TestHubDropsForSlowClient(t *testing.T) {
	drops := 0
	h := NewHub(16, Hooks{OnDrop: func() { drops++ }})
	c := &Client{send: make(chan []byte, 1), hub: h}
	h.AddClient(c)

	h.Broadcast(update("A", model.SignalBuy, t0))
	h.Broadcast(update("B", model.SignalBuy, t0))
	if drops != 1 {
		t.Errorf("drops = %d, want 1", drops)
	}
}

func TestHubInitialStateOnConnect(t *testing.T) {
	h := newTestHub()
	h.Seed([]model.SignalUpdate{
		update("TCS", model.SignalNone, t0),
		update("HDFCBANK", model.SignalBuy, t0),
	})

	c := &Client{send: make(chan []byte, 8), hub: h}
	h.AddClient(c)
	if len(c.send) != 2 {
		t.Fatalf("initial frames = %d, want 2", len(c.send))
	}
	var first Envelope
	json.Unmarshal(<-c.send, &first)
	if !first.Initial || first.Key != "NSE:HDFCBANK" {
		t.Errorf("first initial frame = %+v", first)
	}

	h.RemoveClient(c)
	h.RemoveClient(c) // second remove is a no-op
	if h.ClientCount() != 0 {
		t.Errorf("clients = %d", h.ClientCount())
	}
}

// readEnvelopes reads one WebSocket message and splits coalesced frames.
func readEnvelopes(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out []map[string]any
	for _, line := range bytes.Split(msg, []byte{'\n'}) {
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("frame %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		for _, m := range readEnvelopes(t, conn) {
			if match(m) {
				return m
			}
		}
	}
	t.Fatal("expected frame never arrived")
	return nil
}

func TestWebSocketEndToEnd(t *testing.T) {
	h := newTestHub()
	h.Seed([]model.SignalUpdate{update("HDFCBANK", model.SignalBuy, t0)})
	srv := httptest.NewServer(NewServer(h).Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?symbols=HDFCBANK"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	initial := readUntil(t, conn, func(m map[string]any) bool { return m["initial"] == true })
	if initial["key"] != "NSE:HDFCBANK" {
		t.Errorf("initial frame key = %v", initial["key"])
	}

	for deadline := time.Now().Add(2 * time.Second); h.ClientCount() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Broadcast(update("TCS", model.SignalSell, t0.Add(time.Minute)))
	h.Broadcast(update("HDFCBANK", model.SignalSell, t0.Add(time.Minute)))
	live := readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "signal" && m["initial"] == nil })
	if live["key"] != "NSE:HDFCBANK" {
		t.Errorf("filtered client received %v", live["key"])
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":123}`)); err != nil {
		t.Fatal(err)
	}
	pong := readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "pong" })
	if pong["ping"] != float64(123) {
		t.Errorf("pong echoed %v", pong["ping"])
	}
}

type fakeJournal struct {
	symbol string
	limit  int
	err    error
}

func (f *fakeJournal) Recent(_ context.Context, symbol string, limit int) ([]sqlite.Entry, error) {
	f.symbol, f.limit = symbol, limit
	if f.err != nil {
		return nil, f.err
	}
	return []sqlite.Entry{{Symbol: "HDFCBANK", Exchange: "NSE", Kind: model.SignalBuy, BarTS: t0}}, nil
}

type fakeStream struct{}

func (fakeStream) History(_ context.Context, exchange, symbol string, n int64) ([]model.SignalUpdate, error) {
	return []model.SignalUpdate{
		update(symbol, model.SignalNone, t0.Add(time.Minute)),
		update(symbol, model.SignalSell, t0),
	}, nil
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleSignals(t *testing.T) {
	j := &fakeJournal{}
	s := NewServer(newTestHub())
	s.Journal = j
	routes := s.Routes()

	rec := get(t, routes, "/api/signals?symbol=nse:hdfcbank&limit=10000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if j.symbol != "HDFCBANK" || j.limit != maxSignalLimit {
		t.Errorf("journal queried with (%q, %d)", j.symbol, j.limit)
	}
	var entries []sqlite.Entry
	json.Unmarshal(rec.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Kind != model.SignalBuy {
		t.Errorf("entries = %+v", entries)
	}

	if rec := get(t, routes, "/api/signals?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	j.err = errors.New("disk I/O error")
	if rec := get(t, routes, "/api/signals"); rec.Code != http.StatusInternalServerError {
		t.Errorf("journal error status = %d", rec.Code)
	}
}

func TestHandleSignalsFromStream(t *testing.T) {
	s := NewServer(newTestHub())
	s.Stream = fakeStream{}
	routes := s.Routes()

	if rec := get(t, routes, "/api/signals"); rec.Code != http.StatusBadRequest {
		t.Errorf("stream without symbol: status %d", rec.Code)
	}
	rec := get(t, routes, "/api/signals?symbol=TCS")
	var out []model.SignalUpdate
	json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out) != 1 || out[0].Signal.Kind != model.SignalSell {
		t.Errorf("stream history should keep crossovers only, got %+v", out)
	}

	if rec := get(t, NewServer(newTestHub()).Routes(), "/api/signals"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no history: status %d", rec.Code)
	}
}

func TestHandleLatestAndMarket(t *testing.T) {
	h := newTestHub()
	h.Broadcast(update("HDFCBANK", model.SignalBuy, t0))
	s := NewServer(h)
	s.now = func() time.Time { return t0 }
	routes := s.Routes()

	var all []model.SignalUpdate
	json.Unmarshal(get(t, routes, "/api/latest").Body.Bytes(), &all)
	if len(all) != 1 || all[0].Symbol != "HDFCBANK" {
		t.Errorf("latest = %+v", all)
	}
	if rec := get(t, routes, "/api/latest?symbol=TCS"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown symbol status = %d", rec.Code)
	}

	var m MarketStatus
	json.Unmarshal(get(t, routes, "/api/market").Body.Bytes(), &m)
	if !m.Open || !strings.HasPrefix(m.Status, "Market Open") {
		t.Errorf("market at 09:30 IST Monday = %+v", m)
	}

	var missed struct {
		Seq      int64             `json:"seq"`
		Complete bool              `json:"complete"`
		Frames   []json.RawMessage `json:"frames"`
	}
	json.Unmarshal(get(t, routes, "/api/missed?seq=0").Body.Bytes(), &missed)
	if missed.Seq != 1 || !missed.Complete || len(missed.Frames) != 1 {
		t.Errorf("missed = %+v", missed)
	}
	if rec := get(t, routes, "/api/missed"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing seq status = %d", rec.Code)
	}
}
