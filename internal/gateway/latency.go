package gateway

import (
	"math"
	"sort"
	"sync"
	"time"

	"macdwatch/internal/model"
)

// LatencyTracker keeps rolling latency windows per instrument. Two delays
// are measured when an update is pushed to clients:
//
//   - cycle: push time minus SignalUpdate.At, the start of the engine cycle
//     that produced it. Covers fetch, evaluation, Redis and fan-out.
//   - bar age: push time minus the evaluated bar's timestamp, i.e. how old
//     the newest sample was by the time a client saw the verdict.
//
// Bar age is only recorded for updates that carry a signal.
type LatencyTracker struct {
	mu      sync.Mutex
	window  int
	overall window
	byKey   map[string]*instrumentWindows
}

type instrumentWindows struct {
	cycle    window
	barAge   window
	lastPush time.Time
}

// window is a ring of the most recent millisecond samples.
type window struct {
	buf  []float64
	next int
	full bool
}

func newWindow(n int) window { return window{buf: make([]float64, n)} }

func (w *window) add(ms float64) {
	w.buf[w.next] = ms
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *window) snapshot() []float64 {
	if w.full {
		return append([]float64(nil), w.buf...)
	}
	return append([]float64(nil), w.buf[:w.next]...)
}

// NewLatencyTracker keeps the last n samples per instrument and 4n overall.
func NewLatencyTracker(n int) *LatencyTracker {
	if n <= 0 {
		n = 256
	}
	return &LatencyTracker{
		window:  n,
		overall: newWindow(4 * n),
		byKey:   make(map[string]*instrumentWindows),
	}
}

// Record measures u against the time it was pushed. Updates without a cycle
// time are ignored, as are negative delays from clock skew between the
// engine and gateway hosts.
func (lt *LatencyTracker) Record(u model.SignalUpdate, pushed time.Time) {
	if u.At.IsZero() {
		return
	}
	cycle := millis(pushed.Sub(u.At))
	if cycle < 0 {
		return
	}
	barAge := -1.0
	if u.Signal != nil && !u.Signal.TS.IsZero() {
		barAge = millis(pushed.Sub(u.Signal.TS))
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	iw, ok := lt.byKey[u.Key()]
	if !ok {
		iw = &instrumentWindows{cycle: newWindow(lt.window), barAge: newWindow(lt.window)}
		lt.byKey[u.Key()] = iw
	}
	iw.cycle.add(cycle)
	if barAge >= 0 {
		iw.barAge.add(barAge)
	}
	iw.lastPush = pushed
	lt.overall.add(cycle)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// LatencyStats summarises one window in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

// InstrumentLatency is the per-instrument entry of a LatencyReport.
type InstrumentLatency struct {
	Key      string       `json:"key"`
	Cycle    LatencyStats `json:"cycle"`
	BarAge   LatencyStats `json:"bar_age"`
	LastPush time.Time    `json:"last_push"`
}

// LatencyReport is the JSON form served on /api/latency. Overall aggregates
// cycle time across instruments.
type LatencyReport struct {
	Overall     LatencyStats        `json:"overall"`
	Instruments []InstrumentLatency `json:"instruments"`
}

// Report summarises every instrument, sorted by key.
func (lt *LatencyTracker) Report() LatencyReport {
	lt.mu.Lock()
	overall := lt.overall.snapshot()
	keys := make([]string, 0, len(lt.byKey))
	for k := range lt.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]InstrumentLatency, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, lt.instrumentLocked(k))
	}
	lt.mu.Unlock()

	return LatencyReport{Overall: summarise(overall), Instruments: rows}
}

// For returns the windows of one instrument ("exchange:symbol").
func (lt *LatencyTracker) For(key string) (InstrumentLatency, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if _, ok := lt.byKey[key]; !ok {
		return InstrumentLatency{}, false
	}
	return lt.instrumentLocked(key), true
}

func (lt *LatencyTracker) instrumentLocked(key string) InstrumentLatency {
	iw := lt.byKey[key]
	return InstrumentLatency{
		Key:      key,
		Cycle:    summarise(iw.cycle.snapshot()),
		BarAge:   summarise(iw.barAge.snapshot()),
		LastPush: iw.lastPush,
	}
}

// Count returns the number of cycle samples held across instruments.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.overall.full {
		return len(lt.overall.buf)
	}
	return lt.overall.next
}

// summarise sorts vals in place and reads nearest-rank percentiles.
func summarise(vals []float64) LatencyStats {
	if len(vals) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(vals)
	return LatencyStats{
		Count: len(vals),
		P50:   nearestRank(vals, 50),
		P95:   nearestRank(vals, 95),
		P99:   nearestRank(vals, 99),
		Max:   vals[len(vals)-1],
	}
}

func nearestRank(sorted []float64, pct float64) float64 {
	rank := int(math.Ceil(pct / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
