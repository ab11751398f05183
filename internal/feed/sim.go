package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"macdwatch/internal/model"
)

// Starting prices in rupees for a few common symbols; others start at 1000.
var simStartPrices = map[string]float64{
	"HDFCBANK": 1650.0,
	"RELIANCE": 2850.0,
	"INFY":     1500.0,
	"TCS":      3900.0,
	"SBIN":     800.0,
}

// Sim is an offline feed: a per-instrument random walk (±0.1% per bar)
// sampled once per Step. Each instrument keeps its history across fetches so
// consecutive cycles see a continuous series.
type Sim struct {
	Step     time.Duration
	Lookback time.Duration

	// GapRate is the probability that a bar is delivered without a close.
	GapRate float64

	// Now is the clock; defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	series map[string]*simSeries
}

type simSeries struct {
	last  time.Time
	price float64
	bars  []model.RawSample
}

// NewSim seeds the walk; equal seeds and clocks give equal series.
func NewSim(seed int64, step, lookback time.Duration) *Sim {
	if step <= 0 {
		step = time.Minute
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Sim{
		Step:     step,
		Lookback: lookback,
		Now:      time.Now,
		rng:      rand.New(rand.NewSource(seed)),
		series:   make(map[string]*simSeries),
	}
}

func (s *Sim) Fetch(ctx context.Context, inst model.Instrument) ([]model.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.Now().UTC().Truncate(s.Step)

	s.mu.Lock()
	defer s.mu.Unlock()

	ser, ok := s.series[inst.Key()]
	if !ok {
		start := simStartPrices[inst.Symbol]
		if start == 0 {
			start = 1000.0
		}
		ser = &simSeries{last: now.Add(-s.Lookback), price: start}
		s.series[inst.Key()] = ser
	}

	for ts := ser.last.Add(s.Step); !ts.After(now); ts = ts.Add(s.Step) {
		ser.price = s.walk(ser.price)
		bar := model.RawSample{TS: ts, Close: model.Price(ser.price)}
		if s.GapRate > 0 && s.rng.Float64() < s.GapRate {
			bar.Close = nil
		}
		ser.bars = append(ser.bars, bar)
		ser.last = ts
	}

	cutoff := now.Add(-s.Lookback)
	i := 0
	for i < len(ser.bars) && !ser.bars[i].TS.After(cutoff) {
		i++
	}
	ser.bars = ser.bars[i:]

	out := make([]model.RawSample, len(ser.bars))
	copy(out, ser.bars)
	return out, nil
}

// walk applies a tiny random walk, rounded to the 5 paise tick.
func (s *Sim) walk(price float64) float64 {
	pct := (s.rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	next = float64(int64(next*20+0.5)) / 20
	if next <= 0 {
		next = price
	}
	return next
}
