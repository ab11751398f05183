// Package poller drives the watch loop: every Interval it fetches each
// instrument's recent prices, normalizes them, evaluates the MACD crossover
// and hands one SignalUpdate per instrument to every sink.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"macdwatch/internal/indicator"
	"macdwatch/internal/logger"
	"macdwatch/internal/markethours"
	"macdwatch/internal/model"
	"macdwatch/internal/normalize"
)

// Config controls cadence and fan-out.
type Config struct {
	Instruments     []model.Instrument
	Interval        time.Duration // default 60s
	Concurrency     int           // parallel instruments per cycle, default 4
	ChartWindow     int           // trailing points per update, default 50
	MarketHoursOnly bool
	FetchTimeout    time.Duration // per-instrument fetch deadline, default 30s
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.ChartWindow <= 0 {
		c.ChartWindow = 50
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
}

// Hooks are optional observation points, typically wired to Prometheus.
// They may be called from several goroutines at once.
type Hooks struct {
	OnCycle        func(d time.Duration, ok, total int)
	OnMarketClosed func(now time.Time)
	OnFetch        func(inst model.Instrument, d time.Duration, err error)
	OnDropped      func(inst model.Instrument)
	OnDuplicate    func(inst model.Instrument)
	OnInsufficient func(inst model.Instrument)
	OnEvaluated    func(inst model.Instrument, sig model.TradeSignal, d time.Duration)
	OnSinkError    func(sink string, err error)
}

// Poller owns the schedule. The normalizer and engine are shared by all
// instruments; neither holds per-call state.
type Poller struct {
	cfg        Config
	feed       model.SeriesFetcher
	normalizer *normalize.Normalizer
	engine     *indicator.Engine
	sinks      []model.SignalSink

	Hooks Hooks

	// Now is the clock; defaults to time.Now.
	Now func() time.Time

	log *zap.SugaredLogger
}

// New creates a poller. A nil normalizer uses IST as the display zone.
func New(cfg Config, feed model.SeriesFetcher, n *normalize.Normalizer, engine *indicator.Engine, sinks ...model.SignalSink) *Poller {
	cfg.defaults()
	if n == nil {
		n = normalize.New(nil)
	}
	return &Poller{
		cfg:        cfg,
		feed:       feed,
		normalizer: n,
		engine:     engine,
		sinks:      sinks,
		Now:        time.Now,
		log:        logger.Named("poller"),
	}
}

// Run executes one cycle immediately and then one every Interval until ctx is
// cancelled. With MarketHoursOnly, closed-market periods are slept through.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Infof("watching %d instruments every %v (MACD %s, concurrency=%d)",
		len(p.cfg.Instruments), p.cfg.Interval, p.engine.Config(), p.cfg.Concurrency)

	for {
		now := p.Now()
		if p.cfg.MarketHoursOnly && !markethours.IsMarketOpen(now) {
			p.log.Infof("%s", markethours.StatusString(now))
			if p.Hooks.OnMarketClosed != nil {
				p.Hooks.OnMarketClosed(now)
			}
			if !sleep(ctx, markethours.UntilOpen(now)) {
				return ctx.Err()
			}
			continue
		}

		p.RunCycle(ctx, now)

		if !sleep(ctx, p.cfg.Interval) {
			return ctx.Err()
		}
	}
}

// sleep waits for d or ctx, reporting whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RunCycle evaluates every instrument once, at most Concurrency at a time,
// and returns the updates in instrument order after all sinks were called.
func (p *Poller) RunCycle(ctx context.Context, now time.Time) []model.SignalUpdate {
	start := time.Now()
	updates := make([]model.SignalUpdate, len(p.cfg.Instruments))

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, inst := range p.cfg.Instruments {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, inst model.Instrument) {
			defer wg.Done()
			defer func() { <-sem }()
			u := p.Evaluate(ctx, inst, now)
			p.publish(ctx, u)
			updates[i] = u
		}(i, inst)
	}
	wg.Wait()

	ok := 0
	for _, u := range updates {
		if u.Status != model.StatusFeedError {
			ok++
		}
	}
	d := time.Since(start)
	if p.Hooks.OnCycle != nil {
		p.Hooks.OnCycle(d, ok, len(updates))
	}
	p.log.Debugf("cycle done in %v: %d/%d instruments fetched", d, ok, len(updates))
	return updates
}

// Evaluate runs fetch → normalize → evaluate for one instrument. It never
// fails: problems are reported through the update's Status and Err.
func (p *Poller) Evaluate(ctx context.Context, inst model.Instrument, now time.Time) model.SignalUpdate {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(inst.Key(), now))
	log := logger.FromContext(ctx, p.log)

	u := model.SignalUpdate{Symbol: inst.Symbol, Exchange: inst.Exchange, At: now}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	fetchStart := time.Now()
	raw, err := p.feed.Fetch(fetchCtx, inst)
	cancel()
	if p.Hooks.OnFetch != nil {
		p.Hooks.OnFetch(inst, time.Since(fetchStart), err)
	}
	if err != nil {
		log.Warnf("fetch %s failed: %v", inst.Key(), err)
		u.Status = model.StatusFeedError
		u.Err = fmt.Sprintf("fetch %s: %v", inst.Symbol, err)
		return u
	}

	computeStart := time.Now()
	n := *p.normalizer
	n.OnDropped = func(r model.RawSample, err error) {
		log.Debugf("%s: dropped %v", inst.Key(), err)
		if p.normalizer.OnDropped != nil {
			p.normalizer.OnDropped(r, err)
		}
		if p.Hooks.OnDropped != nil {
			p.Hooks.OnDropped(inst)
		}
	}
	n.OnDuplicate = func(ts time.Time) {
		if p.normalizer.OnDuplicate != nil {
			p.normalizer.OnDuplicate(ts)
		}
		if p.Hooks.OnDuplicate != nil {
			p.Hooks.OnDuplicate(inst)
		}
	}

	series, err := n.Normalize(raw)
	if err == nil {
		u.Samples = len(series)
		var ev model.Evaluation
		ev, err = p.engine.Evaluate(series)
		if err == nil {
			sig := ev.Signal
			u.Status = model.StatusOK
			u.Signal = &sig
			u.Points = append([]model.IndicatorPoint(nil), ev.Tail(p.cfg.ChartWindow)...)
			if p.Hooks.OnEvaluated != nil {
				p.Hooks.OnEvaluated(inst, sig, time.Since(computeStart))
			}
			log.Debugf("%s %s macd=%.4f signal=%.4f samples=%d",
				inst.Key(), sig.Kind, sig.MACD, sig.Signal, u.Samples)
			return u
		}
	}

	if errors.Is(err, model.ErrInsufficientData) {
		if p.Hooks.OnInsufficient != nil {
			p.Hooks.OnInsufficient(inst)
		}
		log.Infof("not enough data for %s (%v)", inst.Key(), err)
		u.Status = model.StatusInsufficientData
		u.Err = "Not enough data for " + inst.Symbol
		return u
	}

	// Normalize and Evaluate only fail with ErrInsufficientData today.
	log.Errorf("evaluate %s: %v", inst.Key(), err)
	u.Status = model.StatusInsufficientData
	u.Err = err.Error()
	return u
}

// publish hands u to every sink; a failing sink does not stop the others.
func (p *Poller) publish(ctx context.Context, u model.SignalUpdate) {
	for _, s := range p.sinks {
		if err := s.Publish(ctx, u); err != nil {
			p.log.Warnf("sink %s: publish %s: %v", s.Name(), u.Key(), err)
			if p.Hooks.OnSinkError != nil {
				p.Hooks.OnSinkError(s.Name(), err)
			}
		}
	}
}
