package feed

import (
	"context"
	"fmt"
	"time"

	"macdwatch/internal/model"
	"macdwatch/internal/normalize"
	"macdwatch/pkg/smartconnect"
)

// CandleClient is the slice of the SmartAPI client the feed needs.
type CandleClient interface {
	GetCandleData(ctx context.Context, r smartconnect.CandleRequest) ([]smartconnect.Candle, error)
}

// SmartConnect fetches historical candles and turns each close into a sample.
type SmartConnect struct {
	client   CandleClient
	interval string
	lookback time.Duration

	// Now is the clock used to pick the request window. Defaults to time.Now.
	Now func() time.Time
}

// NewSmartConnect validates interval ("1m", "5m", ...) up front.
func NewSmartConnect(client CandleClient, interval string, lookback time.Duration) (*SmartConnect, error) {
	if interval == "" {
		interval = DefaultInterval
	}
	iv, err := smartconnect.Interval(interval)
	if err != nil {
		return nil, err
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &SmartConnect{client: client, interval: iv, lookback: lookback, Now: time.Now}, nil
}

// Fetch requests [now-lookback, now] for inst. Rows whose timestamp cannot be
// parsed come back with a nil close so the normalizer drops and counts them.
func (f *SmartConnect) Fetch(ctx context.Context, inst model.Instrument) ([]model.RawSample, error) {
	if inst.Token == "" {
		return nil, fmt.Errorf("smartconnect feed: %s has no symbol token", inst.Key())
	}
	now := f.Now()
	candles, err := f.client.GetCandleData(ctx, smartconnect.CandleRequest{
		Exchange:    inst.Exchange,
		SymbolToken: inst.Token,
		Interval:    f.interval,
		From:        now.Add(-f.lookback),
		To:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("smartconnect feed %s: %w", inst.Key(), err)
	}

	out := make([]model.RawSample, 0, len(candles))
	for _, c := range candles {
		ts, naive, err := normalize.ParseTimestamp(c.Timestamp)
		if err != nil {
			out = append(out, model.RawSample{})
			continue
		}
		out = append(out, model.RawSample{TS: ts, Naive: naive, Close: model.Price(c.Close)})
	}
	return out, nil
}
