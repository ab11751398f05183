package smartconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Candle intervals accepted by getCandleData.
const (
	OneMinute     = "ONE_MINUTE"
	ThreeMinute   = "THREE_MINUTE"
	FiveMinute    = "FIVE_MINUTE"
	TenMinute     = "TEN_MINUTE"
	FifteenMinute = "FIFTEEN_MINUTE"
	ThirtyMinute  = "THIRTY_MINUTE"
	OneHour       = "ONE_HOUR"
	OneDay        = "ONE_DAY"
)

var intervals = map[string]string{
	"1m": OneMinute, "3m": ThreeMinute, "5m": FiveMinute, "10m": TenMinute,
	"15m": FifteenMinute, "30m": ThirtyMinute, "1h": OneHour, "1d": OneDay,
}

// Interval maps a short form like "1m" or "1h" to the API constant.
func Interval(short string) (string, error) {
	if v, ok := intervals[short]; ok {
		return v, nil
	}
	for _, v := range intervals {
		if v == short {
			return v, nil
		}
	}
	return "", fmt.Errorf("unsupported candle interval %q", short)
}

// candleTimeLayout is the fromdate/todate format, in exchange local time.
const candleTimeLayout = "2006-01-02 15:04"

var exchangeZone = time.FixedZone("IST", 5*3600+30*60)

type CandleRequest struct {
	Exchange    string
	SymbolToken string
	Interval    string
	From, To    time.Time
}

// Candle is one OHLCV row. Timestamp is kept as sent by the API
// (usually RFC3339 with a +05:30 offset) so callers decide how to parse it.
type Candle struct {
	Timestamp string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// GetCandleData fetches historical candles for one instrument.
func (c *Client) GetCandleData(ctx context.Context, r CandleRequest) ([]Candle, error) {
	params := map[string]string{
		"exchange":    r.Exchange,
		"symboltoken": r.SymbolToken,
		"interval":    r.Interval,
		"fromdate":    r.From.In(exchangeZone).Format(candleTimeLayout),
		"todate":      r.To.In(exchangeZone).Format(candleTimeLayout),
	}

	var rows [][]any
	err := c.withSession(ctx, func() error {
		data, err := c.post(ctx, routeCandles, params)
		if err != nil {
			return err
		}
		rows = nil
		if len(data) == 0 || string(data) == "null" {
			return nil
		}
		return json.Unmarshal(data, &rows)
	})
	if err != nil {
		return nil, fmt.Errorf("candles %s:%s: %w", r.Exchange, r.SymbolToken, err)
	}

	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		cd, err := parseCandleRow(row)
		if err != nil {
			return nil, fmt.Errorf("candles %s:%s row %d: %w", r.Exchange, r.SymbolToken, i, err)
		}
		out = append(out, cd)
	}
	return out, nil
}

func parseCandleRow(row []any) (Candle, error) {
	if len(row) < 5 {
		return Candle{}, fmt.Errorf("want [ts, o, h, l, c, v], got %d fields", len(row))
	}
	ts, ok := row[0].(string)
	if !ok {
		return Candle{}, fmt.Errorf("timestamp is %T", row[0])
	}
	nums := make([]float64, 5)
	for i := 1; i < len(row) && i <= 5; i++ {
		f, ok := row[i].(float64)
		if !ok && row[i] != nil {
			return Candle{}, fmt.Errorf("field %d is %T", i, row[i])
		}
		nums[i-1] = f
	}
	return Candle{
		Timestamp: ts,
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    nums[4],
	}, nil
}
