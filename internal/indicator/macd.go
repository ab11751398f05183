package indicator

import (
	"fmt"

	"macdwatch/internal/model"
)

// MACDConfig holds the three EMA spans.
type MACDConfig struct {
	Short  int `json:"short"`
	Long   int `json:"long"`
	Signal int `json:"signal"`
}

// DefaultMACDConfig returns spans 30/60/9.
func DefaultMACDConfig() MACDConfig {
	return MACDConfig{Short: 30, Long: 60, Signal: 9}
}

// Validate reports configurations that compute but make no economic sense.
// The engine itself accepts them.
func (c MACDConfig) Validate() error {
	if c.Short < 1 || c.Long < 1 || c.Signal < 1 {
		return fmt.Errorf("macd spans must be positive: %d/%d/%d", c.Short, c.Long, c.Signal)
	}
	if c.Long <= c.Short {
		return fmt.Errorf("macd long span %d must exceed short span %d", c.Long, c.Short)
	}
	return nil
}

func (c MACDConfig) String() string {
	return fmt.Sprintf("MACD(%d,%d,%d)", c.Short, c.Long, c.Signal)
}

// MACDLines returns the MACD line (EMA short - EMA long) and its signal line
// (EMA of the MACD line, seeded with its first value).
func MACDLines(closes []float64, cfg MACDConfig) (macd, signal []float64) {
	short := EMASeries(closes, cfg.Short)
	long := EMASeries(closes, cfg.Long)

	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = short[i] - long[i]
	}
	signal = EMASeries(macd, cfg.Signal)
	return macd, signal
}

// Points computes one IndicatorPoint per sample of series.
func Points(series model.PriceSeries, cfg MACDConfig) []model.IndicatorPoint {
	macd, signal := MACDLines(series.Closes(), cfg)
	points := make([]model.IndicatorPoint, len(series))
	for i, s := range series {
		points[i] = model.IndicatorPoint{TS: s.TS, MACD: macd[i], Signal: signal[i]}
	}
	return points
}
