package indicator

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"macdwatch/internal/model"
)

// Crossover classifies the move from prev to last.
//
// BUY: MACD strictly below signal at prev and strictly above at last.
// SELL: strictly above at prev and strictly below at last.
// Anything else, including equality at either point or NaN, is NONE.
func Crossover(prev, last model.IndicatorPoint) model.SignalKind {
	switch {
	case prev.MACD < prev.Signal && last.MACD > last.Signal:
		return model.SignalBuy
	case prev.MACD > prev.Signal && last.MACD < last.Signal:
		return model.SignalSell
	default:
		return model.SignalNone
	}
}

// RoundDifference returns |macd - signal| rounded to 2 decimals. The exact
// binary value is rounded, ties to even, so 0.145 (stored as 0.14499...)
// gives 0.14 and an exact tie such as 0.125 gives 0.12.
func RoundDifference(macd, signal float64) float64 {
	d := math.Abs(macd - signal)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return d
	}
	// 'f' with a wide precision spells out the stored value; the shortest
	// form would turn 0.14499... back into a tie.
	exact, err := decimal.NewFromString(strconv.FormatFloat(d, 'f', 40, 64))
	if err != nil {
		return d
	}
	f, _ := exact.RoundBank(2).Float64()
	return f
}

// Decide builds the TradeSignal for the last two points.
func Decide(prev, last model.IndicatorPoint) model.TradeSignal {
	return model.TradeSignal{
		Kind:       Crossover(prev, last),
		TS:         last.TS,
		MACD:       last.MACD,
		Signal:     last.Signal,
		Difference: RoundDifference(last.MACD, last.Signal),
	}
}
