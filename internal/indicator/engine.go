package indicator

import (
	"fmt"

	"macdwatch/internal/model"
)

// Engine evaluates MACD crossovers over normalized price series.
// It holds only its configuration, so one Engine serves any number of
// instruments concurrently and repeated calls with the same series return
// identical results.
type Engine struct {
	cfg MACDConfig
}

// NewEngine creates an engine with the given spans.
func NewEngine(cfg MACDConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's spans.
func (e *Engine) Config() MACDConfig { return e.cfg }

// Evaluate computes the indicator points for series and the trade signal for
// its most recent bar. Series with fewer than two samples return
// model.ErrInsufficientData.
func (e *Engine) Evaluate(series model.PriceSeries) (model.Evaluation, error) {
	if len(series) < 2 {
		return model.Evaluation{}, fmt.Errorf("%w: %d samples, need 2", model.ErrInsufficientData, len(series))
	}
	points := Points(series, e.cfg)
	n := len(points)
	return model.Evaluation{
		Points: points,
		Signal: Decide(points[n-2], points[n-1]),
	}, nil
}
