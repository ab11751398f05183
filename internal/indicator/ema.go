package indicator

// EMA is a recursive exponential moving average seeded with the first value
// (adjust=false): EMA0 = x0, EMAi = a*xi + (1-a)*EMAi-1 with a = 2/(span+1).
// O(1) per update.
type EMA struct {
	span  int
	alpha float64
	value float64
	count int
}

// NewEMA creates an EMA for the given span. Spans below 1 are treated as 1.
func NewEMA(span int) *EMA {
	if span < 1 {
		span = 1
	}
	return &EMA{span: span, alpha: Alpha(span)}
}

// Alpha returns the smoothing factor 2/(span+1).
func Alpha(span int) float64 {
	if span < 1 {
		span = 1
	}
	return 2.0 / float64(span+1)
}

// Update feeds x and returns the new average.
func (e *EMA) Update(x float64) float64 {
	e.count++
	if e.count == 1 {
		e.value = x
		return e.value
	}
	// Same recursion as a*x + (1-a)*prev, written so a flat input stays exactly flat.
	e.value += e.alpha * (x - e.value)
	return e.value
}

func (e *EMA) Value() float64 { return e.value }
func (e *EMA) Span() int       { return e.span }

// Ready reports whether at least one value has been fed. There is no warm-up
// gate: the seed is a valid (biased) average from the first sample on.
func (e *EMA) Ready() bool { return e.count > 0 }

// EMASeries returns the EMA of values, one output per input.
func EMASeries(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	ema := NewEMA(span)
	for i, v := range values {
		out[i] = ema.Update(v)
	}
	return out
}
