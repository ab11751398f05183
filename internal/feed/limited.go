package feed

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"macdwatch/internal/model"
)

// Limited wraps a feed with a token-bucket limiter shared by every instrument,
// keeping a whole poll cycle under the broker's request quota.
type Limited struct {
	next    Feed
	limiter *rate.Limiter
}

// NewLimited allows perSecond requests with a burst of the same size
// (minimum 1). perSecond <= 0 disables limiting.
func NewLimited(next Feed, perSecond float64) *Limited {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &Limited{next: next, limiter: lim}
}

func (l *Limited) Fetch(ctx context.Context, inst model.Instrument) ([]model.RawSample, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", inst.Key(), err)
	}
	return l.next.Fetch(ctx, inst)
}
