package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"macdwatch/internal/logger"
	"macdwatch/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// ~8h of one-minute updates per instrument.
	defaultStreamMaxLen = 500
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// NewClient creates a client without contacting the server.
func NewClient(cfg Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := NewClient(cfg)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Publisher is a signal sink that caches the latest update per instrument,
// appends it to a capped stream and publishes it on the instrument channel,
// all in one pipeline behind a circuit breaker.
//
// While the breaker is open the newest update per instrument is held back
// and flushed once a later publish succeeds.
type Publisher struct {
	client  *goredis.Client
	breaker *Breaker

	LatestTTL    time.Duration
	StreamMaxLen int64

	mu      sync.Mutex
	pending map[string]model.SignalUpdate
	written map[string]time.Time // At of the newest update written per key
	keyMu   map[string]*sync.Mutex

	// OnSkip is called for each update held back by an open breaker.
	OnSkip func()

	log *zap.SugaredLogger
}

// NewPublisher wraps an existing client. A nil breaker gets the default
// policy of 5 failures and a 10s cooldown.
func NewPublisher(client *goredis.Client, breaker *Breaker) *Publisher {
	if breaker == nil {
		breaker = NewBreaker(5, 10*time.Second)
	}
	return &Publisher{
		client:       client,
		breaker:      breaker,
		LatestTTL:    defaultLatestTTL,
		StreamMaxLen: defaultStreamMaxLen,
		pending:      make(map[string]model.SignalUpdate),
		written:      make(map[string]time.Time),
		keyMu:        make(map[string]*sync.Mutex),
		log:          logger.Named("redis"),
	}
}

func (p *Publisher) Name() string { return "redis" }

// Breaker exposes the circuit breaker for metrics wiring.
func (p *Publisher) Breaker() *Breaker { return p.breaker }

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Publish writes u. An open breaker is not an error for the caller: the
// update is parked and OnSkip is called.
func (p *Publisher) Publish(ctx context.Context, u model.SignalUpdate) error {
	_, err := p.writeNewer(ctx, u)
	if errors.Is(err, ErrCircuitOpen) {
		p.park(u)
		return nil
	}
	if err != nil {
		p.park(u)
		return fmt.Errorf("redis publish %s: %w", u.Key(), err)
	}
	p.flush(ctx)
	return nil
}

func (p *Publisher) write(ctx context.Context, u model.SignalUpdate) error {
	data := string(u.JSON())

	pipe := p.client.Pipeline()
	pipe.Set(ctx, LatestKey(u.Exchange, u.Symbol), data, p.LatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: StreamKey(u.Exchange, u.Symbol),
		MaxLen: p.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, Channel(u.Exchange, u.Symbol), data)
	_, err := pipe.Exec(ctx)
	return err
}

// lockKey serialises writes for one instrument.
func (p *Publisher) lockKey(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.keyMu[key]
	if !ok {
		m = &sync.Mutex{}
		p.keyMu[key] = m
	}
	return m
}

// writeNewer writes u through the breaker unless an update at or after u.At
// was already written for the same instrument. Publish and flush run on
// several goroutines at once; the check and the write happen under the
// instrument's lock so an older update never lands after a newer one.
func (p *Publisher) writeNewer(ctx context.Context, u model.SignalUpdate) (bool, error) {
	key := u.Key()
	km := p.lockKey(key)
	km.Lock()
	defer km.Unlock()

	p.mu.Lock()
	last, seen := p.written[key]
	p.mu.Unlock()
	if seen && !u.At.After(last) {
		return false, nil
	}

	if err := p.breaker.Do(func() error { return p.write(ctx, u) }); err != nil {
		return false, err
	}
	p.mu.Lock()
	p.written[key] = u.At
	if prev, ok := p.pending[key]; ok && !prev.At.After(u.At) {
		delete(p.pending, key)
	}
	p.mu.Unlock()
	return true, nil
}

// park holds u back and reports the skip.
func (p *Publisher) park(u model.SignalUpdate) {
	p.hold(u)
	if p.OnSkip != nil {
		p.OnSkip()
	}
}

// hold keeps only the newest held-back update per instrument, and nothing
// that is not newer than the last write.
func (p *Publisher) hold(u model.SignalUpdate) {
	key := u.Key()
	p.mu.Lock()
	last, seen := p.written[key]
	prev, parked := p.pending[key]
	if (!seen || u.At.After(last)) && (!parked || !u.At.Before(prev.At)) {
		p.pending[key] = u
	}
	p.mu.Unlock()
}

// flush writes parked updates for other instruments after a successful
// publish. Entries overtaken by a newer write are skipped.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.pending
	p.pending = make(map[string]model.SignalUpdate)
	p.mu.Unlock()

	flushed := 0
	for key, u := range batch {
		ok, err := p.writeNewer(ctx, u)
		if err != nil {
			p.hold(u)
			p.log.Warnf("flush %s: %v", key, err)
			continue
		}
		if ok {
			flushed++
		}
	}
	if flushed > 0 {
		p.log.Infof("flushed %d held-back updates", flushed)
	}
}

// Pending reports how many instruments have a held-back update.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
