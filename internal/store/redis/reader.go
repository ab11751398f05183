package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/go-redis/redis/v8"

	"macdwatch/internal/model"
)

// Reader serves the gateway: latest updates, recent history and the live
// update subscription.
type Reader struct {
	client *goredis.Client
}

func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// Latest returns the cached update for one instrument, or nil when absent.
func (r *Reader) Latest(ctx context.Context, exchange, symbol string) (*model.SignalUpdate, error) {
	raw, err := r.client.Get(ctx, LatestKey(exchange, symbol)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET latest %s:%s: %w", exchange, symbol, err)
	}
	u, err := DecodeUpdate(raw)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// LatestAll returns every cached update, sorted by exchange and symbol.
func (r *Reader) LatestAll(ctx context.Context) ([]model.SignalUpdate, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, latestPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis SCAN latest: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET latest: %w", err)
	}
	out := make([]model.SignalUpdate, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		u, err := DecodeUpdate([]byte(s))
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// History returns up to n most recent updates for an instrument, newest first.
func (r *Reader) History(ctx context.Context, exchange, symbol string, n int64) ([]model.SignalUpdate, error) {
	msgs, err := r.client.XRevRangeN(ctx, StreamKey(exchange, symbol), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s:%s: %w", exchange, symbol, err)
	}
	out := make([]model.SignalUpdate, 0, len(msgs))
	for _, m := range msgs {
		data, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		u, err := DecodeUpdate([]byte(data))
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// Subscribe PSUBSCRIBEs to every signal channel and forwards decoded updates
// to out, dropping them if out is full. Blocks until ctx is cancelled.
func (r *Reader) Subscribe(ctx context.Context, out chan<- model.SignalUpdate) error {
	pubsub := r.client.PSubscribe(ctx, ChannelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis PSUBSCRIBE %s: %w", ChannelPattern, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			u, err := DecodeUpdate([]byte(msg.Payload))
			if err != nil {
				continue
			}
			select {
			case out <- u:
			default:
			}
		}
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

// DecodeUpdate parses a SignalUpdate JSON payload.
func DecodeUpdate(b []byte) (model.SignalUpdate, error) {
	var u model.SignalUpdate
	if err := json.Unmarshal(b, &u); err != nil {
		return u, fmt.Errorf("decode signal update: %w", err)
	}
	if u.Symbol == "" {
		return u, fmt.Errorf("decode signal update: missing symbol")
	}
	return u, nil
}
