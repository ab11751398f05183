package redis

import "strings"

// Key layout:
//
//	sig:latest:{EXCHANGE}:{SYMBOL}   STRING  latest SignalUpdate JSON (TTL)
//	sig:stream:{EXCHANGE}:{SYMBOL}   STREAM  recent SignalUpdates, field "data"
//	pub:signal:{EXCHANGE}:{SYMBOL}   PUBSUB  every SignalUpdate
const (
	latestPrefix  = "sig:latest:"
	streamPrefix  = "sig:stream:"
	channelPrefix = "pub:signal:"

	// ChannelPattern matches every signal channel (PSUBSCRIBE).
	ChannelPattern = channelPrefix + "*"
)

func LatestKey(exchange, symbol string) string {
	return latestPrefix + exchange + ":" + symbol
}

func StreamKey(exchange, symbol string) string {
	return streamPrefix + exchange + ":" + symbol
}

func Channel(exchange, symbol string) string {
	return channelPrefix + exchange + ":" + symbol
}

// ParseChannel splits a signal channel back into exchange and symbol.
func ParseChannel(ch string) (exchange, symbol string, ok bool) {
	rest, found := strings.CutPrefix(ch, channelPrefix)
	if !found {
		return "", "", false
	}
	exchange, symbol, ok = strings.Cut(rest, ":")
	return exchange, symbol, ok && exchange != "" && symbol != ""
}
