package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"macdwatch/internal/model"
)

// Watchlist is the YAML form of the instrument list:
//
//	instruments:
//	  - symbol: HDFCBANK
//	    exchange: NSE
//	    token: "1333"
type Watchlist struct {
	Instruments []model.Instrument `yaml:"instruments"`
}

// LoadWatchlist reads instruments from a YAML file.
func LoadWatchlist(path string) ([]model.Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	return ParseWatchlist(data)
}

// ParseWatchlist decodes a YAML watchlist. Symbols and exchanges are
// upper-cased and exchange defaults to NSE.
func ParseWatchlist(data []byte) ([]model.Instrument, error) {
	var wl Watchlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return nil, fmt.Errorf("decode watchlist: %w", err)
	}
	out := make([]model.Instrument, 0, len(wl.Instruments))
	for i, inst := range wl.Instruments {
		inst.Symbol = strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if inst.Symbol == "" {
			return nil, fmt.Errorf("watchlist entry %d has no symbol", i)
		}
		inst.Exchange = strings.ToUpper(strings.TrimSpace(inst.Exchange))
		if inst.Exchange == "" {
			inst.Exchange = "NSE"
		}
		out = append(out, inst)
	}
	return out, nil
}
