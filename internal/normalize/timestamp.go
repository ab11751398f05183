package normalize

import (
	"fmt"
	"strings"
	"time"
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// ParseTimestamp parses a feed timestamp. Strings with an offset are returned
// as-is with naive=false; strings without one are returned in UTC with
// naive=true so the normalizer can apply the feed-zone rule.
func ParseTimestamp(s string) (ts time.Time, naive bool, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, false, nil
		}
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognised timestamp %q", s)
}
