package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"macdwatch/internal/model"
	"macdwatch/internal/normalize"
)

// CSV replays price history from a file. The header must name a timestamp
// column (timestamp, ts, time, date or datetime) and a close column; an
// optional symbol column restricts rows to the requested instrument.
type CSV struct {
	Path string
}

func (c *CSV) Fetch(ctx context.Context, inst model.Instrument) ([]model.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("csv feed: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, inst.Symbol)
}

// ReadCSV parses rows into raw samples. symbol filters on the symbol column
// when both are present. Unparseable timestamps or closes become samples with
// a nil close.
func ReadCSV(r io.Reader, symbol string) ([]model.RawSample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	tsCol, closeCol, symCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "timestamp", "ts", "time", "date", "datetime":
			if tsCol < 0 {
				tsCol = i
			}
		case "close", "price", "ltp":
			if closeCol < 0 {
				closeCol = i
			}
		case "symbol":
			symCol = i
		}
	}
	if tsCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("csv header %v: need timestamp and close columns", header)
	}

	var out []model.RawSample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if symCol >= 0 && symbol != "" && symCol < len(rec) && !strings.EqualFold(strings.TrimSpace(rec[symCol]), symbol) {
			continue
		}
		if tsCol >= len(rec) || closeCol >= len(rec) {
			out = append(out, model.RawSample{})
			continue
		}
		ts, naive, err := normalize.ParseTimestamp(rec[tsCol])
		if err != nil {
			out = append(out, model.RawSample{})
			continue
		}
		s := model.RawSample{TS: ts, Naive: naive}
		if v, err := strconv.ParseFloat(strings.TrimSpace(rec[closeCol]), 64); err == nil {
			s.Close = model.Price(v)
		}
		out = append(out, s)
	}
	return out, nil
}
