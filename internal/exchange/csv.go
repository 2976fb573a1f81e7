package exchange

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"barbot-go/internal/signal"
)

// LoadCSV reads timestamp,open,high,low,close,volume rows for one instrument.
func LoadCSV(path, instrument string) ([]signal.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars %s: %w", path, err)
	}
	defer f.Close()
	bars, err := ParseCSV(f, instrument)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ParseCSV decodes bars and enforces strictly increasing timestamps. A header row
// is skipped when its first cell is not a timestamp.
func ParseCSV(r io.Reader, instrument string) ([]signal.Bar, error) {
	instrument = strings.ToUpper(strings.TrimSpace(instrument))
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 6
	reader.TrimLeadingSpace = true

	var bars []signal.Bar
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, signal.NewInputError(signal.ErrMissingField, instrument, time.Time{}, fmt.Sprintf("line %d: %v", line, err))
		}
		var vals [5]float64
		for i := range vals {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, signal.NewInputError(signal.ErrMissingField, instrument, ts, fmt.Sprintf("line %d column %d: %v", line, i+2, err))
			}
			vals[i] = v
		}
		bar := signal.Bar{
			Instrument: instrument,
			Ts:         ts,
			Open:       vals[0],
			High:       vals[1],
			Low:        vals[2],
			Close:      vals[3],
			Volume:     vals[4],
		}
		if err := bar.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(bars); n > 0 {
			prev := bars[n-1].Ts
			if ts.Equal(prev) {
				return nil, signal.NewInputError(signal.ErrDuplicateBar, instrument, ts, fmt.Sprintf("line %d", line))
			}
			if ts.Before(prev) {
				return nil, signal.NewInputError(signal.ErrOutOfOrder, instrument, ts, fmt.Sprintf("line %d", line))
			}
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseTimestamp accepts RFC3339 or unix seconds (milliseconds when 13 digits).
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if len(raw) >= 13 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}
