package backtest

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"tradekit/pkg/market/indicators"
)

// CSVKlineFeeder reads kline rows from CSV and emits them as bars. Rows with
// at least five numeric columns are treated as ts,open,high,low,close[,volume];
// shorter rows use the last numeric column as the close. A header row is
// skipped automatically.
type CSVKlineFeeder struct {
	bars []indicators.Bar
	idx  int
}

// NewCSVKlineFeederFromFile constructs a CSV feeder from a file path.
func NewCSVKlineFeederFromFile(path string) (*CSVKlineFeeder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewCSVKlineFeeder(f)
}

// NewCSVKlineFeeder constructs a CSV feeder from an io.Reader.
func NewCSVKlineFeeder(r io.Reader) (*CSVKlineFeeder, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	var bars []indicators.Bar
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		if bar, ok := parseBarRow(rec); ok {
			bars = append(bars, bar)
		}
	}
	return &CSVKlineFeeder{bars: bars}, nil
}

func parseBarRow(rec []string) (indicators.Bar, bool) {
	vals := make([]float64, 0, len(rec))
	for _, field := range rec {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return indicators.Bar{}, false
		}
		vals = append(vals, v)
	}
	if len(vals) >= 5 {
		bar := indicators.Bar{High: vals[2], Low: vals[3], Close: vals[4]}
		if len(vals) >= 6 {
			bar.Volume = vals[5]
		}
		return bar, true
	}
	if len(vals) == 0 {
		return indicators.Bar{}, false
	}
	px := vals[len(vals)-1]
	return indicators.Bar{High: px, Low: px, Close: px}, true
}

// Next returns the next bar from the parsed series.
func (f *CSVKlineFeeder) Next(ctx context.Context) (indicators.Bar, bool, error) {
	if f.idx >= len(f.bars) {
		return indicators.Bar{}, false, nil
	}
	bar := f.bars[f.idx]
	f.idx++
	return bar, true, nil
}
