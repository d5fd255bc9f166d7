package backtest

import (
	"context"

	"tradekit/pkg/market/indicators"
)

// PriceFeeder emits bars built from a static close series.
type PriceFeeder struct {
	prices []float64
	idx    int
}

func NewPriceFeeder(prices []float64) *PriceFeeder {
	return &PriceFeeder{prices: prices}
}

func (f *PriceFeeder) Next(ctx context.Context) (indicators.Bar, bool, error) {
	if f.idx >= len(f.prices) {
		return indicators.Bar{}, false, nil
	}
	px := f.prices[f.idx]
	f.idx++
	return indicators.Bar{High: px, Low: px, Close: px}, true, nil
}
