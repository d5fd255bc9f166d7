package backtest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, f Feeder) []float64 {
	t.Helper()
	var closes []float64
	for {
		bar, ok, err := f.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return closes
		}
		closes = append(closes, bar.Close)
	}
}

func TestCSVKlineFeeder_OHLCV(t *testing.T) {
	csv := strings.Join([]string{
		"ts,open,high,low,close,volume",
		"1,100,101,99,100.5,12",
		"2,100.5,102,100,101.5,15",
	}, "\n")
	f, err := NewCSVKlineFeeder(strings.NewReader(csv))
	require.NoError(t, err)

	bar, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 101.0, bar.High)
	assert.Equal(t, 99.0, bar.Low)
	assert.Equal(t, 100.5, bar.Close)
	assert.Equal(t, 12.0, bar.Volume)

	rest := drain(t, f)
	assert.Equal(t, []float64{101.5}, rest)
}

func TestCSVKlineFeeder_TimestampClosePairs(t *testing.T) {
	csv := "ts,close\n1,100\n2,101\n3,99.5\n"
	f, err := NewCSVKlineFeeder(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 99.5}, drain(t, f))
}

func TestCSVKlineFeeder_SkipsMalformedRows(t *testing.T) {
	csv := "1,100\nnot,numeric\n2,101\n"
	f, err := NewCSVKlineFeeder(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101}, drain(t, f))
}

func TestPriceFeeder_Exhausts(t *testing.T) {
	f := NewPriceFeeder([]float64{1, 2, 3})
	assert.Equal(t, []float64{1, 2, 3}, drain(t, f))

	_, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
