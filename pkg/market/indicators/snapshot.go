package indicators

import (
	"math"

	"tradekit/pkg/decision"
)

// Snapshot tuning used by ExitSnapshot.
const (
	atrPeriod    = 14
	emaPeriod    = 20
	volumeWindow = 20
)

// ExitSnapshot condenses a bar series into the bundle the exit engine uses
// for trailing-stop sizing. Returns nil when the series is too short to
// produce a warm ATR, in which case the exit engine falls back to its base
// trailing distance.
func ExitSnapshot(bars []Bar) *decision.ExitIndicators {
	if len(bars) <= atrPeriod {
		return nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	atr := ATR(bars, atrPeriod)
	lastATR := atr[len(atr)-1]
	lastClose := closes[len(closes)-1]
	if math.IsNaN(lastATR) || lastClose <= 0 {
		return nil
	}

	snap := &decision.ExitIndicators{
		ATRPercent:    lastATR / lastClose * 100,
		CurrentVolume: bars[len(bars)-1].Volume,
		AvgVolume:     avgVolume(bars, volumeWindow),
	}
	ema := EMA(closes, emaPeriod)
	if last := ema[len(ema)-1]; !math.IsNaN(last) {
		snap.EMA20 = last
	}
	return snap
}

// avgVolume averages the trailing window, excluding the current bar so a
// live spike does not dilute its own baseline.
func avgVolume(bars []Bar, window int) float64 {
	end := len(bars) - 1
	start := end - window
	if start < 0 {
		start = 0
	}
	if end <= start {
		return 0
	}
	var sum float64
	for _, b := range bars[start:end] {
		sum += b.Volume
	}
	return sum / float64(end-start)
}
