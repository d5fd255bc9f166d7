// Package strategy provides built-in signal analyzers that turn bar history
// into candidate entry signals for the decision layer.
package strategy

import (
	"fmt"
	"math"

	"tradekit/pkg/decision"
	"tradekit/pkg/market/indicators"
)

// Momentum signals an entry when the close moved more than
// ThresholdPercent over the last Lookback bars. Stops and the take-profit
// ladder are derived from ATR when enough history exists, with a fixed
// percentage fallback.
type Momentum struct {
	Lookback         int     // defaults to 12
	ThresholdPercent float64 // defaults to 1.0
	StopPercent      float64 // fallback stop distance, defaults to 1.5
}

func (s *Momentum) Analyze(history []indicators.Bar) *decision.Signal {
	lookback := s.Lookback
	if lookback <= 0 {
		lookback = 12
	}
	threshold := s.ThresholdPercent
	if threshold <= 0 {
		threshold = 1.0
	}
	if len(history) <= lookback {
		return nil
	}

	last := history[len(history)-1].Close
	ref := history[len(history)-1-lookback].Close
	if ref <= 0 || last <= 0 {
		return nil
	}
	movePct := (last - ref) / ref * 100
	if math.Abs(movePct) < threshold {
		return nil
	}

	stopPct := s.StopPercent
	if stopPct <= 0 {
		stopPct = 1.5
	}
	if snap := indicators.ExitSnapshot(history); snap != nil && snap.ATRPercent > 0 {
		stopPct = snap.ATRPercent * 1.5
	}

	direction := decision.DirectionLong
	sign := 1.0
	if movePct < 0 {
		direction = decision.DirectionShort
		sign = -1.0
	}
	confidence := math.Min(95, 55+math.Abs(movePct)*10)

	return &decision.Signal{
		Direction:  direction,
		Type:       "momentum",
		Confidence: confidence,
		Price:      last,
		StopLoss:   last * (1 - sign*stopPct/100),
		TakeProfits: []float64{
			last * (1 + sign*stopPct/100),
			last * (1 + sign*2*stopPct/100),
			last * (1 + sign*3*stopPct/100),
		},
		Reason: fmt.Sprintf("momentum %.2f%% over %d bars", movePct, lookback),
	}
}
