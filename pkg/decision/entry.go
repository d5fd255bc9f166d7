package decision

import "fmt"

// EvaluateEntry decides whether to enter a trade given candidate signals and
// account/trend context. Pure: never mutates the context, identical input
// yields identical output including the identity of the selected signal.
//
// Pipeline: validate, confidence filter, flat-market gate, direction-conflict
// vote, trend alignment, highest-confidence selection.
func EvaluateEntry(ctx EntryContext) EntryResult {
	if len(ctx.Signals) == 0 {
		return EntryResult{Decision: DecisionSkip, Reason: "No signals"}
	}
	if ctx.AccountBalance <= 0 {
		return EntryResult{Decision: DecisionSkip, Reason: "Invalid account balance"}
	}

	// Confidence band: [threshold, 100] within [0, 100]. Exactly at the
	// threshold is included.
	candidates := make([]*Signal, 0, len(ctx.Signals))
	for _, sig := range ctx.Signals {
		if sig == nil {
			continue
		}
		if sig.Confidence < 0 || sig.Confidence > 100 {
			continue
		}
		if sig.Confidence < ctx.MinConfidence {
			continue
		}
		candidates = append(candidates, sig)
	}
	if len(candidates) == 0 {
		return EntryResult{
			Decision: DecisionSkip,
			Reason:   fmt.Sprintf("All signals below confidence threshold %.0f", ctx.MinConfidence),
		}
	}

	// Flat-market gate; bypassed entirely when no analysis is supplied.
	// Exactly at the confidence threshold skips.
	if ctx.FlatMarket != nil && ctx.FlatMarket.IsFlat && ctx.FlatMarket.Confidence >= ctx.FlatConfidence {
		return EntryResult{
			Decision: DecisionSkip,
			Reason:   fmt.Sprintf("Flat market detected (confidence %.0f)", ctx.FlatMarket.Confidence),
		}
	}

	// Direction vote. HOLD signals are excluded from voting entirely.
	var longVotes, shortVotes int
	for _, sig := range candidates {
		switch sig.Direction {
		case DirectionLong:
			longVotes++
		case DirectionShort:
			shortVotes++
		}
	}
	total := longVotes + shortVotes
	if total == 0 {
		return EntryResult{Decision: DecisionSkip, Reason: "No directional signals"}
	}

	// An exact tie takes priority over the conflict threshold.
	if longVotes == shortVotes {
		return EntryResult{
			Decision: DecisionWait,
			Reason:   fmt.Sprintf("NO CONSENSUS: equal votes (%d LONG vs %d SHORT)", longVotes, shortVotes),
			Conflict: &ConflictAnalysis{ConflictLevel: 0.5, ConsensusStrength: 0.5},
		}
	}

	majority, minority := DirectionLong, shortVotes
	if shortVotes > longVotes {
		majority, minority = DirectionShort, longVotes
	}
	conflictLevel := float64(minority) / float64(total)
	consensus := 1 - conflictLevel
	analysis := &ConflictAnalysis{
		Direction:         majority,
		ConflictLevel:     conflictLevel,
		ConsensusStrength: consensus,
	}

	if conflictLevel >= ctx.ConflictThreshold {
		return EntryResult{
			Decision: DecisionWait,
			Reason:   fmt.Sprintf("Signal conflict too high (%.2f >= %.2f)", conflictLevel, ctx.ConflictThreshold),
			Conflict: analysis,
		}
	}

	if blocked(ctx.TrendBias, majority) {
		return EntryResult{
			Decision: DecisionSkip,
			Reason:   fmt.Sprintf("Trend misalignment: %s blocked", majority),
			Conflict: analysis,
		}
	}

	// Highest confidence in the winning direction; first wins ties so the
	// selected signal identity is stable.
	var best *Signal
	for _, sig := range candidates {
		if sig.Direction != majority {
			continue
		}
		if best == nil || sig.Confidence > best.Confidence {
			best = sig
		}
	}
	if best == nil {
		return EntryResult{Decision: DecisionSkip, Reason: "No signal matching consensus direction", Conflict: analysis}
	}

	return EntryResult{
		Decision: DecisionEnter,
		Signal:   best,
		Reason:   fmt.Sprintf("%s consensus (%.0f%% strength), best signal confidence %.0f", majority, consensus*100, best.Confidence),
		Conflict: analysis,
	}
}

// blocked reports whether the bias forbids entering in dir: explicit
// restrictions first, then BULLISH blocks SHORT and BEARISH blocks LONG.
func blocked(bias *TrendBias, dir Direction) bool {
	if bias == nil {
		return false
	}
	for _, restricted := range bias.RestrictedDirections {
		if restricted == dir {
			return true
		}
	}
	switch bias.Direction {
	case TrendBullish:
		return dir == DirectionShort
	case TrendBearish:
		return dir == DirectionLong
	}
	return false
}
