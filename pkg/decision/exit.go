package decision

import "fmt"

// EvaluateExit is the exit-position state machine. It is pure and
// deterministic: same context in, same result out, input never mutated,
// and it never panics. Invalid input degrades to a CLOSED/CLOSE_ALL
// decision so the caller always fails safe.
//
// Decision priority on every call:
//  1. stop-loss check (from any non-terminal state)
//  2. state validity check
//  3. take-profit ladder gated by the current state
//  4. no change
func EvaluateExit(ctx ExitContext) ExitResult {
	pos := ctx.Position

	// Fail-fast validation, highest priority first.
	if pos == nil {
		return failSafe(ctx.CurrentState, "Position is required")
	}
	if ctx.CurrentPrice == 0 {
		return failSafe(ctx.CurrentState, "Current price is required")
	}
	if ctx.CurrentPrice < 0 {
		return failSafe(ctx.CurrentState, "Invalid current price")
	}
	if ctx.CurrentState == "" {
		return failSafe(ctx.CurrentState, "Current state is required")
	}

	cfg := DefaultExitConfig()
	if ctx.Config != nil {
		cfg = normalizeConfig(*ctx.Config)
	}
	price := ctx.CurrentPrice

	// Stop-loss always wins over TP progression, whatever the state.
	if ctx.CurrentState != StateClosed && stopLossHit(pos, price) {
		pct := pos.PnLPercent(price)
		return ExitResult{
			State:           StateClosed,
			Actions:         []ExitAction{{Type: ActionCloseAll}},
			Reason:          fmt.Sprintf("Stop loss hit at %.8g", pos.StopLoss.Price),
			StateTransition: transition(ctx.CurrentState, StateClosed),
			Metadata: &ExitMetadata{
				ClosureReason: ClosureSLHit,
				ProfitPercent: pct,
				ProfitAbs:     profitAbs(pos, price),
				TriggerPrice:  price,
			},
		}
	}

	if !ctx.CurrentState.Valid() {
		return failSafe(ctx.CurrentState, "Invalid current state")
	}

	switch ctx.CurrentState {
	case StateOpen:
		if tpReached(pos, price, 0) {
			be := breakevenPrice(pos, cfg)
			return ExitResult{
				State: StateTP1Hit,
				Actions: []ExitAction{
					{Type: ActionClosePercent, Percent: tp1ClosePercent},
					{Type: ActionUpdateStopLoss, NewStopLoss: be},
				},
				Reason:          "TP1 reached: closing 50%, stop moved to breakeven",
				StateTransition: transition(StateOpen, StateTP1Hit),
				Metadata: &ExitMetadata{
					ClosureReason: ClosureTP1Hit,
					ProfitPercent: pos.PnLPercent(price),
					ProfitAbs:     profitAbs(pos, price),
					TriggerPrice:  price,
				},
			}
		}
	case StateTP1Hit:
		if tpReached(pos, price, 1) {
			dist := trailingDistance(price, cfg, ctx.Indicators)
			return ExitResult{
				State: StateTP2Hit,
				Actions: []ExitAction{
					{Type: ActionClosePercent, Percent: tp2ClosePercent},
					{Type: ActionActivateTrailing, TrailingDistance: dist},
				},
				Reason:          "TP2 reached: closing 30%, trailing stop activated",
				StateTransition: transition(StateTP1Hit, StateTP2Hit),
				Metadata: &ExitMetadata{
					ClosureReason: ClosureTP2Hit,
					ProfitPercent: pos.PnLPercent(price),
					ProfitAbs:     profitAbs(pos, price),
					TriggerPrice:  price,
				},
			}
		}
	case StateTP2Hit:
		if tpReached(pos, price, 2) {
			actions := []ExitAction{{Type: ActionClosePercent, Percent: tp3ClosePercent}}
			reason := "TP3 reached: closing 20%"
			if cfg.AdaptiveTP3 && trendFavors(pos, price, ctx.Indicators) {
				actions = append(actions, ExitAction{
					Type:             ActionActivateTrailing,
					TrailingDistance: trailingDistance(price, cfg, ctx.Indicators),
				})
				reason = "TP3 reached: closing 20%, trailing the runner"
			}
			return ExitResult{
				State:           StateTP3Hit,
				Actions:         actions,
				Reason:          reason,
				StateTransition: transition(StateTP2Hit, StateTP3Hit),
				Metadata: &ExitMetadata{
					ClosureReason: ClosureTP3Hit,
					ProfitPercent: pos.PnLPercent(price),
					ProfitAbs:     profitAbs(pos, price),
					TriggerPrice:  price,
				},
			}
		}
	case StateTP3Hit:
		return ExitResult{
			State:           StateTP3Hit,
			Actions:         []ExitAction{},
			Reason:          "All take profits hit, awaiting SL or manual close",
			StateTransition: fmt.Sprintf("%s → HOLDING", StateTP3Hit),
		}
	}

	return ExitResult{
		State:           ctx.CurrentState,
		Actions:         []ExitAction{},
		Reason:          "No exit condition met",
		StateTransition: fmt.Sprintf("%s → NO_CHANGE", ctx.CurrentState),
	}
}

// failSafe closes the position rather than leaving it in an ambiguous state.
func failSafe(from PositionState, reason string) ExitResult {
	return ExitResult{
		State:           StateClosed,
		Actions:         []ExitAction{{Type: ActionCloseAll}},
		Reason:          reason,
		StateTransition: transition(from, StateClosed),
	}
}

func transition(from, to PositionState) string {
	if from == "" {
		from = "UNKNOWN"
	}
	return fmt.Sprintf("%s → %s", from, to)
}

// stopLossHit: equality counts as hit on both sides.
func stopLossHit(pos *Position, price float64) bool {
	sl := pos.StopLoss.Price
	if sl <= 0 {
		return false
	}
	if pos.Side == SideShort {
		return price >= sl
	}
	return price <= sl
}

// tpReached reports whether the TP at index has been touched. A missing
// index is simply "not hit"; progression stalls instead of failing.
func tpReached(pos *Position, price float64, index int) bool {
	if index < 0 || index >= len(pos.TakeProfits) {
		return false
	}
	tp := pos.TakeProfits[index]
	if tp.Price <= 0 {
		return false
	}
	if pos.Side == SideShort {
		return price <= tp.Price
	}
	return price >= tp.Price
}

// breakevenPrice is entry plus a small margin in the profitable direction,
// locking in near-zero loss after TP1.
func breakevenPrice(pos *Position, cfg ExitConfig) float64 {
	margin := pos.EntryPrice * cfg.BreakevenMarginPercent / 100
	if pos.Side == SideShort {
		return pos.EntryPrice - margin
	}
	return pos.EntryPrice + margin
}

// trailingDistance computes the smart-trailing stop distance in absolute
// price terms. ATR widens the base distance within [1.5%, 3%]; a volume
// spike above 1.2x average tightens it by 0.8.
func trailingDistance(price float64, cfg ExitConfig, ind *ExitIndicators) float64 {
	pct := cfg.TrailingDistancePercent
	if ind != nil && ind.ATRPercent > 0 {
		pct = clamp(ind.ATRPercent, minATRPercent, maxATRPercent)
		if ind.AvgVolume > 0 && ind.CurrentVolume/ind.AvgVolume > volumeSpikeRatio {
			pct *= volumeTightenFactor
		}
	}
	if pct < cfg.MinSLDistancePercent {
		pct = cfg.MinSLDistancePercent
	}
	return price * pct / 100
}

// trendFavors reports whether price is still on the profitable side of the
// EMA20, i.e. the trend that produced the trade remains intact.
func trendFavors(pos *Position, price float64, ind *ExitIndicators) bool {
	if ind == nil || ind.EMA20 <= 0 {
		return false
	}
	if pos.Side == SideShort {
		return price < ind.EMA20
	}
	return price > ind.EMA20
}

func profitAbs(pos *Position, price float64) float64 {
	if pos.Side == SideShort {
		return (pos.EntryPrice - price) * pos.Quantity
	}
	return (price - pos.EntryPrice) * pos.Quantity
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeConfig(cfg ExitConfig) ExitConfig {
	if cfg.BreakevenMarginPercent <= 0 {
		cfg.BreakevenMarginPercent = DefaultBreakevenMarginPercent
	}
	if cfg.MinSLDistancePercent <= 0 {
		cfg.MinSLDistancePercent = DefaultMinSLDistancePercent
	}
	if cfg.TrailingDistancePercent <= 0 {
		cfg.TrailingDistancePercent = DefaultTrailingDistancePercent
	}
	return cfg
}
