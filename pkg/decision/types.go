// Package decision holds the pure entry and exit decision functions and the
// domain types they operate on. Nothing in this package performs I/O, keeps
// hidden state or mutates its inputs; callers own all persistence.
package decision

import "time"

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Direction is a signal's suggested direction. HOLD signals never vote.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionHold  Direction = "HOLD"
)

// PositionState is the exit lifecycle state tracked per position. The ladder
// is strictly forward-progressing; CLOSED is terminal and reachable from any
// state.
type PositionState string

const (
	StateOpen   PositionState = "OPEN"
	StateTP1Hit PositionState = "TP1_HIT"
	StateTP2Hit PositionState = "TP2_HIT"
	StateTP3Hit PositionState = "TP3_HIT"
	StateClosed PositionState = "CLOSED"
)

// Valid reports whether s is one of the five lifecycle states.
func (s PositionState) Valid() bool {
	switch s {
	case StateOpen, StateTP1Hit, StateTP2Hit, StateTP3Hit, StateClosed:
		return true
	}
	return false
}

// Ordinal maps states onto the progression order (CLOSED ranks last).
// Used by callers asserting monotonicity; invalid states rank before OPEN.
func (s PositionState) Ordinal() int {
	switch s {
	case StateOpen:
		return 1
	case StateTP1Hit:
		return 2
	case StateTP2Hit:
		return 3
	case StateTP3Hit:
		return 4
	case StateClosed:
		return 5
	}
	return 0
}

// StopLoss carries the protective stop for a position.
type StopLoss struct {
	Price        float64
	InitialPrice float64
	Breakeven    bool
	Trailing     bool
	UpdatedAt    time.Time
}

// TakeProfit is one rung of the profit ladder, ordered by Level 1..N.
type TakeProfit struct {
	Level            int
	Price            float64
	PercentFromEntry float64
	SizePercent      float64
	Hit              bool
}

// PositionStatus is the coarse open/closed flag owned by the orchestrator.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is a live trade. The decision functions receive it read-only and
// never modify it; every decision returns a fresh result instead.
type Position struct {
	ID            string
	Symbol        string
	Side          Side
	EntryPrice    float64
	Quantity      float64
	Leverage      int
	MarginUsed    float64
	StopLoss      StopLoss
	TakeProfits   []TakeProfit
	OpenedAt      time.Time
	UnrealizedPnL float64
	OrderID       string
	Reason        string
	Status        PositionStatus
}

// PnLPercent returns the unleveraged profit percentage at price.
func (p *Position) PnLPercent(price float64) float64 {
	if p == nil || p.EntryPrice == 0 {
		return 0
	}
	if p.Side == SideShort {
		return (p.EntryPrice - price) / p.EntryPrice * 100
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// ExitIndicators is optional market context for the smart-trailing distance.
type ExitIndicators struct {
	ATRPercent    float64
	CurrentVolume float64
	AvgVolume     float64
	EMA20         float64
}

// ExitConfig tunes the exit state machine. Zero values select defaults.
type ExitConfig struct {
	BreakevenMarginPercent  float64 `yaml:"breakeven_margin_percent"`
	MinSLDistancePercent    float64 `yaml:"min_sl_distance_percent"`
	TrailingDistancePercent float64 `yaml:"trailing_distance_percent"`
	// AdaptiveTP3 arms a trailing stop for the residual position after TP3
	// when the trend still favors the trade.
	AdaptiveTP3 bool `yaml:"adaptive_tp3"`
}

// Default exit tuning.
const (
	DefaultBreakevenMarginPercent  = 0.1
	DefaultMinSLDistancePercent    = 0.5
	DefaultTrailingDistancePercent = 1.5

	minATRPercent       = 1.5
	maxATRPercent       = 3.0
	volumeSpikeRatio    = 1.2
	volumeTightenFactor = 0.8
	tp1ClosePercent     = 50.0
	tp2ClosePercent     = 30.0
	tp3ClosePercent     = 20.0
)

// DefaultExitConfig returns the standard tuning.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		BreakevenMarginPercent:  DefaultBreakevenMarginPercent,
		MinSLDistancePercent:    DefaultMinSLDistancePercent,
		TrailingDistancePercent: DefaultTrailingDistancePercent,
	}
}

// ExitContext bundles everything EvaluateExit needs. CurrentPrice of zero is
// treated as missing; negative values are invalid.
type ExitContext struct {
	Position     *Position
	CurrentPrice float64
	CurrentState PositionState
	Indicators   *ExitIndicators
	Config       *ExitConfig
}

// ActionType enumerates the exit actions the orchestrator executes.
type ActionType string

const (
	ActionCloseAll         ActionType = "CLOSE_ALL"
	ActionClosePercent     ActionType = "CLOSE_PERCENT"
	ActionUpdateStopLoss   ActionType = "UPDATE_SL"
	ActionActivateTrailing ActionType = "ACTIVATE_TRAILING"
)

// ExitAction is one instruction in an ExitResult. Only the field matching
// the action type is meaningful.
type ExitAction struct {
	Type             ActionType
	Percent          float64 // CLOSE_PERCENT
	NewStopLoss      float64 // UPDATE_SL
	TrailingDistance float64 // ACTIVATE_TRAILING (absolute price distance)
}

// Closure reason codes surfaced through ExitMetadata.
const (
	ClosureSLHit  = "SL_HIT"
	ClosureTP1Hit = "TP1_HIT"
	ClosureTP2Hit = "TP2_HIT"
	ClosureTP3Hit = "TP3_HIT"
)

// ExitMetadata annotates a decision with trigger details.
type ExitMetadata struct {
	ClosureReason string
	ProfitPercent float64
	ProfitAbs     float64
	TriggerPrice  float64
}

// ExitResult is created fresh on every EvaluateExit call. The caller
// persists State and executes Actions in order.
type ExitResult struct {
	State           PositionState
	Actions         []ExitAction
	Reason          string
	StateTransition string
	Metadata        *ExitMetadata
}

// Signal is a candidate entry produced by upstream analyzers.
type Signal struct {
	Direction   Direction
	Type        string
	Confidence  float64
	Price       float64
	StopLoss    float64
	TakeProfits []float64
	Reason      string
	Timestamp   time.Time
}

// TrendBias restricts entry directions based on the higher-timeframe trend.
type TrendBias struct {
	Direction            string // "BULLISH", "BEARISH" or "NEUTRAL"
	Strength             float64
	RestrictedDirections []Direction
}

// Trend bias directions.
const (
	TrendBullish = "BULLISH"
	TrendBearish = "BEARISH"
	TrendNeutral = "NEUTRAL"
)

// FlatMarket is the optional flat-market detector output.
type FlatMarket struct {
	IsFlat     bool
	Confidence float64
}

// EntryContext bundles everything EvaluateEntry needs.
type EntryContext struct {
	Signals           []*Signal
	AccountBalance    float64
	OpenPositions     []*Position
	TrendBias         *TrendBias
	MinConfidence     float64
	ConflictThreshold float64 // fraction 0..1
	FlatMarket        *FlatMarket
	FlatConfidence    float64 // flat-market confidence threshold
}

// EntryDecision is the outcome class of EvaluateEntry.
type EntryDecision string

const (
	DecisionEnter EntryDecision = "ENTER"
	DecisionWait  EntryDecision = "WAIT"
	DecisionSkip  EntryDecision = "SKIP"
)

// ConflictAnalysis summarizes the directional vote.
type ConflictAnalysis struct {
	Direction         Direction
	ConflictLevel     float64
	ConsensusStrength float64
}

// EntryResult is the full outcome of an entry evaluation.
type EntryResult struct {
	Decision EntryDecision
	Signal   *Signal
	Reason   string
	Conflict *ConflictAnalysis
}
