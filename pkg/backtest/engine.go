// Package backtest replays historical bars through the entry and exit
// decision logic against the simulated exchange, producing a session report
// with the usual performance metrics.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/google/uuid"

	"tradekit/pkg/decision"
	"tradekit/pkg/exchange"
	"tradekit/pkg/exchange/sim"
	"tradekit/pkg/market/indicators"
	"tradekit/pkg/risk"
)

// Feeder yields sequential bars for the simulated symbol.
type Feeder interface {
	Next(ctx context.Context) (indicators.Bar, bool, error)
}

// Strategy maps the bar history into a candidate entry signal, or nil when
// nothing is actionable. The last element of history is the current bar.
type Strategy interface {
	Analyze(history []indicators.Bar) *decision.Signal
}

// Engine wires a Feeder and a Strategy over the simulated exchange.
type Engine struct {
	Feeder   Feeder
	Strategy Strategy
	Symbol   string

	InitialBalance float64       // defaults to 10000
	Risk           *risk.Manager // defaults to risk.NewManager(nil)
	ExitConfig     *decision.ExitConfig
	MinConfidence     float64 // entry confidence floor, defaults to 60
	ConflictThreshold float64 // conflict fraction that forces a wait, defaults to 0.25
	Window            int     // bar history window, defaults to 120

	// Optional: write a JSON report to this path after the run.
	OutputPath string
}

// Result summarizes a simulation run.
type Result struct {
	Steps       int           `json:"steps"`
	Trades      int           `json:"trades"`
	Wins        int           `json:"wins"`
	WinRate     float64       `json:"win_rate"`
	RealizedPnL float64       `json:"realized_pnl"`
	EndBalance  float64       `json:"end_balance"`
	MaxDDPct    float64       `json:"max_dd_pct"`
	Sharpe      float64       `json:"sharpe"`
	EquityCurve []float64     `json:"equity_curve"`
	Details     []TradeDetail `json:"details"`
}

// TradeDetail records one completed round trip.
type TradeDetail struct {
	Step     int     `json:"step"`
	Side     string  `json:"side"`
	Entry    float64 `json:"entry"`
	Exit     float64 `json:"exit"`
	Realized float64 `json:"realized"`
	Reason   string  `json:"reason"`
}

func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.Feeder == nil || e.Strategy == nil || e.Symbol == "" {
		return nil, fmt.Errorf("backtest: engine not fully configured")
	}
	balance0 := e.InitialBalance
	if balance0 <= 0 {
		balance0 = 10000
	}
	riskMgr := e.Risk
	if riskMgr == nil {
		riskMgr = risk.NewManager(nil)
	}
	minConfidence := e.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 60
	}
	conflictThreshold := e.ConflictThreshold
	if conflictThreshold <= 0 {
		conflictThreshold = 0.25
	}
	window := e.Window
	if window <= 0 {
		window = 120
	}

	provider := sim.New(sim.WithInitialBalance(balance0))
	res := &Result{}
	history := make([]indicators.Bar, 0, window)

	var pos *decision.Position
	state := decision.StateOpen
	var roundTripPnL float64

	for {
		bar, ok, err := e.Feeder.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		res.Steps++
		history = append(history, bar)
		if len(history) > window {
			history = history[1:]
		}
		if err := provider.SetMarkPrice(e.Symbol, bar.Close); err != nil {
			return nil, err
		}
		price := bar.Close

		if pos != nil {
			exit := decision.EvaluateExit(decision.ExitContext{
				Position:     pos,
				CurrentPrice: price,
				CurrentState: state,
				Indicators:   indicators.ExitSnapshot(history),
				Config:       e.ExitConfig,
			})
			realized, err := e.applyExit(ctx, provider, pos, price, exit)
			if err != nil {
				return nil, err
			}
			roundTripPnL += realized
			state = exit.State
			if state == decision.StateClosed {
				riskMgr.RecordTradeResult(roundTripPnL)
				res.Trades++
				if roundTripPnL > 0 {
					res.Wins++
				}
				res.RealizedPnL += roundTripPnL
				reason := exit.Reason
				if exit.Metadata != nil {
					reason = exit.Metadata.ClosureReason
				}
				res.Details = append(res.Details, TradeDetail{
					Step:     res.Steps,
					Side:     string(pos.Side),
					Entry:    pos.EntryPrice,
					Exit:     price,
					Realized: roundTripPnL,
					Reason:   reason,
				})
				pos = nil
				roundTripPnL = 0
			}
		} else if sig := e.Strategy.Analyze(history); sig != nil {
			balance, err := provider.GetAccountBalance(ctx)
			if err != nil {
				return nil, err
			}
			entry := decision.EvaluateEntry(decision.EntryContext{
				Signals:           []*decision.Signal{sig},
				AccountBalance:    balance,
				MinConfidence:     minConfidence,
				ConflictThreshold: conflictThreshold,
			})
			if entry.Decision == decision.DecisionEnter {
				riskDec, err := riskMgr.CanTrade(ctx, entry.Signal, balance, nil).Unwrap()
				if err != nil {
					return nil, err
				}
				if riskDec.Allowed {
					pos, err = e.openPosition(ctx, provider, entry.Signal, riskDec)
					if err != nil {
						return nil, err
					}
					state = decision.StateOpen
					roundTripPnL = 0
				}
			}
		}

		equity, err := provider.GetAccountBalance(ctx)
		if err != nil {
			return nil, err
		}
		res.EquityCurve = append(res.EquityCurve, equity)
	}

	if len(res.EquityCurve) > 0 {
		res.EndBalance = res.EquityCurve[len(res.EquityCurve)-1]
	} else {
		res.EndBalance = balance0
	}
	if res.Trades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.Trades)
	}
	res.MaxDDPct = maxDrawdownPct(append([]float64{balance0}, res.EquityCurve...))
	res.Sharpe = sharpe(res.EquityCurve)

	if e.OutputPath != "" {
		if err := writeReport(e.OutputPath, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// applyExit executes the decided actions against the simulator and keeps the
// local position copy in sync with stop updates.
func (e *Engine) applyExit(ctx context.Context, provider *sim.Provider, pos *decision.Position, price float64, exit decision.ExitResult) (float64, error) {
	var realized float64
	for _, action := range exit.Actions {
		switch action.Type {
		case decision.ActionCloseAll, decision.ActionClosePercent:
			percent := action.Percent
			if action.Type == decision.ActionCloseAll {
				percent = 100
			}
			fill, err := provider.ClosePosition(ctx, pos.ID, percent)
			if err != nil {
				return realized, fmt.Errorf("backtest: close %s: %w", pos.ID, err)
			}
			realized += fill.RealizedPnL
		case decision.ActionUpdateStopLoss:
			if err := provider.UpdateStopLoss(ctx, pos.ID, action.NewStopLoss); err != nil {
				return realized, fmt.Errorf("backtest: update stop for %s: %w", pos.ID, err)
			}
			pos.StopLoss.Price = action.NewStopLoss
		case decision.ActionActivateTrailing:
			stop := price - action.TrailingDistance
			if pos.Side == decision.SideShort {
				stop = price + action.TrailingDistance
			}
			if err := provider.UpdateStopLoss(ctx, pos.ID, stop); err != nil {
				return realized, fmt.Errorf("backtest: activate trailing for %s: %w", pos.ID, err)
			}
			pos.StopLoss.Price = stop
			pos.StopLoss.Trailing = true
		}
	}
	return realized, nil
}

func (e *Engine) openPosition(ctx context.Context, provider *sim.Provider, sig *decision.Signal, riskDec *risk.Decision) (*decision.Position, error) {
	leverage := riskDec.Leverage
	if leverage < 1 {
		leverage = 1
	}
	side := decision.SideLong
	if sig.Direction == decision.DirectionShort {
		side = decision.SideShort
	}
	quantity := riskDec.PositionSizeUSDT * float64(leverage) / sig.Price
	id := uuid.NewString()

	fill, err := provider.OpenPosition(ctx, toOrderRequest(id, e.Symbol, side, sig, quantity, leverage))
	if err != nil {
		return nil, fmt.Errorf("backtest: open %s: %w", e.Symbol, err)
	}

	tps := make([]decision.TakeProfit, 0, len(sig.TakeProfits))
	for i, tpPrice := range sig.TakeProfits {
		tps = append(tps, decision.TakeProfit{Level: i + 1, Price: tpPrice})
	}
	return &decision.Position{
		ID:          id,
		Symbol:      e.Symbol,
		Side:        side,
		EntryPrice:  fill.AvgPrice,
		Quantity:    fill.FilledQuantity,
		Leverage:    leverage,
		MarginUsed:  riskDec.PositionSizeUSDT,
		StopLoss:    decision.StopLoss{Price: sig.StopLoss, InitialPrice: sig.StopLoss},
		TakeProfits: tps,
		Reason:      sig.Reason,
		Status:      decision.PositionOpen,
	}, nil
}

func toOrderRequest(id, symbol string, side decision.Side, sig *decision.Signal, quantity float64, leverage int) exchange.OrderRequest {
	return exchange.OrderRequest{
		PositionID:  id,
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       sig.Price,
		Leverage:    leverage,
		StopLoss:    sig.StopLoss,
		TakeProfits: sig.TakeProfits,
	}
}

func maxDrawdownPct(series []float64) float64 {
	peak := series[0]
	mdd := 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
		dd := (peak - v) / peak
		if dd > mdd {
			mdd = dd
		}
	}
	return mdd * 100
}

func sharpe(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		rets = append(rets, equity[i]/equity[i-1]-1)
	}
	if len(rets) == 0 {
		return 0
	}
	m := 0.0
	for _, r := range rets {
		m += r
	}
	m /= float64(len(rets))
	v := 0.0
	for _, r := range rets {
		d := r - m
		v += d * d
	}
	v /= float64(len(rets))
	sd := math.Sqrt(v)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(float64(len(rets)))
}

func writeReport(path string, r *Result) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
