package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"tradekit/pkg/decision"
	"tradekit/pkg/errs"
	"tradekit/pkg/exchange"
	"tradekit/pkg/recovery"
	"tradekit/pkg/risk"
)

// Take-profit ladder sizing applied to new positions.
var ladderSizePercents = []float64{50, 30, 20}

// EntryOutcome reports everything that happened during one entry attempt.
// Result is always set; Risk is set once the signal reached the risk
// manager; Position and Order are set only when a trade was opened.
type EntryOutcome struct {
	Result   *decision.EntryResult
	Risk     *risk.Decision
	Position *decision.Position
	Order    *exchange.OrderResult
}

// Entered reports whether the attempt ended with an open position.
func (o *EntryOutcome) Entered() bool {
	return o != nil && o.Position != nil
}

// EntryPipeline chains signal evaluation, the risk gate and order placement.
// Positions it opens are registered with the Exiter for lifecycle tracking.
type EntryPipeline struct {
	deps    Deps
	handler *recovery.Handler
	exiter  *Exiter
}

// NewEntryPipeline constructs the pipeline; exiter must not be nil.
func NewEntryPipeline(deps Deps, exiter *Exiter) (*EntryPipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if exiter == nil {
		return nil, fmt.Errorf("engine: exiter is required")
	}
	return &EntryPipeline{deps: deps, handler: recovery.NewHandler(), exiter: exiter}, nil
}

// Execute runs one entry attempt for symbol. A WAIT or SKIP decision, and a
// risk-manager block, are normal outcomes and return a nil error; only
// validation failures and unrecovered exchange errors are errors.
func (p *EntryPipeline) Execute(ctx context.Context, symbol string, ectx decision.EntryContext) (*EntryOutcome, error) {
	res := decision.EvaluateEntry(ectx)
	out := &EntryOutcome{Result: &res}

	if res.Decision != decision.DecisionEnter {
		logx.WithContext(ctx).Infof("engine: %s entry %s: %s", symbol, res.Decision, res.Reason)
		return out, nil
	}

	riskDec, err := p.deps.Risk.CanTrade(ctx, res.Signal, ectx.AccountBalance, ectx.OpenPositions).Unwrap()
	if err != nil {
		p.deps.Registry.Record(errs.Normalize(err), false, 0)
		return out, fmt.Errorf("engine: risk check for %s: %w", symbol, err)
	}
	out.Risk = riskDec
	if !riskDec.Allowed {
		logx.WithContext(ctx).Infof("engine: %s entry blocked by risk manager: %s", symbol, riskDec.Reason)
		return out, nil
	}

	sig := res.Signal
	side := decision.SideLong
	if sig.Direction == decision.DirectionShort {
		side = decision.SideShort
	}
	leverage := riskDec.Leverage
	if leverage < 1 {
		leverage = 1
	}
	quantity := riskDec.PositionSizeUSDT * float64(leverage) / sig.Price

	positionID := uuid.NewString()
	req := exchange.OrderRequest{
		PositionID:  positionID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       sig.Price,
		Leverage:    leverage,
		StopLoss:    sig.StopLoss,
		TakeProfits: sig.TakeProfits,
	}

	var order *exchange.OrderResult
	err = retryCall(ctx, p.handler, p.deps.Registry, p.deps.Retry, func(ctx context.Context) error {
		result, err := p.deps.Provider.OpenPosition(ctx, req)
		if err != nil {
			return err
		}
		order = result
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("engine: open %s %s: %w", side, symbol, err)
	}

	pos := buildPosition(positionID, symbol, side, sig, order, riskDec)
	p.exiter.Track(positionID, decision.StateOpen)
	out.Position = pos
	out.Order = order

	logx.WithContext(ctx).Infof("engine: opened %s %s qty=%.8g entry=%.8g lev=%dx (%s)",
		side, symbol, pos.Quantity, pos.EntryPrice, pos.Leverage, sig.Reason)

	if p.deps.Notifier != nil {
		skipCall(ctx, p.handler, p.deps.Registry, func(ctx context.Context) error {
			return p.deps.Notifier.NotifyTradeOpened(ctx, symbol, string(side), pos.Quantity, pos.EntryPrice, sig.Reason)
		})
	}
	return out, nil
}

// buildPosition assembles the tracked position from the signal, the fill and
// the risk sizing. The TP ladder takes the 50/30/20 split in signal order.
func buildPosition(id, symbol string, side decision.Side, sig *decision.Signal, order *exchange.OrderResult, riskDec *risk.Decision) *decision.Position {
	entry := sig.Price
	quantity := 0.0
	orderID := ""
	if order != nil {
		if order.AvgPrice > 0 {
			entry = order.AvgPrice
		}
		quantity = order.FilledQuantity
		orderID = order.OrderID
	}

	tps := make([]decision.TakeProfit, 0, len(sig.TakeProfits))
	for i, price := range sig.TakeProfits {
		sizePct := 0.0
		if i < len(ladderSizePercents) {
			sizePct = ladderSizePercents[i]
		}
		fromEntry := 0.0
		if entry > 0 {
			fromEntry = math.Abs(price-entry) / entry * 100
		}
		tps = append(tps, decision.TakeProfit{
			Level:            i + 1,
			Price:            price,
			PercentFromEntry: fromEntry,
			SizePercent:      sizePct,
		})
	}

	return &decision.Position{
		ID:         id,
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   quantity,
		Leverage:   riskDec.Leverage,
		MarginUsed: riskDec.PositionSizeUSDT,
		StopLoss: decision.StopLoss{
			Price:        sig.StopLoss,
			InitialPrice: sig.StopLoss,
			UpdatedAt:    time.Now().UTC(),
		},
		TakeProfits: tps,
		OpenedAt:    time.Now().UTC(),
		OrderID:     orderID,
		Reason:      sig.Reason,
		Status:      decision.PositionOpen,
	}
}
