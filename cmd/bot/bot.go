package main

import (
	"context"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradekit/internal/engine"
	"tradekit/internal/svc"
	"tradekit/pkg/decision"
	"tradekit/pkg/feed"
	"tradekit/pkg/market/indicators"
	"tradekit/pkg/strategy"
)

const (
	historyWindow = 120
	saveInterval  = 30 * time.Second

	entryMinConfidence     = 60.0
	entryConflictThreshold = 0.25
)

// bot consumes closed bars from the feed and drives the engine: exit
// evaluation for symbols with an open position, entry evaluation otherwise.
// One position per symbol.
type bot struct {
	svc      *svc.ServiceContext
	strategy *strategy.Momentum
	history  map[string][]indicators.Bar
	open     map[string]*decision.Position
}

func newBot(svcCtx *svc.ServiceContext) *bot {
	return &bot{
		svc:      svcCtx,
		strategy: &strategy.Momentum{},
		history:  make(map[string][]indicators.Bar),
		open:     make(map[string]*decision.Position),
	}
}

func (b *bot) run(ctx context.Context, client *feed.Client) {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-client.Errors():
			logx.Slowf("bot: feed error: %v", err)
		case bar := <-client.Bars():
			if !bar.Closed {
				continue
			}
			b.onBar(ctx, bar)
		case <-ticker.C:
			if err := b.svc.SaveState(); err != nil {
				logx.Errorf("bot: state save failed: %v", err)
			}
		}
	}
}

func (b *bot) onBar(ctx context.Context, bar feed.Bar) {
	history := append(b.history[bar.Symbol], indicators.Bar{
		High:   bar.Candle.High,
		Low:    bar.Candle.Low,
		Close:  bar.Candle.Close,
		Volume: bar.Candle.Volume,
	})
	if len(history) > historyWindow {
		history = history[1:]
	}
	b.history[bar.Symbol] = history
	price := bar.Candle.Close

	if pos, ok := b.open[bar.Symbol]; ok {
		b.evaluateExit(ctx, pos, price, history)
		return
	}
	b.evaluateEntry(ctx, bar.Symbol, price, history)
}

func (b *bot) evaluateExit(ctx context.Context, pos *decision.Position, price float64, history []indicators.Bar) {
	res, err := b.svc.Exiter.Evaluate(ctx, pos, price, indicators.ExitSnapshot(history))
	if errors.Is(err, engine.ErrExitInProgress) {
		return
	}
	if err != nil {
		// State was not committed; the next bar re-evaluates.
		logx.Errorf("bot: exit evaluation for %s failed: %v", pos.ID, err)
		return
	}
	syncStops(pos, res, price)
	if res.State == decision.StateClosed {
		delete(b.open, pos.Symbol)
	}
}

func (b *bot) evaluateEntry(ctx context.Context, symbol string, price float64, history []indicators.Bar) {
	sig := b.strategy.Analyze(history)
	if sig == nil {
		return
	}
	balance, err := b.svc.Exchange.GetAccountBalance(ctx)
	if err != nil {
		logx.Slowf("bot: balance unavailable, skipping entry for %s: %v", symbol, err)
		return
	}

	out, err := b.svc.Entry.Execute(ctx, symbol, decision.EntryContext{
		Signals:           []*decision.Signal{sig},
		AccountBalance:    balance,
		OpenPositions:     b.openPositions(),
		MinConfidence:     entryMinConfidence,
		ConflictThreshold: entryConflictThreshold,
	})
	if err != nil {
		logx.Errorf("bot: entry for %s failed: %v", symbol, err)
		return
	}
	if out.Entered() {
		b.open[symbol] = out.Position
	}
}

func (b *bot) openPositions() []*decision.Position {
	out := make([]*decision.Position, 0, len(b.open))
	for _, pos := range b.open {
		out = append(out, pos)
	}
	return out
}

// syncStops mirrors executed stop updates into the local position copy so
// the next evaluation sees the current stop.
func syncStops(pos *decision.Position, res *decision.ExitResult, price float64) {
	if res == nil {
		return
	}
	for _, action := range res.Actions {
		switch action.Type {
		case decision.ActionUpdateStopLoss:
			pos.StopLoss.Price = action.NewStopLoss
			pos.StopLoss.UpdatedAt = time.Now()
		case decision.ActionActivateTrailing:
			stop := price - action.TrailingDistance
			if pos.Side == decision.SideShort {
				stop = price + action.TrailingDistance
			}
			pos.StopLoss.Price = stop
			pos.StopLoss.Trailing = true
			pos.StopLoss.UpdatedAt = time.Now()
		}
	}
}
