package engine_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradekit/internal/engine"
	"tradekit/pkg/decision"
	"tradekit/pkg/errs"
	"tradekit/pkg/exchange"
	"tradekit/pkg/exchange/sim"
	"tradekit/pkg/journal"
	"tradekit/pkg/recovery"
	"tradekit/pkg/risk"
)

func tinyRetry() recovery.RetryPolicy {
	return recovery.RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          5 * time.Millisecond,
	}
}

type testEnv struct {
	deps     engine.Deps
	registry *recovery.Registry
	risk     *risk.Manager
	journal  *journal.Writer
	dir      string
}

func newTestEnv(t *testing.T, provider exchange.Provider) testEnv {
	t.Helper()
	dir := t.TempDir()
	w := journal.NewWriter(dir)
	registry := recovery.NewRegistry(0)
	mgr := risk.NewManager(nil)
	return testEnv{
		deps: engine.Deps{
			Provider: provider,
			Journal:  w,
			Risk:     mgr,
			Registry: registry,
			Retry:    tinyRetry(),
		},
		registry: registry,
		risk:     mgr,
		journal:  w,
		dir:      dir,
	}
}

// hookProvider lets tests inject failures in front of the simulator.
type hookProvider struct {
	exchange.Provider
	closeHook func() error
	openHook  func() error
}

func (h *hookProvider) ClosePosition(ctx context.Context, positionID string, percent float64) (*exchange.OrderResult, error) {
	if h.closeHook != nil {
		if err := h.closeHook(); err != nil {
			return nil, err
		}
	}
	return h.Provider.ClosePosition(ctx, positionID, percent)
}

func (h *hookProvider) OpenPosition(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if h.openHook != nil {
		if err := h.openHook(); err != nil {
			return nil, err
		}
	}
	return h.Provider.OpenPosition(ctx, req)
}

// openLongPosition opens the canonical long used across exit tests:
// entry 100, qty 10, SL 99, TP ladder 101/102/104.
func openLongPosition(t *testing.T, provider *sim.Provider) *decision.Position {
	t.Helper()
	pos := &decision.Position{
		ID:         "pos-1",
		Symbol:     "BTCUSDT",
		Side:       decision.SideLong,
		EntryPrice: 100,
		Quantity:   10,
		Leverage:   2,
		MarginUsed: 500,
		StopLoss:   decision.StopLoss{Price: 99, InitialPrice: 99},
		TakeProfits: []decision.TakeProfit{
			{Level: 1, Price: 101, SizePercent: 50},
			{Level: 2, Price: 102, SizePercent: 30},
			{Level: 3, Price: 104, SizePercent: 20},
		},
		Status: decision.PositionOpen,
	}
	_, err := provider.OpenPosition(context.Background(), exchange.OrderRequest{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		Price:      pos.EntryPrice,
		Leverage:   pos.Leverage,
		StopLoss:   pos.StopLoss.Price,
	})
	require.NoError(t, err)
	return pos
}

func TestNewExiter_RequiresDeps(t *testing.T) {
	_, err := engine.NewExiter(engine.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestExiter_TP1PartialCloseAndBreakeven(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	env := newTestEnv(t, provider)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)

	pos := openLongPosition(t, provider)
	ex.Track(pos.ID, decision.StateOpen)
	require.NoError(t, provider.SetMarkPrice(pos.Symbol, 101))

	res, err := ex.Evaluate(context.Background(), pos, 101, nil)
	require.NoError(t, err)
	assert.Equal(t, decision.StateTP1Hit, res.State)
	assert.Equal(t, decision.StateTP1Hit, ex.StateOf(pos.ID))

	stop, ok := provider.StopLossFor(pos.ID)
	require.True(t, ok, "position stays open after a partial close")
	assert.InDelta(t, 100.1, stop, 1e-9, "stop moved to breakeven")

	assert.InDelta(t, 5.0, env.risk.Snapshot().DailyPnL, 1e-9, "half the position realized +1 per unit")

	records, err := env.journal.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records, "partial closes are not journaled")
}

func TestExiter_StopLossClosesAndFansOut(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	env := newTestEnv(t, provider)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)

	pos := openLongPosition(t, provider)
	ex.Track(pos.ID, decision.StateOpen)
	require.NoError(t, provider.SetMarkPrice(pos.Symbol, 98))

	res, err := ex.Evaluate(context.Background(), pos, 98, nil)
	require.NoError(t, err)
	assert.Equal(t, decision.StateClosed, res.State)
	assert.Empty(t, provider.OpenPositionIDs())
	assert.NotContains(t, ex.States(), pos.ID, "closed positions leave tracking")

	records, err := env.journal.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, pos.ID, rec.PositionID)
	assert.Equal(t, "SL_HIT", rec.ClosureReason)
	assert.Equal(t, "CLOSED", rec.State)
	assert.InDelta(t, -20.0, rec.RealizedPnL, 1e-9)
	assert.InDelta(t, -2.0, rec.PnLPercent, 1e-9)

	status := env.risk.Snapshot()
	assert.InDelta(t, -20.0, status.DailyPnL, 1e-9)
	assert.Equal(t, 1, status.ConsecutiveLosses)
}

func TestExiter_FullLadderLifecycle(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	env := newTestEnv(t, provider)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)

	pos := openLongPosition(t, provider)
	ex.Track(pos.ID, decision.StateOpen)
	ctx := context.Background()

	require.NoError(t, provider.SetMarkPrice(pos.Symbol, 101))
	res, err := ex.Evaluate(ctx, pos, 101, nil)
	require.NoError(t, err)
	require.Equal(t, decision.StateTP1Hit, res.State)
	stop, _ := provider.StopLossFor(pos.ID)
	pos.StopLoss.Price = stop

	require.NoError(t, provider.SetMarkPrice(pos.Symbol, 102))
	res, err = ex.Evaluate(ctx, pos, 102, nil)
	require.NoError(t, err)
	require.Equal(t, decision.StateTP2Hit, res.State)

	// Trailing distance defaults to 1.5% of the trigger price.
	stop, ok := provider.StopLossFor(pos.ID)
	require.True(t, ok)
	assert.InDelta(t, 102-1.53, stop, 1e-9)
	pos.StopLoss.Price = stop

	// Price falls through the trailing stop before TP3.
	require.NoError(t, provider.SetMarkPrice(pos.Symbol, 100.4))
	res, err = ex.Evaluate(ctx, pos, 100.4, nil)
	require.NoError(t, err)
	assert.Equal(t, decision.StateClosed, res.State)
	assert.Empty(t, provider.OpenPositionIDs())

	records, err := env.journal.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "SL_HIT", records[0].ClosureReason)

	// 5.0 from TP1, 3.0 from TP2, 1.4 from the trailing-stop close.
	assert.InDelta(t, 9.4, env.risk.Snapshot().DailyPnL, 1e-9)
}

func TestExiter_ConcurrentEvaluationRejected(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	hooked := &hookProvider{
		Provider: provider,
		closeHook: func() error {
			once.Do(func() { close(entered) })
			<-release
			return nil
		},
	}
	env := newTestEnv(t, hooked)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)

	pos := openLongPosition(t, provider)
	ex.Track(pos.ID, decision.StateOpen)
	require.NoError(t, provider.SetMarkPrice(pos.Symbol, 101))

	done := make(chan error, 1)
	go func() {
		_, err := ex.Evaluate(context.Background(), pos, 101, nil)
		done <- err
	}()
	<-entered

	_, err = ex.Evaluate(context.Background(), pos, 101, nil)
	assert.ErrorIs(t, err, engine.ErrExitInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, decision.StateTP1Hit, ex.StateOf(pos.ID))
}

func TestExiter_RetryRecoversTransientFailure(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	var calls int
	hooked := &hookProvider{
		Provider: provider,
		closeHook: func() error {
			calls++
			if calls == 1 {
				return errs.NewExchangeConnection("connection reset", errors.New("reset"))
			}
			return nil
		},
	}
	env := newTestEnv(t, hooked)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)

	pos := openLongPosition(t, provider)
	ex.Track(pos.ID, decision.StateOpen)
	require.NoError(t, provider.SetMarkPrice(pos.Symbol, 101))

	_, err = ex.Evaluate(context.Background(), pos, 101, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, decision.StateTP1Hit, ex.StateOf(pos.ID))

	stats, ok := env.registry.Stats(errs.CodeExchangeConnection, errs.DomainExchange)
	require.True(t, ok)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.RecoveredCount)
}

func TestExiter_NonRetryableFailureSurfaces(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	hooked := &hookProvider{
		Provider:  provider,
		closeHook: func() error { return errs.NewOrderRejected("rejected by venue") },
	}
	env := newTestEnv(t, hooked)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)

	pos := openLongPosition(t, provider)
	ex.Track(pos.ID, decision.StateOpen)
	require.NoError(t, provider.SetMarkPrice(pos.Symbol, 101))

	res, err := ex.Evaluate(context.Background(), pos, 101, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, decision.StateTP1Hit, res.State, "decision is reported even when execution fails")
	assert.Equal(t, decision.StateOpen, ex.StateOf(pos.ID), "state is not committed without a fill")

	var terr *errs.TradingError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, errs.CodeOrderRejected, terr.Code)

	stats, ok := env.registry.Stats(errs.CodeOrderRejected, errs.DomainExchange)
	require.True(t, ok)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 0, stats.RecoveredCount)
}

func TestExiter_JournalFailureFallsBack(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	env := newTestEnv(t, provider)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)

	pos := openLongPosition(t, provider)
	ex.Track(pos.ID, decision.StateOpen)
	require.NoError(t, provider.SetMarkPrice(pos.Symbol, 98))

	// Break the journal directory out from under the writer.
	require.NoError(t, os.RemoveAll(env.dir))

	res, err := ex.Evaluate(context.Background(), pos, 98, nil)
	require.NoError(t, err, "a journal failure must not block the close")
	assert.Equal(t, decision.StateClosed, res.State)
	assert.Empty(t, provider.OpenPositionIDs())

	stats, ok := env.registry.Stats(errs.CodeJournalWrite, errs.DomainPersistence)
	require.True(t, ok)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.RecoveredCount, "fallback counts as recovered")
}

func longEntryContext(balance float64) decision.EntryContext {
	return decision.EntryContext{
		Signals: []*decision.Signal{{
			Direction:   decision.DirectionLong,
			Type:        "momentum",
			Confidence:  80,
			Price:       100,
			StopLoss:    98,
			TakeProfits: []float64{101, 102, 104},
			Reason:      "breakout above range high",
		}},
		AccountBalance:    balance,
		MinConfidence:     60,
		ConflictThreshold: 0.4,
	}
}

func TestEntryPipeline_OpensAndTracksPosition(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	env := newTestEnv(t, provider)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)
	pipeline, err := engine.NewEntryPipeline(env.deps, ex)
	require.NoError(t, err)

	out, err := pipeline.Execute(context.Background(), "BTCUSDT", longEntryContext(10000))
	require.NoError(t, err)
	require.True(t, out.Entered())
	assert.Equal(t, decision.DecisionEnter, out.Result.Decision)
	require.NotNil(t, out.Risk)
	assert.True(t, out.Risk.Allowed)

	pos := out.Position
	assert.Equal(t, decision.SideLong, pos.Side)
	assert.Equal(t, 100.0, pos.EntryPrice)
	// Default sizing: 2% of 10k = 200 USDT margin at 10x leverage.
	assert.InDelta(t, 200.0, pos.MarginUsed, 1e-9)
	assert.Equal(t, 10, pos.Leverage)
	assert.InDelta(t, 20.0, pos.Quantity, 1e-9)

	require.Len(t, pos.TakeProfits, 3)
	assert.Equal(t, 50.0, pos.TakeProfits[0].SizePercent)
	assert.Equal(t, 30.0, pos.TakeProfits[1].SizePercent)
	assert.Equal(t, 20.0, pos.TakeProfits[2].SizePercent)
	assert.InDelta(t, 1.0, pos.TakeProfits[0].PercentFromEntry, 1e-9)

	assert.Equal(t, decision.StateOpen, ex.StateOf(pos.ID))
	assert.Contains(t, provider.OpenPositionIDs(), pos.ID)
}

func TestEntryPipeline_WaitOnConflict(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	env := newTestEnv(t, provider)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)
	pipeline, err := engine.NewEntryPipeline(env.deps, ex)
	require.NoError(t, err)

	ectx := longEntryContext(10000)
	ectx.Signals = append(ectx.Signals, &decision.Signal{
		Direction:  decision.DirectionShort,
		Confidence: 80,
		Price:      100,
	})

	out, err := pipeline.Execute(context.Background(), "BTCUSDT", ectx)
	require.NoError(t, err)
	assert.False(t, out.Entered())
	assert.Equal(t, decision.DecisionWait, out.Result.Decision)
	assert.Nil(t, out.Risk, "tied votes never reach the risk manager")
	assert.Empty(t, provider.OpenPositionIDs())
}

func TestEntryPipeline_RiskManagerBlocks(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	env := newTestEnv(t, provider)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)
	pipeline, err := engine.NewEntryPipeline(env.deps, ex)
	require.NoError(t, err)

	// Four straight losses trip the default streak limit.
	for i := 0; i < 4; i++ {
		env.risk.RecordTradeResult(-1)
	}

	out, err := pipeline.Execute(context.Background(), "BTCUSDT", longEntryContext(10000))
	require.NoError(t, err)
	assert.False(t, out.Entered())
	require.NotNil(t, out.Risk)
	assert.False(t, out.Risk.Allowed)
	assert.Contains(t, out.Risk.Reason, "Consecutive loss")
	assert.Empty(t, provider.OpenPositionIDs())
}

func TestEntryPipeline_OpenFailureSurfaces(t *testing.T) {
	provider := sim.New(sim.WithInitialBalance(10000))
	hooked := &hookProvider{
		Provider: provider,
		openHook: func() error { return errs.NewOrderRejected("margin check failed") },
	}
	env := newTestEnv(t, hooked)
	ex, err := engine.NewExiter(env.deps)
	require.NoError(t, err)
	pipeline, err := engine.NewEntryPipeline(env.deps, ex)
	require.NoError(t, err)

	out, err := pipeline.Execute(context.Background(), "BTCUSDT", longEntryContext(10000))
	require.Error(t, err)
	assert.False(t, out.Entered())
	assert.Empty(t, provider.OpenPositionIDs())

	var terr *errs.TradingError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, errs.CodeOrderRejected, terr.Code)
}
