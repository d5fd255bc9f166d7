package risk

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradekit/pkg/decision"
	"tradekit/pkg/errs"
)

func testSignal() *decision.Signal {
	return &decision.Signal{Direction: decision.DirectionLong, Confidence: 80, Price: 100}
}

func TestCanTrade_AllChecksPass(t *testing.T) {
	m := NewManager(DefaultConfig())
	d, err := m.CanTrade(context.Background(), testSignal(), 1000, nil).Unwrap()
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 20.0, d.PositionSizeUSDT, "2% of 1000")
	assert.Equal(t, 1.0, d.SizeMultiplier)
	assert.Equal(t, 10, d.Leverage)
}

func TestCanTrade_InvalidSignalThrows(t *testing.T) {
	m := NewManager(nil)
	tests := []struct {
		name string
		sig  *decision.Signal
	}{
		{"nil signal", nil},
		{"zero price", &decision.Signal{Direction: decision.DirectionLong, Confidence: 80}},
		{"negative price", &decision.Signal{Direction: decision.DirectionLong, Confidence: 80, Price: -5}},
		{"confidence above 100", &decision.Signal{Direction: decision.DirectionLong, Confidence: 140, Price: 100}},
		{"negative confidence", &decision.Signal{Direction: decision.DirectionLong, Confidence: -1, Price: 100}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := m.CanTrade(context.Background(), tc.sig, 1000, nil).Unwrap()
			require.Error(t, err)
			assert.Nil(t, d)
			var te *errs.TradingError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, errs.CodeRiskValidation, te.Code)
		})
	}
}

func TestCanTrade_ResultSeparatesVerdictFromError(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.RecordTradeResult(-100) // -10% of 1000, past the 5% cap

	// A business rejection is a value, not an error.
	r := m.CanTrade(context.Background(), testSignal(), 1000, nil)
	require.True(t, r.IsOk())
	assert.False(t, r.Value().Allowed)
	assert.Contains(t, r.Value().Reason, "Daily loss limit")

	// Malformed input is an error; Match dispatches to exactly one side.
	var verdict *Decision
	var gotErr error
	m.CanTrade(context.Background(), nil, 1000, nil).Match(
		func(d *Decision) { verdict = d },
		func(err error) { gotErr = err },
	)
	assert.Nil(t, verdict)
	require.Error(t, gotErr)
}

func TestCanTrade_UnfundedAccountDegrades(t *testing.T) {
	m := NewManager(nil)
	d, err := m.CanTrade(context.Background(), testSignal(), 0, nil).Unwrap()
	require.NoError(t, err, "broken balance is a disallow, not an error")
	assert.False(t, d.Allowed)
	assert.Equal(t, "Invalid account balance", d.Reason)
}

func TestCanTrade_DailyLossLimit(t *testing.T) {
	m := NewManager(DefaultConfig()) // 5% daily loss cap
	m.RecordTradeResult(-60)         // -6% of a 1000 balance

	d, err := m.CanTrade(context.Background(), testSignal(), 1000, nil).Unwrap()
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Daily loss limit")
}

func TestCanTrade_DailyProfitTarget(t *testing.T) {
	m := NewManager(DefaultConfig()) // 10% daily profit target
	m.RecordTradeResult(120)

	d, err := m.CanTrade(context.Background(), testSignal(), 1000, nil).Unwrap()
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Daily profit target")
}

func TestCanTrade_ConsecutiveLossLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopAfterLosses = 3
	m := NewManager(cfg)
	// Small losses: streak trips before the daily loss cap does.
	for i := 0; i < 3; i++ {
		m.RecordTradeResult(-1)
	}

	d, err := m.CanTrade(context.Background(), testSignal(), 1000, nil).Unwrap()
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Consecutive loss limit exceeded")
}

func TestCanTrade_WinResetsStreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopAfterLosses = 2
	m := NewManager(cfg)
	m.RecordTradeResult(-1)
	m.RecordTradeResult(-1)
	m.RecordTradeResult(5)

	d, err := m.CanTrade(context.Background(), testSignal(), 1000, nil).Unwrap()
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCanTrade_StreakMultiplierShrinksSize(t *testing.T) {
	cfg := DefaultConfig() // multipliers {2: 0.75, 3: 0.5}, stop after 4
	m := NewManager(cfg)
	m.RecordTradeResult(-1)
	m.RecordTradeResult(-1)

	d, err := m.CanTrade(context.Background(), testSignal(), 1000, nil).Unwrap()
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, 0.75, d.SizeMultiplier)
	assert.Equal(t, 15.0, d.PositionSizeUSDT, "20 USDT base scaled by 0.75")

	m.RecordTradeResult(-1)
	d, err = m.CanTrade(context.Background(), testSignal(), 1000, nil).Unwrap()
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, 0.5, d.SizeMultiplier, "longest key at or below streak applies")
}

func TestCanTrade_SizeClamps(t *testing.T) {
	m := NewManager(DefaultConfig()) // min 10, max 1000, risk 2%

	d, err := m.CanTrade(context.Background(), testSignal(), 100, nil).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 10.0, d.PositionSizeUSDT, "2 USDT raw size clamps up to the minimum")

	d, err = m.CanTrade(context.Background(), testSignal(), 100000, nil).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 1000.0, d.PositionSizeUSDT, "2000 USDT raw size clamps to the maximum")
}

func TestCanTrade_ConcurrentLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrent.Enabled = true
	cfg.Concurrent.MaxPositions = 2
	cfg.Concurrent.MaxTotalExposurePercent = 30
	m := NewManager(cfg)

	open := []*decision.Position{
		{ID: "a", MarginUsed: 50},
		{ID: "b", MarginUsed: 50},
	}
	d, err := m.CanTrade(context.Background(), testSignal(), 1000, open).Unwrap()
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Max concurrent positions")

	open = []*decision.Position{{ID: "a", MarginUsed: 350}}
	d, err = m.CanTrade(context.Background(), testSignal(), 1000, open).Unwrap()
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Total exposure limit")

	open = []*decision.Position{{ID: "a", MarginUsed: 100}}
	d, err = m.CanTrade(context.Background(), testSignal(), 1000, open).Unwrap()
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one position at 10% exposure is fine")
}

func TestCanTrade_ConcurrentDisabledIgnoresOpenPositions(t *testing.T) {
	m := NewManager(DefaultConfig())
	open := make([]*decision.Position, 20)
	for i := range open {
		open[i] = &decision.Position{MarginUsed: 1000}
	}
	d, err := m.CanTrade(context.Background(), testSignal(), 1000, open).Unwrap()
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRecordTradeResult_NonFiniteDropped(t *testing.T) {
	m := NewManager(nil)
	assert.NotPanics(t, func() {
		m.RecordTradeResult(math.NaN())
		m.RecordTradeResult(math.Inf(1))
		m.RecordTradeResult(math.Inf(-1))
	})
	s := m.Snapshot()
	assert.Zero(t, s.DailyPnL)
	assert.Zero(t, s.ConsecutiveLosses)
}

func TestDailyRollover(t *testing.T) {
	m := NewManager(DefaultConfig())
	current := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }
	m.day = dayKey(current)

	m.RecordTradeResult(-60)
	m.RecordTradeResult(-1)
	d, err := m.CanTrade(context.Background(), testSignal(), 1000, nil).Unwrap()
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Past midnight UTC the daily PnL resets but the loss streak survives.
	current = current.Add(2 * time.Hour)
	s := m.Snapshot()
	assert.Zero(t, s.DailyPnL)
	assert.Equal(t, 2, s.ConsecutiveLosses)

	d, err = m.CanTrade(context.Background(), testSignal(), 1000, nil).Unwrap()
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestSnapshotRestore(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.RecordTradeResult(-25)
	m.RecordTradeResult(-5)
	snap := m.Snapshot()

	restored := NewManager(DefaultConfig())
	restored.Restore(snap)
	got := restored.Snapshot()
	assert.Equal(t, snap.DailyPnL, got.DailyPnL)
	assert.Equal(t, 2, got.ConsecutiveLosses)

	// A snapshot from another day keeps the streak but drops its PnL.
	stale := NewManager(DefaultConfig())
	stale.Restore(Status{Day: "2020-01-01", DailyPnL: -500, ConsecutiveLosses: 3})
	got = stale.Snapshot()
	assert.Zero(t, got.DailyPnL)
	assert.Equal(t, 3, got.ConsecutiveLosses)
}

func TestLoadConfigFromReader(t *testing.T) {
	yamlDoc := `
max_daily_loss_percent: 3
stop_after_consecutive_losses: 2
loss_streak_multipliers:
  2: 0.5
concurrent_risk:
  enabled: true
  max_positions: 5
sizing:
  min_position_usdt: 25
  max_position_usdt: 500
  risk_per_trade_percent: 1.5
  max_leverage: 5
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yamlDoc))
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.MaxDailyLossPercent)
	assert.Equal(t, 10.0, cfg.MaxDailyProfitPercent, "unset field takes the default")
	assert.Equal(t, 2, cfg.StopAfterLosses)
	assert.True(t, cfg.Concurrent.Enabled)
	assert.Equal(t, 5, cfg.Concurrent.MaxPositions)
	assert.Equal(t, 25.0, cfg.Sizing.MinPositionUSDT)
	assert.Equal(t, 5, cfg.Sizing.MaxLeverage)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"min above max", "sizing:\n  min_position_usdt: 500\n  max_position_usdt: 100\n"},
		{"bad multiplier", "loss_streak_multipliers:\n  2: 1.5\n"},
		{"zero streak key", "loss_streak_multipliers:\n  0: 0.5\n"},
		{"risk over 100", "sizing:\n  risk_per_trade_percent: 150\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfigFromReader(strings.NewReader(tc.doc))
			assert.Error(t, err)
		})
	}
}
