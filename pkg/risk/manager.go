// Package risk is the gatekeeper between entry decisions and order
// placement. Every prospective trade passes through Manager.CanTrade, which
// enforces daily circuit breakers, loss-streak throttling and concurrent
// exposure caps, and computes the allowed position size.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradekit/pkg/decision"
	"tradekit/pkg/errs"
	"tradekit/pkg/result"
)

// Decision is the risk verdict for one prospective trade. A disallowed
// decision is an expected outcome, not an error; malformed input is the
// only thing CanTrade reports as an error.
type Decision struct {
	Allowed          bool
	Reason           string
	PositionSizeUSDT float64
	Leverage         int
	SizeMultiplier   float64
}

// Status is the manager's mutable state, exported for persistence.
type Status struct {
	Day               string  `json:"day" msgpack:"day"`
	DailyPnL          float64 `json:"daily_pnl" msgpack:"daily_pnl"`
	ConsecutiveLosses int     `json:"consecutive_losses" msgpack:"consecutive_losses"`
}

// Manager tracks realized results and gates new entries. Safe for
// concurrent use.
type Manager struct {
	mu  sync.Mutex
	cfg *Config

	day               string
	dailyPnL          float64
	consecutiveLosses int

	now func() time.Time
}

// NewManager builds a Manager; a nil cfg selects DefaultConfig.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{cfg: cfg, now: time.Now}
	m.day = dayKey(m.now())
	return m
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// rolloverLocked resets daily counters when the UTC date changes. The loss
// streak survives the rollover; only daily PnL resets.
func (m *Manager) rolloverLocked() {
	today := dayKey(m.now())
	if today != m.day {
		logx.Infof("risk: daily rollover %s -> %s (closed day pnl %.2f USDT)", m.day, today, m.dailyPnL)
		m.day = today
		m.dailyPnL = 0
	}
}

// CanTrade validates the signal and applies every gate in order. The Result
// separates the two failure modes: a RISK_VALIDATION error only for malformed
// input, a disallowed Decision for every business rejection. An unfunded
// account degrades to a disallowed decision instead of failing.
func (m *Manager) CanTrade(ctx context.Context, sig *decision.Signal, balance float64, open []*decision.Position) result.Result[*Decision] {
	if sig == nil {
		return result.Err[*Decision](errs.NewRiskValidation("signal is required"))
	}
	if sig.Price <= 0 {
		return result.Err[*Decision](errs.NewRiskValidation(fmt.Sprintf("invalid signal price %.8g", sig.Price)))
	}
	if sig.Confidence < 0 || sig.Confidence > 100 {
		return result.Err[*Decision](errs.NewRiskValidation(fmt.Sprintf("signal confidence %.2f out of range", sig.Confidence)))
	}
	if balance <= 0 {
		logx.WithContext(ctx).Slowf("risk: unfunded account (balance %.2f), degrading to disallow", balance)
		return result.Ok(&Decision{Allowed: false, Reason: "Invalid account balance"})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	pnlPct := m.dailyPnL / balance * 100
	if pnlPct <= -m.cfg.MaxDailyLossPercent {
		return result.Ok(&Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("Daily loss limit reached (%.2f%% <= -%.2f%%)", pnlPct, m.cfg.MaxDailyLossPercent),
		})
	}
	if pnlPct >= m.cfg.MaxDailyProfitPercent {
		return result.Ok(&Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("Daily profit target reached (%.2f%% >= %.2f%%), locking in gains", pnlPct, m.cfg.MaxDailyProfitPercent),
		})
	}
	if m.consecutiveLosses >= m.cfg.StopAfterLosses {
		return result.Ok(&Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("Consecutive loss limit exceeded (%d losses)", m.consecutiveLosses),
		})
	}

	if m.cfg.Concurrent.Enabled {
		if len(open) >= m.cfg.Concurrent.MaxPositions {
			return result.Ok(&Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("Max concurrent positions reached (%d)", len(open)),
			})
		}
		var exposure float64
		for _, p := range open {
			if p == nil {
				continue
			}
			exposure += p.MarginUsed
		}
		if exposure/balance*100 >= m.cfg.Concurrent.MaxTotalExposurePercent {
			return result.Ok(&Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("Total exposure limit reached (%.2f%% of balance)", exposure/balance*100),
			})
		}
	}

	mult := m.cfg.streakMultiplier(m.consecutiveLosses)
	size := balance * m.cfg.Sizing.RiskPerTradePercent / 100 * mult
	if size < m.cfg.Sizing.MinPositionUSDT {
		size = m.cfg.Sizing.MinPositionUSDT
	}
	if size > m.cfg.Sizing.MaxPositionUSDT {
		size = m.cfg.Sizing.MaxPositionUSDT
	}

	return result.Ok(&Decision{
		Allowed:          true,
		Reason:           "All risk checks passed",
		PositionSizeUSDT: size,
		Leverage:         m.cfg.Sizing.MaxLeverage,
		SizeMultiplier:   mult,
	})
}

// RecordTradeResult folds one realized result into the daily and streak
// counters. Never panics: NaN and Inf samples are dropped.
func (m *Manager) RecordTradeResult(pnlUSDT float64) {
	if math.IsNaN(pnlUSDT) || math.IsInf(pnlUSDT, 0) {
		logx.Slowf("risk: dropping non-finite trade result %v", pnlUSDT)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	m.dailyPnL += pnlUSDT
	switch {
	case pnlUSDT < 0:
		m.consecutiveLosses++
		logx.Infof("risk: loss recorded (%.2f USDT), streak now %d", pnlUSDT, m.consecutiveLosses)
	case pnlUSDT > 0:
		if m.consecutiveLosses > 0 {
			logx.Infof("risk: win recorded (%.2f USDT), streak reset from %d", pnlUSDT, m.consecutiveLosses)
		}
		m.consecutiveLosses = 0
	}
}

// Snapshot exports current state for persistence.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return Status{Day: m.day, DailyPnL: m.dailyPnL, ConsecutiveLosses: m.consecutiveLosses}
}

// Restore loads a previously snapshotted state. Stale days are discarded so
// a restart never resurrects yesterday's PnL.
func (m *Manager) Restore(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveLosses = s.ConsecutiveLosses
	if s.Day == dayKey(m.now()) {
		m.day = s.Day
		m.dailyPnL = s.DailyPnL
	}
}
