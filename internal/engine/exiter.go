package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradekit/pkg/decision"
	"tradekit/pkg/errs"
	"tradekit/pkg/journal"
	"tradekit/pkg/recovery"
)

// Exiter owns the per-position exit lifecycle. It tracks the current state
// for each open position, runs the exit decision on every price update and
// executes the resulting actions on the exchange. One evaluation per
// position runs at a time; overlapping calls get ErrExitInProgress.
type Exiter struct {
	deps    Deps
	handler *recovery.Handler

	mu       sync.Mutex
	states   map[string]decision.PositionState
	inflight map[string]struct{}
}

// NewExiter validates deps and constructs an Exiter with no tracked
// positions.
func NewExiter(deps Deps) (*Exiter, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Exiter{
		deps:     deps,
		handler:  recovery.NewHandler(),
		states:   make(map[string]decision.PositionState),
		inflight: make(map[string]struct{}),
	}, nil
}

// Track registers a position's exit state, for freshly opened positions and
// for restarts restoring a persisted snapshot. Invalid states are ignored.
func (e *Exiter) Track(positionID string, state decision.PositionState) {
	if positionID == "" || !state.Valid() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[positionID] = state
}

// Forget drops a position from tracking.
func (e *Exiter) Forget(positionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, positionID)
}

// StateOf returns the tracked state for a position, defaulting to OPEN for
// unknown IDs.
func (e *Exiter) StateOf(positionID string) decision.PositionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[positionID]; ok {
		return s
	}
	return decision.StateOpen
}

// States returns a copy of the tracked state map, for persistence.
func (e *Exiter) States() map[string]decision.PositionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]decision.PositionState, len(e.states))
	for id, s := range e.states {
		out[id] = s
	}
	return out
}

func (e *Exiter) acquire(positionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[positionID]; busy {
		return ErrExitInProgress
	}
	e.inflight[positionID] = struct{}{}
	return nil
}

func (e *Exiter) release(positionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, positionID)
}

// Evaluate runs the exit decision for pos at price and executes the
// resulting actions. On a full close it journals the trade, records the
// result with the risk manager, stores it in the trade repo and notifies.
// The returned ExitResult reflects the decision even when execution failed
// partway; the error reports the first unrecovered failure.
func (e *Exiter) Evaluate(ctx context.Context, pos *decision.Position, price float64, ind *decision.ExitIndicators) (*decision.ExitResult, error) {
	if pos == nil || pos.ID == "" {
		return nil, errs.NewOrderValidation("engine: position with ID is required")
	}
	if err := e.acquire(pos.ID); err != nil {
		return nil, err
	}
	defer e.release(pos.ID)

	state := e.StateOf(pos.ID)
	res := decision.EvaluateExit(decision.ExitContext{
		Position:     pos,
		CurrentPrice: price,
		CurrentState: state,
		Indicators:   ind,
		Config:       e.deps.ExitConfig,
	})

	if res.State != state {
		logx.WithContext(ctx).Infof("engine: position %s %s (%s)", pos.ID, res.StateTransition, res.Reason)
	}

	realized, closedAny, execErr := e.applyActions(ctx, pos, price, res)

	// Commit the new state once any close went through on the exchange;
	// re-running the same close on the next tick is worse than a stale
	// stop-loss update.
	if execErr == nil || closedAny {
		e.Track(pos.ID, res.State)
	}
	if execErr != nil {
		if closedAny {
			logx.WithContext(ctx).Slowf("engine: position %s partially applied %s: %v", pos.ID, res.StateTransition, execErr)
		}
		return &res, execErr
	}

	if closedAny {
		e.deps.Risk.RecordTradeResult(realized)
	}
	if res.State == decision.StateClosed {
		e.Forget(pos.ID)
		e.afterClose(ctx, pos, price, res, realized)
	}
	return &res, nil
}

// applyActions executes the decided actions in order. It returns the realized
// PnL summed over close fills, whether any close executed, and the first
// unrecovered error.
func (e *Exiter) applyActions(ctx context.Context, pos *decision.Position, price float64, res decision.ExitResult) (float64, bool, error) {
	var realized float64
	var closedAny bool

	for _, action := range res.Actions {
		switch action.Type {
		case decision.ActionCloseAll, decision.ActionClosePercent:
			percent := action.Percent
			if action.Type == decision.ActionCloseAll {
				percent = 100
			}
			var fillPnL float64
			err := retryCall(ctx, e.handler, e.deps.Registry, e.deps.Retry, func(ctx context.Context) error {
				result, err := e.deps.Provider.ClosePosition(ctx, pos.ID, percent)
				if err != nil {
					return err
				}
				fillPnL = result.RealizedPnL
				return nil
			})
			if err != nil {
				return realized, closedAny, fmt.Errorf("engine: close %.6g%% of %s: %w", percent, pos.ID, err)
			}
			realized += fillPnL
			closedAny = true
			if action.Type == decision.ActionCloseAll {
				skipCall(ctx, e.handler, e.deps.Registry, func(ctx context.Context) error {
					return e.deps.Provider.CancelAllConditionalOrders(ctx, pos.Symbol)
				})
			}
		case decision.ActionUpdateStopLoss:
			err := retryCall(ctx, e.handler, e.deps.Registry, e.deps.Retry, func(ctx context.Context) error {
				return e.deps.Provider.UpdateStopLoss(ctx, pos.ID, action.NewStopLoss)
			})
			if err != nil {
				return realized, closedAny, fmt.Errorf("engine: update stop for %s: %w", pos.ID, err)
			}
		case decision.ActionActivateTrailing:
			stop := price - action.TrailingDistance
			if pos.Side == decision.SideShort {
				stop = price + action.TrailingDistance
			}
			err := retryCall(ctx, e.handler, e.deps.Registry, e.deps.Retry, func(ctx context.Context) error {
				return e.deps.Provider.UpdateStopLoss(ctx, pos.ID, stop)
			})
			if err != nil {
				return realized, closedAny, fmt.Errorf("engine: activate trailing for %s: %w", pos.ID, err)
			}
		default:
			logx.WithContext(ctx).Slowf("engine: unknown exit action %q for %s, skipped", action.Type, pos.ID)
		}
	}
	return realized, closedAny, nil
}

// afterClose fans a completed close out to the journal, trade repo and
// notifier. The journal is the source of truth: its failure falls back to
// structured logging; repo and notifier failures degrade or skip.
func (e *Exiter) afterClose(ctx context.Context, pos *decision.Position, price float64, res decision.ExitResult, realized float64) {
	rec := &journal.TradeRecord{
		Timestamp:     time.Now().UTC(),
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		Side:          string(pos.Side),
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     price,
		Quantity:      pos.Quantity,
		RealizedPnL:   realized,
		PnLPercent:    pos.PnLPercent(price),
		State:         string(res.State),
		Reason:        res.Reason,
		ClosureReason: res.Reason,
	}
	if res.Metadata != nil {
		rec.ClosureReason = res.Metadata.ClosureReason
		rec.PnLPercent = res.Metadata.ProfitPercent
	}

	if _, _, err := e.deps.Journal.RecordTradeClose(rec); err != nil {
		out := e.handler.Handle(ctx, err, recovery.Options{Strategy: recovery.StrategyFallback})
		e.deps.Registry.Record(out.Err, out.Recovered, out.Elapsed)
		// Fallback: the close still reaches the logs.
		logx.WithContext(ctx).Errorf("engine: journal write failed, logging close: %s %s pnl=%.8g reason=%s",
			rec.PositionID, rec.Symbol, rec.RealizedPnL, rec.ClosureReason)
	}

	if e.deps.Trades != nil {
		if err := e.deps.Trades.InsertClose(ctx, rec); err != nil {
			out := e.handler.Handle(ctx, err, recovery.Options{Strategy: recovery.StrategyDegrade})
			e.deps.Registry.Record(out.Err, out.Recovered, out.Elapsed)
		}
	}
	if e.deps.Notifier != nil {
		skipCall(ctx, e.handler, e.deps.Registry, func(ctx context.Context) error {
			return e.deps.Notifier.NotifyTradeClosed(ctx, rec)
		})
	}
}

// retryCall runs op, retrying transient failures with backoff, and records
// the outcome in the registry.
func retryCall(ctx context.Context, h *recovery.Handler, reg *recovery.Registry, policy recovery.RetryPolicy, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}
	first := errs.Normalize(err)
	out := h.Handle(ctx, err, recovery.Options{
		Strategy: recovery.StrategyRetry,
		Retry:    policy,
		Op:       op,
	})
	reg.Record(first, out.Recovered, out.Elapsed)
	if !out.Recovered {
		return out.Err
	}
	return nil
}

// skipCall runs a best-effort op; a failure is recorded and dropped.
func skipCall(ctx context.Context, h *recovery.Handler, reg *recovery.Registry, op func(ctx context.Context) error) {
	err := op(ctx)
	if err == nil {
		return
	}
	out := h.Handle(ctx, err, recovery.Options{Strategy: recovery.StrategySkip})
	reg.Record(out.Err, out.Recovered, out.Elapsed)
}
